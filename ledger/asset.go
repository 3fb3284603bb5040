package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/dns402/types"
)

// NativeDecimals is the lamport precision of SOL.
const NativeDecimals = 9

// Well-known USDC mints.
const (
	USDCMintMainnet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCMintDevnet  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

var wellKnownMints = map[string]map[types.Cluster]string{
	"USDC": {
		types.ClusterMainnet: USDCMintMainnet,
		types.ClusterDevnet:  USDCMintDevnet,
		types.ClusterTestnet: USDCMintDevnet,
	},
}

// Asset is a resolved currency: native SOL or an SPL token mint.
type Asset struct {
	Symbol string
	Native bool
	Mint   string
}

func (a Asset) String() string {
	if a.Native {
		return a.Symbol
	}
	return a.Symbol + "(" + a.Mint + ")"
}

// ResolveAsset maps a currency symbol onto an asset. An explicit mint always
// wins; USDC falls back to the cluster's well-known mint; any other token
// needs a mint.
func ResolveAsset(currency, mint string, cluster types.Cluster) (Asset, error) {
	symbol := strings.ToUpper(strings.TrimSpace(currency))
	if symbol == "" {
		return Asset{}, fmt.Errorf("%w: empty currency", ErrUnknownAsset)
	}

	if mint != "" {
		return Asset{Symbol: symbol, Mint: mint}, nil
	}
	if symbol == "SOL" {
		return Asset{Symbol: symbol, Native: true}, nil
	}
	if byCluster, ok := wellKnownMints[symbol]; ok {
		if m, ok := byCluster[cluster]; ok {
			return Asset{Symbol: symbol, Mint: m}, nil
		}
	}
	return Asset{}, fmt.Errorf("%w: %s has no mint on %s", ErrUnknownAsset, symbol, cluster)
}

// ToAtomic converts a whole-unit amount into base units, rounding up so a
// payment never falls short.
func ToAtomic(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	atomic := amount.Shift(int32(decimals)).Ceil().BigInt()
	if !atomic.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", amount)
	}
	return atomic.Uint64(), nil
}

// FromAtomic converts base units to whole units.
func FromAtomic(atomic *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(atomic, -int32(decimals))
}
