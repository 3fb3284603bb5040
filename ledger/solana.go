package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/vitwit/dns402/types"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 30
)

// SolanaClient pays and inspects transfers over Solana JSON-RPC.
type SolanaClient struct {
	cluster    types.Cluster
	rpcURL     string
	client     *rpc.Client
	payer      *solana.PrivateKey
	commitment rpc.CommitmentType

	pollInterval time.Duration
	maxPolls     int
}

var (
	_ Sender        = (*SolanaClient)(nil)
	_ TransferQuery = (*SolanaClient)(nil)
)

// SolanaOption configures a SolanaClient.
type SolanaOption func(*SolanaClient)

// WithPayer sets the key used to sign outgoing payments.
func WithPayer(key solana.PrivateKey) SolanaOption {
	return func(c *SolanaClient) { c.payer = &key }
}

// WithCommitment sets how final a payment must be before Send returns.
func WithCommitment(commitment rpc.CommitmentType) SolanaOption {
	return func(c *SolanaClient) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// WithPolling overrides the signature status polling schedule.
func WithPolling(interval time.Duration, maxPolls int) SolanaOption {
	return func(c *SolanaClient) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if maxPolls > 0 {
			c.maxPolls = maxPolls
		}
	}
}

// NewSolanaClient creates a client for cluster. An empty rpcURL selects the
// cluster's public endpoint.
func NewSolanaClient(cluster types.Cluster, rpcURL string, opts ...SolanaOption) (*SolanaClient, error) {
	if rpcURL == "" {
		var err error
		if rpcURL, err = DefaultRPCURL(cluster); err != nil {
			return nil, err
		}
	}

	c := &SolanaClient{
		cluster:      cluster,
		rpcURL:       rpcURL,
		client:       rpc.New(rpcURL),
		commitment:   rpc.CommitmentFinalized,
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DefaultRPCURL returns the public RPC endpoint of a cluster.
func DefaultRPCURL(cluster types.Cluster) (string, error) {
	switch cluster {
	case types.ClusterMainnet:
		return rpc.MainNetBeta_RPC, nil
	case types.ClusterDevnet:
		return rpc.DevNet_RPC, nil
	case types.ClusterTestnet:
		return rpc.TestNet_RPC, nil
	case types.ClusterLocalnet:
		return rpc.LocalNet_RPC, nil
	default:
		return "", fmt.Errorf("unsupported cluster %q", cluster)
	}
}

func (c *SolanaClient) Cluster() types.Cluster { return c.cluster }

// Payer returns the paying address, or "" for a verify-only client.
func (c *SolanaClient) Payer() string {
	if c.payer == nil {
		return ""
	}
	return c.payer.PublicKey().String()
}

// Send pays terms.Price of terms.Currency to terms.Wallet and waits until
// the transaction reaches the configured commitment.
func (c *SolanaClient) Send(ctx context.Context, terms types.PaymentTerms) (types.ProofOfPayment, error) {
	if c.payer == nil {
		return types.ProofOfPayment{}, ErrNoPayerKey
	}

	asset, err := ResolveAsset(terms.Currency, terms.Mint, c.cluster)
	if err != nil {
		return types.ProofOfPayment{}, err
	}
	recipient, err := solana.PublicKeyFromBase58(terms.Wallet)
	if err != nil {
		return types.ProofOfPayment{}, fmt.Errorf("invalid wallet %q: %w", terms.Wallet, err)
	}

	payer := c.payer.PublicKey()
	var instructions []solana.Instruction
	if asset.Native {
		instructions, err = c.nativeTransfer(payer, recipient, terms.Price)
	} else {
		instructions, err = c.tokenTransfer(ctx, payer, recipient, asset, terms.Price)
	}
	if err != nil {
		return types.ProofOfPayment{}, err
	}

	recent, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return types.ProofOfPayment{}, fmt.Errorf("get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return types.ProofOfPayment{}, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return c.payer
		}
		return nil
	}); err != nil {
		return types.ProofOfPayment{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return types.ProofOfPayment{}, fmt.Errorf("broadcast failed: %w", err)
	}

	if err := c.waitForConfirmation(ctx, sig); err != nil {
		return types.ProofOfPayment{}, err
	}

	return types.ProofOfPayment{
		Signature: sig.String(),
		Payer:     payer.String(),
		PaidAt:    time.Now(),
	}, nil
}

func (c *SolanaClient) nativeTransfer(payer, recipient solana.PublicKey, price decimal.Decimal) ([]solana.Instruction, error) {
	lamports, err := ToAtomic(price, NativeDecimals)
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{
		system.NewTransferInstruction(lamports, payer, recipient).Build(),
	}, nil
}

func (c *SolanaClient) tokenTransfer(ctx context.Context, payer, recipient solana.PublicKey, asset Asset, price decimal.Decimal) ([]solana.Instruction, error) {
	mint, err := solana.PublicKeyFromBase58(asset.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", asset.Mint, err)
	}

	supply, err := c.client.GetTokenSupply(ctx, mint, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("get mint %s: %w", asset.Mint, err)
	}
	decimals := supply.Value.Decimals

	amount, err := ToAtomic(price, decimals)
	if err != nil {
		return nil, err
	}

	source, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, fmt.Errorf("derive payer token account: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("derive recipient token account: %w", err)
	}

	var instructions []solana.Instruction
	if _, err := c.client.GetAccountInfo(ctx, dest); err != nil {
		if !errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("get recipient token account: %w", err)
		}
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(payer, recipient, mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferCheckedInstruction(amount, decimals, source, mint, dest, payer, nil).Build())
	return instructions, nil
}

func (c *SolanaClient) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for i := 0; i < c.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}

		status, err := c.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil || len(status.Value) == 0 || status.Value[0] == nil {
			continue
		}
		st := status.Value[0]
		if st.Err != nil {
			return fmt.Errorf("transaction %s failed: %v", sig, st.Err)
		}
		if reached(st.ConfirmationStatus, c.commitment) {
			return nil
		}
	}
	return fmt.Errorf("transaction %s not confirmed after %d polls", sig, c.maxPolls)
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := map[string]int{
		string(rpc.ConfirmationStatusProcessed): 1,
		string(rpc.ConfirmationStatusConfirmed): 2,
		string(rpc.ConfirmationStatusFinalized): 3,
	}
	got, ok := rank[string(status)]
	return ok && got >= rank[string(want)]
}

// FetchTransfer loads a transaction and reports what recipient received of
// asset.
func (c *SolanaClient) FetchTransfer(ctx context.Context, signature, recipient string, asset Asset) (Transfer, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return Transfer{}, fmt.Errorf("invalid signature: %w", err)
	}
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return Transfer{}, fmt.Errorf("invalid recipient: %w", err)
	}

	maxVersion := uint64(0)
	out, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return Transfer{}, ErrTransactionNotFound
		}
		return Transfer{}, fmt.Errorf("get transaction: %w", err)
	}
	if out == nil || out.Meta == nil || out.Transaction == nil {
		return Transfer{}, ErrTransactionNotFound
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return Transfer{}, fmt.Errorf("decode transaction: %w", err)
	}

	keys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	keys = append(keys, out.Meta.LoadedAddresses.Writable...)
	keys = append(keys, out.Meta.LoadedAddresses.ReadOnly...)

	t, err := transferFromMeta(keys, int(tx.Message.Header.NumRequiredSignatures), out.Meta, to, asset)
	if err != nil {
		return Transfer{}, err
	}
	t.Signature = signature
	t.Slot = out.Slot
	return t, nil
}

// transferFromMeta computes recipient's balance change from a transaction's
// metadata. keys must list static keys first, then loaded writable and
// read-only addresses, matching the runtime's account indexing.
func transferFromMeta(keys []solana.PublicKey, numSigners int, meta *rpc.TransactionMeta, recipient solana.PublicKey, asset Asset) (Transfer, error) {
	t := Transfer{
		Failed:   meta.Err != nil,
		Received: decimal.Zero,
	}
	for i := 0; i < numSigners && i < len(keys); i++ {
		t.Signers = append(t.Signers, keys[i].String())
	}

	if asset.Native {
		for i, k := range keys {
			if !k.Equals(recipient) {
				continue
			}
			if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
				return Transfer{}, fmt.Errorf("balance index %d out of range", i)
			}
			delta := new(big.Int).Sub(
				new(big.Int).SetUint64(meta.PostBalances[i]),
				new(big.Int).SetUint64(meta.PreBalances[i]),
			)
			t.Received = FromAtomic(delta, NativeDecimals)
			break
		}
		return t, nil
	}

	mint, err := solana.PublicKeyFromBase58(asset.Mint)
	if err != nil {
		return Transfer{}, fmt.Errorf("invalid mint %q: %w", asset.Mint, err)
	}

	owned := func(b rpc.TokenBalance) bool {
		return b.Mint.Equals(mint) && b.Owner != nil && b.Owner.Equals(recipient) && b.UiTokenAmount != nil
	}

	pre := make(map[uint16]decimal.Decimal)
	for _, b := range meta.PreTokenBalances {
		if !owned(b) {
			continue
		}
		amt, err := tokenAmount(b.UiTokenAmount)
		if err != nil {
			return Transfer{}, err
		}
		pre[b.AccountIndex] = amt
	}

	received := decimal.Zero
	for _, b := range meta.PostTokenBalances {
		if !owned(b) {
			continue
		}
		amt, err := tokenAmount(b.UiTokenAmount)
		if err != nil {
			return Transfer{}, err
		}
		received = received.Add(amt.Sub(pre[b.AccountIndex]))
		delete(pre, b.AccountIndex)
	}
	// accounts closed during the transaction
	for _, amt := range pre {
		received = received.Sub(amt)
	}

	t.Received = received
	return t, nil
}

func tokenAmount(ui *rpc.UiTokenAmount) (decimal.Decimal, error) {
	atomic, ok := new(big.Int).SetString(ui.Amount, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid token amount %q", ui.Amount)
	}
	return FromAtomic(atomic, ui.Decimals), nil
}
