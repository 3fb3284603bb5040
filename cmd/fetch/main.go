// Fetch retrieves a URL, paying for it when the server asks and the
// configured auto-pay limit allows.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vitwit/dns402"
	"github.com/vitwit/dns402/record"
	"github.com/vitwit/dns402/types"
)

const (
	exitOK = iota
	exitError
	exitPayment
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: fetch <url>")
		os.Exit(exitError)
	}

	cfg, err := Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, os.Args[1], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *Config, url string, stdout, stderr io.Writer) int {
	d, err := dns402.New(cfg.LedgerConfig())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer d.Close()

	return fetch(ctx, d, url, stdout, stderr)
}

func fetch(ctx context.Context, d *dns402.DNS402, url string, stdout, stderr io.Writer) int {
	resp, err := d.Client().Get(ctx, url)
	if err != nil {
		var perr *types.Error
		if errors.As(err, &perr) && perr.Terms != nil {
			fmt.Fprintln(stderr, perr.Message)
			fmt.Fprintf(stderr, "terms: %s\n", record.Encode(*perr.Terms))
			return exitPayment
		}
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer resp.Body.Close()

	fmt.Fprintln(stderr, resp.Status)
	if _, err := io.Copy(stdout, resp.Body); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	return exitOK
}
