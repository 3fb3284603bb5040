package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vitwit/dns402/gate"
	"github.com/vitwit/dns402/types"
)

type paymentEvent struct {
	Signature string `json:"signature"`
	Payer     string `json:"payer"`
	PaidAt    int64  `json:"paidAt"`
}

// webhook posts every accepted payment to url as JSON.
func webhook(client *http.Client, url string) gate.PaymentHook {
	return func(ctx context.Context, proof types.ProofOfPayment) error {
		body, err := json.Marshal(paymentEvent{
			Signature: proof.Signature,
			Payer:     proof.Payer,
			PaidAt:    proof.PaidAtMillis(),
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("callback returned %s", resp.Status)
		}
		return nil
	}
}
