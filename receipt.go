package x402

import (
	"context"
	"time"
)

const (
	// DefaultReceiptTimeout bounds how long settlement waits for a receipt
	DefaultReceiptTimeout = 2 * time.Minute
	// DefaultReceiptPollInterval is the delay between receipt queries
	DefaultReceiptPollInterval = 3 * time.Second
)

// ReceiptFetcher queries a receipt once. found is false while the
// transaction is still pending.
type ReceiptFetcher func(ctx context.Context) (receipt *TransactionReceipt, found bool, err error)

// WaitForReceipt polls fetch every interval until a receipt appears. Query
// errors are treated as "not yet"; the last one is discarded. When timeout
// elapses first a *TransactionTimeoutError is returned.
func WaitForReceipt(ctx context.Context, txHash string, timeout, interval time.Duration, fetch ReceiptFetcher) (*TransactionReceipt, error) {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		receipt, found, err := fetch(ctx)
		if err == nil && found {
			if receipt.TxHash == "" {
				receipt.TxHash = txHash
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &TransactionTimeoutError{TxHash: txHash, Timeout: timeout}
		case <-ticker.C:
		}
	}
}
