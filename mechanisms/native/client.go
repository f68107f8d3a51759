package native

import (
	"context"
	"errors"
	"fmt"
	"time"

	x402 "github.com/bankofai/x402-tron"
)

// ClientScheme pays by broadcasting a transfer
type ClientScheme struct {
	sender  TransferSender
	chain   Chain
	adapter ChainAdapter

	confirmTimeout time.Duration
	pollInterval   time.Duration
}

type ClientOption func(*ClientScheme)

// WithChainAdapter lets the client check the payer's balance before sending
// and wait for the confirmation depth before handing over the payload
func WithChainAdapter(adapter ChainAdapter) ClientOption {
	return func(c *ClientScheme) {
		c.adapter = adapter
	}
}

// WithConfirmationWait bounds the wait for confirmations
func WithConfirmationWait(timeout, interval time.Duration) ClientOption {
	return func(c *ClientScheme) {
		c.confirmTimeout = timeout
		c.pollInterval = interval
	}
}

func NewClientScheme(sender TransferSender, chain Chain, opts ...ClientOption) *ClientScheme {
	c := &ClientScheme{
		sender:         sender,
		chain:          chain,
		confirmTimeout: x402.DefaultReceiptTimeout,
		pollInterval:   x402.DefaultReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClientScheme) Scheme() string {
	return SchemeNativeExact
}

// CreatePaymentPayload sends requirements.Amount of the asset to PayTo and
// returns the transaction hash as proof
func (c *ClientScheme) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements, resource *x402.ResourceInfo, extensions map[string]interface{}) (x402.PaymentPayload, error) {
	if requirements.Scheme != SchemeNativeExact {
		return x402.PaymentPayload{}, x402.NewValidationError("scheme", fmt.Sprintf("expected %s, got %s", SchemeNativeExact, requirements.Scheme))
	}
	if !c.chain.Supports(requirements.Network) {
		return x402.PaymentPayload{}, &x402.UnsupportedNetworkError{Network: requirements.Network, Scheme: SchemeNativeExact}
	}
	amount, err := x402.ParseAmount("amount", requirements.Amount)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	payTo, err := c.chain.Addresses.Normalize(requirements.PayTo)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	asset := requirements.Asset
	if !IsNativeAsset(requirements.Network, asset) {
		if asset, err = c.chain.Addresses.Normalize(asset); err != nil {
			return x402.PaymentPayload{}, err
		}
	}

	if c.adapter != nil {
		balance, err := c.adapter.GetBalance(ctx, c.sender.Address(), asset)
		if err != nil {
			return x402.PaymentPayload{}, fmt.Errorf("get balance: %w", err)
		}
		if balance.Cmp(amount) < 0 {
			return x402.PaymentPayload{}, x402.NewValidationError("amount", fmt.Sprintf("balance %s is below %s", balance, amount))
		}
	}

	txHash, err := c.sender.SendTransfer(ctx, asset, payTo, amount)
	if err != nil {
		return x402.PaymentPayload{}, &x402.TransactionError{Reason: x402.ReasonBroadcastFailed, Err: err}
	}

	if c.adapter != nil {
		if err := c.awaitConfirmations(ctx, txHash, asset, c.chain.minConfirmations(requirements)); err != nil {
			return x402.PaymentPayload{}, err
		}
	}

	payload := &Payload{TxHash: txHash, From: c.sender.Address()}
	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Resource:    resource,
		Accepted:    requirements,
		Payload:     payload.ToMap(),
		Extensions:  extensions,
	}, nil
}

func (c *ClientScheme) awaitConfirmations(ctx context.Context, txHash, asset string, depth uint64) error {
	receipt, err := x402.WaitForReceipt(ctx, txHash, c.confirmTimeout, c.pollInterval, confirmationFetcher(c.adapter, txHash, asset, depth))
	if err != nil {
		return err
	}
	if receipt.Status != x402.ReceiptStatusSuccess {
		return &x402.TransactionError{TxHash: txHash, Reason: x402.ReasonTransactionFailed}
	}
	return nil
}

// confirmationFetcher reports a receipt once txHash is mined at least depth
// blocks deep, or immediately when it reverted
func confirmationFetcher(adapter ChainAdapter, txHash, asset string, depth uint64) x402.ReceiptFetcher {
	return func(ctx context.Context) (*x402.TransactionReceipt, bool, error) {
		info, err := adapter.GetTransaction(ctx, txHash, asset)
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		receipt := &x402.TransactionReceipt{TxHash: txHash, BlockNumber: info.BlockNumber, Status: x402.ReceiptStatusFailed}
		if !info.Success {
			return receipt, true, nil
		}
		confirmed, err := confirmations(ctx, adapter, info)
		if err != nil || confirmed < depth {
			return nil, false, err
		}
		receipt.Status = x402.ReceiptStatusSuccess
		return receipt, true, nil
	}
}

func confirmations(ctx context.Context, adapter ChainAdapter, info *TransactionInfo) (uint64, error) {
	if info.BlockNumber == 0 {
		return 0, nil
	}
	head, err := adapter.GetBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < info.BlockNumber {
		return 0, nil
	}
	return head - info.BlockNumber + 1, nil
}
