package native

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	x402 "github.com/bankofai/x402-tron"
)

// FacilitatorScheme checks transfers the payer already broadcast
type FacilitatorScheme struct {
	adapter ChainAdapter
	chain   Chain

	confirmTimeout time.Duration
	pollInterval   time.Duration
	now            func() time.Time

	mu   sync.Mutex
	used map[string]struct{}
}

type FacilitatorOption func(*FacilitatorScheme)

// WithSettleWait bounds how long Settle waits for a transfer that has not
// reached the confirmation depth yet
func WithSettleWait(timeout, interval time.Duration) FacilitatorOption {
	return func(f *FacilitatorScheme) {
		f.confirmTimeout = timeout
		f.pollInterval = interval
	}
}

func NewFacilitatorScheme(adapter ChainAdapter, chain Chain, opts ...FacilitatorOption) *FacilitatorScheme {
	f := &FacilitatorScheme{
		adapter:        adapter,
		chain:          chain,
		confirmTimeout: x402.DefaultReceiptTimeout,
		pollInterval:   x402.DefaultReceiptPollInterval,
		now:            time.Now,
		used:           make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FacilitatorScheme) Scheme() string {
	return SchemeNativeExact
}

// FeeQuote is always zero; the payer already paid the network fee
func (f *FacilitatorScheme) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements, permitContext map[string]interface{}) (*x402.FeeQuoteResponse, error) {
	if !f.chain.Supports(requirements.Network) {
		return nil, &x402.UnsupportedNetworkError{Network: requirements.Network, Scheme: SchemeNativeExact}
	}
	return &x402.FeeQuoteResponse{
		Scheme:    SchemeNativeExact,
		Network:   requirements.Network,
		Asset:     requirements.Asset,
		FeeAmount: "0",
		FeeTo:     requirements.PayTo,
		ExpiresAt: f.now().Add(time.Minute).Unix(),
	}, nil
}

// SettlementKey is network + transaction hash
func (f *FacilitatorScheme) SettlementKey(payload x402.PaymentPayload) (string, error) {
	p, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return "", err
	}
	return txKey(payload.Network(), p.TxHash), nil
}

func txKey(network x402.Network, txHash string) string {
	return SchemeNativeExact + ":" + string(network) + ":" + strings.ToLower(strings.TrimPrefix(txHash, "0x"))
}

func (f *FacilitatorScheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	resp, _ := f.verify(ctx, payload, requirements)
	return resp, nil
}

func invalid(reason, payer string) x402.VerifyResponse {
	return x402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}

func (f *FacilitatorScheme) verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, *Payload) {
	if payload.Scheme() != SchemeNativeExact || requirements.Scheme != SchemeNativeExact {
		return invalid(ErrInvalidScheme, ""), nil
	}
	if payload.Network() != requirements.Network {
		return invalid(ErrNetworkMismatch, ""), nil
	}
	if !f.chain.Supports(requirements.Network) {
		return invalid(x402.FormatReason(x402.ReasonUnsupportedNetworkScheme, string(requirements.Network)+"/"+SchemeNativeExact), ""), nil
	}

	p, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(x402.FormatReason(ErrInvalidPayload, err.Error()), ""), nil
	}
	payer, err := f.chain.Addresses.Normalize(p.From)
	if err != nil {
		return invalid(x402.FormatReason(ErrInvalidAddress, p.From), ""), nil
	}
	required, err := x402.ParseAmount("amount", requirements.Amount)
	if err != nil {
		return invalid(x402.FormatReason(ErrInvalidPayload, err.Error()), payer), nil
	}
	if f.isUsed(txKey(requirements.Network, p.TxHash)) {
		return invalid(ErrTransactionUsed, payer), nil
	}

	info, err := f.adapter.GetTransaction(ctx, p.TxHash, requirements.Asset)
	if errors.Is(err, ErrTransactionNotFound) {
		return invalid(ErrUnknownTransaction, payer), nil
	}
	if err != nil {
		return invalid(x402.FormatReason(ErrTransactionLookup, err.Error()), payer), nil
	}
	if !info.Success {
		return invalid(ErrTransactionReverted, payer), nil
	}

	if reason := f.matchTransfer(requirements, info, payer, required); reason != "" {
		return invalid(reason, payer), nil
	}

	confirmed, err := confirmations(ctx, f.adapter, info)
	if err != nil {
		return invalid(x402.FormatReason(ErrTransactionLookup, err.Error()), payer), nil
	}
	if confirmed < f.chain.minConfirmations(requirements) {
		return invalid(ErrInsufficientConfirmation, payer), nil
	}

	return x402.VerifyResponse{IsValid: true, Payer: payer}, p
}

func (f *FacilitatorScheme) matchTransfer(requirements x402.PaymentRequirements, info *TransactionInfo, payer string, required *big.Int) string {
	reason := ErrTransferMissing
	for _, t := range info.Transfers {
		if !f.chain.sameAsset(requirements.Network, t.Asset, requirements.Asset) ||
			!f.chain.Addresses.Equal(t.From, payer) ||
			!f.chain.Addresses.Equal(t.To, requirements.PayTo) {
			continue
		}
		if t.Amount != nil && t.Amount.Cmp(required) >= 0 {
			return ""
		}
		reason = ErrInsufficientAmount
	}
	return reason
}

// Settle re-checks the transfer, waiting for the confirmation depth when it
// is still shallow, and consumes the transaction hash
func (f *FacilitatorScheme) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	network := requirements.Network
	resp, p := f.verify(ctx, payload, requirements)

	if !resp.IsValid && resp.InvalidReason == ErrInsufficientConfirmation {
		raw, _ := PayloadFromMap(payload.Payload)
		fetch := confirmationFetcher(f.adapter, raw.TxHash, requirements.Asset, f.chain.minConfirmations(requirements))
		if _, err := x402.WaitForReceipt(ctx, raw.TxHash, f.confirmTimeout, f.pollInterval, fetch); err != nil {
			reason := x402.FormatReason(x402.ReasonReceiptUnavailable, err.Error())
			if errors.Is(err, x402.ErrTransactionTimeout) {
				reason = x402.FormatReason(x402.ReasonTransactionTimeout, err.Error())
			}
			return x402.SettleResponse{Success: false, ErrorReason: reason, Payer: resp.Payer, Network: network}, nil
		}
		resp, p = f.verify(ctx, payload, requirements)
	}
	if !resp.IsValid {
		return x402.SettleResponse{Success: false, ErrorReason: resp.InvalidReason, Payer: resp.Payer, Network: network}, nil
	}

	if !f.markUsed(txKey(network, p.TxHash)) {
		return x402.SettleResponse{Success: false, ErrorReason: ErrTransactionUsed, Payer: resp.Payer, Network: network}, nil
	}
	return x402.SettleResponse{
		Success:     true,
		Transaction: p.TxHash,
		Network:     network,
		Payer:       resp.Payer,
	}, nil
}

func (f *FacilitatorScheme) isUsed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.used[key]
	return ok
}

// markUsed returns false if key was already consumed
func (f *FacilitatorScheme) markUsed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.used[key]; ok {
		return false
	}
	f.used[key] = struct{}{}
	return true
}
