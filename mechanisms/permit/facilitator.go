package permit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/address"
	"github.com/bankofai/x402-tron/tokens"
)

const (
	// DefaultQuoteTTL is how long a fee quote stays valid
	DefaultQuoteTTL = 60 * time.Second
	// expirySafetyMargin rejects permits that would likely expire before the
	// settlement transaction is mined
	expirySafetyMargin = 6 * time.Second
)

// PermitTransferFromABI is the facilitator-facing surface of the
// PaymentPermit contract
var PermitTransferFromABI = []byte(`[
	{
		"type": "function",
		"name": "permitTransferFrom",
		"stateMutability": "nonpayable",
		"inputs": [
			{
				"name": "permit",
				"type": "tuple",
				"components": [
					{"name": "token", "type": "address"},
					{"name": "from", "type": "address"},
					{"name": "to", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "validAfter", "type": "uint256"},
					{"name": "validBefore", "type": "uint256"},
					{"name": "nonce", "type": "bytes32"}
				]
			},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": []
	}
]`)

// FunctionPermitTransferFrom is the contract method called on settle
const FunctionPermitTransferFrom = "permitTransferFrom"

// PermitTuple is the ABI form of the permit argument
type PermitTuple struct {
	Token       common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// FeePolicy prices facilitation. Amount is in the asset's smallest unit.
type FeePolicy struct {
	Amount string
	// FeeTo defaults to the facilitator signer's address
	FeeTo string
	TTL   time.Duration
}

// FacilitatorScheme verifies and redeems PaymentPermits
type FacilitatorScheme struct {
	signer         x402.FacilitatorSigner
	chain          Chain
	receiptTimeout time.Duration
	fee            FeePolicy
	now            func() time.Time
}

// FacilitatorOption configures a FacilitatorScheme
type FacilitatorOption func(*FacilitatorScheme)

// WithReceiptTimeout bounds how long Settle waits for the transaction receipt
func WithReceiptTimeout(d time.Duration) FacilitatorOption {
	return func(f *FacilitatorScheme) {
		if d > 0 {
			f.receiptTimeout = d
		}
	}
}

// WithFeePolicy sets the fee returned by FeeQuote
func WithFeePolicy(policy FeePolicy) FacilitatorOption {
	return func(f *FacilitatorScheme) {
		f.fee = policy
	}
}

func NewFacilitatorScheme(signer x402.FacilitatorSigner, chain Chain, opts ...FacilitatorOption) *FacilitatorScheme {
	f := &FacilitatorScheme{
		signer:         signer,
		chain:          chain,
		receiptTimeout: x402.DefaultReceiptTimeout,
		fee:            FeePolicy{Amount: "0"},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.fee.Amount == "" {
		f.fee.Amount = "0"
	}
	if f.fee.TTL <= 0 {
		f.fee.TTL = DefaultQuoteTTL
	}
	return f
}

func (f *FacilitatorScheme) Scheme() string {
	return SchemeExactPermit
}

// FeeQuote returns the flat fee for settling requirements
func (f *FacilitatorScheme) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements, permitContext map[string]interface{}) (*x402.FeeQuoteResponse, error) {
	if !f.chain.Supports(requirements.Network) {
		return nil, &x402.UnsupportedNetworkError{Network: requirements.Network, Scheme: SchemeExactPermit}
	}
	feeTo := f.fee.FeeTo
	if feeTo == "" {
		feeTo = f.signer.Address()
	}
	return &x402.FeeQuoteResponse{
		Scheme:    SchemeExactPermit,
		Network:   requirements.Network,
		Asset:     requirements.Asset,
		FeeAmount: f.fee.Amount,
		FeeTo:     feeTo,
		ExpiresAt: f.now().Add(f.fee.TTL).Unix(),
	}, nil
}

// SettlementKey identifies a permit by signer and nonce. Two payloads with
// the same permit redeem the same on-chain nonce and must settle once.
func (f *FacilitatorScheme) SettlementKey(payload x402.PaymentPayload) (string, error) {
	p, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return "", err
	}
	from, err := f.chain.Addresses.Normalize(p.Authorization.From)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		SchemeExactPermit,
		string(payload.Network()),
		strings.ToLower(from),
		strings.ToLower(p.Authorization.Nonce),
	}, ":"), nil
}

// Verify checks a permit against requirements and the payer's funds.
// Nothing is written to the chain.
func (f *FacilitatorScheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	resp, _ := f.verify(ctx, payload, requirements)
	return resp, nil
}

type verified struct {
	contract  string
	auth      Authorization
	signature []byte
}

func invalid(reason, payer string) x402.VerifyResponse {
	return x402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}

func (f *FacilitatorScheme) verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, *verified) {
	if payload.Scheme() != SchemeExactPermit || requirements.Scheme != SchemeExactPermit {
		return invalid(ErrInvalidScheme, ""), nil
	}
	if payload.Network() != requirements.Network {
		return invalid(ErrNetworkMismatch, ""), nil
	}
	if !f.chain.Supports(requirements.Network) {
		return invalid(x402.FormatReason(x402.ReasonUnsupportedNetworkScheme, string(requirements.Network)+"/"+SchemeExactPermit), ""), nil
	}

	p, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(x402.FormatReason(ErrInvalidPayload, err.Error()), ""), nil
	}
	auth := p.Authorization
	payer := auth.From
	if p.Signature == "" {
		return invalid(ErrMissingSignature, payer), nil
	}
	signature, err := hexutil.Decode(p.Signature)
	if err != nil {
		return invalid(ErrInvalidSignature, payer), nil
	}

	for _, addr := range []string{auth.Token, auth.From, auth.To} {
		if _, err := f.chain.Addresses.Normalize(addr); err != nil {
			return invalid(x402.FormatReason(ErrInvalidAddress, addr), payer), nil
		}
	}
	if !f.chain.Addresses.Equal(auth.Token, requirements.Asset) {
		return invalid(ErrTokenMismatch, payer), nil
	}
	if !f.chain.Addresses.Equal(auth.To, requirements.PayTo) {
		return invalid(ErrRecipientMismatch, payer), nil
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(x402.FormatReason(ErrInvalidPayload, "value"), payer), nil
	}
	required, err := x402.ParseAmount("amount", requirements.Amount)
	if err != nil {
		return invalid(x402.FormatReason(ErrInvalidPayload, err.Error()), payer), nil
	}
	if value.Cmp(required) != 0 {
		return invalid(ErrAmountMismatch, payer), nil
	}

	validAfter, errA := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, errB := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if errA != nil || errB != nil {
		return invalid(x402.FormatReason(ErrInvalidPayload, "validity window"), payer), nil
	}
	now := f.now().Unix()
	if now < validAfter {
		return invalid(ErrNotYetValid, payer), nil
	}
	if now >= validBefore-int64(expirySafetyMargin/time.Second) {
		return invalid(ErrExpired, payer), nil
	}

	contract, err := f.chain.PermitContract(requirements.Network)
	if err != nil {
		return invalid(x402.FormatReason(ErrPermitContract, err.Error()), payer), nil
	}
	domain, err := Domain(requirements, contract)
	if err != nil {
		return invalid(x402.FormatReason(ErrPermitContract, err.Error()), payer), nil
	}
	typed, err := BuildTypedData(f.chain, domain, auth)
	if err != nil {
		return invalid(x402.FormatReason(ErrInvalidPayload, err.Error()), payer), nil
	}

	ok, err = f.signer.VerifyTypedData(ctx, auth.From, typed.Domain, typed.Types, typed.PrimaryType, typed.Message, signature)
	if err != nil {
		return invalid(x402.FormatReason(ErrSignatureVerification, err.Error()), payer), nil
	}
	if !ok {
		return invalid(ErrInvalidSignature, payer), nil
	}

	if reason := f.checkFunds(ctx, contract, auth, value); reason != "" {
		return invalid(reason, payer), nil
	}

	return x402.VerifyResponse{IsValid: true, Payer: payer}, &verified{contract: contract, auth: auth, signature: signature}
}

// Settle re-verifies the permit, submits permitTransferFrom and waits for the
// receipt. Failures are reported in the response, never as an error.
func (f *FacilitatorScheme) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	network := requirements.Network
	resp, v := f.verify(ctx, payload, requirements)
	if !resp.IsValid {
		return x402.SettleResponse{Success: false, ErrorReason: resp.InvalidReason, Payer: resp.Payer, Network: network}, nil
	}
	failed := func(reason string) x402.SettleResponse {
		return x402.SettleResponse{Success: false, ErrorReason: reason, Payer: resp.Payer, Network: network}
	}

	tuple, err := f.permitTuple(v.auth)
	if err != nil {
		return failed(x402.FormatReason(ErrInvalidPayload, err.Error())), nil
	}

	txHash, err := f.signer.WriteContract(ctx, v.contract, PermitTransferFromABI, FunctionPermitTransferFrom, tuple, v.signature)
	if err != nil {
		return failed(x402.FormatReason(x402.ReasonBroadcastFailed, err.Error())), nil
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash, f.receiptTimeout)
	if err != nil {
		if errors.Is(err, x402.ErrTransactionTimeout) {
			return failed(x402.FormatReason(x402.ReasonTransactionTimeout, err.Error())), nil
		}
		return failed(x402.FormatReason(x402.ReasonReceiptUnavailable, err.Error())), nil
	}
	if receipt.Status != x402.ReceiptStatusSuccess {
		reverted := failed(x402.FormatReason(x402.ReasonTransactionFailed, txHash))
		reverted.Transaction = txHash
		return reverted, nil
	}

	return x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       resp.Payer,
	}, nil
}

// checkFunds reads the payer's token balance and the allowance granted to the
// PaymentPermit contract. Either one below value makes settlement revert.
func (f *FacilitatorScheme) checkFunds(ctx context.Context, contract string, auth Authorization, value *big.Int) string {
	owner, err := address.ToCommon(f.chain.Addresses, auth.From)
	if err != nil {
		return x402.FormatReason(ErrInvalidAddress, auth.From)
	}
	spender, err := address.ToCommon(f.chain.Addresses, contract)
	if err != nil {
		return x402.FormatReason(ErrPermitContract, err.Error())
	}

	balance, err := f.readUint(ctx, auth.Token, "balanceOf", owner)
	if err != nil {
		return x402.FormatReason(ErrChainRead, err.Error())
	}
	if balance.Cmp(value) < 0 {
		return ErrInsufficientBalance
	}

	allowance, err := f.readUint(ctx, auth.Token, "allowance", owner, spender)
	if err != nil {
		return x402.FormatReason(ErrChainRead, err.Error())
	}
	if allowance.Cmp(value) < 0 {
		return ErrInsufficientAllowance
	}
	return ""
}

func (f *FacilitatorScheme) readUint(ctx context.Context, token, method string, args ...interface{}) (*big.Int, error) {
	out, err := f.signer.ReadContract(ctx, token, tokens.ERC20ABI, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: unexpected output %v", method, out)
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return n, nil
}

func (f *FacilitatorScheme) permitTuple(auth Authorization) (PermitTuple, error) {
	var tuple PermitTuple
	var err error
	if tuple.Token, err = address.ToCommon(f.chain.Addresses, auth.Token); err != nil {
		return tuple, err
	}
	if tuple.From, err = address.ToCommon(f.chain.Addresses, auth.From); err != nil {
		return tuple, err
	}
	if tuple.To, err = address.ToCommon(f.chain.Addresses, auth.To); err != nil {
		return tuple, err
	}
	tuple.Value, _ = new(big.Int).SetString(auth.Value, 10)
	tuple.ValidAfter, _ = new(big.Int).SetString(auth.ValidAfter, 10)
	tuple.ValidBefore, _ = new(big.Int).SetString(auth.ValidBefore, 10)
	nonce, err := hexutil.Decode(auth.Nonce)
	if err != nil || len(nonce) != 32 {
		return tuple, fmt.Errorf("nonce: expected 32 bytes")
	}
	copy(tuple.Nonce[:], nonce)
	return tuple, nil
}
