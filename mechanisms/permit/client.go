package permit

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/bankofai/x402-tron"
)

const (
	// DefaultValidityWindow is how long a signed permit stays redeemable
	DefaultValidityWindow = 5 * time.Minute
	// validAfterSkew backdates validAfter to tolerate facilitator clock drift
	validAfterSkew = 60 * time.Second
)

// ClientScheme signs PaymentPermits for a payer
type ClientScheme struct {
	signer        x402.ClientSigner
	chain         Chain
	validity      time.Duration
	allowanceMode x402.AllowanceMode
	now           func() time.Time
}

// ClientOption configures a ClientScheme
type ClientOption func(*ClientScheme)

// WithValidityWindow sets how far in the future validBefore is placed
func WithValidityWindow(d time.Duration) ClientOption {
	return func(c *ClientScheme) {
		if d > 0 {
			c.validity = d
		}
	}
}

// WithAllowanceMode sets what happens when the payer's approval for the
// PaymentPermit contract is too small. Default is x402.AllowanceAuto.
func WithAllowanceMode(mode x402.AllowanceMode) ClientOption {
	return func(c *ClientScheme) {
		c.allowanceMode = mode
	}
}

func NewClientScheme(signer x402.ClientSigner, chain Chain, opts ...ClientOption) *ClientScheme {
	c := &ClientScheme{
		signer:        signer,
		chain:         chain,
		validity:      DefaultValidityWindow,
		allowanceMode: x402.AllowanceAuto,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClientScheme) Scheme() string {
	return SchemeExactPermit
}

// CreatePaymentPayload signs a permit for exactly requirements.Amount
func (c *ClientScheme) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements, resource *x402.ResourceInfo, extensions map[string]interface{}) (x402.PaymentPayload, error) {
	if requirements.Scheme != SchemeExactPermit {
		return x402.PaymentPayload{}, x402.NewValidationError("scheme", fmt.Sprintf("expected %s, got %s", SchemeExactPermit, requirements.Scheme))
	}
	if !c.chain.Supports(requirements.Network) {
		return x402.PaymentPayload{}, &x402.UnsupportedNetworkError{Network: requirements.Network, Scheme: SchemeExactPermit}
	}

	amount, err := x402.ParseAmount("amount", requirements.Amount)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	token, err := c.chain.Addresses.Normalize(requirements.Asset)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	payTo, err := c.chain.Addresses.Normalize(requirements.PayTo)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	contract := extraString(requirements.Extra, ExtraPermitContract, "")
	if contract == "" {
		if contract, err = c.chain.PermitContract(requirements.Network); err != nil {
			return x402.PaymentPayload{}, err
		}
	}
	domain, err := Domain(requirements, contract)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	if err := c.ensureAllowance(ctx, token, contract, amount.String()); err != nil {
		return x402.PaymentPayload{}, err
	}

	nonce, err := NewNonce()
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	window := c.validity
	if requirements.MaxTimeoutSeconds > 0 {
		if max := time.Duration(requirements.MaxTimeoutSeconds) * time.Second; max < window {
			window = max
		}
	}
	now := c.now()
	auth := Authorization{
		Token:       token,
		From:        c.signer.Address(),
		To:          payTo,
		Value:       amount.String(),
		ValidAfter:  strconv.FormatInt(now.Add(-validAfterSkew).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(window).Unix(), 10),
		Nonce:       nonce,
	}

	typed, err := BuildTypedData(c.chain, domain, auth)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	signature, err := c.signer.SignTypedData(ctx, typed.Domain, typed.Types, typed.PrimaryType, typed.Message)
	if err != nil {
		return x402.PaymentPayload{}, &x402.SignatureError{Err: err}
	}

	payload := &Payload{Signature: hexutil.Encode(signature), Authorization: auth}
	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Resource:    resource,
		Accepted:    requirements,
		Payload:     payload.ToMap(),
		Extensions:  extensions,
	}, nil
}

func (c *ClientScheme) ensureAllowance(ctx context.Context, token, spender, value string) error {
	required, _ := x402.ParseAmount("amount", value)

	current, err := c.signer.CheckAllowance(ctx, token, spender)
	if err != nil {
		return fmt.Errorf("check allowance: %w", err)
	}
	if current != nil && current.Cmp(required) >= 0 {
		return nil
	}

	allowanceErr := &x402.AllowanceError{Token: token, Spender: spender, Required: required, Current: current}
	if c.allowanceMode == x402.AllowanceSkip {
		return allowanceErr
	}

	ok, err := c.signer.EnsureAllowance(ctx, token, spender, required, c.allowanceMode)
	if err != nil {
		return fmt.Errorf("ensure allowance: %w", err)
	}
	if !ok {
		return allowanceErr
	}
	return nil
}

// NewNonce returns 32 random bytes as 0x hex
func NewNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hexutil.Encode(nonce), nil
}
