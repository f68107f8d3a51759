// Package cash is a toy payment scheme for tests. A payment is valid when its
// signature is "~" followed by the payer's name and it has not expired.
package cash

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	x402 "github.com/bankofai/x402-tron"
)

const (
	Scheme  = "cash"
	Network = x402.Network("x402:cash")
	Asset   = "USD"
)

// ============================================================================
// Cash Scheme Client
// ============================================================================

// SchemeNetworkClient signs cash payments as payer
type SchemeNetworkClient struct {
	payer string
}

func NewSchemeNetworkClient(payer string) *SchemeNetworkClient {
	return &SchemeNetworkClient{payer: payer}
}

func (c *SchemeNetworkClient) Scheme() string {
	return Scheme
}

func (c *SchemeNetworkClient) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements, resource *x402.ResourceInfo, extensions map[string]interface{}) (x402.PaymentPayload, error) {
	validUntil := time.Now().Add(time.Duration(requirements.MaxTimeoutSeconds) * time.Second).Unix()

	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Resource:    resource,
		Accepted:    requirements,
		Payload: map[string]interface{}{
			"signature":  "~" + c.payer,
			"validUntil": strconv.FormatInt(validUntil, 10),
			"name":       c.payer,
		},
		Extensions: extensions,
	}, nil
}

// ============================================================================
// Cash Scheme Facilitator
// ============================================================================

// SchemeNetworkFacilitator checks cash signatures and counts settlements
type SchemeNetworkFacilitator struct {
	settled atomic.Int64
}

func NewSchemeNetworkFacilitator() *SchemeNetworkFacilitator {
	return &SchemeNetworkFacilitator{}
}

func (f *SchemeNetworkFacilitator) Scheme() string {
	return Scheme
}

// Settled returns how many payments were settled
func (f *SchemeNetworkFacilitator) Settled() int64 {
	return f.settled.Load()
}

func (f *SchemeNetworkFacilitator) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements, permitContext map[string]interface{}) (*x402.FeeQuoteResponse, error) {
	return &x402.FeeQuoteResponse{
		Scheme:    Scheme,
		Network:   requirements.Network,
		Asset:     requirements.Asset,
		FeeAmount: "0",
		FeeTo:     requirements.PayTo,
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}, nil
}

func (f *SchemeNetworkFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	signature, _ := payload.Payload["signature"].(string)
	name, _ := payload.Payload["name"].(string)
	validUntilStr, _ := payload.Payload["validUntil"].(string)

	switch {
	case signature == "":
		return x402.VerifyResponse{IsValid: false, InvalidReason: "missing_signature"}, nil
	case name == "":
		return x402.VerifyResponse{IsValid: false, InvalidReason: "missing_name"}, nil
	case signature != "~"+name:
		return x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature", Payer: name}, nil
	}

	validUntil, err := strconv.ParseInt(validUntilStr, 10, 64)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_validUntil", Payer: name}, nil
	}
	if validUntil < time.Now().Unix() {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "expired_signature", Payer: name}, nil
	}
	return x402.VerifyResponse{IsValid: true, Payer: name}, nil
}

func (f *SchemeNetworkFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	verify, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !verify.IsValid {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: verify.InvalidReason,
			Payer:       verify.Payer,
			Network:     requirements.Network,
		}, nil
	}

	n := f.settled.Add(1)
	return x402.SettleResponse{
		Success:     true,
		Transaction: fmt.Sprintf("cash-%d", n),
		Network:     requirements.Network,
		Payer:       verify.Payer,
	}, nil
}

// ============================================================================
// Cash Scheme Server
// ============================================================================

// SchemeNetworkServer prices resources in whole dollars, "$10" or "10 USD"
type SchemeNetworkServer struct{}

func NewSchemeNetworkServer() *SchemeNetworkServer {
	return &SchemeNetworkServer{}
}

func (s *SchemeNetworkServer) Scheme() string {
	return Scheme
}

func (s *SchemeNetworkServer) ParsePrice(price string, network x402.Network) (x402.AssetAmount, error) {
	clean := strings.TrimPrefix(price, "$")
	clean = strings.TrimSpace(strings.TrimSuffix(clean, "USD"))
	if _, err := strconv.ParseUint(clean, 10, 64); err != nil {
		return x402.AssetAmount{}, x402.NewValidationError("price", fmt.Sprintf("invalid cash price %q", price))
	}
	return x402.AssetAmount{Asset: Asset, Amount: clean}, nil
}

func (s *SchemeNetworkServer) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.DeliveryKind) (x402.PaymentRequirements, error) {
	return requirements, nil
}

func (s *SchemeNetworkServer) ValidatePaymentRequirements(requirements x402.PaymentRequirements) bool {
	return x402.ValidatePaymentRequirements(requirements) == nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// NewFacilitator returns an in-process facilitator with the cash scheme
// registered, plus the mechanism for inspecting settlements
func NewFacilitator() (*x402.X402Facilitator, *SchemeNetworkFacilitator) {
	mechanism := NewSchemeNetworkFacilitator()
	return x402.NewX402Facilitator().Register([]x402.Network{Network}, mechanism), mechanism
}

// NewResourceServer prices cash resources and settles through facilitator
func NewResourceServer(facilitator x402.FacilitatorClient) *x402.X402ResourceServer {
	return x402.NewX402ResourceServer(
		x402.WithFacilitatorClient(facilitator),
		x402.WithServerMechanism(Network, NewSchemeNetworkServer()),
	)
}

// NewClient returns a client paying cash as payer
func NewClient(payer string) *x402.X402Client {
	return x402.NewX402Client().Register(Network, NewSchemeNetworkClient(payer))
}

// ResourceConfig offers a resource for price dollars
func ResourceConfig(payTo, price string) x402.ResourceConfig {
	return x402.ResourceConfig{Scheme: Scheme, Network: Network, PayTo: payTo, Price: price}
}

// BuildPaymentRequirements creates cash requirements directly
func BuildPaymentRequirements(payTo, amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            Scheme,
		Network:           Network,
		Asset:             Asset,
		Amount:            amount,
		PayTo:             payTo,
		MaxTimeoutSeconds: 1000,
	}
}
