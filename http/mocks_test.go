package http

import (
	"context"
	"fmt"
	"sync/atomic"

	x402 "github.com/bankofai/x402-tron"
)

const (
	stubScheme  = "stub"
	stubNetwork = x402.Network("eip155:84532")
	stubPayTo   = "0x2222222222222222222222222222222222222222"
	stubAsset   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

// stubClient pays by echoing a token
type stubClient struct {
	token string
	calls atomic.Int32
}

func (m *stubClient) Scheme() string { return stubScheme }

func (m *stubClient) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements, resource *x402.ResourceInfo, extensions map[string]interface{}) (x402.PaymentPayload, error) {
	m.calls.Add(1)
	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Resource:    resource,
		Accepted:    requirements,
		Payload:     map[string]interface{}{"token": m.token},
	}, nil
}

// stubServer prices in whole units of stubAsset
type stubServer struct{}

func (stubServer) Scheme() string { return stubScheme }

func (stubServer) ParsePrice(price string, network x402.Network) (x402.AssetAmount, error) {
	return x402.AssetAmount{Asset: stubAsset, Amount: price}, nil
}

func (stubServer) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.DeliveryKind) (x402.PaymentRequirements, error) {
	return requirements, nil
}

func (stubServer) ValidatePaymentRequirements(requirements x402.PaymentRequirements) bool {
	return x402.ValidatePaymentRequirements(requirements) == nil
}

// stubFacilitator accepts payloads carrying the token "paid"
type stubFacilitator struct {
	settles atomic.Int32
}

func (m *stubFacilitator) Scheme() string { return stubScheme }

func (m *stubFacilitator) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements, permitContext map[string]interface{}) (*x402.FeeQuoteResponse, error) {
	return &x402.FeeQuoteResponse{Scheme: stubScheme, Network: requirements.Network, Asset: requirements.Asset, FeeAmount: "0", FeeTo: requirements.PayTo}, nil
}

func (m *stubFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if payload.Payload["token"] != "paid" {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_stub_token", Payer: "0xpayer"}, nil
	}
	return x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (m *stubFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	n := m.settles.Add(1)
	return x402.SettleResponse{Success: true, Payer: "0xpayer", Network: requirements.Network, Transaction: fmt.Sprintf("0xtx%d", n)}, nil
}

func stubRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            stubScheme,
		Network:           stubNetwork,
		Asset:             stubAsset,
		Amount:            "1000",
		PayTo:             stubPayTo,
		MaxTimeoutSeconds: 60,
	}
}

func stubPaymentRequired() x402.PaymentRequired {
	return x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Resource:    &x402.ResourceInfo{URL: "http://example.com/data"},
		Accepts:     []x402.PaymentRequirements{stubRequirements()},
	}
}
