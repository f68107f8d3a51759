package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	x402 "github.com/bankofai/x402-tron"
)

func newStubGate(facilitator x402.FacilitatorClient) *PaymentGate {
	server := x402.NewX402ResourceServer(
		x402.WithFacilitatorClient(facilitator),
		x402.WithServerMechanism(stubNetwork, stubServer{}),
	)
	return NewPaymentGate(server, []x402.ResourceConfig{{
		Scheme:  stubScheme,
		Network: stubNetwork,
		PayTo:   stubPayTo,
		Price:   "1000",
	}}, WithDescription("weather data"), WithMimeType("application/json"))
}

func encodeStubPayment(t *testing.T, token string) string {
	t.Helper()
	client := &stubClient{token: token}
	payload, _ := client.CreatePaymentPayload(context.Background(), stubRequirements(), nil, nil)
	encoded, err := EncodePaymentSignatureHeader(payload)
	if err != nil {
		t.Fatal(err)
	}
	return encoded
}

type brokenFacilitator struct{}

func (brokenFacilitator) Supported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{}, errors.New("connection refused")
}

func (brokenFacilitator) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements, permitContext map[string]interface{}) (*x402.FeeQuoteResponse, error) {
	return nil, errors.New("connection refused")
}

func (brokenFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	return x402.VerifyResponse{}, errors.New("connection refused")
}

func (brokenFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	return x402.SettleResponse{}, errors.New("connection refused")
}

func TestGateWithoutPayment(t *testing.T) {
	facilitator, _ := newStubFacilitator()
	result := newStubGate(facilitator).Check(context.Background(), "http://example.com/data", "")

	if result.Paid || result.Status != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %+v", result)
	}
	required, err := DecodePaymentRequiredHeader(result.Headers[HeaderPaymentRequired])
	if err != nil {
		t.Fatal(err)
	}
	if len(required.Accepts) != 1 || required.Accepts[0].Amount != "1000" {
		t.Errorf("Unexpected accepts %+v", required.Accepts)
	}
	if required.Resource == nil || required.Resource.Description != "weather data" {
		t.Errorf("Unexpected resource %+v", required.Resource)
	}
}

func TestGateRejectsMalformedHeader(t *testing.T) {
	facilitator, mech := newStubFacilitator()
	result := newStubGate(facilitator).Check(context.Background(), "http://example.com/data", "%%%")

	if result.Paid || result.Status != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %+v", result)
	}
	required, ok := result.Body.(x402.PaymentRequired)
	if !ok || required.Error == "" {
		t.Errorf("Expected an error message in the body, got %+v", result.Body)
	}
	if mech.settles.Load() != 0 {
		t.Error("Nothing should settle")
	}
}

func TestGateInvalidPayment(t *testing.T) {
	facilitator, mech := newStubFacilitator()
	result := newStubGate(facilitator).Check(context.Background(), "http://example.com/data", encodeStubPayment(t, "forged"))

	if result.Paid || result.Status != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %+v", result)
	}
	if result.Payment == nil || result.Payment.Reason != "invalid_stub_token" {
		t.Errorf("Expected the verify reason, got %+v", result.Payment)
	}
	if mech.settles.Load() != 0 {
		t.Error("Nothing should settle")
	}
}

func TestGatePaid(t *testing.T) {
	facilitator, mech := newStubFacilitator()
	result := newStubGate(facilitator).Check(context.Background(), "http://example.com/data", encodeStubPayment(t, "paid"))

	if !result.Paid || result.Status != http.StatusOK {
		t.Fatalf("Expected a paid result, got %+v", result)
	}
	settle, err := DecodePaymentResponseHeader(result.Headers[HeaderPaymentResponse])
	if err != nil {
		t.Fatal(err)
	}
	if !settle.Success || settle.Transaction != "0xtx1" {
		t.Errorf("Unexpected settle response %+v", settle)
	}
	if mech.settles.Load() != 1 {
		t.Errorf("Expected one settlement, got %d", mech.settles.Load())
	}
}

func TestGateFacilitatorDown(t *testing.T) {
	result := newStubGate(brokenFacilitator{}).Check(context.Background(), "http://example.com/data", encodeStubPayment(t, "paid"))
	if result.Paid || result.Status != http.StatusBadGateway {
		t.Errorf("Expected 502, got %+v", result)
	}
}

func TestResourceURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/data?city=paris", nil)
	if got := ResourceURL(req); got != "http://api.example.com/data?city=paris" {
		t.Errorf("Unexpected URL %s", got)
	}
	req.Header.Set("X-Forwarded-Proto", "https")
	if got := ResourceURL(req); got != "https://api.example.com/data?city=paris" {
		t.Errorf("Unexpected URL %s", got)
	}
}
