package x402

import (
	"context"
	"errors"
	"testing"
)

// Mock client mechanism for testing
type mockClientMechanism struct {
	scheme        string
	name          string
	createPayload func(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error)
}

func (m *mockClientMechanism) Scheme() string {
	return m.scheme
}

func (m *mockClientMechanism) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	if m.createPayload != nil {
		return m.createPayload(ctx, requirements)
	}
	return PaymentPayload{
		X402Version: ProtocolVersion,
		Resource:    resource,
		Accepted:    requirements,
		Payload: map[string]interface{}{
			"signature": "mock_signature",
			"by":        m.name,
		},
		Extensions: extensions,
	}, nil
}

func newRequirements(network Network, scheme, amount string) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            scheme,
		Network:           network,
		Asset:             "0xasset",
		Amount:            amount,
		PayTo:             "0xrecipient",
		MaxTimeoutSeconds: 300,
	}
}

func TestNetworkMatch(t *testing.T) {
	tests := []struct {
		network Network
		pattern Network
		want    bool
	}{
		{"eip155:8453", "eip155:8453", true},
		{"eip155:8453", "eip155:*", true},
		{"tron:nile", "eip155:*", false},
		{"eip155:8453", "eip155:1", false},
		{"eip155:1", "eip155:8453", false},
		{"eip155:*", "eip155:8453", false},
	}
	for _, tt := range tests {
		if got := tt.network.Match(tt.pattern); got != tt.want {
			t.Errorf("%s.Match(%s) = %v, want %v", tt.network, tt.pattern, got, tt.want)
		}
	}
}

func TestClientPrefersExactNetworkOverWildcard(t *testing.T) {
	wildcard := &mockClientMechanism{scheme: "exact_permit", name: "wildcard"}
	exact := &mockClientMechanism{scheme: "exact_permit", name: "exact"}

	// Wildcard registered first; the exact entry must still win.
	client := NewX402Client().
		Register("eip155:*", wildcard).
		Register("eip155:8453", exact)

	mechanism, ok := client.FindMechanism("eip155:8453", "exact_permit")
	if !ok {
		t.Fatal("Expected a mechanism for eip155:8453")
	}
	if mechanism != exact {
		t.Fatal("Expected the exact-network mechanism to be selected")
	}

	mechanism, ok = client.FindMechanism("eip155:1", "exact_permit")
	if !ok || mechanism != wildcard {
		t.Fatal("Expected the wildcard mechanism for eip155:1")
	}
}

func TestClientInsertionOrderBreaksTies(t *testing.T) {
	first := &mockClientMechanism{scheme: "exact_permit", name: "first"}
	second := &mockClientMechanism{scheme: "exact_permit", name: "second"}

	client := NewX402Client().
		Register("tron:*", first).
		Register("tron:*", second)

	mechanism, _ := client.FindMechanism("tron:nile", "exact_permit")
	if mechanism != first {
		t.Fatal("Expected the first registration to win within a priority")
	}
}

func TestClientFindMechanismMatchesScheme(t *testing.T) {
	permit := &mockClientMechanism{scheme: "exact_permit"}
	native := &mockClientMechanism{scheme: "native_exact"}

	client := NewX402Client().
		Register("tron:nile", permit).
		Register("tron:*", native)

	mechanism, ok := client.FindMechanism("tron:nile", "native_exact")
	if !ok || mechanism != native {
		t.Fatal("Expected the native_exact mechanism despite the higher priority exact_permit entry")
	}
}

func TestSelectPaymentRequirementsKeepsServerOrder(t *testing.T) {
	client := NewX402Client().
		Register("tron:*", &mockClientMechanism{scheme: "exact_permit"}).
		Register("eip155:8453", &mockClientMechanism{scheme: "exact_permit"})

	accepts := []PaymentRequirements{
		newRequirements("solana:mainnet", "exact", "100"),
		newRequirements("tron:nile", "exact_permit", "200"),
		newRequirements("eip155:8453", "exact_permit", "300"),
	}

	selected, err := client.SelectPaymentRequirements(accepts, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Network != "tron:nile" {
		t.Fatalf("Expected first supported entry tron:nile, got %s", selected.Network)
	}
}

func TestSelectPaymentRequirementsFilters(t *testing.T) {
	client := NewX402Client().
		Register("eip155:*", &mockClientMechanism{scheme: "exact_permit"}).
		Register("tron:*", &mockClientMechanism{scheme: "native_exact"})

	accepts := []PaymentRequirements{
		newRequirements("eip155:8453", "exact_permit", "1000000000"),
		newRequirements("eip155:1", "exact_permit", "999999"),
		newRequirements("tron:nile", "native_exact", "50"),
	}

	// String comparison would put "999999" above "1000000"; integer comparison must not.
	selected, err := client.SelectPaymentRequirements(accepts, &PaymentRequirementsFilter{MaxAmount: "1000000"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Network != "eip155:1" {
		t.Fatalf("Expected eip155:1 under the max amount, got %s", selected.Network)
	}

	selected, err = client.SelectPaymentRequirements(accepts, &PaymentRequirementsFilter{Scheme: "native_exact"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Network != "tron:nile" {
		t.Fatalf("Expected tron:nile for native_exact, got %s", selected.Network)
	}

	selected, err = client.SelectPaymentRequirements(accepts, &PaymentRequirementsFilter{Network: "eip155:1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Network != "eip155:1" {
		t.Fatalf("Expected eip155:1 for network filter, got %s", selected.Network)
	}

	_, err = client.SelectPaymentRequirements(accepts, &PaymentRequirementsFilter{MaxAmount: "lots"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for bad max amount, got %v", err)
	}
}

func TestSelectPaymentRequirementsNoneSupported(t *testing.T) {
	client := NewX402Client().Register("eip155:*", &mockClientMechanism{scheme: "exact_permit"})

	_, err := client.SelectPaymentRequirements([]PaymentRequirements{
		newRequirements("tron:nile", "exact_permit", "1"),
	}, nil)

	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("Expected PaymentError, got %v", err)
	}
	if paymentErr.Code != ErrCodeNoSupportedRequirements {
		t.Fatalf("Expected code %s, got %s", ErrCodeNoSupportedRequirements, paymentErr.Code)
	}
}

func TestCreatePaymentPayload(t *testing.T) {
	client := NewX402Client().Register("eip155:*", &mockClientMechanism{scheme: "exact_permit", name: "evm"})
	req := newRequirements("eip155:8453", "exact_permit", "1000000")

	payload, err := client.CreatePaymentPayload(context.Background(), req, &ResourceInfo{URL: "https://api.example.com/data"}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if payload.Scheme() != "exact_permit" || payload.Network() != "eip155:8453" {
		t.Fatalf("Unexpected accepted pair %s/%s", payload.Scheme(), payload.Network())
	}
	if payload.Resource == nil || payload.Resource.URL != "https://api.example.com/data" {
		t.Fatal("Expected resource to be carried into the payload")
	}
}

func TestCreatePaymentPayloadRejectsBadRequirements(t *testing.T) {
	client := NewX402Client().Register("eip155:*", &mockClientMechanism{scheme: "exact_permit"})

	_, err := client.CreatePaymentPayload(context.Background(), newRequirements("eip155:8453", "exact_permit", "0"), nil, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for zero amount, got %v", err)
	}
}

func TestCreatePaymentPayloadPropagatesMechanismError(t *testing.T) {
	signErr := &SignatureError{Err: errors.New("device locked")}
	client := NewX402Client().Register("eip155:*", &mockClientMechanism{
		scheme: "exact_permit",
		createPayload: func(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error) {
			return PaymentPayload{}, signErr
		},
	})

	_, err := client.CreatePaymentPayload(context.Background(), newRequirements("eip155:8453", "exact_permit", "1"), nil, nil)
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("Expected signature error, got %v", err)
	}
}

func TestHandlePaymentWithSelector(t *testing.T) {
	client := NewX402Client().Register("eip155:*", &mockClientMechanism{scheme: "exact_permit"})
	required := PaymentRequired{
		X402Version: ProtocolVersion,
		Accepts: []PaymentRequirements{
			newRequirements("eip155:1", "exact_permit", "500"),
			newRequirements("tron:nile", "exact_permit", "1"),
			newRequirements("eip155:8453", "exact_permit", "100"),
		},
	}

	var seen int
	payload, err := client.HandlePayment(context.Background(), required, nil, func(reqs []PaymentRequirements) PaymentRequirements {
		seen = len(reqs)
		return reqs[len(reqs)-1]
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if seen != 2 {
		t.Fatalf("Expected selector to see 2 supported options, got %d", seen)
	}
	if payload.Network() != "eip155:8453" {
		t.Fatalf("Expected selector's choice eip155:8453, got %s", payload.Network())
	}
}

func TestCanPay(t *testing.T) {
	client := NewX402Client(WithMechanism("tron:*", &mockClientMechanism{scheme: "exact_permit"}))

	if !client.CanPay([]PaymentRequirements{newRequirements("tron:shasta", "exact_permit", "1")}) {
		t.Fatal("Expected client to be able to pay on tron:shasta")
	}
	if client.CanPay([]PaymentRequirements{newRequirements("eip155:1", "exact_permit", "1")}) {
		t.Fatal("Expected client not to pay on eip155:1")
	}
}
