package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	x402 "github.com/bankofai/x402-tron"
)

func newPayingClient(mech *stubClient) *X402HTTPClient {
	return NewX402HTTPClient(x402.NewX402Client().Register("eip155:*", mech))
}

func TestGetWithoutPaymentRequiredMakesOneCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-Origin", "resource")
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "short and stout")
	}))
	defer server.Close()

	mech := &stubClient{token: "paid"}
	resp, err := newPayingClient(mech).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if calls.Load() != 1 {
		t.Errorf("Expected exactly one HTTP call, got %d", calls.Load())
	}
	if resp.StatusCode != http.StatusTeapot || string(body) != "short and stout" || resp.Header.Get("X-Origin") != "resource" {
		t.Errorf("Response was modified: %d %q", resp.StatusCode, body)
	}
	if mech.calls.Load() != 0 {
		t.Error("Expected no payment to be created")
	}
}

func TestUnparseable402IsReturnedAsIs(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, "<html>pay up</html>")
	}))
	defer server.Close()

	resp, err := newPayingClient(&stubClient{token: "paid"}).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", resp.StatusCode)
	}
	if string(body) != "<html>pay up</html>" {
		t.Errorf("Expected original body, got %q", body)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected no retry, got %d calls", calls.Load())
	}
}

func TestEmpty402IsReturnedAsIs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	resp, err := newPayingClient(&stubClient{token: "paid"}).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", resp.StatusCode)
	}
}

func TestBrokenHeaderFallsBackToBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get(HeaderPaymentSignature) != "" {
			io.WriteString(w, "paid")
			return
		}
		w.Header().Set(HeaderPaymentRequired, "!!!not-base64!!!")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(stubPaymentRequired())
	}))
	defer server.Close()

	mech := &stubClient{token: "paid"}
	resp, err := newPayingClient(mech).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "paid" {
		t.Errorf("Expected the paid response, got %d %q", resp.StatusCode, body)
	}
	if calls.Load() != 2 || mech.calls.Load() != 1 {
		t.Errorf("Expected one payment and one retry, got %d calls and %d payloads", calls.Load(), mech.calls.Load())
	}
}

// paywalled answers 402 until it sees a PAYMENT-SIGNATURE header
func paywalled(t *testing.T, viaHeader bool, calls *atomic.Int32, seen *x402.PaymentPayload) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if sig := r.Header.Get(HeaderPaymentSignature); sig != "" {
			payload, err := DecodePaymentSignatureHeader(sig)
			if err != nil {
				t.Errorf("Bad payment header: %v", err)
			}
			*seen = payload
			body, _ := io.ReadAll(r.Body)
			encoded, _ := EncodePaymentResponseHeader(x402.SettleResponse{Success: true, Transaction: "0xabc", Network: stubNetwork})
			w.Header().Set(HeaderPaymentResponse, encoded)
			io.WriteString(w, "paid:"+string(body))
			return
		}
		required := stubPaymentRequired()
		if viaHeader {
			encoded, _ := EncodePaymentRequiredHeader(required)
			w.Header().Set(HeaderPaymentRequired, encoded)
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(required)
	}))
}

func TestPaysAndRetriesOnce(t *testing.T) {
	for _, viaHeader := range []bool{true, false} {
		var calls atomic.Int32
		var seen x402.PaymentPayload
		server := paywalled(t, viaHeader, &calls, &seen)

		mech := &stubClient{token: "paid"}
		resp, err := newPayingClient(mech).Post(context.Background(), server.URL, strings.NewReader(`{"q":1}`))
		if err != nil {
			t.Fatalf("header=%v: unexpected error: %v", viaHeader, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("header=%v: expected 200, got %d", viaHeader, resp.StatusCode)
		}
		if string(body) != `paid:{"q":1}` {
			t.Errorf("header=%v: body not replayed on retry: %q", viaHeader, body)
		}
		if calls.Load() != 2 {
			t.Errorf("header=%v: expected 2 calls, got %d", viaHeader, calls.Load())
		}
		if seen.Accepted.Scheme != stubScheme || seen.Payload["token"] != "paid" {
			t.Errorf("header=%v: unexpected payload %+v", viaHeader, seen)
		}

		settle, err := GetPaymentSettleResponse(resp)
		if err != nil {
			t.Fatalf("header=%v: %v", viaHeader, err)
		}
		if !settle.Success || settle.Transaction != "0xabc" {
			t.Errorf("header=%v: unexpected settle response %+v", viaHeader, settle)
		}
		server.Close()
	}
}

func TestSecond402IsReturnedWithoutAnotherRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		encoded, _ := EncodePaymentRequiredHeader(stubPaymentRequired())
		w.Header().Set(HeaderPaymentRequired, encoded)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	resp, err := newPayingClient(&stubClient{token: "paid"}).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected the retried 402, got %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestNoSupportedRequirementsIsAnError(t *testing.T) {
	var calls atomic.Int32
	var seen x402.PaymentPayload
	server := paywalled(t, true, &calls, &seen)
	defer server.Close()

	client := NewX402HTTPClient(x402.NewX402Client().Register("tron:*", &stubClient{token: "paid"}))
	_, err := client.Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected an error when no registered mechanism can pay")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected no retry, got %d calls", calls.Load())
	}
}

func TestWrapHTTPClientWithPayment(t *testing.T) {
	var calls atomic.Int32
	var seen x402.PaymentPayload
	server := paywalled(t, true, &calls, &seen)
	defer server.Close()

	original := &http.Client{}
	wrapped := WrapHTTPClientWithPayment(original, x402.NewX402Client().Register("eip155:*", &stubClient{token: "paid"}))
	if original.Transport != nil {
		t.Error("Expected the original client to be left alone")
	}

	resp, err := wrapped.Get(server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestPutAndDelete(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
	}))
	defer server.Close()

	client := newPayingClient(&stubClient{})
	resp, err := client.Put(context.Background(), server.URL, strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp, err = client.Delete(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if strings.Join(methods, ",") != "PUT,DELETE" {
		t.Errorf("Unexpected methods %v", methods)
	}
}
