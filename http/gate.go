package http

import (
	"context"
	"fmt"
	"net/http"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/logger"
)

// PaymentGate decides whether a request to a protected resource may proceed.
// It holds no framework types; pkg/gin and pkg/echo adapt it.
type PaymentGate struct {
	server      *x402.X402ResourceServer
	configs     []x402.ResourceConfig
	description string
	mimeType    string
	logger      logger.Logger
}

// GateOption configures a PaymentGate
type GateOption func(*PaymentGate)

func WithDescription(description string) GateOption {
	return func(g *PaymentGate) {
		g.description = description
	}
}

func WithMimeType(mimeType string) GateOption {
	return func(g *PaymentGate) {
		g.mimeType = mimeType
	}
}

func WithGateLogger(l logger.Logger) GateOption {
	return func(g *PaymentGate) {
		g.logger = logger.OrNoop(l)
	}
}

// NewPaymentGate protects a resource with one or more accepted payment
// options, offered in the order given
func NewPaymentGate(server *x402.X402ResourceServer, configs []x402.ResourceConfig, opts ...GateOption) *PaymentGate {
	g := &PaymentGate{server: server, configs: configs, logger: logger.NoopLogger{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GateResult is the HTTP outcome of a gate check. When Paid is false the
// caller writes Status, Headers and Body and stops; otherwise it sets
// Headers on its response and serves the resource.
type GateResult struct {
	Paid    bool
	Status  int
	Headers map[string]string
	Body    interface{}
	Payment *x402.ProcessResult
}

// Check evaluates the PAYMENT-SIGNATURE header sent for resourceURL
func (g *PaymentGate) Check(ctx context.Context, resourceURL, paymentHeader string) GateResult {
	resource := &x402.ResourceInfo{URL: resourceURL, Description: g.description, MimeType: g.mimeType}

	if paymentHeader == "" {
		return g.paymentRequired(ctx, resource, "payment required")
	}

	payload, err := DecodePaymentSignatureHeader(paymentHeader)
	if err != nil {
		return g.paymentRequired(ctx, resource, err.Error())
	}

	required, err := g.server.CreatePaymentRequired(ctx, resource, g.configs, "")
	if err != nil {
		return g.serverError(err)
	}

	result, err := g.server.ProcessPayment(ctx, payload, required.Accepts)
	if err != nil {
		g.logger.Error("payment processing failed", map[string]interface{}{"url": resourceURL, "error": err.Error()})
		return GateResult{
			Status: http.StatusBadGateway,
			Body:   map[string]string{"error": fmt.Sprintf("facilitator unavailable: %v", err)},
		}
	}

	headers := map[string]string{}
	if result.Settle != nil {
		encoded, err := EncodePaymentResponseHeader(*result.Settle)
		if err != nil {
			return g.serverError(err)
		}
		headers[HeaderPaymentResponse] = encoded
	}

	if !result.Paid() {
		denied := g.paymentRequired(ctx, resource, result.Reason)
		for k, v := range headers {
			denied.Headers[k] = v
		}
		denied.Payment = &result
		return denied
	}
	return GateResult{Paid: true, Status: http.StatusOK, Headers: headers, Payment: &result}
}

func (g *PaymentGate) paymentRequired(ctx context.Context, resource *x402.ResourceInfo, reason string) GateResult {
	required, err := g.server.CreatePaymentRequired(ctx, resource, g.configs, reason)
	if err != nil {
		return g.serverError(err)
	}
	encoded, err := EncodePaymentRequiredHeader(required)
	if err != nil {
		return g.serverError(err)
	}
	return GateResult{
		Status:  http.StatusPaymentRequired,
		Headers: map[string]string{HeaderPaymentRequired: encoded},
		Body:    required,
	}
}

func (g *PaymentGate) serverError(err error) GateResult {
	g.logger.Error("failed to build payment requirements", map[string]interface{}{"error": err.Error()})
	return GateResult{
		Status: http.StatusInternalServerError,
		Body:   map[string]string{"error": err.Error()},
	}
}

// ResourceURL rebuilds the absolute URL of an incoming request
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
