package stdlib

import (
	"context"
	"encoding/json"
	"net/http"

	x402 "github.com/bankofai/x402-tron"
	x402http "github.com/bankofai/x402-tron/http"
	"github.com/bankofai/x402-tron/logger"
)

type paymentKey struct{}

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	Description     string
	MimeType        string
	Resource        string
	ResourceRootURL string
	Logger          logger.Logger
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

// WithDescription is an option for the PaymentMiddleware to set the description.
func WithDescription(description string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Description = description
	}
}

// WithMimeType is an option for the PaymentMiddleware to set the mime type.
func WithMimeType(mimeType string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MimeType = mimeType
	}
}

// WithResource is an option for the PaymentMiddleware to set the resource.
func WithResource(resource string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Resource = resource
	}
}

// WithResourceRootURL is an option for the PaymentMiddleware to set the resource root URL.
func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

func WithLogger(l logger.Logger) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Logger = l
	}
}

// PaymentMiddleware is the Go standard library middleware for resources paid
// through x402.
func PaymentMiddleware(server *x402.X402ResourceServer, configs []x402.ResourceConfig, opts ...Options) func(http.Handler) http.Handler {
	options := &PaymentMiddlewareOptions{}
	for _, opt := range opts {
		opt(options)
	}

	gate := x402http.NewPaymentGate(server, configs,
		x402http.WithDescription(options.Description),
		x402http.WithMimeType(options.MimeType),
		x402http.WithGateLogger(options.Logger),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var resource string
			switch {
			case options.Resource != "":
				resource = options.Resource
			case options.ResourceRootURL != "":
				resource = options.ResourceRootURL + r.URL.Path
			default:
				resource = x402http.ResourceURL(r)
			}

			result := gate.Check(r.Context(), resource, r.Header.Get(x402http.HeaderPaymentSignature))
			for k, v := range result.Headers {
				w.Header().Set(k, v)
			}
			if !result.Paid {
				writeJSON(w, result.Status, result.Body)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), paymentKey{}, result.Payment)))
		})
	}
}

// PaymentFromContext returns the settled payment attached by PaymentMiddleware
func PaymentFromContext(ctx context.Context) (*x402.ProcessResult, bool) {
	payment, ok := ctx.Value(paymentKey{}).(*x402.ProcessResult)
	return payment, ok
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
