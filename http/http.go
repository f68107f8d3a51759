// Package http carries x402 over HTTP: the paying client driver, header
// codecs, a facilitator client and server, and the PaymentGate used by the
// resource server middlewares.
package http

import (
	"context"
	"io"
	"net/http"

	x402 "github.com/bankofai/x402-tron"
)

// NewClient creates an HTTP driver for client
func NewClient(client *x402.X402Client, opts ...HTTPClientOption) *X402HTTPClient {
	return NewX402HTTPClient(client, opts...)
}

// NewFacilitatorClient creates a new HTTP facilitator client
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// Get performs a GET request with automatic payment handling
func Get(ctx context.Context, url string, client *X402HTTPClient) (*http.Response, error) {
	return client.Get(ctx, url)
}

// Post performs a POST request with automatic payment handling
func Post(ctx context.Context, url string, body io.Reader, client *X402HTTPClient) (*http.Response, error) {
	return client.Post(ctx, url, body)
}
