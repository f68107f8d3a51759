package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/bankofai/x402-tron"
)

// HTTPFacilitatorClient talks to a remote facilitator over HTTP
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

var _ x402.FacilitatorClient = (*HTTPFacilitatorClient)(nil)

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers per endpoint
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
	FeeQuote  map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// DefaultFacilitatorURL is the local facilitator started by cmd/facilitator
const DefaultFacilitatorURL = "http://localhost:8001"

// getSupportedRetries is the number of attempts for /supported on 429
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
var getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a client for a remote facilitator.
// A nil config targets DefaultFacilitatorURL.
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}
}

// Identifier names the facilitator in logs
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// Supported fetches the facilitator's capabilities. Retries up to 3 times
// with exponential backoff on 429.
func (c *HTTPFacilitatorClient) Supported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		if err := c.authorize(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return x402.SupportedResponse{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}
		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supported x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supported); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supported, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))
		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}
		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// FeeQuote asks what settling requirements will cost
func (c *HTTPFacilitatorClient) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements, permitContext map[string]interface{}) (*x402.FeeQuoteResponse, error) {
	var quote x402.FeeQuoteResponse
	status, body, err := c.post(ctx, "/fee/quote", x402.FeeQuoteRequest{
		Accept:               requirements,
		PaymentPermitContext: permitContext,
	}, func(h AuthHeaders) map[string]string { return h.FeeQuote })
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("facilitator fee quote failed (%d): %s", status, string(body))
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("failed to decode fee quote response: %w", err)
	}
	return &quote, nil
}

// Verify checks a payment. Rejections come back as IsValid=false.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	status, body, err := c.post(ctx, "/verify", x402.VerifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, func(h AuthHeaders) map[string]string { return h.Verify })
	if err != nil {
		return x402.VerifyResponse{}, err
	}

	var verifyResponse x402.VerifyResponse
	if err := json.Unmarshal(body, &verifyResponse); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("facilitator verify failed (%d): %s", status, string(body))
	}
	if status != http.StatusOK && verifyResponse.InvalidReason == "" {
		return x402.VerifyResponse{}, fmt.Errorf("facilitator verify failed (%d): %s", status, string(body))
	}
	return verifyResponse, nil
}

// Settle executes a payment. Failures come back as Success=false.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	status, body, err := c.post(ctx, "/settle", x402.SettleRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, func(h AuthHeaders) map[string]string { return h.Settle })
	if err != nil {
		return x402.SettleResponse{}, err
	}

	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(body, &settleResponse); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle failed (%d): %s", status, string(body))
	}
	if status != http.StatusOK && settleResponse.ErrorReason == "" {
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle failed (%d): %s", status, string(body))
	}
	return settleResponse, nil
}

func (c *HTTPFacilitatorClient) post(ctx context.Context, path string, request interface{}, headers func(AuthHeaders) map[string]string) (int, []byte, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req, headers); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, responseBody, nil
}

func (c *HTTPFacilitatorClient) authorize(ctx context.Context, req *http.Request, pick func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range pick(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}
