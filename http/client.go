package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/logger"
)

// PaymentState is where a request is in the payment exchange
type PaymentState int

const (
	StateInitial PaymentState = iota
	StatePaymentRequested
	StateRetried
)

// X402HTTPClient drives the 402 exchange: it sends a request, pays when the
// server asks for it and retries exactly once with PAYMENT-SIGNATURE set.
type X402HTTPClient struct {
	client     *x402.X402Client
	httpClient *http.Client
	filter     *x402.PaymentRequirementsFilter
	selector   x402.PaymentRequirementsSelector
	logger     logger.Logger
}

// HTTPClientOption configures an X402HTTPClient
type HTTPClientOption func(*X402HTTPClient)

// WithHTTPClient sets the underlying client. Its transport is used as is.
func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *X402HTTPClient) {
		c.httpClient = client
	}
}

// WithRequirementsFilter narrows the requirements the client will pay
func WithRequirementsFilter(filter *x402.PaymentRequirementsFilter) HTTPClientOption {
	return func(c *X402HTTPClient) {
		c.filter = filter
	}
}

// WithSelector overrides the client's default requirements selector
func WithSelector(selector x402.PaymentRequirementsSelector) HTTPClientOption {
	return func(c *X402HTTPClient) {
		c.selector = selector
	}
}

func WithHTTPLogger(l logger.Logger) HTTPClientOption {
	return func(c *X402HTTPClient) {
		c.logger = logger.OrNoop(l)
	}
}

// NewX402HTTPClient wraps client with the 402 payment flow over
// http.DefaultClient
func NewX402HTTPClient(client *x402.X402Client, opts ...HTTPClientOption) *X402HTTPClient {
	c := &X402HTTPClient{
		client:     client,
		httpClient: http.DefaultClient,
		logger:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req, paying and retrying once on 402. When the 402 carries no
// usable payment document the original response is returned untouched.
// A request with a body must have GetBody set (http.NewRequest does this for
// common readers) so the retry can resend it.
func (c *X402HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.exchange(ctx, req.WithContext(ctx), c.httpClient.Do)
}

func (c *X402HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.send(ctx, http.MethodGet, url, nil)
}

func (c *X402HTTPClient) Post(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	return c.send(ctx, http.MethodPost, url, body)
}

func (c *X402HTTPClient) Put(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	return c.send(ctx, http.MethodPut, url, body)
}

func (c *X402HTTPClient) Delete(ctx context.Context, url string) (*http.Response, error) {
	return c.send(ctx, http.MethodDelete, url, nil)
}

func (c *X402HTTPClient) send(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(ctx, req)
}

// exchange runs Initial -> PaymentRequested -> Retried over send
func (c *X402HTTPClient) exchange(ctx context.Context, req *http.Request, send func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	state := StateInitial
	resp, err := send(req)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}
	state = StatePaymentRequested

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	required, outcome, perr := ParsePaymentRequired(resp.Header, body)
	if outcome != PaymentRequiredFound {
		fields := map[string]interface{}{"url": req.URL.String(), "outcome": outcome.String()}
		if perr != nil {
			fields["error"] = perr.Error()
		}
		c.logger.Warn("402 without a usable payment document", fields)
		return resp, nil
	}

	payload, err := c.client.HandlePayment(ctx, required, c.filter, c.selector)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	header, err := EncodePaymentSignatureHeader(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}

	retry, err := cloneWithBody(ctx, req)
	if err != nil {
		return nil, err
	}
	retry.Header.Set(HeaderPaymentSignature, header)

	state = StateRetried
	c.logger.Debug("retrying with payment", map[string]interface{}{
		"url":     req.URL.String(),
		"scheme":  payload.Scheme(),
		"network": string(payload.Network()),
		"state":   int(state),
	})
	return send(retry)
}

func cloneWithBody(ctx context.Context, req *http.Request) (*http.Request, error) {
	retry := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry %s %s: request body is not replayable", req.Method, req.URL)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to replay request body: %w", err)
	}
	retry.Body = body
	return retry, nil
}

// GetPaymentSettleResponse decodes the PAYMENT-RESPONSE header of a paid
// response
func GetPaymentSettleResponse(resp *http.Response) (x402.SettleResponse, error) {
	value := resp.Header.Get(HeaderPaymentResponse)
	if value == "" {
		return x402.SettleResponse{}, fmt.Errorf("%s header not found", HeaderPaymentResponse)
	}
	return DecodePaymentResponseHeader(value)
}

// PaymentRoundTripper pays 402 responses inside an http.Client
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	client    *X402HTTPClient
}

func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.exchange(req.Context(), req, t.Transport.RoundTrip)
}

// WrapHTTPClientWithPayment returns a copy of client whose transport pays
// 402 responses
func WrapHTTPClientWithPayment(client *http.Client, x402Client *x402.X402Client, opts ...HTTPClientOption) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &PaymentRoundTripper{
		Transport: transport,
		client:    NewX402HTTPClient(x402Client, opts...),
	}
	return &wrapped
}
