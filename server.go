package x402

import (
	"context"
	"fmt"
	"sync"

	"github.com/bankofai/x402-tron/logger"
)

// DefaultMaxTimeoutSeconds is used when a resource config does not set one
const DefaultMaxTimeoutSeconds = 300

// X402ResourceServer prices protected resources, answers with PaymentRequired
// documents and checks incoming payments through a facilitator.
type X402ResourceServer struct {
	mu sync.RWMutex

	// network pattern -> scheme -> mechanism
	mechanisms  map[Network]map[string]ServerMechanism
	facilitator FacilitatorClient
	supported   map[Network]map[string]bool
	extensions  map[string]interface{}
	logger      logger.Logger
}

// ResourceServerOption configures the server
type ResourceServerOption func(*X402ResourceServer)

// WithFacilitatorClient sets the facilitator used for verify and settle
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.facilitator = client
	}
}

// WithServerMechanism registers a server mechanism at creation time
func WithServerMechanism(network Network, mechanism ServerMechanism) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.Register(network, mechanism)
	}
}

// WithServerExtension declares a protocol extension in every PaymentRequired
func WithServerExtension(key string, declaration interface{}) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.DeclareExtension(key, declaration)
	}
}

// WithServerLogger sets the server logger
func WithServerLogger(l logger.Logger) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.logger = logger.OrNoop(l)
	}
}

// NewX402ResourceServer creates a resource server. Without a facilitator
// client it can build requirements but not verify or settle.
func NewX402ResourceServer(opts ...ResourceServerOption) *X402ResourceServer {
	s := &X402ResourceServer{
		mechanisms: make(map[Network]map[string]ServerMechanism),
		logger:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds a server mechanism to a network id or family pattern
func (s *X402ResourceServer) Register(network Network, mechanism ServerMechanism) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mechanisms[network] == nil {
		s.mechanisms[network] = make(map[string]ServerMechanism)
	}
	s.mechanisms[network][mechanism.Scheme()] = mechanism
	return s
}

// Initialize fetches the facilitator's supported kinds. Requirements for
// pairs the facilitator does not support are rejected afterwards.
func (s *X402ResourceServer) Initialize(ctx context.Context) error {
	if s.facilitator == nil {
		return &ConfigurationError{Setting: "facilitator", Reason: "no facilitator client configured"}
	}

	supported, err := s.facilitator.Supported(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch supported kinds: %w", err)
	}

	kinds := make(map[Network]map[string]bool)
	for _, kind := range supported.Kinds {
		if kinds[kind.Network] == nil {
			kinds[kind.Network] = make(map[string]bool)
		}
		kinds[kind.Network][kind.Scheme] = true
	}

	s.mu.Lock()
	s.supported = kinds
	s.mu.Unlock()
	return nil
}

// DeclareExtension adds or replaces an extension offered to clients
func (s *X402ResourceServer) DeclareExtension(key string, declaration interface{}) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.extensions == nil {
		s.extensions = make(map[string]interface{})
	}
	s.extensions[key] = declaration
	return s
}

func (s *X402ResourceServer) mechanism(network Network, scheme string) (ServerMechanism, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByNetworkAndScheme(s.mechanisms, scheme, network)
}

func (s *X402ResourceServer) facilitatorSupports(network Network, scheme string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.supported == nil {
		return true
	}
	return s.supported[network][scheme]
}

// BuildPaymentRequirements turns a resource config into requirements:
// price parsing, scheme enhancement, then validation.
func (s *X402ResourceServer) BuildPaymentRequirements(ctx context.Context, config ResourceConfig) (PaymentRequirements, error) {
	mechanism, ok := s.mechanism(config.Network, config.Scheme)
	if !ok {
		return PaymentRequirements{}, &UnsupportedNetworkError{Network: config.Network, Scheme: config.Scheme}
	}
	if !s.facilitatorSupports(config.Network, config.Scheme) {
		return PaymentRequirements{}, &UnsupportedNetworkError{Network: config.Network, Scheme: config.Scheme}
	}

	price, err := mechanism.ParsePrice(config.Price, config.Network)
	if err != nil {
		return PaymentRequirements{}, err
	}

	timeout := config.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = DefaultMaxTimeoutSeconds
	}
	kind := config.Kind
	if kind == "" {
		kind = DeliveryPaymentOnly
	}

	base := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             price.Asset,
		Amount:            price.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: timeout,
		Extra:             price.Extra,
	}

	enhanced, err := mechanism.EnhancePaymentRequirements(ctx, base, kind)
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("failed to enhance payment requirements: %w", err)
	}
	if !mechanism.ValidatePaymentRequirements(enhanced) {
		return PaymentRequirements{}, NewValidationError("requirements", fmt.Sprintf("invalid %s requirements for %s", config.Scheme, config.Network))
	}
	return enhanced, nil
}

// CreatePaymentRequired builds the 402 document for a resource
func (s *X402ResourceServer) CreatePaymentRequired(ctx context.Context, resource *ResourceInfo, configs []ResourceConfig, errMsg string) (PaymentRequired, error) {
	accepts := make([]PaymentRequirements, 0, len(configs))
	for _, config := range configs {
		req, err := s.BuildPaymentRequirements(ctx, config)
		if err != nil {
			return PaymentRequired{}, err
		}
		accepts = append(accepts, req)
	}
	if len(accepts) == 0 {
		return PaymentRequired{}, NewValidationError("accepts", "at least one payment option is required")
	}

	var extensions map[string]interface{}
	s.mu.RLock()
	if len(s.extensions) > 0 {
		extensions = make(map[string]interface{}, len(s.extensions))
		for k, v := range s.extensions {
			extensions[k] = v
		}
	}
	s.mu.RUnlock()

	return PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       errMsg,
		Resource:    resource,
		Accepts:     accepts,
		Extensions:  extensions,
	}, nil
}

// FindMatchingRequirements returns the offered requirements the payload was
// built against, or nil.
func (s *X402ResourceServer) FindMatchingRequirements(available []PaymentRequirements, payload PaymentPayload) *PaymentRequirements {
	for i := range available {
		req := available[i]
		accepted := payload.Accepted
		if req.Scheme == accepted.Scheme &&
			req.Network == accepted.Network &&
			req.Asset == accepted.Asset &&
			req.Amount == accepted.Amount &&
			req.PayTo == accepted.PayTo {
			return &available[i]
		}
	}
	return nil
}

// VerifyPayment forwards to the facilitator
func (s *X402ResourceServer) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	if s.facilitator == nil {
		return VerifyResponse{}, &ConfigurationError{Setting: "facilitator", Reason: "no facilitator client configured"}
	}
	return s.facilitator.Verify(ctx, payload, requirements)
}

// SettlePayment forwards to the facilitator
func (s *X402ResourceServer) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	if s.facilitator == nil {
		return SettleResponse{}, &ConfigurationError{Setting: "facilitator", Reason: "no facilitator client configured"}
	}
	return s.facilitator.Settle(ctx, payload, requirements)
}

// ProcessResult is the outcome of ProcessPayment
type ProcessResult struct {
	Requirements *PaymentRequirements
	Verify       VerifyResponse
	Settle       *SettleResponse
	Reason       string
}

// Paid reports whether the payment was verified and settled
func (r ProcessResult) Paid() bool {
	return r.Settle != nil && r.Settle.Success
}

// ProcessPayment matches, verifies and settles a payload against the offered
// requirements. Rejections are reported in the result; errors are reserved
// for facilitator failures.
func (s *X402ResourceServer) ProcessPayment(ctx context.Context, payload PaymentPayload, available []PaymentRequirements) (ProcessResult, error) {
	if err := ValidatePaymentPayload(payload); err != nil {
		return ProcessResult{Reason: err.Error()}, nil
	}

	req := s.FindMatchingRequirements(available, payload)
	if req == nil {
		return ProcessResult{Reason: "payment does not match any accepted requirements"}, nil
	}

	verify, err := s.VerifyPayment(ctx, payload, *req)
	if err != nil {
		return ProcessResult{Requirements: req}, fmt.Errorf("verify payment: %w", err)
	}
	if !verify.IsValid {
		return ProcessResult{Requirements: req, Verify: verify, Reason: verify.InvalidReason}, nil
	}

	settle, err := s.SettlePayment(ctx, payload, *req)
	if err != nil {
		return ProcessResult{Requirements: req, Verify: verify}, fmt.Errorf("settle payment: %w", err)
	}

	s.logger.Info("processed payment", map[string]interface{}{
		"network":     string(req.Network),
		"scheme":      req.Scheme,
		"success":     settle.Success,
		"transaction": settle.Transaction,
	})

	result := ProcessResult{Requirements: req, Verify: verify, Settle: &settle}
	if !settle.Success {
		result.Reason = settle.ErrorReason
	}
	return result, nil
}
