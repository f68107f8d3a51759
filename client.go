package x402

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/bankofai/x402-tron/logger"
)

const (
	// PriorityExact is the priority of a registration for a concrete network id
	PriorityExact = 10
	// PriorityWildcard is the priority of a "family:*" registration
	PriorityWildcard = 1
)

// mechanismEntry binds a client mechanism to a network pattern
type mechanismEntry struct {
	pattern   Network
	mechanism ClientMechanism
	priority  int
}

// X402Client selects payment requirements it can satisfy and creates payment
// payloads for them. Used by applications that hold a payer key.
type X402Client struct {
	mu sync.RWMutex

	// Ordered by descending priority, insertion order within a priority
	entries []mechanismEntry

	requirementsSelector PaymentRequirementsSelector
	logger               logger.Logger
}

// PaymentRequirementsSelector picks one of the requirements the client can pay.
// The slice keeps the server's order and is never empty.
type PaymentRequirementsSelector func(requirements []PaymentRequirements) PaymentRequirements

// ClientOption configures the client
type ClientOption func(*X402Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *X402Client) {
		c.requirementsSelector = selector
	}
}

// WithMechanism registers a client mechanism at creation time
func WithMechanism(pattern Network, mechanism ClientMechanism) ClientOption {
	return func(c *X402Client) {
		c.Register(pattern, mechanism)
	}
}

// WithClientLogger sets the client logger
func WithClientLogger(l logger.Logger) ClientOption {
	return func(c *X402Client) {
		c.logger = logger.OrNoop(l)
	}
}

// NewX402Client creates a new x402 client
func NewX402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		requirementsSelector: defaultPaymentSelector,
		logger:               logger.NoopLogger{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector keeps the server's preference
func defaultPaymentSelector(requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// Register binds mechanism to a network id ("tron:nile") or a family pattern
// ("tron:*"). Exact ids are consulted before patterns; within a priority the
// earlier registration wins.
func (c *X402Client) Register(pattern Network, mechanism ClientMechanism) *X402Client {
	priority := PriorityExact
	if pattern.IsWildcard() {
		priority = PriorityWildcard
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, mechanismEntry{
		pattern:   pattern,
		mechanism: mechanism,
		priority:  priority,
	})
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].priority > c.entries[j].priority
	})

	c.logger.Debug("registered client mechanism", map[string]interface{}{
		"pattern":  string(pattern),
		"scheme":   mechanism.Scheme(),
		"priority": priority,
	})
	return c
}

// FindMechanism returns the first registered mechanism, in priority order,
// whose pattern matches network and whose scheme matches scheme.
func (c *X402Client) FindMechanism(network Network, scheme string) (ClientMechanism, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, entry := range c.entries {
		if network.Match(entry.pattern) && entry.mechanism.Scheme() == scheme {
			return entry.mechanism, true
		}
	}
	return nil, false
}

// SelectPaymentRequirements filters accepts and returns the first entry, in the
// server's order, that passes filter and has a registered mechanism.
func (c *X402Client) SelectPaymentRequirements(accepts []PaymentRequirements, filter *PaymentRequirementsFilter) (PaymentRequirements, error) {
	return c.selectWith(accepts, filter, c.requirementsSelector)
}

func (c *X402Client) selectWith(accepts []PaymentRequirements, filter *PaymentRequirementsFilter, selector PaymentRequirementsSelector) (PaymentRequirements, error) {
	var maxAmount *big.Int
	if filter != nil && filter.MaxAmount != "" {
		var ok bool
		maxAmount, ok = new(big.Int).SetString(filter.MaxAmount, 10)
		if !ok {
			return PaymentRequirements{}, NewValidationError("maxAmount", fmt.Sprintf("not an integer: %q", filter.MaxAmount))
		}
	}

	var supported []PaymentRequirements
	for _, req := range accepts {
		if filter != nil {
			if filter.Scheme != "" && req.Scheme != filter.Scheme {
				continue
			}
			if filter.Network != "" && !req.Network.Match(filter.Network) {
				continue
			}
			if maxAmount != nil {
				amount, ok := new(big.Int).SetString(req.Amount, 10)
				if !ok || amount.Cmp(maxAmount) > 0 {
					continue
				}
			}
		}
		if _, ok := c.FindMechanism(req.Network, req.Scheme); ok {
			supported = append(supported, req)
		}
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeNoSupportedRequirements,
			Message: "no supported payment requirements available",
			Details: map[string]interface{}{
				"requirements": accepts,
			},
		}
	}

	return selector(supported), nil
}

// CreatePaymentPayload creates a signed payment payload for requirements
func (c *X402Client) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	mechanism, ok := c.FindMechanism(requirements.Network, requirements.Scheme)
	if !ok {
		return PaymentPayload{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no mechanism registered for scheme %s on network %s", requirements.Scheme, requirements.Network),
		}
	}

	payload, err := mechanism.CreatePaymentPayload(ctx, requirements, resource, extensions)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	c.logger.Info("created payment payload", map[string]interface{}{
		"network": string(requirements.Network),
		"scheme":  requirements.Scheme,
		"amount":  requirements.Amount,
	})
	return payload, nil
}

// HandlePayment selects requirements from a PaymentRequired document and pays
// for them. A nil selector uses the client's configured selector.
func (c *X402Client) HandlePayment(ctx context.Context, required PaymentRequired, filter *PaymentRequirementsFilter, selector PaymentRequirementsSelector) (PaymentPayload, error) {
	if selector == nil {
		selector = c.requirementsSelector
	}

	selected, err := c.selectWith(required.Accepts, filter, selector)
	if err != nil {
		return PaymentPayload{}, err
	}
	return c.CreatePaymentPayload(ctx, selected, required.Resource, required.Extensions)
}

// CanPay checks if the client can pay with any of the given requirements
func (c *X402Client) CanPay(accepts []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(accepts, nil)
	return err == nil
}
