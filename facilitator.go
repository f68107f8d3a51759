package x402

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bankofai/x402-tron/logger"
)

// X402Facilitator dispatches verify, settle and fee quote requests to the
// mechanism registered for the payload's (network, scheme) pair.
type X402Facilitator struct {
	mu sync.RWMutex

	// network -> scheme -> mechanism. Exact network ids only.
	mechanisms map[Network]map[string]FacilitatorMechanism
	extensions []string

	settlements *SettlementCache
	logger      logger.Logger

	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// FacilitatorOption configures the facilitator
type FacilitatorOption func(*X402Facilitator)

// WithFacilitatorLogger sets the facilitator logger
func WithFacilitatorLogger(l logger.Logger) FacilitatorOption {
	return func(f *X402Facilitator) {
		f.logger = logger.OrNoop(l)
	}
}

// WithSettlementCache replaces the default settlement cache
func WithSettlementCache(cache *SettlementCache) FacilitatorOption {
	return func(f *X402Facilitator) {
		f.settlements = cache
	}
}

// NewX402Facilitator creates a facilitator with an empty registry and the
// default settlement cache
func NewX402Facilitator(opts ...FacilitatorOption) *X402Facilitator {
	f := &X402Facilitator{
		mechanisms:  make(map[Network]map[string]FacilitatorMechanism),
		extensions:  []string{},
		settlements: NewSettlementCache(DefaultSettlementCacheTTL),
		logger:      logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register binds mechanism to each network under its scheme. A later
// registration for the same pair replaces the earlier one.
func (f *X402Facilitator) Register(networks []Network, mechanism FacilitatorMechanism) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, network := range networks {
		if f.mechanisms[network] == nil {
			f.mechanisms[network] = make(map[string]FacilitatorMechanism)
		}
		f.mechanisms[network][mechanism.Scheme()] = mechanism
		f.logger.Debug("registered facilitator mechanism", map[string]interface{}{
			"network": string(network),
			"scheme":  mechanism.Scheme(),
		})
	}
	return f
}

// RegisterExtension advertises a protocol extension in /supported
func (f *X402Facilitator) RegisterExtension(extension string) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}
	f.extensions = append(f.extensions, extension)
	return f
}

// OnBeforeVerify registers a hook run before verification. It may abort.
func (f *X402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

// OnAfterVerify registers a hook run with every verify result
func (f *X402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

// OnVerifyFailure registers a hook run when a mechanism returns a verify error
func (f *X402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

// OnBeforeSettle registers a hook run before a settlement is broadcast.
// It may abort.
func (f *X402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

// OnAfterSettle registers a hook run with every settle result
func (f *X402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

// OnSettleFailure registers a hook run when a mechanism returns a settle error
func (f *X402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// lookup returns the mechanism for the pair. The lock is released before the
// mechanism is used.
func (f *X402Facilitator) lookup(network Network, scheme string) (FacilitatorMechanism, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	mechanism, ok := f.mechanisms[network][scheme]
	return mechanism, ok
}

// Supported lists every registered (network, scheme) pair, sorted
func (f *X402Facilitator) Supported(ctx context.Context) (SupportedResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := []SupportedKind{}
	for network, schemes := range f.mechanisms {
		for scheme := range schemes {
			kinds = append(kinds, SupportedKind{
				X402Version: ProtocolVersion,
				Scheme:      scheme,
				Network:     network,
			})
		}
	}
	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Network != kinds[j].Network {
			return kinds[i].Network < kinds[j].Network
		}
		return kinds[i].Scheme < kinds[j].Scheme
	})

	extensions := make([]string, len(f.extensions))
	copy(extensions, f.extensions)
	return SupportedResponse{Kinds: kinds, Extensions: extensions}, nil
}

// FeeQuote asks the mechanism for requirements' pair what it charges.
// An unregistered pair is an *UnsupportedNetworkError.
func (f *X402Facilitator) FeeQuote(ctx context.Context, requirements PaymentRequirements, permitContext map[string]interface{}) (*FeeQuoteResponse, error) {
	mechanism, ok := f.lookup(requirements.Network, requirements.Scheme)
	if !ok {
		return nil, &UnsupportedNetworkError{Network: requirements.Network, Scheme: requirements.Scheme}
	}
	return mechanism.FeeQuote(ctx, requirements, permitContext)
}

func unsupportedReason(network Network, scheme string) string {
	return FormatReason(ReasonUnsupportedNetworkScheme, fmt.Sprintf("%s/%s", network, scheme))
}

// Verify checks a payment. An unregistered pair is an invalid response, not
// an error.
func (f *X402Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	network, scheme := payload.Network(), payload.Scheme()
	mechanism, ok := f.lookup(network, scheme)
	if !ok {
		return VerifyResponse{IsValid: false, InvalidReason: unsupportedReason(network, scheme)}, nil
	}

	f.mu.RLock()
	before, after, onFailure := f.beforeVerifyHooks, f.afterVerifyHooks, f.onVerifyFailureHooks
	f.mu.RUnlock()

	hookCtx := FacilitatorVerifyContext{
		Ctx:                 ctx,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
		Timestamp:           time.Now(),
	}
	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return VerifyResponse{IsValid: false, InvalidReason: err.Error()}, err
		}
		if result != nil && result.Abort {
			return VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	var result VerifyResponse
	var err error
	if settled := f.settled(mechanism, payload); settled != nil {
		result = VerifyResponse{
			IsValid:       false,
			InvalidReason: FormatReason(ReasonAlreadySettled, settled.Transaction),
			Payer:         settled.Payer,
		}
	} else {
		result, err = mechanism.Verify(ctx, payload, requirements)
	}
	duration := time.Since(hookCtx.Timestamp)
	if err != nil {
		f.logger.Error("verify failed", map[string]interface{}{"network": string(network), "scheme": scheme, "error": err})
		for _, hook := range onFailure {
			hook(FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hookCtx, Error: err, Duration: duration})
		}
		return result, err
	}

	for _, hook := range after {
		if hookErr := hook(FacilitatorVerifyResultContext{FacilitatorVerifyContext: hookCtx, Result: result, Duration: duration}); hookErr != nil {
			f.logger.Warn("after verify hook failed", map[string]interface{}{"error": hookErr})
		}
	}

	f.logger.Info("verified payment", map[string]interface{}{
		"network": string(network),
		"scheme":  scheme,
		"valid":   result.IsValid,
		"reason":  result.InvalidReason,
		"payer":   result.Payer,
	})
	return result, nil
}

// Settle redeems a payment on-chain. An unregistered pair is a failed
// response, not an error. Settles sharing a settlement key broadcast at most
// once: concurrent calls wait for the first, and final outcomes are replayed.
func (f *X402Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	network, scheme := payload.Network(), payload.Scheme()
	mechanism, ok := f.lookup(network, scheme)
	if !ok {
		return SettleResponse{Success: false, ErrorReason: unsupportedReason(network, scheme), Network: network}, nil
	}

	key, err := settlementKey(mechanism, payload)
	if err != nil {
		return SettleResponse{Success: false, ErrorReason: FormatReason(ErrCodeInvalidPayment, err.Error()), Network: network}, nil
	}

	for {
		status, cached, done := f.settlements.Acquire(key)
		if status == StatusCached {
			f.logger.Info("replaying cached settlement", map[string]interface{}{"network": string(network), "key": key})
			return *cached, nil
		}
		if status == StatusAcquired {
			break
		}
		resp, err := f.settlements.Wait(ctx, key, done)
		if err != nil {
			return SettleResponse{Success: false, ErrorReason: ReasonSettlementInProgress, Network: network}, err
		}
		if resp != nil {
			return *resp, nil
		}
	}

	result, err := f.settle(ctx, mechanism, key, payload, requirements)
	if err == nil && IsFinal(result) {
		f.settlements.Release(key, &result)
	} else {
		f.settlements.Release(key, nil)
	}
	return result, err
}

func (f *X402Facilitator) settle(ctx context.Context, mechanism FacilitatorMechanism, key string, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	network, scheme := payload.Network(), payload.Scheme()

	f.mu.RLock()
	before, after, onFailure := f.beforeSettleHooks, f.afterSettleHooks, f.onSettleFailureHooks
	f.mu.RUnlock()

	hookCtx := FacilitatorSettleContext{
		Ctx:                 ctx,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
		SettlementKey:       key,
		Timestamp:           time.Now(),
	}
	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return SettleResponse{Success: false, ErrorReason: err.Error(), Network: network}, err
		}
		if result != nil && result.Abort {
			return SettleResponse{Success: false, ErrorReason: result.Reason, Network: network}, nil
		}
	}

	result, err := mechanism.Settle(ctx, payload, requirements)
	duration := time.Since(hookCtx.Timestamp)
	if err != nil {
		f.logger.Error("settle failed", map[string]interface{}{"network": string(network), "scheme": scheme, "error": err})
		for _, hook := range onFailure {
			hook(FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Error: err, Duration: duration})
		}
		return result, err
	}

	for _, hook := range after {
		if hookErr := hook(FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: result, Duration: duration}); hookErr != nil {
			f.logger.Warn("after settle hook failed", map[string]interface{}{"error": hookErr})
		}
	}

	f.logger.Info("settled payment", map[string]interface{}{
		"network":     string(network),
		"scheme":      scheme,
		"success":     result.Success,
		"reason":      result.ErrorReason,
		"transaction": result.Transaction,
	})
	return result, nil
}

// settled returns the successful settlement already recorded for payload.
// Verify rejects such payloads so a redeemed authorization cannot buy a second
// delivery; Settle still replays them for retrying callers.
func (f *X402Facilitator) settled(mechanism FacilitatorMechanism, payload PaymentPayload) *SettleResponse {
	key, err := settlementKey(mechanism, payload)
	if err != nil {
		return nil
	}
	if cached := f.settlements.Get(key); cached != nil && cached.Success {
		return cached
	}
	return nil
}

func settlementKey(mechanism FacilitatorMechanism, payload PaymentPayload) (string, error) {
	if keyer, ok := mechanism.(SettlementKeyer); ok {
		return keyer.SettlementKey(payload)
	}
	return PayloadSettlementKey(payload)
}
