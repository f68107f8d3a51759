package x402

import (
	"context"
	"time"
)

// FacilitatorVerifyContext is passed to verify hooks
type FacilitatorVerifyContext struct {
	Ctx                 context.Context
	PaymentPayload      PaymentPayload
	PaymentRequirements PaymentRequirements
	Timestamp           time.Time
}

// FacilitatorVerifyResultContext carries a completed verification
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// FacilitatorVerifyFailureContext carries a verification that returned an error
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error    error
	Duration time.Duration
}

// FacilitatorSettleContext is passed to settle hooks
type FacilitatorSettleContext struct {
	Ctx                 context.Context
	PaymentPayload      PaymentPayload
	PaymentRequirements PaymentRequirements
	SettlementKey       string
	Timestamp           time.Time
}

// FacilitatorSettleResultContext carries a completed settlement, successful or not
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result   SettleResponse
	Duration time.Duration
}

// FacilitatorSettleFailureContext carries a settlement that returned an error
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error    error
	Duration time.Duration
}

// FacilitatorBeforeHookResult aborts the operation with Reason when Abort is set
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Reason string
}

// FacilitatorBeforeVerifyHook runs before the mechanism verifies.
// Abort produces an invalid VerifyResponse with the hook's reason.
type FacilitatorBeforeVerifyHook func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterVerifyHook runs after the mechanism returned a response.
// Errors are logged and otherwise ignored.
type FacilitatorAfterVerifyHook func(FacilitatorVerifyResultContext) error

// FacilitatorOnVerifyFailureHook runs when the mechanism returned an error
type FacilitatorOnVerifyFailureHook func(FacilitatorVerifyFailureContext)

// FacilitatorBeforeSettleHook runs before the mechanism settles.
// Abort produces a failed SettleResponse with the hook's reason.
type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterSettleHook runs after the mechanism returned a response.
// Errors are logged and otherwise ignored.
type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

// FacilitatorOnSettleFailureHook runs when the mechanism returned an error
type FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext)
