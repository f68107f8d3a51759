package metrics

import (
	x402 "github.com/bankofai/x402-tron"
)

// Event names recorded by InstrumentFacilitator
const (
	EventVerify = "verify"
	EventSettle = "settle"
)

// Result label values
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultError   = "error"
)

// InstrumentFacilitator counts and times every verify and settle handled by
// f through its lifecycle hooks
func InstrumentFacilitator(f *x402.X402Facilitator, rec Recorder) *x402.X402Facilitator {
	f.OnAfterVerify(func(ctx x402.FacilitatorVerifyResultContext) error {
		labels := labelsFor(ctx.PaymentRequirements, ResultValid)
		if !ctx.Result.IsValid {
			labels["result"] = ResultInvalid
		}
		rec.IncCounter(EventVerify, labels)
		rec.ObserveLatency(EventVerify, ctx.Duration, labels)
		return nil
	})
	f.OnVerifyFailure(func(ctx x402.FacilitatorVerifyFailureContext) {
		labels := labelsFor(ctx.PaymentRequirements, ResultError)
		rec.IncCounter(EventVerify, labels)
		rec.ObserveLatency(EventVerify, ctx.Duration, labels)
	})

	f.OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
		labels := labelsFor(ctx.PaymentRequirements, ResultSuccess)
		if !ctx.Result.Success {
			labels["result"] = ResultFailed
		}
		rec.IncCounter(EventSettle, labels)
		rec.ObserveLatency(EventSettle, ctx.Duration, labels)
		return nil
	})
	f.OnSettleFailure(func(ctx x402.FacilitatorSettleFailureContext) {
		labels := labelsFor(ctx.PaymentRequirements, ResultError)
		rec.IncCounter(EventSettle, labels)
		rec.ObserveLatency(EventSettle, ctx.Duration, labels)
	})
	return f
}

func labelsFor(req x402.PaymentRequirements, result string) map[string]string {
	return map[string]string{
		"network": string(req.Network),
		"scheme":  req.Scheme,
		"result":  result,
	}
}
