package x402

import (
	"fmt"
	"math/big"
	"strings"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAmount parses a base-10 integer amount in the token's smallest unit.
// The value must be positive and fit in a uint256.
func ParseAmount(field, value string) (*big.Int, error) {
	if value == "" {
		return nil, NewValidationError(field, "amount is required")
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, NewValidationError(field, fmt.Sprintf("not an integer: %q", value))
	}
	if amount.Sign() <= 0 {
		return nil, NewValidationError(field, "amount must be greater than zero")
	}
	if amount.Cmp(maxUint256) > 0 {
		return nil, NewValidationError(field, "amount overflows uint256")
	}
	return amount, nil
}

// ValidatePaymentPayload performs structural validation on a payment payload
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version != ProtocolVersion {
		return NewValidationError("x402Version", fmt.Sprintf("unsupported x402 version: %d", p.X402Version))
	}
	if p.Accepted.Scheme == "" {
		return NewValidationError("accepted.scheme", "payment scheme is required")
	}
	if p.Accepted.Network == "" {
		return NewValidationError("accepted.network", "payment network is required")
	}
	if p.Payload == nil {
		return NewValidationError("payload", "payment payload is required")
	}
	return nil
}

// ValidatePaymentRequirements performs chain independent validation on requirements
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return NewValidationError("scheme", "payment scheme is required")
	}
	if _, _, err := r.Network.Parse(); err != nil || r.Network.IsWildcard() {
		return NewValidationError("network", fmt.Sprintf("invalid network %q", r.Network))
	}
	if r.Asset == "" {
		return NewValidationError("asset", "payment asset is required")
	}
	if r.PayTo == "" {
		return NewValidationError("payTo", "payment recipient is required")
	}
	if _, err := ParseAmount("amount", r.Amount); err != nil {
		return err
	}
	return nil
}

// FormatReason joins a reason code and a human detail the way reasons are
// reported on the wire, "code: detail".
func FormatReason(code, detail string) string {
	if detail == "" {
		return code
	}
	return code + ": " + detail
}

// ReasonCode returns the code part of a reason produced by FormatReason
func ReasonCode(reason string) string {
	if i := strings.Index(reason, ":"); i >= 0 {
		return reason[:i]
	}
	return reason
}

// IsPostBroadcastFailure reports whether a settle failure happened after a
// transaction was handed to the chain. Such settlements must not be
// broadcast again.
func IsPostBroadcastFailure(reason string) bool {
	switch ReasonCode(reason) {
	case ReasonTransactionTimeout, ReasonTransactionFailed, ReasonReceiptUnavailable:
		return true
	}
	return false
}

// findByNetworkAndScheme finds an implementation for a network/scheme pair.
// Exact network keys win over family patterns.
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) (T, bool) {
	var zero T

	if schemeMap, exists := networkMap[network]; exists {
		if impl, exists := schemeMap[scheme]; exists {
			return impl, true
		}
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) {
			if impl, exists := schemeMap[scheme]; exists {
				return impl, true
			}
		}
	}

	return zero, false
}
