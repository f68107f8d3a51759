package x402

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error codes
const (
	ErrCodeInvalidPayment          = "invalid_payment"
	ErrCodeNoSupportedRequirements = "no_supported_requirements"
	ErrCodeUnsupportedScheme       = "unsupported_scheme"
	ErrCodeSettlementFailed        = "settlement_failed"
)

// Reason codes shared by every facilitator mechanism. Scheme specific codes
// live next to each scheme.
const (
	ReasonUnsupportedNetworkScheme = "unsupported_network_scheme"
	ReasonBroadcastFailed          = "broadcast_failed"
	ReasonTransactionTimeout       = "transaction_timeout"
	ReasonTransactionFailed        = "transaction_failed"
	ReasonReceiptUnavailable       = "receipt_unavailable"
	ReasonSettlementInProgress     = "settlement_in_progress"
	ReasonAlreadySettled           = "payment_already_settled"
)

// Sentinels for errors.Is. Every typed error below matches exactly one.
var (
	ErrValidation            = errors.New("validation failed")
	ErrPermitValidation      = errors.New("permit validation failed")
	ErrUnknownToken          = errors.New("unknown token")
	ErrUnsupportedNetwork    = errors.New("unsupported network")
	ErrSignature             = errors.New("signing failed")
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrAllowance             = errors.New("insufficient allowance")
	ErrTransaction           = errors.New("transaction failed")
	ErrTransactionTimeout    = errors.New("transaction timeout")
	ErrConfiguration         = errors.New("configuration error")
)

// ValidationError reports malformed input at a boundary
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError reports a malformed field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PermitValidationError reports a permit that is well formed but not acceptable.
// It matches both ErrPermitValidation and ErrValidation.
type PermitValidationError struct {
	Reason string
	Detail string
}

func (e *PermitValidationError) Error() string {
	if e.Detail == "" {
		return "permit validation failed: " + e.Reason
	}
	return fmt.Sprintf("permit validation failed: %s: %s", e.Reason, e.Detail)
}

func (e *PermitValidationError) Is(target error) bool {
	return target == ErrPermitValidation || target == ErrValidation
}

// UnknownTokenError is returned when a symbol or address is not registered
// for a network
type UnknownTokenError struct {
	Network Network
	Token   string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token %q on network %s", e.Token, e.Network)
}

func (e *UnknownTokenError) Is(target error) bool { return target == ErrUnknownToken }

// UnsupportedNetworkError is returned when nothing is configured for a network
// (or network and scheme pair)
type UnsupportedNetworkError struct {
	Network Network
	Scheme  string
}

func (e *UnsupportedNetworkError) Error() string {
	if e.Scheme == "" {
		return fmt.Sprintf("unsupported network: %s", e.Network)
	}
	return fmt.Sprintf("%s: %s/%s", ReasonUnsupportedNetworkScheme, e.Network, e.Scheme)
}

func (e *UnsupportedNetworkError) Is(target error) bool { return target == ErrUnsupportedNetwork }

// SignatureError wraps a signer failure on the client side
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string { return "signing failed: " + e.Err.Error() }
func (e *SignatureError) Unwrap() error { return e.Err }
func (e *SignatureError) Is(target error) bool {
	return target == ErrSignature
}

// SignatureVerificationError reports that a signature could not be checked
// against the claimed signer
type SignatureVerificationError struct {
	Address string
	Err     error
}

func (e *SignatureVerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("signature verification failed for %s", e.Address)
	}
	return fmt.Sprintf("signature verification failed for %s: %v", e.Address, e.Err)
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }
func (e *SignatureVerificationError) Is(target error) bool {
	return target == ErrSignatureVerification
}

// AllowanceError reports that the payer has not approved enough tokens for the
// spender and the client is not allowed to approve on its own
type AllowanceError struct {
	Token    string
	Spender  string
	Required *big.Int
	Current  *big.Int
}

func (e *AllowanceError) Error() string {
	return fmt.Sprintf("insufficient allowance for %s on token %s: have %s, need %s",
		e.Spender, e.Token, bigString(e.Current), bigString(e.Required))
}

func (e *AllowanceError) Is(target error) bool { return target == ErrAllowance }

// TransactionError reports a failed broadcast or a reverted transaction
type TransactionError struct {
	TxHash string
	Reason string
	Err    error
}

func (e *TransactionError) Error() string {
	msg := "transaction failed"
	if e.TxHash != "" {
		msg += " " + e.TxHash
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransactionError) Unwrap() error        { return e.Err }
func (e *TransactionError) Is(target error) bool { return target == ErrTransaction }

// TransactionTimeoutError is returned when a receipt did not show up in time.
// The transaction may still be mined later.
type TransactionTimeoutError struct {
	TxHash  string
	Timeout time.Duration
}

func (e *TransactionTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed within %s", e.TxHash, e.Timeout)
}

func (e *TransactionTimeoutError) Is(target error) bool { return target == ErrTransactionTimeout }

// ConfigurationError reports a missing or invalid setting
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
