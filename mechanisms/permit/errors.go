package permit

// Verify and settle reason codes
const (
	ErrInvalidScheme         = "invalid_exact_permit_scheme"
	ErrNetworkMismatch       = "invalid_exact_permit_network_mismatch"
	ErrInvalidPayload        = "invalid_exact_permit_payload"
	ErrMissingSignature      = "invalid_exact_permit_missing_signature"
	ErrInvalidAddress        = "invalid_exact_permit_address"
	ErrTokenMismatch         = "invalid_exact_permit_token_mismatch"
	ErrRecipientMismatch     = "invalid_exact_permit_recipient_mismatch"
	ErrAmountMismatch        = "invalid_exact_permit_amount_mismatch"
	ErrNotYetValid           = "invalid_exact_permit_not_yet_valid"
	ErrExpired               = "invalid_exact_permit_expired"
	ErrInvalidSignature      = "invalid_exact_permit_signature"
	ErrSignatureVerification = "invalid_exact_permit_signature_verification"
	ErrPermitContract        = "invalid_exact_permit_contract"
	ErrInsufficientBalance   = "invalid_exact_permit_insufficient_balance"
	ErrInsufficientAllowance = "invalid_exact_permit_insufficient_allowance"
	ErrChainRead             = "invalid_exact_permit_chain_read"
)
