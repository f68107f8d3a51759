package native

// Verify and settle reason codes
const (
	ErrInvalidScheme            = "invalid_native_exact_scheme"
	ErrNetworkMismatch          = "invalid_native_exact_network_mismatch"
	ErrInvalidPayload           = "invalid_native_exact_payload"
	ErrInvalidAddress           = "invalid_native_exact_address"
	ErrUnknownTransaction       = "invalid_native_exact_transaction_not_found"
	ErrTransactionLookup        = "invalid_native_exact_transaction_lookup"
	ErrTransactionReverted      = "invalid_native_exact_transaction_reverted"
	ErrTransferMissing          = "invalid_native_exact_transfer_missing"
	ErrInsufficientAmount       = "invalid_native_exact_insufficient_amount"
	ErrInsufficientConfirmation = "invalid_native_exact_insufficient_confirmations"
	ErrTransactionUsed          = "invalid_native_exact_transaction_already_used"
)
