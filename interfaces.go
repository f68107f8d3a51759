package x402

import (
	"context"
	"math/big"
	"time"
)

// ClientMechanism builds payment payloads for one scheme.
// Implemented by the scheme packages under mechanisms/.
type ClientMechanism interface {
	Scheme() string

	// CreatePaymentPayload builds and signs a payload without broadcasting.
	// Returns a *SignatureError if the signer fails and an *AllowanceError if
	// approval is insufficient and the mechanism may not approve on its own.
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error)
}

// ServerMechanism prices resources and shapes requirements for one scheme
type ServerMechanism interface {
	Scheme() string
	ParsePrice(price string, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(ctx context.Context, requirements PaymentRequirements, kind DeliveryKind) (PaymentRequirements, error)

	// ValidatePaymentRequirements reports structural defects as false.
	// It never panics.
	ValidatePaymentRequirements(requirements PaymentRequirements) bool
}

// FacilitatorMechanism verifies and settles payments for one scheme.
// Verification and settlement outcomes are reported in the responses; errors
// are reserved for infrastructure failures.
type FacilitatorMechanism interface {
	Scheme() string
	FeeQuote(ctx context.Context, requirements PaymentRequirements, permitContext map[string]interface{}) (*FeeQuoteResponse, error)
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
}

// SettlementKeyer is implemented by facilitator mechanisms that can name the
// on-chain effect of a payload. Two payloads with the same key must never be
// broadcast twice.
type SettlementKeyer interface {
	SettlementKey(payload PaymentPayload) (string, error)
}

// FacilitatorClient is the resource server's view of a facilitator, remote
// (http.HTTPFacilitatorClient) or in-process (*X402Facilitator).
type FacilitatorClient interface {
	Supported(ctx context.Context) (SupportedResponse, error)
	FeeQuote(ctx context.Context, requirements PaymentRequirements, permitContext map[string]interface{}) (*FeeQuoteResponse, error)
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
}

// TypedDataDomain is the EIP-712 domain
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField is one member of an EIP-712 struct type
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// AllowanceMode controls what a client signer does when the payer's token
// approval is too small
type AllowanceMode string

const (
	// AllowanceAuto submits an approval transaction without asking
	AllowanceAuto AllowanceMode = "auto"
	// AllowanceInteractive lets the signer ask its owner before approving
	AllowanceInteractive AllowanceMode = "interactive"
	// AllowanceSkip never approves
	AllowanceSkip AllowanceMode = "skip"
)

// ClientSigner holds the payer's key. Addresses are in the chain's native
// format; typed data addresses are 0x hex.
type ClientSigner interface {
	Address() string
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
	CheckAllowance(ctx context.Context, token, spender string) (*big.Int, error)
	// EnsureAllowance makes sure spender may move at least amount of token.
	// It returns false when the allowance is still insufficient.
	EnsureAllowance(ctx context.Context, token, spender string, amount *big.Int, mode AllowanceMode) (bool, error)
}

// ReceiptStatus is the execution status of a mined transaction
type ReceiptStatus uint64

const (
	ReceiptStatusFailed  ReceiptStatus = 0
	ReceiptStatusSuccess ReceiptStatus = 1
)

// TransactionReceipt is the chain independent view of a mined transaction
type TransactionReceipt struct {
	TxHash      string        `json:"txHash"`
	BlockNumber uint64        `json:"blockNumber"`
	Status      ReceiptStatus `json:"status"`
}

// FacilitatorSigner holds the relayer's key and chain access
type FacilitatorSigner interface {
	Address() string

	// VerifyTypedData reports whether signature over the typed data was
	// produced by address (native chain format).
	VerifyTypedData(ctx context.Context, address string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error)

	// ReadContract runs a constant call of method on contract and returns the
	// unpacked outputs. Arguments follow WriteContract.
	ReadContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error)

	// WriteContract calls method on contract and returns the broadcast
	// transaction hash. Arguments are ABI-ready go-ethereum values.
	WriteContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (string, error)

	// WaitForTransactionReceipt polls until the transaction is mined or timeout
	// elapses, in which case a *TransactionTimeoutError is returned.
	WaitForTransactionReceipt(ctx context.Context, txHash string, timeout time.Duration) (*TransactionReceipt, error)
}
