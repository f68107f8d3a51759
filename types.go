package x402

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the x402 protocol version produced by this module.
const ProtocolVersion = 2

// Network is a namespaced chain identifier, "<family>:<chain>".
// e.g. "eip155:8453", "tron:nile", or the family wildcard "tron:*".
type Network string

// Parse splits the network into family and chain reference.
func (n Network) Parse() (family, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Family returns the part before the colon, or "" when the network is malformed.
func (n Network) Family() string {
	family, _, err := n.Parse()
	if err != nil {
		return ""
	}
	return family
}

// IsWildcard reports whether n is a family pattern such as "eip155:*".
func (n Network) IsWildcard() bool {
	return strings.HasSuffix(string(n), ":*")
}

// Match reports whether n satisfies pattern. Exact ids match only themselves,
// "family:*" matches every network of that family.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	if pattern.IsWildcard() {
		prefix := strings.TrimSuffix(string(pattern), "*")
		return strings.HasPrefix(string(n), prefix) && len(n) > len(prefix)
	}
	return false
}

// DeliveryKind tells the server mechanism how the resource is delivered
// relative to settlement.
type DeliveryKind string

const (
	DeliveryPaymentOnly        DeliveryKind = "PAYMENT_ONLY"
	DeliveryPaymentAndDelivery DeliveryKind = "PAYMENT_AND_DELIVERY"
)

// AssetAmount is a price resolved to a token and an integer amount in the
// token's smallest unit.
type AssetAmount struct {
	Asset    string                 `json:"asset"`
	Amount   string                 `json:"amount"`
	Decimals int32                  `json:"decimals"`
	Symbol   string                 `json:"symbol"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements defines one acceptable way to pay for a resource
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// ResourceInfo describes the resource being accessed
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the 402 document sent to clients
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentPayload contains the signed payment authorization from a client.
// Scheme and network are carried by Accepted.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Payload     map[string]interface{} `json:"payload"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// Scheme returns the scheme the payload was built for
func (p PaymentPayload) Scheme() string { return p.Accepted.Scheme }

// Network returns the network the payload was built for
func (p PaymentPayload) Network() Network { return p.Accepted.Network }

// VerifyRequest is the body of POST /verify
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// SettleRequest is the body of POST /settle
type SettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// FeeQuoteRequest is the body of POST /fee/quote
type FeeQuoteRequest struct {
	Accept               PaymentRequirements    `json:"accept" binding:"required"`
	PaymentPermitContext map[string]interface{} `json:"paymentPermitContext,omitempty"`
}

// VerifyResponse contains the verification result
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse contains the settlement result. Transaction is set only
// when Success is true.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network"`
}

// FeeQuoteResponse is the facilitator's price for settling a payment
type FeeQuoteResponse struct {
	Scheme    string  `json:"scheme"`
	Network   Network `json:"network"`
	Asset     string  `json:"asset"`
	FeeAmount string  `json:"feeAmount"`
	FeeTo     string  `json:"feeTo"`
	ExpiresAt int64   `json:"expiresAt"`
}

// SupportedKind represents a single supported payment configuration
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what payment kinds a facilitator supports
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions"`
}

// PaymentRequirementsFilter narrows the server's accepts list before selection.
// Empty fields do not filter.
type PaymentRequirementsFilter struct {
	Scheme    string
	Network   Network
	MaxAmount string
}

// ResourceConfig defines payment configuration for a protected resource
type ResourceConfig struct {
	Scheme            string       `json:"scheme"`
	Network           Network      `json:"network"`
	Price             string       `json:"price"`
	PayTo             string       `json:"payTo"`
	MaxTimeoutSeconds int          `json:"maxTimeoutSeconds,omitempty"`
	Kind              DeliveryKind `json:"kind,omitempty"`
}

// DeepEqual compares two values by their normalized JSON form
func DeepEqual(a, b interface{}) bool {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aNorm, bNorm interface{}
	if err := json.Unmarshal(aJSON, &aNorm); err != nil {
		return false
	}
	if err := json.Unmarshal(bJSON, &bNorm); err != nil {
		return false
	}

	aNormJSON, _ := json.Marshal(aNorm)
	bNormJSON, _ := json.Marshal(bNorm)

	return string(aNormJSON) == string(bNormJSON)
}
