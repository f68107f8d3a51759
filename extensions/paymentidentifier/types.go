package paymentidentifier

import "regexp"

// PaymentIdentifier is the extension key in PaymentRequired and PaymentPayload
const PaymentIdentifier = "payment-identifier"

const (
	PaymentIDMinLength = 16
	PaymentIDMaxLength = 128
)

var paymentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Info is the extension body. Servers declare Required; clients echo the
// declaration with ID set.
type Info struct {
	Required bool   `json:"required"`
	ID       string `json:"id,omitempty"`
}

// Extension is the value stored under PaymentIdentifier
type Extension struct {
	Info Info `json:"info"`
}
