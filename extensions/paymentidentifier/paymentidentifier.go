// Package paymentidentifier lets clients tag a payment with an id chosen
// before signing, so that retries of one logical payment settle once.
package paymentidentifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	x402 "github.com/bankofai/x402-tron"
)

// GeneratePaymentID returns prefix followed by a hyphen-less UUIDv4.
// The default prefix is "pay_".
func GeneratePaymentID(prefix string) string {
	if prefix == "" {
		prefix = "pay_"
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsValidPaymentID checks length and alphabet (alphanumerics, '-' and '_')
func IsValidPaymentID(id string) bool {
	if len(id) < PaymentIDMinLength || len(id) > PaymentIDMaxLength {
		return false
	}
	return paymentIDPattern.MatchString(id)
}

// Declare is the server side declaration, for x402.WithServerExtension
func Declare(required bool) Extension {
	return Extension{Info: Info{Required: required}}
}

func decode(raw interface{}) (Extension, error) {
	var ext Extension
	data, err := json.Marshal(raw)
	if err != nil {
		return ext, err
	}
	err = json.Unmarshal(data, &ext)
	return ext, err
}

// Declared reports whether extensions carry a payment-identifier declaration
// and whether it is required
func Declared(extensions map[string]interface{}) (declared, required bool) {
	raw, ok := extensions[PaymentIdentifier]
	if !ok {
		return false, false
	}
	ext, err := decode(raw)
	if err != nil {
		return false, false
	}
	return true, ext.Info.Required
}

// Append returns a copy of extensions with id attached to the
// payment-identifier entry
func Append(extensions map[string]interface{}, id string) (map[string]interface{}, error) {
	if !IsValidPaymentID(id) {
		return nil, x402.NewValidationError("paymentId", fmt.Sprintf("invalid payment id %q", id))
	}
	_, required := Declared(extensions)

	out := make(map[string]interface{}, len(extensions)+1)
	for k, v := range extensions {
		out[k] = v
	}
	out[PaymentIdentifier] = Extension{Info: Info{Required: required, ID: id}}
	return out, nil
}

// Extract returns the payment id of payload, or "" when it has none
func Extract(payload x402.PaymentPayload) (string, error) {
	raw, ok := payload.Extensions[PaymentIdentifier]
	if !ok {
		return "", nil
	}
	ext, err := decode(raw)
	if err != nil {
		return "", x402.NewValidationError("extensions."+PaymentIdentifier, err.Error())
	}
	if ext.Info.ID == "" {
		return "", nil
	}
	if !IsValidPaymentID(ext.Info.ID) {
		return "", x402.NewValidationError("extensions."+PaymentIdentifier, fmt.Sprintf("invalid payment id %q", ext.Info.ID))
	}
	return ext.Info.ID, nil
}

// ============================================================================
// Client
// ============================================================================

type clientMechanism struct {
	x402.ClientMechanism
	generate func() string
}

// WithPaymentIDs wraps a client mechanism so that every payload answering a
// payment-identifier declaration carries a fresh id from generate.
// A nil generate uses GeneratePaymentID("").
func WithPaymentIDs(mechanism x402.ClientMechanism, generate func() string) x402.ClientMechanism {
	if generate == nil {
		generate = func() string { return GeneratePaymentID("") }
	}
	return &clientMechanism{ClientMechanism: mechanism, generate: generate}
}

func (c *clientMechanism) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements, resource *x402.ResourceInfo, extensions map[string]interface{}) (x402.PaymentPayload, error) {
	if declared, _ := Declared(extensions); declared {
		tagged, err := Append(extensions, c.generate())
		if err != nil {
			return x402.PaymentPayload{}, err
		}
		extensions = tagged
	}
	return c.ClientMechanism.CreatePaymentPayload(ctx, requirements, resource, extensions)
}

// ============================================================================
// Facilitator
// ============================================================================

type facilitatorMechanism struct {
	x402.FacilitatorMechanism
	required bool
}

// Keyed wraps a facilitator mechanism so that payloads with a payment id
// share one settlement per (network, id). With required set, payloads
// without an id are rejected.
func Keyed(mechanism x402.FacilitatorMechanism, required bool) x402.FacilitatorMechanism {
	return &facilitatorMechanism{FacilitatorMechanism: mechanism, required: required}
}

func (f *facilitatorMechanism) SettlementKey(payload x402.PaymentPayload) (string, error) {
	id, err := Extract(payload)
	if err != nil {
		return "", err
	}
	if id == "" {
		if f.required {
			return "", x402.NewValidationError("extensions."+PaymentIdentifier, "payment id is required")
		}
		if keyer, ok := f.FacilitatorMechanism.(x402.SettlementKeyer); ok {
			return keyer.SettlementKey(payload)
		}
		return x402.PayloadSettlementKey(payload)
	}
	return fmt.Sprintf("%s:%s:%s", PaymentIdentifier, payload.Network(), id), nil
}

func (f *facilitatorMechanism) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	id, err := Extract(payload)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.FormatReason(x402.ErrCodeInvalidPayment, err.Error())}, nil
	}
	if id == "" && f.required {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.FormatReason(x402.ErrCodeInvalidPayment, "payment id is required")}, nil
	}
	return f.FacilitatorMechanism.Verify(ctx, payload, requirements)
}
