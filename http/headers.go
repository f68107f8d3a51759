package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/bankofai/x402-tron"
)

// Header names carrying base64 encoded JSON documents
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
)

var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// paymentRequiredSchema is what a 402 body must look like to be paid
var paymentRequiredSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["accepts"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"accepts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["scheme", "network", "amount", "payTo"],
				"properties": {
					"scheme": {"type": "string", "minLength": 1},
					"network": {"type": "string", "pattern": "^[a-z0-9-]+:[A-Za-z0-9_*-]+$"},
					"asset": {"type": "string"},
					"amount": {"type": "string", "pattern": "^[0-9]+$"},
					"payTo": {"type": "string", "minLength": 1},
					"maxTimeoutSeconds": {"type": "integer"},
					"extra": {"type": "object"}
				}
			}
		},
		"extensions": {"type": "object"}
	}
}`)

// ParseOutcome tells a found payment document apart from a missing or broken
// one. Absent and malformed documents both leave the 402 for the caller.
type ParseOutcome int

const (
	PaymentRequiredAbsent ParseOutcome = iota
	PaymentRequiredFound
	PaymentRequiredMalformed
)

func (o ParseOutcome) String() string {
	switch o {
	case PaymentRequiredFound:
		return "found"
	case PaymentRequiredMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// ParsePaymentRequired reads the PAYMENT-REQUIRED header, falling back to a
// JSON body when the header is missing or unreadable. The outcome is
// malformed only if neither source parses; err then explains why.
func ParsePaymentRequired(header http.Header, body []byte) (x402.PaymentRequired, ParseOutcome, error) {
	value := header.Get(HeaderPaymentRequired)
	if value == "" {
		return parsePaymentRequiredBody(body)
	}

	required, headerErr := DecodePaymentRequiredHeader(value)
	if headerErr == nil {
		return required, PaymentRequiredFound, nil
	}
	required, outcome, err := parsePaymentRequiredBody(body)
	switch outcome {
	case PaymentRequiredFound:
		return required, outcome, nil
	case PaymentRequiredAbsent:
		return x402.PaymentRequired{}, PaymentRequiredMalformed, headerErr
	default:
		return x402.PaymentRequired{}, PaymentRequiredMalformed, fmt.Errorf("%w; %w", headerErr, err)
	}
}

func parsePaymentRequiredBody(body []byte) (x402.PaymentRequired, ParseOutcome, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return x402.PaymentRequired{}, PaymentRequiredAbsent, nil
	}
	result, err := gojsonschema.Validate(paymentRequiredSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return x402.PaymentRequired{}, PaymentRequiredMalformed, fmt.Errorf("payment required body is not JSON: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return x402.PaymentRequired{}, PaymentRequiredMalformed, fmt.Errorf("invalid payment required body: %s", strings.Join(problems, "; "))
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return x402.PaymentRequired{}, PaymentRequiredMalformed, fmt.Errorf("failed to decode payment required body: %w", err)
	}
	if required.X402Version == 0 {
		required.X402Version = x402.ProtocolVersion
	}
	return required, PaymentRequiredFound, nil
}

func encodeHeader(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeHeader(header string, v interface{}) error {
	if header == "" {
		return fmt.Errorf("header is empty")
	}
	if !base64Regex.MatchString(header) {
		return fmt.Errorf("not valid base64")
	}
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("base64 decoding failed: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return nil
}

func EncodePaymentRequiredHeader(required x402.PaymentRequired) (string, error) {
	return encodeHeader(required)
}

func DecodePaymentRequiredHeader(header string) (x402.PaymentRequired, error) {
	var required x402.PaymentRequired
	if err := decodeHeader(header, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid %s header: %w", HeaderPaymentRequired, err)
	}
	return required, nil
}

func EncodePaymentSignatureHeader(payload x402.PaymentPayload) (string, error) {
	return encodeHeader(payload)
}

// DecodePaymentSignatureHeader decodes and structurally validates a payment
// payload
func DecodePaymentSignatureHeader(header string) (x402.PaymentPayload, error) {
	var payload x402.PaymentPayload
	if err := decodeHeader(header, &payload); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid %s header: %w", HeaderPaymentSignature, err)
	}
	if err := x402.ValidatePaymentPayload(payload); err != nil {
		return x402.PaymentPayload{}, err
	}
	return payload, nil
}

func EncodePaymentResponseHeader(response x402.SettleResponse) (string, error) {
	return encodeHeader(response)
}

func DecodePaymentResponseHeader(header string) (x402.SettleResponse, error) {
	var response x402.SettleResponse
	if err := decodeHeader(header, &response); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid %s header: %w", HeaderPaymentResponse, err)
	}
	return response, nil
}
