package native

import (
	"context"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/networks"
	"github.com/bankofai/x402-tron/tokens"
)

// ServerScheme builds native_exact requirements
type ServerScheme struct {
	chain  Chain
	tokens *tokens.Registry
}

func NewServerScheme(chain Chain, registry *tokens.Registry) *ServerScheme {
	if registry == nil {
		registry = tokens.DefaultRegistry()
	}
	return &ServerScheme{chain: chain, tokens: registry}
}

func (s *ServerScheme) Scheme() string {
	return SchemeNativeExact
}

func (s *ServerScheme) ParsePrice(price string, network x402.Network) (x402.AssetAmount, error) {
	if !s.chain.Supports(network) {
		return x402.AssetAmount{}, &x402.UnsupportedNetworkError{Network: network, Scheme: SchemeNativeExact}
	}
	amount, err := s.tokens.ParsePrice(price, network)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	amount.Extra = map[string]interface{}{
		ExtraSymbol:   amount.Symbol,
		ExtraDecimals: amount.Decimals,
	}
	return amount, nil
}

// EnhancePaymentRequirements pins the confirmation depth and replaces an
// empty asset with the zero address
func (s *ServerScheme) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.DeliveryKind) (x402.PaymentRequirements, error) {
	if !s.chain.Supports(requirements.Network) {
		return requirements, &x402.UnsupportedNetworkError{Network: requirements.Network, Scheme: SchemeNativeExact}
	}
	if requirements.Asset == "" {
		requirements.Asset = networks.ZeroAddress(requirements.Network)
	}

	extra := make(map[string]interface{}, len(requirements.Extra)+3)
	for k, v := range requirements.Extra {
		extra[k] = v
	}
	if _, ok := extra[ExtraMinConfirmations]; !ok {
		extra[ExtraMinConfirmations] = s.chain.MinConfirmations
	}
	if kind != "" {
		extra[ExtraKind] = string(kind)
	}
	if _, ok := extra[ExtraSymbol]; !ok {
		if token, found := s.tokens.FindByAddress(requirements.Network, requirements.Asset); found {
			extra[ExtraSymbol] = token.Symbol
			extra[ExtraDecimals] = token.Decimals
		}
	}
	requirements.Extra = extra
	return requirements, nil
}

func (s *ServerScheme) ValidatePaymentRequirements(requirements x402.PaymentRequirements) bool {
	if requirements.Scheme != SchemeNativeExact || !s.chain.Supports(requirements.Network) {
		return false
	}
	if err := x402.ValidatePaymentRequirements(requirements); err != nil {
		return false
	}
	return s.chain.Addresses.Validate(requirements.Asset) && s.chain.Addresses.Validate(requirements.PayTo)
}
