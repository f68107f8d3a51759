package permit

import (
	"context"
	"fmt"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/networks"
	"github.com/bankofai/x402-tron/tokens"
)

// ServerScheme builds exact_permit requirements for a resource server
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
	return SchemeExactPermit
}

// ParsePrice resolves "<amount> <SYMBOL>" to a token amount. The native coin
// cannot be moved by a permit and is rejected.
func (s *ServerScheme) ParsePrice(price string, network x402.Network) (x402.AssetAmount, error) {
	if !s.chain.Supports(network) {
		return x402.AssetAmount{}, &x402.UnsupportedNetworkError{Network: network, Scheme: SchemeExactPermit}
	}
	amount, err := s.tokens.ParsePrice(price, network)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	if amount.Asset == networks.ZeroAddress(network) {
		return x402.AssetAmount{}, x402.NewValidationError("price", fmt.Sprintf("%s is the native coin, use native_exact", amount.Symbol))
	}
	// The token's own domain is irrelevant here, the permit is signed
	// against the PaymentPermit contract.
	amount.Extra = map[string]interface{}{
		ExtraSymbol:   amount.Symbol,
		ExtraDecimals: amount.Decimals,
	}
	return amount, nil
}

// EnhancePaymentRequirements fills in the permit domain and contract
func (s *ServerScheme) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.DeliveryKind) (x402.PaymentRequirements, error) {
	contract, err := s.chain.PermitContract(requirements.Network)
	if err != nil {
		return requirements, err
	}

	extra := make(map[string]interface{}, len(requirements.Extra)+4)
	for k, v := range requirements.Extra {
		extra[k] = v
	}
	extra[ExtraName] = networks.PermitDomainName
	extra[ExtraVersion] = networks.PermitDomainVersion
	extra[ExtraPermitContract] = contract
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
	if requirements.Scheme != SchemeExactPermit || !s.chain.Supports(requirements.Network) {
		return false
	}
	if err := x402.ValidatePaymentRequirements(requirements); err != nil {
		return false
	}
	return s.chain.Addresses.Validate(requirements.Asset) && s.chain.Addresses.Validate(requirements.PayTo)
}
