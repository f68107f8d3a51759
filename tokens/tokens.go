// Package tokens is the read-only registry of fungible assets per network
// and the human price parser built on it.
package tokens

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/networks"
)

// TokenInfo describes a token on one network. Name and Version are the
// token's own EIP-712 domain, when it has one.
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Registry maps network -> upper-case symbol -> token. It is immutable once built.
type Registry struct {
	tokens map[x402.Network]map[string]TokenInfo
}

// NewRegistry builds a registry from per-network token lists
func NewRegistry(entries map[x402.Network][]TokenInfo) *Registry {
	r := &Registry{tokens: make(map[x402.Network]map[string]TokenInfo, len(entries))}
	for network, list := range entries {
		bySymbol := make(map[string]TokenInfo, len(list))
		for _, token := range list {
			bySymbol[strings.ToUpper(token.Symbol)] = token
		}
		r.tokens[network] = bySymbol
	}
	return r
}

// With returns a copy of r with extra tokens added or replaced
func (r *Registry) With(network x402.Network, extra ...TokenInfo) *Registry {
	entries := make(map[x402.Network][]TokenInfo, len(r.tokens)+1)
	for n, bySymbol := range r.tokens {
		for _, token := range bySymbol {
			entries[n] = append(entries[n], token)
		}
	}
	entries[network] = append(entries[network], extra...)
	return NewRegistry(entries)
}

// Lookup finds a token by symbol, case-insensitively
func (r *Registry) Lookup(network x402.Network, symbol string) (TokenInfo, error) {
	token, ok := r.tokens[network][strings.ToUpper(symbol)]
	if !ok {
		return TokenInfo{}, &x402.UnknownTokenError{Network: network, Token: symbol}
	}
	return token, nil
}

// FindByAddress finds a token by contract address. Hex addresses compare
// case-insensitively, base58 addresses exactly.
func (r *Registry) FindByAddress(network x402.Network, addr string) (TokenInfo, bool) {
	for _, token := range r.tokens[network] {
		if token.Address == addr || (strings.HasPrefix(addr, "0x") && strings.EqualFold(token.Address, addr)) {
			return token, true
		}
	}
	return TokenInfo{}, false
}

// plainDecimal is a price amount without sign or exponent
var plainDecimal = regexp.MustCompile(`^([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)

// ParsePrice converts "<number> <SYMBOL>" into the token's smallest unit,
// round(number * 10^decimals). The result must be positive.
func (r *Registry) ParsePrice(price string, network x402.Network) (x402.AssetAmount, error) {
	fields := strings.Fields(price)
	if len(fields) != 2 {
		return x402.AssetAmount{}, x402.NewValidationError("price", fmt.Sprintf("expected \"<amount> <SYMBOL>\", got %q", price))
	}

	if !plainDecimal.MatchString(fields[0]) {
		return x402.AssetAmount{}, x402.NewValidationError("price", fmt.Sprintf("invalid amount %q", fields[0]))
	}
	value, err := decimal.NewFromString(fields[0])
	if err != nil {
		return x402.AssetAmount{}, x402.NewValidationError("price", fmt.Sprintf("invalid amount %q", fields[0]))
	}
	if !value.IsPositive() {
		return x402.AssetAmount{}, x402.NewValidationError("price", "amount must be greater than zero")
	}

	token, err := r.Lookup(network, fields[1])
	if err != nil {
		return x402.AssetAmount{}, err
	}

	amount, err := x402.ParseAmount("price", value.Shift(token.Decimals).Round(0).String())
	if err != nil {
		return x402.AssetAmount{}, x402.NewValidationError("price", fmt.Sprintf("%s is below the smallest unit of %s or too large", fields[0], token.Symbol))
	}

	extra := map[string]interface{}{}
	if token.Name != "" {
		extra["name"] = token.Name
	}
	if token.Version != "" {
		extra["version"] = token.Version
	}

	return x402.AssetAmount{
		Asset:    token.Address,
		Amount:   amount.String(),
		Decimals: token.Decimals,
		Symbol:   token.Symbol,
		Extra:    extra,
	}, nil
}

// DefaultRegistry knows the stablecoins the facilitators are deployed for
func DefaultRegistry() *Registry {
	return NewRegistry(map[x402.Network][]TokenInfo{
		networks.EthereumMainnet: {
			{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, Name: "USD Coin", Version: "2"},
			{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6, Name: "Tether USD", Version: "1"},
			{Symbol: "ETH", Address: networks.EvmZeroAddress, Decimals: 18},
		},
		networks.Base: {
			{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6, Name: "USD Coin", Version: "2"},
			{Symbol: "ETH", Address: networks.EvmZeroAddress, Decimals: 18},
		},
		networks.BaseSepolia: {
			{Symbol: "USDC", Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6, Name: "USDC", Version: "2"},
			{Symbol: "ETH", Address: networks.EvmZeroAddress, Decimals: 18},
		},
		networks.EthereumSepolia: {
			{Symbol: "USDC", Address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Decimals: 6, Name: "USDC", Version: "2"},
			{Symbol: "ETH", Address: networks.EvmZeroAddress, Decimals: 18},
		},
		networks.TronMainnet: {
			{Symbol: "USDT", Address: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Decimals: 6, Name: "Tether USD"},
			{Symbol: "TRX", Address: networks.TronZeroAddress, Decimals: 6},
		},
		networks.TronShasta: {
			{Symbol: "USDT", Address: "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs", Decimals: 6, Name: "Tether USD"},
			{Symbol: "TRX", Address: networks.TronZeroAddress, Decimals: 6},
		},
		networks.TronNile: {
			{Symbol: "USDT", Address: "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf", Decimals: 6, Name: "Tether USD"},
			{Symbol: "TRX", Address: networks.TronZeroAddress, Decimals: 6},
		},
	})
}
