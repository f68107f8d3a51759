// Package permit implements the exact_permit scheme: the payer signs an
// EIP-712 PaymentPermit off-chain and the facilitator redeems it through the
// network's PaymentPermit contract. Chain specifics come in through Chain.
package permit

import (
	"encoding/json"
	"fmt"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/address"
	"github.com/bankofai/x402-tron/networks"
)

// SchemeExactPermit is the scheme identifier
const SchemeExactPermit = "exact_permit"

// PrimaryType is the EIP-712 primary type signed by payers
const PrimaryType = "PaymentPermit"

// Keys read from PaymentRequirements.Extra
const (
	ExtraName           = "name"
	ExtraVersion        = "version"
	ExtraPermitContract = "permitContract"
	ExtraSymbol         = "symbol"
	ExtraDecimals       = "decimals"
	ExtraKind           = "kind"
)

// Authorization is the signed PaymentPermit message. Addresses are kept in
// the chain's native format; numbers are base-10 strings; nonce is 0x hex.
type Authorization struct {
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the scheme payload carried in PaymentPayload.Payload
type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// ToMap converts the payload for PaymentPayload.Payload
func (p *Payload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signature": p.Signature,
		"authorization": map[string]interface{}{
			"token":       p.Authorization.Token,
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
}

// PayloadFromMap parses PaymentPayload.Payload. Every authorization field is
// required.
func PayloadFromMap(data map[string]interface{}) (*Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	auth := payload.Authorization
	for name, value := range map[string]string{
		"token":       auth.Token,
		"from":        auth.From,
		"to":          auth.To,
		"value":       auth.Value,
		"validAfter":  auth.ValidAfter,
		"validBefore": auth.ValidBefore,
		"nonce":       auth.Nonce,
	} {
		if value == "" {
			return nil, fmt.Errorf("missing authorization.%s", name)
		}
	}
	return &payload, nil
}

// Chain binds the scheme to one chain family
type Chain struct {
	Family    networks.Family
	Addresses address.Converter

	// PermitContracts overrides the networks table, e.g. for EVM
	// deployments or local test chains.
	PermitContracts map[x402.Network]string
}

// EVM returns the Chain for eip155 networks
func EVM() Chain {
	return Chain{Family: networks.FamilyEVM, Addresses: address.EvmConverter{}}
}

// TRON returns the Chain for tron networks
func TRON() Chain {
	return Chain{Family: networks.FamilyTRON, Addresses: address.TronConverter{}}
}

// WithPermitContract returns a copy of c using contract on network
func (c Chain) WithPermitContract(network x402.Network, contract string) Chain {
	contracts := make(map[x402.Network]string, len(c.PermitContracts)+1)
	for n, addr := range c.PermitContracts {
		contracts[n] = addr
	}
	contracts[network] = contract
	c.PermitContracts = contracts
	return c
}

// Supports reports whether network belongs to the chain's family
func (c Chain) Supports(network x402.Network) bool {
	return networks.Family(network.Family()) == c.Family
}

// PermitContract returns the configured PaymentPermit contract for network
func (c Chain) PermitContract(network x402.Network) (string, error) {
	if !c.Supports(network) {
		return "", &x402.UnsupportedNetworkError{Network: network, Scheme: SchemeExactPermit}
	}
	if addr, ok := c.PermitContracts[network]; ok {
		return addr, nil
	}
	return networks.PaymentPermitAddress(network)
}

// Domain returns the EIP-712 domain for requirements with contract as the
// verifying contract. Name and version come from Extra, defaulting to the
// PaymentPermit contract's own domain.
func Domain(requirements x402.PaymentRequirements, contract string) (x402.TypedDataDomain, error) {
	chainID, err := networks.ChainID(requirements.Network)
	if err != nil {
		return x402.TypedDataDomain{}, err
	}
	return x402.TypedDataDomain{
		Name:              extraString(requirements.Extra, ExtraName, networks.PermitDomainName),
		Version:           extraString(requirements.Extra, ExtraVersion, networks.PermitDomainVersion),
		ChainID:           chainID,
		VerifyingContract: contract,
	}, nil
}

func extraString(extra map[string]interface{}, key, fallback string) string {
	if v, ok := extra[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
