// Package native implements the native_exact scheme. The payer broadcasts an
// ordinary transfer and hands over its hash; the facilitator checks the
// transfer on-chain through a ChainAdapter. Nothing is signed off-chain.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/address"
	"github.com/bankofai/x402-tron/networks"
)

// SchemeNativeExact is the scheme identifier
const SchemeNativeExact = "native_exact"

// Keys read from PaymentRequirements.Extra
const (
	ExtraMinConfirmations = "minConfirmations"
	ExtraSymbol           = "symbol"
	ExtraDecimals         = "decimals"
	ExtraKind             = "kind"
)

// Default confirmation depth per family
const (
	DefaultEVMConfirmations  uint64 = 1
	DefaultTRONConfirmations uint64 = 19
)

// ErrTransactionNotFound is returned by adapters for unknown hashes
var ErrTransactionNotFound = errors.New("transaction not found")

// Transfer is one value movement inside a transaction. Asset is the token
// contract, or the zero address for the native coin.
type Transfer struct {
	From   string
	To     string
	Asset  string
	Amount *big.Int
}

// TransactionInfo is what an adapter reports about a mined transaction
type TransactionInfo struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
	Transfers   []Transfer
}

// ChainAdapter reads transfers and balances from one network
type ChainAdapter interface {
	// GetTransaction returns the transfers of asset made by txHash, or
	// ErrTransactionNotFound.
	GetTransaction(ctx context.Context, txHash string, asset string) (*TransactionInfo, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetBalance(ctx context.Context, addr string, asset string) (*big.Int, error)
}

// TransferSender broadcasts the payer's transfer
type TransferSender interface {
	Address() string
	SendTransfer(ctx context.Context, asset string, to string, amount *big.Int) (string, error)
}

// Payload is the scheme payload carried in PaymentPayload.Payload
type Payload struct {
	TxHash string `json:"txHash"`
	From   string `json:"from"`
}

func (p *Payload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"txHash": p.TxHash,
		"from":   p.From,
	}
}

func PayloadFromMap(data map[string]interface{}) (*Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if payload.TxHash == "" {
		return nil, fmt.Errorf("missing txHash")
	}
	if payload.From == "" {
		return nil, fmt.Errorf("missing from")
	}
	return &payload, nil
}

// Chain binds the scheme to one chain family
type Chain struct {
	Family           networks.Family
	Addresses        address.Converter
	MinConfirmations uint64
}

func EVM() Chain {
	return Chain{Family: networks.FamilyEVM, Addresses: address.EvmConverter{}, MinConfirmations: DefaultEVMConfirmations}
}

func TRON() Chain {
	return Chain{Family: networks.FamilyTRON, Addresses: address.TronConverter{}, MinConfirmations: DefaultTRONConfirmations}
}

func (c Chain) Supports(network x402.Network) bool {
	return networks.Family(network.Family()) == c.Family
}

// IsNativeAsset reports whether asset denotes the network's own coin
func IsNativeAsset(network x402.Network, asset string) bool {
	if asset == "" {
		return true
	}
	zero := networks.ZeroAddress(network)
	if networks.IsTRON(network) {
		return address.TronConverter{}.Equal(asset, zero)
	}
	return address.EvmConverter{}.Equal(asset, zero)
}

// sameAsset compares assets treating "" and the zero address alike
func (c Chain) sameAsset(network x402.Network, a, b string) bool {
	if IsNativeAsset(network, a) || IsNativeAsset(network, b) {
		return IsNativeAsset(network, a) && IsNativeAsset(network, b)
	}
	return c.Addresses.Equal(a, b)
}

// minConfirmations reads Extra, falling back to the chain default
func (c Chain) minConfirmations(requirements x402.PaymentRequirements) uint64 {
	switch v := requirements.Extra[ExtraMinConfirmations].(type) {
	case float64:
		if v >= 0 {
			return uint64(v)
		}
	case int:
		if v >= 0 {
			return uint64(v)
		}
	case uint64:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil && n >= 0 {
			return uint64(n)
		}
	}
	return c.MinConfirmations
}
