// Package address converts between the address encodings of the supported
// chain families. Typed data and ABI arguments always use 20-byte 0x hex;
// each family keeps its own native form everywhere else.
package address

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Converter validates and converts addresses of one chain family
type Converter interface {
	// Validate reports whether addr is a well formed native address
	Validate(addr string) bool
	// Normalize returns the canonical native form of addr
	Normalize(addr string) (string, error)
	// ToEvmHex returns the 0x-prefixed 20-byte hex form
	ToEvmHex(addr string) (string, error)
	// FromEvmHex maps a 0x hex address to the native form
	FromEvmHex(hex string) (string, error)
	// Equal compares two addresses in any accepted form
	Equal(a, b string) bool
}

// ToCommon converts addr to a go-ethereum address through c
func ToCommon(c Converter, addr string) (common.Address, error) {
	hex, err := c.ToEvmHex(addr)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(hex), nil
}

// EvmConverter handles 0x hex addresses. The canonical form is EIP-55.
type EvmConverter struct{}

func (EvmConverter) Validate(addr string) bool {
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}

func (c EvmConverter) Normalize(addr string) (string, error) {
	if !c.Validate(addr) {
		return "", invalid(addr, "not a 0x-prefixed 20-byte hex address")
	}
	return common.HexToAddress(addr).Hex(), nil
}

func (c EvmConverter) ToEvmHex(addr string) (string, error) {
	return c.Normalize(addr)
}

func (c EvmConverter) FromEvmHex(hex string) (string, error) {
	return c.Normalize(hex)
}

func (c EvmConverter) Equal(a, b string) bool {
	na, errA := c.Normalize(a)
	nb, errB := c.Normalize(b)
	return errA == nil && errB == nil && na == nb
}
