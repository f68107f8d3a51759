package address

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	x402 "github.com/bankofai/x402-tron"
)

// TronAddressPrefix is the version byte of mainnet TRON addresses
const TronAddressPrefix byte = 0x41

const tronAddressLength = 21

// TronConverter handles base58check "T..." addresses. Normalize also accepts
// the "41..." hex form and 0x hex.
type TronConverter struct{}

func (TronConverter) Validate(addr string) bool {
	_, err := decodeTron(addr)
	return err == nil
}

func (TronConverter) Normalize(addr string) (string, error) {
	raw, err := tronBytes(addr)
	if err != nil {
		return "", err
	}
	return encodeTron(raw), nil
}

func (TronConverter) ToEvmHex(addr string) (string, error) {
	raw, err := tronBytes(addr)
	if err != nil {
		return "", err
	}
	return common.BytesToAddress(raw[1:]).Hex(), nil
}

func (TronConverter) FromEvmHex(evmHex string) (string, error) {
	if !common.IsHexAddress(evmHex) {
		return "", invalid(evmHex, "not a 20-byte hex address")
	}
	return TronFromEvm(common.HexToAddress(evmHex)), nil
}

func (TronConverter) Equal(a, b string) bool {
	ra, errA := tronBytes(a)
	rb, errB := tronBytes(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}

// TronFromEvm encodes a 20-byte account as a base58check TRON address
func TronFromEvm(addr common.Address) string {
	raw := make([]byte, 0, tronAddressLength)
	raw = append(raw, TronAddressPrefix)
	raw = append(raw, addr.Bytes()...)
	return encodeTron(raw)
}

// TronHex returns the "41..." hex form used by TronGrid when visible=false
func TronHex(addr string) (string, error) {
	raw, err := tronBytes(addr)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// tronBytes accepts base58check, "41" hex and 0x hex and returns the 21 raw bytes
func tronBytes(addr string) ([]byte, error) {
	switch {
	case strings.HasPrefix(addr, "T"):
		return decodeTron(addr)
	case strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X"):
		if !common.IsHexAddress(addr) {
			return nil, invalid(addr, "not a 20-byte hex address")
		}
		return append([]byte{TronAddressPrefix}, common.HexToAddress(addr).Bytes()...), nil
	case len(addr) == 2*tronAddressLength:
		raw, err := hex.DecodeString(addr)
		if err != nil || raw[0] != TronAddressPrefix {
			return nil, invalid(addr, "not a 41-prefixed hex address")
		}
		return raw, nil
	}
	return nil, invalid(addr, "unrecognized TRON address format")
}

func decodeTron(addr string) ([]byte, error) {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return nil, invalid(addr, "invalid base58")
	}
	if len(decoded) != tronAddressLength+4 {
		return nil, invalid(addr, "wrong length")
	}
	raw, checksum := decoded[:tronAddressLength], decoded[tronAddressLength:]
	if raw[0] != TronAddressPrefix {
		return nil, invalid(addr, "wrong version byte")
	}
	if !bytes.Equal(checksum, tronChecksum(raw)) {
		return nil, invalid(addr, "checksum mismatch")
	}
	return raw, nil
}

func encodeTron(raw []byte) string {
	return base58.Encode(append(append([]byte{}, raw...), tronChecksum(raw)...))
}

func tronChecksum(raw []byte) []byte {
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func invalid(addr, reason string) error {
	return x402.NewValidationError("address", addr+": "+reason)
}
