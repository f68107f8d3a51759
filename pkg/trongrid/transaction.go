package trongrid

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash returns sha256(raw_data), the digest a transaction signature covers.
// It fails when the node reported a txID that does not match raw_data_hex.
func (tx *Transaction) Hash() ([]byte, error) {
	raw, err := hex.DecodeString(tx.RawDataHex)
	if err != nil {
		return nil, fmt.Errorf("decode raw_data_hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	if tx.TxID != "" {
		want, err := hex.DecodeString(tx.TxID)
		if err != nil || !bytes.Equal(want, sum[:]) {
			return nil, fmt.Errorf("txID %s does not match raw_data_hex", tx.TxID)
		}
	}
	return sum[:], nil
}

// AddSignature appends a 65-byte [R || S || V] signature
func (tx *Transaction) AddSignature(sig []byte) {
	tx.Signature = append(tx.Signature, hex.EncodeToString(sig))
}
