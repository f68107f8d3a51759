package tron

import (
	"context"
	"time"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/address"
	"github.com/bankofai/x402-tron/mechanisms/permit"
	"github.com/bankofai/x402-tron/pkg/trongrid"
)

// FacilitatorSigner implements x402.FacilitatorSigner. The account pays
// energy for permitTransferFrom.
type FacilitatorSigner struct {
	*account
}

func NewFacilitatorSigner(privateKeyHex string, node *trongrid.Client, opts ...Option) (*FacilitatorSigner, error) {
	a, err := newAccount(privateKeyHex, node, opts)
	if err != nil {
		return nil, err
	}
	return &FacilitatorSigner{account: a}, nil
}

// VerifyTypedData recovers the EVM signer and compares it with the 20-byte
// body of the T-address addr
func (s *FacilitatorSigner) VerifyTypedData(
	ctx context.Context,
	addr string,
	domain x402.TypedDataDomain,
	types map[string][]x402.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	expected, err := address.ToCommon(address.TronConverter{}, addr)
	if err != nil {
		return false, &x402.SignatureVerificationError{Address: addr, Err: err}
	}
	recovered, err := permit.RecoverTypedDataSigner(domain, types, primaryType, message, signature)
	if err != nil {
		return false, nil
	}
	return recovered == expected, nil
}

// ReadContract runs a constant call through triggerconstantcontract
func (s *FacilitatorSigner) ReadContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error) {
	return s.callOutputs(ctx, contract, abiJSON, method, args...)
}

// WriteContract sends method(args...) to contract. Address arguments must
// already be go-ethereum addresses.
func (s *FacilitatorSigner) WriteContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	return s.send(ctx, contract, abiJSON, method, args...)
}

func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string, timeout time.Duration) (*x402.TransactionReceipt, error) {
	return s.waitReceipt(ctx, txHash, timeout)
}
