package evm

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/mechanisms/permit"
)

// FacilitatorSigner implements x402.FacilitatorSigner. It pays gas for
// settlement transactions.
type FacilitatorSigner struct {
	*account
}

func NewFacilitatorSigner(privateKeyHex string, backend Backend, opts ...Option) (*FacilitatorSigner, error) {
	a, err := newAccount(privateKeyHex, backend, opts)
	if err != nil {
		return nil, err
	}
	return &FacilitatorSigner{account: a}, nil
}

// VerifyTypedData recovers the signer of the typed data and compares it with
// addr. Malformed signatures verify as false.
func (s *FacilitatorSigner) VerifyTypedData(
	ctx context.Context,
	addr string,
	domain x402.TypedDataDomain,
	types map[string][]x402.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	if !common.IsHexAddress(addr) {
		return false, &x402.SignatureVerificationError{Address: addr, Err: x402.NewValidationError("address", "not a hex address")}
	}
	recovered, err := permit.RecoverTypedDataSigner(domain, types, primaryType, message, signature)
	if err != nil {
		return false, nil
	}
	return recovered == common.HexToAddress(addr), nil
}

// ReadContract calls a view method of contract at the latest block
func (s *FacilitatorSigner) ReadContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error) {
	bound, err := s.bound(contract, abiJSON)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	return out, nil
}

// WriteContract packs method(args...) and sends it to contract
func (s *FacilitatorSigner) WriteContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	bound, err := s.bound(contract, abiJSON)
	if err != nil {
		return "", err
	}
	opts, err := s.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := bound.Transact(opts, method, args...)
	if err != nil {
		return "", &x402.TransactionError{Reason: x402.ReasonBroadcastFailed, Err: err}
	}
	return tx.Hash().Hex(), nil
}

func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string, timeout time.Duration) (*x402.TransactionReceipt, error) {
	return s.waitReceipt(ctx, txHash, timeout)
}
