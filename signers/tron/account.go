// Package tron provides secp256k1 key signers for TRON networks, talking to
// the chain through TronGrid
package tron

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/address"
	"github.com/bankofai/x402-tron/pkg/trongrid"
)

// DefaultFeeLimit caps the energy a contract call may burn, in SUN
const DefaultFeeLimit int64 = 100_000_000

// ApprovalPrompt is consulted in x402.AllowanceInteractive mode
type ApprovalPrompt func(ctx context.Context, token, spender string, amount *big.Int) bool

// Option configures a signer
type Option func(*account)

// WithApprovalPrompt sets the prompt used for interactive approvals
func WithApprovalPrompt(prompt ApprovalPrompt) Option {
	return func(a *account) {
		a.prompt = prompt
	}
}

// WithFeeLimit sets fee_limit for contract calls
func WithFeeLimit(sun int64) Option {
	return func(a *account) {
		if sun > 0 {
			a.feeLimit = sun
		}
	}
}

// WithReceiptPolling overrides how transactions are awaited
func WithReceiptPolling(timeout, interval time.Duration) Option {
	return func(a *account) {
		a.receiptTimeout = timeout
		a.pollInterval = interval
	}
}

type account struct {
	key     *ecdsa.PrivateKey
	address string
	node    *trongrid.Client
	prompt  ApprovalPrompt

	feeLimit       int64
	receiptTimeout time.Duration
	pollInterval   time.Duration
}

func newAccount(privateKeyHex string, node *trongrid.Client, opts []Option) (*account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	a := &account{
		key:            key,
		address:        address.TronFromEvm(crypto.PubkeyToAddress(key.PublicKey)),
		node:           node,
		feeLimit:       DefaultFeeLimit,
		receiptTimeout: x402.DefaultReceiptTimeout,
		pollInterval:   x402.DefaultReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Address returns the base58 T-address of the key
func (a *account) Address() string {
	return a.address
}

func (a *account) requireNode() error {
	if a.node == nil {
		return &x402.ConfigurationError{Setting: "tronGridURL", Reason: "signer has no TronGrid client"}
	}
	return nil
}

// sign signs a 32-byte digest with V in {27, 28}
func (a *account) sign(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func calldata(abiJSON []byte, method string, args ...interface{}) (string, abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return "", parsed, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return "", parsed, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return hex.EncodeToString(data), parsed, nil
}

// call runs a constant contract call and unpacks its single return value
func (a *account) call(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (interface{}, error) {
	values, err := a.callOutputs(ctx, contract, abiJSON, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: unexpected output %v", method, values)
	}
	return values[0], nil
}

func (a *account) callOutputs(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error) {
	if err := a.requireNode(); err != nil {
		return nil, err
	}
	data, parsed, err := calldata(abiJSON, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := a.node.TriggerConstantContract(ctx, trongrid.TriggerRequest{
		OwnerAddress:    a.address,
		ContractAddress: contract,
		Data:            data,
	})
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

// send triggers a contract method, signs and broadcasts it
func (a *account) send(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	if err := a.requireNode(); err != nil {
		return "", err
	}
	data, _, err := calldata(abiJSON, method, args...)
	if err != nil {
		return "", err
	}
	tx, err := a.node.TriggerSmartContract(ctx, trongrid.TriggerRequest{
		OwnerAddress:    a.address,
		ContractAddress: contract,
		Data:            data,
		FeeLimit:        a.feeLimit,
	})
	if err != nil {
		return "", &x402.TransactionError{Reason: x402.ReasonBroadcastFailed, Err: err}
	}
	return a.signAndBroadcast(ctx, tx)
}

func (a *account) signAndBroadcast(ctx context.Context, tx *trongrid.Transaction) (string, error) {
	digest, err := tx.Hash()
	if err != nil {
		return "", &x402.TransactionError{TxHash: tx.TxID, Reason: x402.ReasonBroadcastFailed, Err: err}
	}
	sig, err := a.sign(digest)
	if err != nil {
		return "", &x402.SignatureError{Err: err}
	}
	tx.AddSignature(sig)
	if err := a.node.BroadcastTransaction(ctx, tx); err != nil {
		return "", &x402.TransactionError{TxHash: tx.TxID, Reason: x402.ReasonBroadcastFailed, Err: err}
	}
	return tx.TxID, nil
}

func (a *account) waitReceipt(ctx context.Context, txID string, timeout time.Duration) (*x402.TransactionReceipt, error) {
	if err := a.requireNode(); err != nil {
		return nil, err
	}
	return x402.WaitForReceipt(ctx, txID, timeout, a.pollInterval, func(ctx context.Context) (*x402.TransactionReceipt, bool, error) {
		info, err := a.node.GetTransactionInfoByID(ctx, txID)
		if errors.Is(err, trongrid.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		status := x402.ReceiptStatusFailed
		if info.Succeeded() {
			status = x402.ReceiptStatusSuccess
		}
		return &x402.TransactionReceipt{TxHash: txID, BlockNumber: info.BlockNumber, Status: status}, true, nil
	})
}

// tronMessageHash is keccak256("\x19TRON Signed Message:\n" || len || msg)
func tronMessageHash(msg []byte) []byte {
	prefix := "\x19TRON Signed Message:\n" + strconv.Itoa(len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}
