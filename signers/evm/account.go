// Package evm provides ECDSA key signers for eip155 networks. The same key
// serves as a payer (ClientSigner) or as a facilitator relayer
// (FacilitatorSigner).
package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/bankofai/x402-tron"
)

// Backend is the chain access the signers need. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ApprovalPrompt asks the user whether an approval may be sent. It is
// consulted in x402.AllowanceInteractive mode.
type ApprovalPrompt func(ctx context.Context, token, spender string, amount *big.Int) bool

// Option configures a signer
type Option func(*account)

// WithApprovalPrompt sets the prompt used for interactive approvals
func WithApprovalPrompt(prompt ApprovalPrompt) Option {
	return func(a *account) {
		a.prompt = prompt
	}
}

// WithReceiptPolling overrides how approvals and transfers are awaited
func WithReceiptPolling(timeout, interval time.Duration) Option {
	return func(a *account) {
		a.receiptTimeout = timeout
		a.pollInterval = interval
	}
}

type account struct {
	key     *ecdsa.PrivateKey
	address common.Address
	backend Backend
	prompt  ApprovalPrompt

	receiptTimeout time.Duration
	pollInterval   time.Duration
}

func newAccount(privateKeyHex string, backend Backend, opts []Option) (*account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	a := &account{
		key:            key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		backend:        backend,
		receiptTimeout: x402.DefaultReceiptTimeout,
		pollInterval:   x402.DefaultReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *account) Address() string {
	return a.address.Hex()
}

func (a *account) requireBackend() error {
	if a.backend == nil {
		return &x402.ConfigurationError{Setting: "rpcURL", Reason: "signer has no chain backend"}
	}
	return nil
}

func (a *account) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if err := a.requireBackend(); err != nil {
		return nil, err
	}
	chainID, err := a.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(a.key, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func (a *account) bound(addr string, abiJSON []byte) (*bind.BoundContract, error) {
	if err := a.requireBackend(); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(addr) {
		return nil, x402.NewValidationError("contract", fmt.Sprintf("invalid address %q", addr))
	}
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return bind.NewBoundContract(common.HexToAddress(addr), parsed, a.backend, a.backend, a.backend), nil
}

func (a *account) waitReceipt(ctx context.Context, txHash string, timeout time.Duration) (*x402.TransactionReceipt, error) {
	if err := a.requireBackend(); err != nil {
		return nil, err
	}
	hash := common.HexToHash(txHash)
	return x402.WaitForReceipt(ctx, txHash, timeout, a.pollInterval, func(ctx context.Context) (*x402.TransactionReceipt, bool, error) {
		receipt, err := a.backend.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		var block uint64
		if receipt.BlockNumber != nil {
			block = receipt.BlockNumber.Uint64()
		}
		return &x402.TransactionReceipt{
			TxHash:      txHash,
			BlockNumber: block,
			Status:      x402.ReceiptStatus(receipt.Status),
		}, true, nil
	})
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
