package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/mechanisms/permit"
	"github.com/bankofai/x402-tron/tokens"
)

// ClientSigner implements x402.ClientSigner and native.TransferSender using
// an ECDSA private key
type ClientSigner struct {
	*account
}

// NewClientSigner creates a payer from a hex private key. backend may be nil
// when only signing is needed; allowance and transfer calls then fail with a
// ConfigurationError.
//
// Example:
//
//	rpc, _ := ethclient.Dial("https://sepolia.base.org")
//	signer, err := evm.NewClientSigner(os.Getenv("EVM_PRIVATE_KEY"), rpc)
func NewClientSigner(privateKeyHex string, backend Backend, opts ...Option) (*ClientSigner, error) {
	a, err := newAccount(privateKeyHex, backend, opts)
	if err != nil {
		return nil, err
	}
	return &ClientSigner{account: a}, nil
}

// SignMessage signs msg with the "\x19Ethereum Signed Message:\n" prefix
func (s *ClientSigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return s.sign(accounts.TextHash(msg))
}

// SignTypedData signs EIP-712 typed data, returning [R || S || V]
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402.TypedDataDomain,
	types map[string][]x402.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := permit.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}
	return s.sign(digest)
}

// CheckAllowance reads token.allowance(signer, spender)
func (s *ClientSigner) CheckAllowance(ctx context.Context, token, spender string) (*big.Int, error) {
	contract, err := s.bound(token, tokens.ERC20ABI)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", s.address, common.HexToAddress(spender)); err != nil {
		return nil, fmt.Errorf("allowance call failed: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("allowance: unexpected output %v", out)
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("allowance: unexpected type %T", out[0])
	}
	return allowance, nil
}

// EnsureAllowance sends approve(spender, amount) and waits for it to be mined.
// It returns false without sending anything in skip mode, or when the
// interactive prompt declines.
func (s *ClientSigner) EnsureAllowance(ctx context.Context, token, spender string, amount *big.Int, mode x402.AllowanceMode) (bool, error) {
	switch mode {
	case x402.AllowanceSkip:
		return false, nil
	case x402.AllowanceInteractive:
		if s.prompt == nil || !s.prompt(ctx, token, spender, amount) {
			return false, nil
		}
	}

	contract, err := s.bound(token, tokens.ERC20ABI)
	if err != nil {
		return false, err
	}
	opts, err := s.transactOpts(ctx)
	if err != nil {
		return false, err
	}
	tx, err := contract.Transact(opts, "approve", common.HexToAddress(spender), amount)
	if err != nil {
		return false, &x402.TransactionError{Reason: x402.ReasonBroadcastFailed, Err: err}
	}
	receipt, err := s.waitReceipt(ctx, tx.Hash().Hex(), s.receiptTimeout)
	if err != nil {
		return false, err
	}
	return receipt.Status == x402.ReceiptStatusSuccess, nil
}

// SendTransfer pays amount of asset to to. An empty or zero asset sends ETH.
func (s *ClientSigner) SendTransfer(ctx context.Context, asset, to string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", x402.NewValidationError("to", fmt.Sprintf("invalid address %q", to))
	}
	opts, err := s.transactOpts(ctx)
	if err != nil {
		return "", err
	}

	if asset == "" || common.HexToAddress(asset) == (common.Address{}) {
		opts.Value = amount
		opts.GasLimit = params.TxGas
		recipient := bind.NewBoundContract(common.HexToAddress(to), abi.ABI{}, s.backend, s.backend, s.backend)
		tx, err := recipient.Transfer(opts)
		if err != nil {
			return "", &x402.TransactionError{Reason: x402.ReasonBroadcastFailed, Err: err}
		}
		return tx.Hash().Hex(), nil
	}

	contract, err := s.bound(asset, tokens.ERC20ABI)
	if err != nil {
		return "", err
	}
	tx, err := contract.Transact(opts, "transfer", common.HexToAddress(to), amount)
	if err != nil {
		return "", &x402.TransactionError{Reason: x402.ReasonBroadcastFailed, Err: err}
	}
	return tx.Hash().Hex(), nil
}
