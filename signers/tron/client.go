package tron

import (
	"context"
	"fmt"
	"math/big"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/address"
	"github.com/bankofai/x402-tron/mechanisms/permit"
	"github.com/bankofai/x402-tron/networks"
	"github.com/bankofai/x402-tron/pkg/trongrid"
	"github.com/bankofai/x402-tron/tokens"
)

// ClientSigner implements x402.ClientSigner and native.TransferSender
type ClientSigner struct {
	*account
}

// NewClientSigner creates a payer. node may be nil when only signing is
// needed.
func NewClientSigner(privateKeyHex string, node *trongrid.Client, opts ...Option) (*ClientSigner, error) {
	a, err := newAccount(privateKeyHex, node, opts)
	if err != nil {
		return nil, err
	}
	return &ClientSigner{account: a}, nil
}

// SignMessage signs msg with the TRON message prefix
func (s *ClientSigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return s.sign(tronMessageHash(msg))
}

// SignTypedData signs EIP-712 typed data. Addresses inside the typed data
// are already in 0x form.
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

func (s *ClientSigner) CheckAllowance(ctx context.Context, token, spender string) (*big.Int, error) {
	owner, err := address.ToCommon(address.TronConverter{}, s.address)
	if err != nil {
		return nil, err
	}
	spenderAddr, err := address.ToCommon(address.TronConverter{}, spender)
	if err != nil {
		return nil, err
	}
	out, err := s.call(ctx, token, tokens.ERC20ABI, "allowance", owner, spenderAddr)
	if err != nil {
		return nil, err
	}
	allowance, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("allowance: unexpected type %T", out)
	}
	return allowance, nil
}

// EnsureAllowance approves spender for amount and waits for the receipt
func (s *ClientSigner) EnsureAllowance(ctx context.Context, token, spender string, amount *big.Int, mode x402.AllowanceMode) (bool, error) {
	switch mode {
	case x402.AllowanceSkip:
		return false, nil
	case x402.AllowanceInteractive:
		if s.prompt == nil || !s.prompt(ctx, token, spender, amount) {
			return false, nil
		}
	}

	spenderAddr, err := address.ToCommon(address.TronConverter{}, spender)
	if err != nil {
		return false, err
	}
	txID, err := s.send(ctx, token, tokens.ERC20ABI, "approve", spenderAddr, amount)
	if err != nil {
		return false, err
	}
	receipt, err := s.waitReceipt(ctx, txID, s.receiptTimeout)
	if err != nil {
		return false, err
	}
	return receipt.Status == x402.ReceiptStatusSuccess, nil
}

// SendTransfer pays amount of asset to to. The zero address or "" sends TRX
// (amount in SUN).
func (s *ClientSigner) SendTransfer(ctx context.Context, asset, to string, amount *big.Int) (string, error) {
	if err := s.requireNode(); err != nil {
		return "", err
	}
	conv := address.TronConverter{}
	recipient, err := conv.Normalize(to)
	if err != nil {
		return "", err
	}

	if asset == "" || conv.Equal(asset, networks.TronZeroAddress) {
		if !amount.IsInt64() {
			return "", x402.NewValidationError("amount", "TRX amount exceeds int64")
		}
		tx, err := s.node.CreateTransaction(ctx, s.address, recipient, amount.Int64())
		if err != nil {
			return "", &x402.TransactionError{Reason: x402.ReasonBroadcastFailed, Err: err}
		}
		return s.signAndBroadcast(ctx, tx)
	}

	toAddr, err := address.ToCommon(conv, recipient)
	if err != nil {
		return "", err
	}
	return s.send(ctx, asset, tokens.ERC20ABI, "transfer", toAddr, amount)
}
