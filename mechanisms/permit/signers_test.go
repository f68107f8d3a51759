package permit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/address"
)

// keySigner signs typed data with an in-memory key and tracks allowances
type keySigner struct {
	key       *ecdsa.PrivateKey
	addresses address.Converter
	native    string

	mu         sync.Mutex
	allowance  *big.Int
	approvals  int
	approveErr error
}

func newKeySigner(t *testing.T, chain Chain) *keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	native, err := chain.Addresses.FromEvmHex(crypto.PubkeyToAddress(key.PublicKey).Hex())
	if err != nil {
		t.Fatalf("native address: %v", err)
	}
	return &keySigner{key: key, addresses: chain.Addresses, native: native, allowance: new(big.Int)}
}

func (s *keySigner) Address() string { return s.native }

func (s *keySigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(message), s.key)
}

func (s *keySigner) SignTypedData(ctx context.Context, domain x402.TypedDataDomain, types map[string][]x402.TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error) {
	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *keySigner) CheckAllowance(ctx context.Context, token, spender string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.allowance), nil
}

func (s *keySigner) EnsureAllowance(ctx context.Context, token, spender string, amount *big.Int, mode x402.AllowanceMode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approveErr != nil {
		return false, s.approveErr
	}
	s.approvals++
	s.allowance = new(big.Int).Set(amount)
	return true, nil
}

type contractCall struct {
	contract string
	method   string
	args     []interface{}
}

// relayer verifies with ecrecover and scripts transaction outcomes
type relayer struct {
	addresses address.Converter
	native    string

	mu         sync.Mutex
	calls      []contractCall
	writeErr   error
	receipt    *x402.TransactionReceipt
	receiptErr error

	// token reads answered by ReadContract
	balance   *big.Int
	allowance *big.Int
	readErr   error
	reads     []contractCall
}

func newRelayer(chain Chain, native string) *relayer {
	return &relayer{
		addresses: chain.Addresses,
		native:    native,
		receipt:   &x402.TransactionReceipt{BlockNumber: 100, Status: x402.ReceiptStatusSuccess},
		balance:   new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
		allowance: new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
	}
}

func (r *relayer) Address() string { return r.native }

func (r *relayer) VerifyTypedData(ctx context.Context, addr string, domain x402.TypedDataDomain, types map[string][]x402.TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error) {
	expected, err := address.ToCommon(r.addresses, addr)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverTypedDataSigner(domain, types, primaryType, message, signature)
	if err != nil {
		return false, nil
	}
	return recovered == expected, nil
}

func (r *relayer) ReadContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) ([]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, contractCall{contract: contract, method: method, args: args})
	if r.readErr != nil {
		return nil, r.readErr
	}
	switch method {
	case "balanceOf":
		return []interface{}{new(big.Int).Set(r.balance)}, nil
	case "allowance":
		return []interface{}{new(big.Int).Set(r.allowance)}, nil
	}
	return nil, errors.New("unexpected read " + method)
}

func (r *relayer) WriteContract(ctx context.Context, contract string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return "", r.writeErr
	}
	r.calls = append(r.calls, contractCall{contract: contract, method: method, args: args})
	return "0xfeedface", nil
}

func (r *relayer) WaitForTransactionReceipt(ctx context.Context, txHash string, timeout time.Duration) (*x402.TransactionReceipt, error) {
	if r.receiptErr != nil {
		return nil, r.receiptErr
	}
	receipt := *r.receipt
	receipt.TxHash = txHash
	return &receipt, nil
}

var errRPC = errors.New("rpc unavailable")

var (
	_ x402.ClientSigner      = (*keySigner)(nil)
	_ x402.FacilitatorSigner = (*relayer)(nil)
)
