package evm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/mechanisms/permit"
	"github.com/bankofai/x402-tron/networks"
	"github.com/bankofai/x402-tron/tokens"
)

const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testToken   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testSpender = "0x1111111111111111111111111111111111111111"
)

// fakeBackend implements the calls the signers make; anything else panics
// through the nil embedded interface
type fakeBackend struct {
	Backend

	mu          sync.Mutex
	allowance   *big.Int
	sent        []*types.Transaction
	receiptMiss int
	status      uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{allowance: new(big.Int), status: types.ReceiptStatusSuccessful}
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(84532), nil }

func (b *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	parsed, err := abi.JSON(bytes.NewReader(tokens.ERC20ABI))
	if err != nil {
		return nil, err
	}
	return parsed.Methods["allowance"].Outputs.Pack(b.allowance)
}

func (b *fakeBackend) CodeAt(ctx context.Context, account common.Address, block *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(10), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receiptMiss > 0 {
		b.receiptMiss--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: b.status, BlockNumber: big.NewInt(11)}, nil
}

func typedData(t *testing.T) *permit.TypedData {
	t.Helper()
	td, err := permit.BuildTypedData(permit.EVM(), x402.TypedDataDomain{
		Name:              networks.PermitDomainName,
		Version:           networks.PermitDomainVersion,
		ChainID:           big.NewInt(84532),
		VerifyingContract: testSpender,
	}, permit.Authorization{
		Token:       testToken,
		From:        testAddress,
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "99999999999",
		Nonce:       "0x" + common.Bytes2Hex(make([]byte, 32)),
	})
	require.NoError(t, err)
	return td
}

func TestAddressFromKey(t *testing.T) {
	signer, err := NewClientSigner(testKey, nil)
	require.NoError(t, err)
	assert.Equal(t, testAddress, signer.Address())

	_, err = NewClientSigner("0xnothex", nil)
	assert.Error(t, err)
}

func TestTypedDataRoundTrip(t *testing.T) {
	client, err := NewClientSigner(testKey, nil)
	require.NoError(t, err)
	facilitator, err := NewFacilitatorSigner(testKey, nil)
	require.NoError(t, err)

	td := typedData(t)
	sig, err := client.SignTypedData(context.Background(), td.Domain, td.Types, td.PrimaryType, td.Message)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	ok, err := facilitator.VerifyTypedData(context.Background(), testAddress, td.Domain, td.Types, td.PrimaryType, td.Message, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = facilitator.VerifyTypedData(context.Background(), testSpender, td.Domain, td.Types, td.PrimaryType, td.Message, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = facilitator.VerifyTypedData(context.Background(), testAddress, td.Domain, td.Types, td.PrimaryType, td.Message, sig[:10])
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = facilitator.VerifyTypedData(context.Background(), "TXYZ", td.Domain, td.Types, td.PrimaryType, td.Message, sig)
	assert.Error(t, err)
}

func TestSignMessage(t *testing.T) {
	signer, err := NewClientSigner(testKey, nil)
	require.NoError(t, err)

	msg := []byte("hello x402")
	sig, err := signer.SignMessage(context.Background(), msg)
	require.NoError(t, err)

	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.PubkeyToAddress(*pub).Hex())
}

func TestCheckAllowance(t *testing.T) {
	backend := newFakeBackend()
	backend.allowance = big.NewInt(4242)
	signer, err := NewClientSigner(testKey, backend)
	require.NoError(t, err)

	allowance, err := signer.CheckAllowance(context.Background(), testToken, testSpender)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), allowance.Int64())
}

func TestEnsureAllowance(t *testing.T) {
	t.Run("skip sends nothing", func(t *testing.T) {
		backend := newFakeBackend()
		signer, _ := NewClientSigner(testKey, backend)
		ok, err := signer.EnsureAllowance(context.Background(), testToken, testSpender, big.NewInt(1), x402.AllowanceSkip)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, backend.sent)
	})

	t.Run("interactive declined", func(t *testing.T) {
		backend := newFakeBackend()
		var asked bool
		signer, _ := NewClientSigner(testKey, backend, WithApprovalPrompt(func(ctx context.Context, token, spender string, amount *big.Int) bool {
			asked = true
			return false
		}))
		ok, err := signer.EnsureAllowance(context.Background(), testToken, testSpender, big.NewInt(1), x402.AllowanceInteractive)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, asked)
		assert.Empty(t, backend.sent)
	})

	t.Run("auto approves", func(t *testing.T) {
		backend := newFakeBackend()
		backend.receiptMiss = 2
		signer, _ := NewClientSigner(testKey, backend, WithReceiptPolling(time.Second, time.Millisecond))
		ok, err := signer.EnsureAllowance(context.Background(), testToken, testSpender, big.NewInt(500), x402.AllowanceAuto)
		require.NoError(t, err)
		assert.True(t, ok)

		require.Len(t, backend.sent, 1)
		tx := backend.sent[0]
		assert.Equal(t, common.HexToAddress(testToken), *tx.To())
		parsed, _ := abi.JSON(bytes.NewReader(tokens.ERC20ABI))
		assert.Equal(t, parsed.Methods["approve"].ID, tx.Data()[:4])
	})
}

func TestSendTransferNative(t *testing.T) {
	backend := newFakeBackend()
	signer, _ := NewClientSigner(testKey, backend)

	hash, err := signer.SendTransfer(context.Background(), "", testSpender, big.NewInt(7))
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash().Hex())
	assert.Equal(t, int64(7), tx.Value().Int64())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Empty(t, tx.Data())
}

func TestWriteContractAndWait(t *testing.T) {
	backend := newFakeBackend()
	signer, err := NewFacilitatorSigner(testKey, backend, WithReceiptPolling(time.Second, time.Millisecond))
	require.NoError(t, err)

	var nonce [32]byte
	nonce[31] = 9
	tuple := permit.PermitTuple{
		Token:       common.HexToAddress(testToken),
		From:        common.HexToAddress(testAddress),
		To:          common.HexToAddress(testSpender),
		Value:       big.NewInt(1),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(100),
		Nonce:       nonce,
	}
	hash, err := signer.WriteContract(context.Background(), testSpender, permit.PermitTransferFromABI, permit.FunctionPermitTransferFrom, tuple, make([]byte, 65))
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	parsed, _ := abi.JSON(bytes.NewReader(permit.PermitTransferFromABI))
	assert.Equal(t, parsed.Methods[permit.FunctionPermitTransferFrom].ID, backend.sent[0].Data()[:4])

	backend.receiptMiss = 1
	receipt, err := signer.WaitForTransactionReceipt(context.Background(), hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, x402.ReceiptStatusSuccess, receipt.Status)
	assert.Equal(t, uint64(11), receipt.BlockNumber)

	backend.status = types.ReceiptStatusFailed
	receipt, err = signer.WaitForTransactionReceipt(context.Background(), hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, x402.ReceiptStatusFailed, receipt.Status)
}

func TestWaitTimesOut(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptMiss = 1 << 30
	signer, _ := NewFacilitatorSigner(testKey, backend, WithReceiptPolling(time.Second, time.Millisecond))

	_, err := signer.WaitForTransactionReceipt(context.Background(), "0x01", 20*time.Millisecond)
	assert.True(t, errors.Is(err, x402.ErrTransactionTimeout))
}

func TestNoBackend(t *testing.T) {
	signer, _ := NewFacilitatorSigner(testKey, nil)
	_, err := signer.WriteContract(context.Background(), testSpender, permit.PermitTransferFromABI, permit.FunctionPermitTransferFrom)
	assert.ErrorIs(t, err, x402.ErrConfiguration)
}

var (
	_ x402.ClientSigner      = (*ClientSigner)(nil)
	_ x402.FacilitatorSigner = (*FacilitatorSigner)(nil)
)
