package native

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/networks"
	"github.com/bankofai/x402-tron/tokens"
)

const (
	payer    = "0x1111111111111111111111111111111111111111"
	merchant = "0x2222222222222222222222222222222222222222"
	usdc     = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

// ledger is an in-memory chain: SendTransfer mines into it, the adapter
// methods read from it
type ledger struct {
	mu       sync.Mutex
	from     string
	head     uint64
	txs      map[string]*TransactionInfo
	balances map[string]*big.Int
	lookErr  error
	onHead   func(head uint64) uint64
}

func newLedger(from string) *ledger {
	return &ledger{
		from:     from,
		head:     100,
		txs:      make(map[string]*TransactionInfo),
		balances: map[string]*big.Int{"": big.NewInt(10_000_000)},
	}
}

func (l *ledger) Address() string { return l.from }

func (l *ledger) SendTransfer(ctx context.Context, asset, to string, amount *big.Int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hash := fmt.Sprintf("0x%064x", len(l.txs)+1)
	l.txs[hash] = &TransactionInfo{
		TxHash:      hash,
		BlockNumber: l.head,
		Success:     true,
		Transfers:   []Transfer{{From: l.from, To: to, Asset: asset, Amount: new(big.Int).Set(amount)}},
	}
	return hash, nil
}

func (l *ledger) GetTransaction(ctx context.Context, txHash, asset string) (*TransactionInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lookErr != nil {
		return nil, l.lookErr
	}
	info, ok := l.txs[txHash]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	copied := *info
	return &copied, nil
}

func (l *ledger) GetBlockNumber(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.onHead != nil {
		l.head = l.onHead(l.head)
	}
	return l.head, nil
}

func (l *ledger) GetBalance(ctx context.Context, addr, asset string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[asset]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (l *ledger) advance(blocks uint64) {
	l.mu.Lock()
	l.head += blocks
	l.mu.Unlock()
}

func requirements(asset string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            SchemeNativeExact,
		Network:           networks.BaseSepolia,
		Asset:             asset,
		Amount:            "1000",
		PayTo:             merchant,
		MaxTimeoutSeconds: 60,
	}
}

func TestNativeRoundTrip(t *testing.T) {
	chain := EVM()
	l := newLedger(payer)
	client := NewClientScheme(l, chain)
	facilitator := NewFacilitatorScheme(l, chain)
	req := requirements(networks.EvmZeroAddress)

	payload, err := client.CreatePaymentPayload(context.Background(), req, nil, nil)
	require.NoError(t, err)

	p, err := PayloadFromMap(payload.Payload)
	require.NoError(t, err)
	assert.Equal(t, payer, p.From)

	resp, err := facilitator.Verify(context.Background(), payload, req)
	require.NoError(t, err)
	assert.True(t, resp.IsValid, resp.InvalidReason)

	settle, err := facilitator.Settle(context.Background(), payload, req)
	require.NoError(t, err)
	assert.True(t, settle.Success, settle.ErrorReason)
	assert.Equal(t, p.TxHash, settle.Transaction)

	t.Run("replay is rejected", func(t *testing.T) {
		resp, err := facilitator.Verify(context.Background(), payload, req)
		require.NoError(t, err)
		assert.Equal(t, ErrTransactionUsed, resp.InvalidReason)

		again, err := facilitator.Settle(context.Background(), payload, req)
		require.NoError(t, err)
		assert.False(t, again.Success)
	})
}

func TestNativeVerifyRejects(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload)
		reason string
	}{
		{
			name: "amount above transfer",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				req.Amount = "1001"
			},
			reason: ErrInsufficientAmount,
		},
		{
			name: "wrong recipient",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				req.PayTo = "0x3333333333333333333333333333333333333333"
			},
			reason: ErrTransferMissing,
		},
		{
			name: "wrong asset",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				req.Asset = usdc
			},
			reason: ErrTransferMissing,
		},
		{
			name: "claimed by someone else",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				payload.Payload["from"] = "0x4444444444444444444444444444444444444444"
			},
			reason: ErrTransferMissing,
		},
		{
			name: "unknown hash",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				payload.Payload["txHash"] = "0xdead"
			},
			reason: ErrUnknownTransaction,
		},
		{
			name: "reverted",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				for _, tx := range l.txs {
					tx.Success = false
				}
			},
			reason: ErrTransactionReverted,
		},
		{
			name: "rpc failure",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				l.lookErr = fmt.Errorf("connection refused")
			},
			reason: ErrTransactionLookup,
		},
		{
			name: "shallow",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				req.Extra = map[string]interface{}{ExtraMinConfirmations: float64(5)}
			},
			reason: ErrInsufficientConfirmation,
		},
		{
			name: "missing hash",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				delete(payload.Payload, "txHash")
			},
			reason: ErrInvalidPayload,
		},
		{
			name: "scheme mismatch",
			setup: func(l *ledger, req *x402.PaymentRequirements, payload *x402.PaymentPayload) {
				req.Scheme = "exact_permit"
			},
			reason: ErrInvalidScheme,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(payer)
			req := requirements("")
			payload, err := NewClientScheme(l, EVM()).CreatePaymentPayload(context.Background(), req, nil, nil)
			require.NoError(t, err)
			tt.setup(l, &req, &payload)

			resp, err := NewFacilitatorScheme(l, EVM()).Verify(context.Background(), payload, req)
			require.NoError(t, err)
			assert.False(t, resp.IsValid)
			assert.Equal(t, tt.reason, x402.ReasonCode(resp.InvalidReason))
		})
	}
}

func TestNativeSettleWaitsForConfirmations(t *testing.T) {
	l := newLedger(payer)
	req := requirements("")
	req.Extra = map[string]interface{}{ExtraMinConfirmations: 3}

	payload, err := NewClientScheme(l, EVM()).CreatePaymentPayload(context.Background(), req, nil, nil)
	require.NoError(t, err)

	l.onHead = func(head uint64) uint64 { return head + 1 }
	facilitator := NewFacilitatorScheme(l, EVM(), WithSettleWait(time.Second, time.Millisecond))

	resp, err := facilitator.Settle(context.Background(), payload, req)
	require.NoError(t, err)
	assert.True(t, resp.Success, resp.ErrorReason)
}

func TestNativeSettleConfirmationTimeout(t *testing.T) {
	l := newLedger(payer)
	req := requirements("")
	req.Extra = map[string]interface{}{ExtraMinConfirmations: 50}

	payload, err := NewClientScheme(l, EVM()).CreatePaymentPayload(context.Background(), req, nil, nil)
	require.NoError(t, err)

	facilitator := NewFacilitatorScheme(l, EVM(), WithSettleWait(20*time.Millisecond, 5*time.Millisecond))
	resp, err := facilitator.Settle(context.Background(), payload, req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, x402.ReasonTransactionTimeout, x402.ReasonCode(resp.ErrorReason))
	assert.True(t, x402.IsPostBroadcastFailure(resp.ErrorReason))
}

func TestNativeClientWithAdapter(t *testing.T) {
	t.Run("insufficient balance", func(t *testing.T) {
		l := newLedger(payer)
		l.balances[""] = big.NewInt(10)
		client := NewClientScheme(l, EVM(), WithChainAdapter(l))

		_, err := client.CreatePaymentPayload(context.Background(), requirements(""), nil, nil)
		assert.ErrorIs(t, err, x402.ErrValidation)
		assert.Empty(t, l.txs)
	})

	t.Run("waits for depth", func(t *testing.T) {
		l := newLedger(payer)
		l.onHead = func(head uint64) uint64 { return head + 1 }
		chain := EVM()
		chain.MinConfirmations = 4
		client := NewClientScheme(l, chain, WithChainAdapter(l), WithConfirmationWait(time.Second, time.Millisecond))

		_, err := client.CreatePaymentPayload(context.Background(), requirements(""), nil, nil)
		require.NoError(t, err)
		head, _ := l.GetBlockNumber(context.Background())
		assert.GreaterOrEqual(t, head, uint64(103))
	})
}

func TestSettlementKey(t *testing.T) {
	f := NewFacilitatorScheme(newLedger(payer), EVM())
	payload := x402.PaymentPayload{
		Accepted: requirements(""),
		Payload:  (&Payload{TxHash: "0xABCD", From: payer}).ToMap(),
	}
	key, err := f.SettlementKey(payload)
	require.NoError(t, err)
	assert.Equal(t, "native_exact:eip155:84532:abcd", key)
}

func TestIsNativeAsset(t *testing.T) {
	assert.True(t, IsNativeAsset(networks.Base, ""))
	assert.True(t, IsNativeAsset(networks.Base, networks.EvmZeroAddress))
	assert.False(t, IsNativeAsset(networks.Base, usdc))
	assert.True(t, IsNativeAsset(networks.TronNile, networks.TronZeroAddress))
	assert.True(t, IsNativeAsset(networks.TronNile, "410000000000000000000000000000000000000000"))
	assert.False(t, IsNativeAsset(networks.TronNile, "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf"))
}

func TestNativeServerScheme(t *testing.T) {
	server := NewServerScheme(TRON(), tokens.DefaultRegistry())

	amount, err := server.ParsePrice("2 TRX", networks.TronNile)
	require.NoError(t, err)
	assert.Equal(t, "2000000", amount.Amount)
	assert.Equal(t, networks.TronZeroAddress, amount.Asset)

	req, err := server.EnhancePaymentRequirements(context.Background(), x402.PaymentRequirements{
		Scheme:  SchemeNativeExact,
		Network: networks.TronNile,
		Amount:  "2000000",
		PayTo:   "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
	}, x402.DeliveryPaymentAndDelivery)
	require.NoError(t, err)
	assert.Equal(t, networks.TronZeroAddress, req.Asset)
	assert.Equal(t, DefaultTRONConfirmations, req.Extra[ExtraMinConfirmations])
	assert.Equal(t, "TRX", req.Extra[ExtraSymbol])
	assert.True(t, server.ValidatePaymentRequirements(req))

	_, err = server.ParsePrice("1 ETH", networks.Base)
	assert.ErrorIs(t, err, x402.ErrUnsupportedNetwork)
}

func TestInterfaces(t *testing.T) {
	var _ x402.ClientMechanism = (*ClientScheme)(nil)
	var _ x402.FacilitatorMechanism = (*FacilitatorScheme)(nil)
	var _ x402.SettlementKeyer = (*FacilitatorScheme)(nil)
	var _ x402.ServerMechanism = (*ServerScheme)(nil)
	var _ ChainAdapter = (*ledger)(nil)
	var _ TransferSender = (*ledger)(nil)
}
