package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bankofai/x402-tron/mechanisms/native"
	"github.com/bankofai/x402-tron/networks"
	"github.com/bankofai/x402-tron/tokens"
)

// Backend is the subset of ethclient.Client the adapter reads through
type Backend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

// ChainAdapter implements native.ChainAdapter over JSON-RPC
type ChainAdapter struct {
	backend Backend
	erc20   abi.ABI
}

var _ native.ChainAdapter = (*ChainAdapter)(nil)

func NewChainAdapter(backend Backend) *ChainAdapter {
	parsed, err := abi.JSON(bytes.NewReader(tokens.ERC20ABI))
	if err != nil {
		panic(fmt.Sprintf("erc20 abi: %v", err))
	}
	return &ChainAdapter{backend: backend, erc20: parsed}
}

// Dial connects to rpcURL and wraps the client in a ChainAdapter
func Dial(ctx context.Context, rpcURL string) (*ChainAdapter, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewChainAdapter(client), client, nil
}

// GetTransaction reports the transfers of asset in txHash. Pending
// transactions count as not found.
func (a *ChainAdapter) GetTransaction(ctx context.Context, txHash string, asset string) (*native.TransactionInfo, error) {
	if !strings.HasPrefix(txHash, "0x") {
		txHash = "0x" + txHash
	}
	hash := common.HexToHash(txHash)

	tx, pending, err := a.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) || (err == nil && pending) {
		return nil, native.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txHash, err)
	}
	receipt, err := a.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, native.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", txHash, err)
	}

	info := &native.TransactionInfo{
		TxHash:      hash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}
	if isNative(asset) {
		transfer, err := nativeTransfer(tx)
		if err != nil {
			return nil, err
		}
		if transfer != nil {
			info.Transfers = append(info.Transfers, *transfer)
		}
		return info, nil
	}
	info.Transfers = tokenTransfers(receipt.Logs, common.HexToAddress(asset))
	return info, nil
}

func nativeTransfer(tx *types.Transaction) (*native.Transfer, error) {
	if tx.To() == nil || tx.Value().Sign() == 0 {
		return nil, nil
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	return &native.Transfer{
		From:   from.Hex(),
		To:     tx.To().Hex(),
		Asset:  networks.EvmZeroAddress,
		Amount: new(big.Int).Set(tx.Value()),
	}, nil
}

// tokenTransfers extracts Transfer events emitted by token
func tokenTransfers(logs []*types.Log, token common.Address) []native.Transfer {
	var out []native.Transfer
	for _, l := range logs {
		if l.Address != token || len(l.Topics) != 3 || l.Topics[0] != tokens.TransferEventTopic {
			continue
		}
		out = append(out, native.Transfer{
			From:   common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
			To:     common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
			Asset:  token.Hex(),
			Amount: new(big.Int).SetBytes(l.Data),
		})
	}
	return out
}

func (a *ChainAdapter) GetBlockNumber(ctx context.Context) (uint64, error) {
	return a.backend.BlockNumber(ctx)
}

func (a *ChainAdapter) GetBalance(ctx context.Context, addr string, asset string) (*big.Int, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	owner := common.HexToAddress(addr)
	if isNative(asset) {
		return a.backend.BalanceAt(ctx, owner, nil)
	}

	data, err := a.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	token := common.HexToAddress(asset)
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	values, err := a.erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected result %T", values[0])
	}
	return balance, nil
}

func isNative(asset string) bool {
	return asset == "" || strings.EqualFold(asset, networks.EvmZeroAddress)
}
