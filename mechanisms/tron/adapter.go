package tron

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bankofai/x402-tron/address"
	"github.com/bankofai/x402-tron/mechanisms/native"
	"github.com/bankofai/x402-tron/networks"
	"github.com/bankofai/x402-tron/pkg/trongrid"
	"github.com/bankofai/x402-tron/tokens"
)

const transferContractType = "TransferContract"

// ChainAdapter implements native.ChainAdapter over a TronGrid node
type ChainAdapter struct {
	node  *trongrid.Client
	erc20 abi.ABI
}

var _ native.ChainAdapter = (*ChainAdapter)(nil)

func NewChainAdapter(node *trongrid.Client) *ChainAdapter {
	parsed, err := abi.JSON(bytes.NewReader(tokens.ERC20ABI))
	if err != nil {
		panic(fmt.Sprintf("trc20 abi: %v", err))
	}
	return &ChainAdapter{node: node, erc20: parsed}
}

// GetTransaction reports TRX transfers from the transaction's contracts and
// TRC-20 transfers from its event logs. Unmined transactions are not found.
func (a *ChainAdapter) GetTransaction(ctx context.Context, txHash string, asset string) (*native.TransactionInfo, error) {
	id := strings.ToLower(strings.TrimPrefix(txHash, "0x"))

	tx, err := a.node.GetTransactionByID(ctx, id)
	if errors.Is(err, trongrid.ErrNotFound) {
		return nil, native.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, err)
	}
	info, err := a.node.GetTransactionInfoByID(ctx, id)
	if errors.Is(err, trongrid.ErrNotFound) {
		return nil, native.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction info %s: %w", id, err)
	}

	out := &native.TransactionInfo{
		TxHash:      tx.TxID,
		BlockNumber: info.BlockNumber,
		Success:     info.Succeeded() && (len(tx.Ret) == 0 || tx.Succeeded()),
	}
	if isNative(asset) {
		contracts, err := tx.Contracts()
		if err != nil {
			return nil, err
		}
		out.Transfers = trxTransfers(contracts)
		return out, nil
	}

	token, err := address.TronHex(asset)
	if err != nil {
		return nil, fmt.Errorf("invalid token %q: %w", asset, err)
	}
	out.Transfers = trc20Transfers(info.Log, token[2:], asset)
	return out, nil
}

func trxTransfers(contracts []trongrid.Contract) []native.Transfer {
	var out []native.Transfer
	for _, c := range contracts {
		if c.Type != transferContractType {
			continue
		}
		v := c.Parameter.Value
		out = append(out, native.Transfer{
			From:   v.OwnerAddress,
			To:     v.ToAddress,
			Asset:  networks.TronZeroAddress,
			Amount: big.NewInt(v.Amount),
		})
	}
	return out
}

// trc20Transfers decodes Transfer events of token (20-byte hex, no 41
// prefix) from the node's logs
func trc20Transfers(logs []trongrid.Log, token, asset string) []native.Transfer {
	topic := strings.TrimPrefix(tokens.TransferEventTopic.Hex(), "0x")
	var out []native.Transfer
	for _, l := range logs {
		if !strings.EqualFold(l.Address, token) || len(l.Topics) != 3 || !strings.EqualFold(l.Topics[0], topic) {
			continue
		}
		data := common.FromHex(l.Data)
		out = append(out, native.Transfer{
			From:   address.TronFromEvm(common.BytesToAddress(common.FromHex(l.Topics[1]))),
			To:     address.TronFromEvm(common.BytesToAddress(common.FromHex(l.Topics[2]))),
			Asset:  asset,
			Amount: new(big.Int).SetBytes(data),
		})
	}
	return out
}

func (a *ChainAdapter) GetBlockNumber(ctx context.Context) (uint64, error) {
	return a.node.GetNowBlock(ctx)
}

func (a *ChainAdapter) GetBalance(ctx context.Context, addr string, asset string) (*big.Int, error) {
	conv := address.TronConverter{}
	owner, err := conv.Normalize(addr)
	if err != nil {
		return nil, err
	}
	if isNative(asset) {
		account, err := a.node.GetAccount(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("getaccount: %w", err)
		}
		return big.NewInt(account.Balance), nil
	}

	holder, err := address.ToCommon(conv, owner)
	if err != nil {
		return nil, err
	}
	data, err := a.erc20.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	out, err := a.node.TriggerConstantContract(ctx, trongrid.TriggerRequest{
		OwnerAddress:    owner,
		ContractAddress: asset,
		Data:            common.Bytes2Hex(data),
	})
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
	return asset == "" || address.TronConverter{}.Equal(asset, networks.TronZeroAddress)
}
