// Package trongrid is a small client for the TronGrid HTTP API
// (https://developers.tron.network/reference). All requests use
// visible=true so addresses travel in base58.
package trongrid

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the default HTTP client timeout
const DefaultTimeout = 15 * time.Second

// APIKeyHeader carries the TronGrid API key
const APIKeyHeader = "TRON-PRO-API-KEY"

// ErrNotFound is returned for unknown transactions
var ErrNotFound = errors.New("trongrid: not found")

// APIError is a node-side rejection
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "trongrid: " + e.Code
	}
	return fmt.Sprintf("trongrid: %s: %s", e.Code, e.Message)
}

// Config contains configuration for the TronGrid client
type Config struct {
	// BaseURL of the full node, e.g. https://nile.trongrid.io
	BaseURL string
	// APIKey is sent as TRON-PRO-API-KEY when set
	APIKey string
	// Timeout defaults to 15 seconds; ignored when HTTPClient is set
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to one TRON full node
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a TronGrid client for config.BaseURL
func NewClient(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: httpClient,
	}
}

// Transaction is an unsigned or signed transaction as returned by the node.
// RawData is kept verbatim so broadcasting sends back exactly what was built.
type Transaction struct {
	Visible    bool            `json:"visible"`
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Signature  []string        `json:"signature,omitempty"`
	Ret        []ContractRet   `json:"ret,omitempty"`
}

type ContractRet struct {
	ContractRet string `json:"contractRet"`
}

// Contract is one entry of raw_data.contract
type Contract struct {
	Type      string `json:"type"`
	Parameter struct {
		Value struct {
			OwnerAddress    string `json:"owner_address"`
			ToAddress       string `json:"to_address"`
			ContractAddress string `json:"contract_address"`
			Amount          int64  `json:"amount"`
			Data            string `json:"data"`
		} `json:"value"`
	} `json:"parameter"`
}

// Contracts decodes raw_data.contract
func (tx *Transaction) Contracts() ([]Contract, error) {
	var raw struct {
		Contract []Contract `json:"contract"`
	}
	if err := json.Unmarshal(tx.RawData, &raw); err != nil {
		return nil, fmt.Errorf("decode raw_data: %w", err)
	}
	return raw.Contract, nil
}

// Succeeded reports the execution result recorded in ret
func (tx *Transaction) Succeeded() bool {
	return len(tx.Ret) > 0 && tx.Ret[0].ContractRet == "SUCCESS"
}

// Log is an event emitted by a contract. Address and topics are hex without
// the 0x41 prefix.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// TransactionInfo is the execution record of a mined transaction
type TransactionInfo struct {
	ID          string `json:"id"`
	BlockNumber uint64 `json:"blockNumber"`
	Result      string `json:"result,omitempty"`
	ResMessage  string `json:"resMessage,omitempty"`
	Receipt     struct {
		Result string `json:"result,omitempty"`
	} `json:"receipt"`
	Log []Log `json:"log,omitempty"`
}

// Succeeded is true unless the node recorded a failure. Plain TRX transfers
// carry no receipt result at all.
func (info *TransactionInfo) Succeeded() bool {
	if info.Result == "FAILED" {
		return false
	}
	return info.Receipt.Result == "" || info.Receipt.Result == "SUCCESS"
}

// TriggerRequest calls a contract. Data is the full ABI calldata in hex.
type TriggerRequest struct {
	OwnerAddress    string `json:"owner_address"`
	ContractAddress string `json:"contract_address"`
	Data            string `json:"data"`
	FeeLimit        int64  `json:"fee_limit,omitempty"`
	CallValue       int64  `json:"call_value,omitempty"`
	Visible         bool   `json:"visible"`
}

type nodeResult struct {
	Result  bool   `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r nodeResult) err() error {
	if r.Result {
		return nil
	}
	code := r.Code
	if code == "" {
		code = "FAILED"
	}
	return &APIError{Code: code, Message: decodeMessage(r.Message)}
}

// TriggerSmartContract builds an unsigned contract call
func (c *Client) TriggerSmartContract(ctx context.Context, req TriggerRequest) (*Transaction, error) {
	req.Visible = true
	var resp struct {
		Result      nodeResult   `json:"result"`
		Transaction *Transaction `json:"transaction"`
	}
	if err := c.post(ctx, "/wallet/triggersmartcontract", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Result.err(); err != nil {
		return nil, err
	}
	if resp.Transaction == nil {
		return nil, &APIError{Code: "NO_TRANSACTION"}
	}
	return resp.Transaction, nil
}

// TriggerConstantContract executes a read-only call and returns the raw
// return data
func (c *Client) TriggerConstantContract(ctx context.Context, req TriggerRequest) ([]byte, error) {
	req.Visible = true
	var resp struct {
		Result         nodeResult `json:"result"`
		ConstantResult []string   `json:"constant_result"`
	}
	if err := c.post(ctx, "/wallet/triggerconstantcontract", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Result.err(); err != nil {
		return nil, err
	}
	if len(resp.ConstantResult) == 0 {
		return nil, nil
	}
	out, err := hex.DecodeString(resp.ConstantResult[0])
	if err != nil {
		return nil, fmt.Errorf("decode constant result: %w", err)
	}
	return out, nil
}

// CreateTransaction builds an unsigned TRX transfer of amount SUN
func (c *Client) CreateTransaction(ctx context.Context, owner, to string, amount int64) (*Transaction, error) {
	body := map[string]interface{}{
		"owner_address": owner,
		"to_address":    to,
		"amount":        amount,
		"visible":       true,
	}
	var resp struct {
		Transaction
		Error string `json:"Error"`
	}
	if err := c.post(ctx, "/wallet/createtransaction", body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &APIError{Code: "CREATE_FAILED", Message: resp.Error}
	}
	return &resp.Transaction, nil
}

// BroadcastTransaction submits a signed transaction
func (c *Client) BroadcastTransaction(ctx context.Context, tx *Transaction) error {
	var resp struct {
		nodeResult
		TxID string `json:"txid"`
	}
	if err := c.post(ctx, "/wallet/broadcasttransaction", tx, &resp); err != nil {
		return err
	}
	return resp.nodeResult.err()
}

// GetTransactionByID returns ErrNotFound for unknown ids
func (c *Client) GetTransactionByID(ctx context.Context, txID string) (*Transaction, error) {
	var tx Transaction
	if err := c.post(ctx, "/wallet/gettransactionbyid", map[string]interface{}{"value": txID, "visible": true}, &tx); err != nil {
		return nil, err
	}
	if tx.TxID == "" {
		return nil, ErrNotFound
	}
	return &tx, nil
}

// GetTransactionInfoByID returns ErrNotFound until the transaction is mined
func (c *Client) GetTransactionInfoByID(ctx context.Context, txID string) (*TransactionInfo, error) {
	var info TransactionInfo
	if err := c.post(ctx, "/wallet/gettransactioninfobyid", map[string]interface{}{"value": txID}, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, ErrNotFound
	}
	return &info, nil
}

// GetNowBlock returns the latest block number
func (c *Client) GetNowBlock(ctx context.Context) (uint64, error) {
	var block struct {
		BlockHeader struct {
			RawData struct {
				Number uint64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := c.post(ctx, "/wallet/getnowblock", map[string]interface{}{}, &block); err != nil {
		return 0, err
	}
	return block.BlockHeader.RawData.Number, nil
}

// Account is the subset of getaccount used here. Balance is in SUN.
type Account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// GetAccount returns a zero Account for addresses that were never activated
func (c *Client) GetAccount(ctx context.Context, addr string) (*Account, error) {
	var account Account
	if err := c.post(ctx, "/wallet/getaccount", map[string]interface{}{"address": addr, "visible": true}, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: string(responseBody)}
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// decodeMessage turns the node's hex encoded messages into text
func decodeMessage(msg string) string {
	if raw, err := hex.DecodeString(msg); err == nil && len(raw) > 0 {
		return string(raw)
	}
	return msg
}
