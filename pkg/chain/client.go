// Package chain wraps the BEP20 token RPC surface used by the scanner, the
// master wallet and deposit sweeps. It contains no business rules.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/loaderescrow-backend/pkg/config"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// ErrReceiptPending is returned while a transaction has no receipt yet.
var ErrReceiptPending = errors.New("transaction receipt not available")

// ErrTransferReverted is returned when a mined transfer has a failed status.
var ErrTransferReverted = errors.New("token transfer reverted")

// Backend is the subset of ethclient.Client the package relies on.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TransferLog is a decoded Transfer event of the configured token.
type TransferLog struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	From        string
	To          string
	Amount      decimal.Decimal
}

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	BlockNumber uint64
	Success     bool
}

// Client is a token-aware chain client.
type Client struct {
	backend      Backend
	token        common.Address
	decimals     int32
	chainID      *big.Int
	pollInterval time.Duration
	tokenABI     abi.ABI
}

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, cfg config.ChainConfig) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("chain rpc url is required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return New(eth, cfg)
}

// New builds a client on an existing backend.
func New(backend Backend, cfg config.ChainConfig) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend required")
	}
	if !IsAddress(cfg.TokenContract) {
		return nil, fmt.Errorf("invalid token contract %q", cfg.TokenContract)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	poll := cfg.ReceiptPollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &Client{
		backend:      backend,
		token:        common.HexToAddress(cfg.TokenContract),
		decimals:     cfg.TokenDecimals,
		chainID:      big.NewInt(cfg.ChainID),
		pollInterval: poll,
		tokenABI:     parsed,
	}, nil
}

// Close releases the RPC connection when the backend holds one.
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Ping reports whether the RPC endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.backend.BlockNumber(ctx)
	return err
}

// TokenContract returns the checksummed token address.
func (c *Client) TokenContract() string {
	return c.token.Hex()
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// TokenBalance returns the token balance of addr in token units.
func (c *Client) TokenBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	if !IsAddress(addr) {
		return decimal.Zero, fmt.Errorf("invalid address %q", addr)
	}
	data, err := c.tokenABI.Pack("balanceOf", common.HexToAddress(addr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("call balanceOf: %w", err)
	}
	values, err := c.tokenABI.Unpack("balanceOf", out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: got %d values", len(values))
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected balanceOf output %T", values[0])
	}
	return FromBaseUnits(raw, c.decimals), nil
}

// NativeBalance returns the gas coin balance of addr (18 decimals).
func (c *Client) NativeBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	if !IsAddress(addr) {
		return decimal.Zero, fmt.Errorf("invalid address %q", addr)
	}
	wei, err := c.backend.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get native balance: %w", err)
	}
	return FromBaseUnits(wei, 18), nil
}

// TransactionReceipt returns ErrReceiptPending while the transaction is unmined.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Receipt{}, ErrReceiptPending
		}
		return Receipt{}, fmt.Errorf("get receipt: %w", err)
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return Receipt{
		BlockNumber: block,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, nil
}

// TransferLogs returns token transfers towards to within [from, toBlock].
func (c *Client) TransferLogs(ctx context.Context, to string, from, toBlock uint64) ([]TransferLog, error) {
	if !IsAddress(to) {
		return nil, fmt.Errorf("invalid address %q", to)
	}
	if from > toBlock {
		return nil, nil
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.token},
		Topics: [][]common.Hash{
			{TransferTopic},
			nil,
			{common.BytesToHash(common.HexToAddress(to).Bytes())},
		},
	}
	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter transfer logs: %w", err)
	}

	out := make([]TransferLog, 0, len(logs))
	for _, lg := range logs {
		decoded, ok := c.decodeTransfer(lg)
		if !ok {
			continue
		}
		out = append(out, decoded)
	}
	return out, nil
}

func (c *Client) decodeTransfer(lg types.Log) (TransferLog, bool) {
	if lg.Removed || len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
		return TransferLog{}, false
	}
	if len(lg.Data) != common.HashLength {
		return TransferLog{}, false
	}
	value := new(big.Int).SetBytes(lg.Data)
	return TransferLog{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		From:        common.HexToAddress(lg.Topics[1].Hex()).Hex(),
		To:          common.HexToAddress(lg.Topics[2].Hex()).Hex(),
		Amount:      FromBaseUnits(value, c.decimals),
	}, true
}

// SendTokenTransfer signs and submits an ERC20 transfer from key.
func (c *Client) SendTokenTransfer(ctx context.Context, key *ecdsa.PrivateKey, to string, amount decimal.Decimal) (string, error) {
	if key == nil {
		return "", fmt.Errorf("signing key required")
	}
	if !IsAddress(to) {
		return "", fmt.Errorf("invalid address %q", to)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("amount must be positive")
	}

	data, err := c.tokenABI.Pack("transfer", common.HexToAddress(to), ToBaseUnits(amount, c.decimals))
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}

	from := AddressFromKey(key)
	nonce, err := c.backend.PendingNonceAt(ctx, common.HexToAddress(from))
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: common.HexToAddress(from),
		To:   &c.token,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.token,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitMined polls for the receipt of hash until ctx is done. Receipt lookup
// failures are retried; the last one is reported alongside the context error.
func (c *Client) WaitMined(ctx context.Context, hash string) (Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && !receipt.Success:
			return receipt, ErrTransferReverted
		case err == nil:
			return receipt, nil
		case !errors.Is(err, ErrReceiptPending):
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return Receipt{}, fmt.Errorf("%w (last receipt error: %v)", ctx.Err(), lastErr)
			}
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
