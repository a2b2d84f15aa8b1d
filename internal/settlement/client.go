// Package settlement signs and submits the two ConditionalTokens calls the
// market maker needs directly: splitPosition (1 USDC -> 1 YES + 1 NO) and
// mergePositions (1 YES + 1 NO -> 1 USDC). These are separate from order
// placement — they never touch the CLOB order book, they call the
// ConditionalTokens framework contract directly with the same EOA that
// signs orders.
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"rewards-mm/internal/config"
	"rewards-mm/internal/exchange"
)

// conditionalTokensAddress is Polymarket's ConditionalTokens framework
// contract. It is a distinct deployment from the CTF Exchange contract that
// internal/exchange.Auth signs orders against — splitPosition and
// mergePositions are framework calls, not order-book calls.
const (
	conditionalTokensAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	usdcAddress              = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	splitMergeGasLimit       = uint64(300000)
	txWaitTimeout            = 60 * time.Second
)

var usdcScale = decimal.New(1, 6)

const splitMergeABI = `[
	{
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "partition", "type": "uint256[]"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "splitPosition",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "partition", "type": "uint256[]"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "mergePositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// yesNoPartition is the CTF index-set partition for a binary market: bit 0
// (1) is the YES outcome, bit 1 (2) is the NO outcome.
var yesNoPartition = []*big.Int{big.NewInt(1), big.NewInt(2)}

// Result is the outcome of a successful split or merge. Mirrors the
// agent-level "{ok, tx_hash, err}" shape: a nil error means ok and TxHash is
// set; a non-nil error leaves Result at its zero value.
type Result struct {
	TxHash string
}

// Client is the settlement.Client interface: signs and submits split/merge
// transactions against the ConditionalTokens contract using the same
// wallet internal/exchange.Auth signs orders with.
type Client interface {
	Split(ctx context.Context, conditionID string, usdAmount float64) (Result, error)
	Merge(ctx context.Context, conditionID string, amount float64) (Result, error)
}

// OnChainClient is the live Client implementation, dialing a Polygon RPC
// endpoint per call.
type OnChainClient struct {
	rpcURL   string
	auth     *exchange.Auth
	parsed   abi.ABI
	ctfToken common.Address
	usdc     common.Address
}

// NewClient builds an OnChainClient from config and the shared wallet auth.
func NewClient(cfg config.Config, auth *exchange.Auth) (*OnChainClient, error) {
	parsed, err := abi.JSON(strings.NewReader(splitMergeABI))
	if err != nil {
		return nil, fmt.Errorf("parse ConditionalTokens ABI: %w", err)
	}
	return &OnChainClient{
		rpcURL:   cfg.Wallet.RPCURL,
		auth:     auth,
		parsed:   parsed,
		ctfToken: common.HexToAddress(conditionalTokensAddress),
		usdc:     common.HexToAddress(usdcAddress),
	}, nil
}

// Split converts usdAmount USDC into an equal number of YES and NO tokens
// for conditionID.
func (c *OnChainClient) Split(ctx context.Context, conditionID string, usdAmount float64) (Result, error) {
	return c.execute(ctx, "splitPosition", conditionID, usdAmount)
}

// Merge converts amount YES + amount NO tokens for conditionID back into
// amount USDC.
func (c *OnChainClient) Merge(ctx context.Context, conditionID string, amount float64) (Result, error) {
	return c.execute(ctx, "mergePositions", conditionID, amount)
}

func (c *OnChainClient) execute(ctx context.Context, fnName, conditionID string, amount float64) (Result, error) {
	scaled := decimal.NewFromFloat(amount).Mul(usdcScale).Truncate(0).BigInt()
	if scaled.Sign() <= 0 {
		return Result{}, fmt.Errorf("%s: amount must be > 0, got %v", fnName, amount)
	}

	data, err := c.parsed.Pack(fnName, c.usdc, common.Hash{}, common.HexToHash(conditionID), yesNoPartition, scaled)
	if err != nil {
		return Result{}, fmt.Errorf("%s: pack call data: %w", fnName, err)
	}

	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return Result{}, fmt.Errorf("%s: dial RPC: %w", fnName, err)
	}
	defer client.Close()

	from := c.auth.Address()
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return Result{}, fmt.Errorf("%s: get nonce: %w", fnName, err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%s: suggest gas price: %w", fnName, err)
	}

	tx := ethtypes.NewTransaction(nonce, c.ctfToken, big.NewInt(0), splitMergeGasLimit, gasPrice, data)

	signer := ethtypes.NewEIP155Signer(c.auth.ChainID())
	signedTx, err := ethtypes.SignTx(tx, signer, c.auth.PrivateKey())
	if err != nil {
		return Result{}, fmt.Errorf("%s: sign tx: %w", fnName, err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return Result{}, fmt.Errorf("%s: send tx: %w", fnName, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, txWaitTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, client, signedTx)
	if err != nil {
		return Result{}, fmt.Errorf("%s: wait for confirmation: %w", fnName, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return Result{}, fmt.Errorf("%s: transaction %s reverted", fnName, receipt.TxHash.Hex())
	}

	return Result{TxHash: receipt.TxHash.Hex()}, nil
}
