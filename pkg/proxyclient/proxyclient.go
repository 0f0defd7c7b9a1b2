// Package proxyclient wraps the execution-chain Proxy contract: connection
// lifecycle, typed reads/writes, and event subscription, built on
// go-ethereum and the shared contractclient ABI helper.
package proxyclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"time"

	"coordinatorcore/internal/coordinatorerr"
	"coordinatorcore/pkg/ammutil"
	"coordinatorcore/pkg/contractclient"
	"coordinatorcore/pkg/events"
	"coordinatorcore/pkg/retry"
	coordtypes "coordinatorcore/pkg/types"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const tokenCacheTTL = 5 * time.Minute

// ActivePosition is the read-model view of one open LP position on the
// Proxy contract.
type ActivePosition struct {
	ProxyPositionID string
	VaultPositionID string
	PoolID          string
	Liquidity       string
	TickLower       int32
	TickUpper       int32
}

// TokenInfo is one supported-token entry.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8
}

// LiquidationParams is the caller-supplied intent behind
// LiquidateSwapAndReturn.
type LiquidationParams struct {
	ProxyPositionID string
	VaultPositionID string
	MinBaseOut      *big.Int
}

// txWaiter is the subset of pkg/txlistener's Client this package depends
// on, kept narrow so tests can substitute a fake.
type txWaiter interface {
	WaitForTransactionCtx(ctx context.Context, hash common.Hash) (*coordtypes.TxReceipt, error)
}

// Client wraps one Proxy contract instance on one execution-chain RPC
// endpoint.
type Client struct {
	rpcURL          string
	privateKey      *ecdsa.PrivateKey
	from            common.Address
	contractAddress common.Address
	contractABI     abi.ABI
	txType          coordtypes.TxType
	waiter          txWaiter

	mu        sync.Mutex
	ethClient *ethclient.Client
	cc        contractclient.ContractClient
	connected bool

	subMu    sync.Mutex
	handlers events.ProxyHandlers
	stopSub  context.CancelFunc

	tokenMu     sync.Mutex
	tokenCache  []TokenInfo
	tokenCached time.Time

	retryPolicy retry.Policy
}

type Option func(*Client)

func WithTxType(t coordtypes.TxType) Option { return func(c *Client) { c.txType = t } }

func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.retryPolicy = p } }

func WithTxWaiter(w txWaiter) Option { return func(c *Client) { c.waiter = w } }

// New builds a Proxy client bound to one RPC endpoint, signing key and
// contract address/ABI.
func New(rpcURL, privateKeyHex string, contractAddress common.Address, contractABI abi.ABI, opts ...Option) (*Client, error) {
	pk, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, coordinatorerr.Wrap(coordinatorerr.KindValidation, "invalid proxy signing key", err)
	}
	c := &Client{
		rpcURL:          rpcURL,
		privateKey:      pk,
		from:            crypto.PubkeyToAddress(pk.PublicKey),
		contractAddress: contractAddress,
		contractABI:     contractABI,
		txType:          coordtypes.DynamicFee,
		retryPolicy:     retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	ec, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to dial proxy endpoint", err)
	}
	c.ethClient = ec
	c.cc = contractclient.NewContractClient(ec, c.contractAddress, c.contractABI)
	c.connected = true
	return nil
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.ethClient = nil
	c.cc = nil
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}

	c.subMu.Lock()
	handlers := c.handlers
	wasListening := c.stopSub != nil
	c.subMu.Unlock()

	if wasListening {
		return c.Subscribe(handlers)
	}
	return nil
}

// executePendingInvestmentResult is the value retry.Execute carries between
// attempts: proxyPositionId is only known once the mint transaction has a
// receipt to decode, so there is no bare string to thread through
// retry.Execute's generic result the way the other send-and-wait calls do.
type executePendingInvestmentResult struct {
	proxyPositionID *big.Int
	txHash          string
}

// ExecutePendingInvestment mints the LP NFT for a vaultPositionId that the
// Proxy already holds funds for. Operator-only. proxyPositionId is the
// Proxy-side half of the canonical cross-chain key, minted on confirmation.
// When a TxWaiter is configured (WithTxWaiter) the call waits for the mint
// receipt and decodes the id from it; without one it returns a nil id and
// only the transaction hash.
func (c *Client) ExecutePendingInvestment(ctx context.Context, vaultPositionID string) (*big.Int, string, error) {
	if err := c.connect(ctx); err != nil {
		return nil, "", err
	}
	result := retry.Execute(ctx, func(ctx context.Context) (executePendingInvestmentResult, error) {
		return c.executePendingInvestmentOnce(ctx, vaultPositionID)
	}, c.retryPolicy)
	if !result.Success {
		return nil, "", result.Err
	}
	return result.Value.proxyPositionID, result.Value.txHash, nil
}

func (c *Client) executePendingInvestmentOnce(ctx context.Context, vaultPositionID string) (executePendingInvestmentResult, error) {
	hash, err := c.cc.Send(c.txType, nil, &c.from, c.privateKey, "executePendingInvestment", vaultPositionID)
	if err != nil {
		return executePendingInvestmentResult{}, classifySendError(err)
	}
	if c.waiter == nil {
		return executePendingInvestmentResult{txHash: hash.Hex()}, nil
	}

	receipt, err := c.waiter.WaitForTransactionCtx(ctx, hash)
	if err != nil {
		return executePendingInvestmentResult{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed waiting for proxy transaction", err)
	}
	if receipt.Status != "0x1" && receipt.Status != "1" {
		return executePendingInvestmentResult{}, coordinatorerr.New(coordinatorerr.KindPermanentRemote, "proxy transaction reverted")
	}

	proxyPositionID, err := c.proxyPositionIDFromReceipt(vaultPositionID, receipt)
	if err != nil {
		return executePendingInvestmentResult{}, err
	}
	return executePendingInvestmentResult{proxyPositionID: proxyPositionID, txHash: hash.Hex()}, nil
}

// proxyPositionIDFromReceipt decodes the mint transaction's PositionExecuted
// event out of cc.ParseReceipt's output. The decimal digits of proxyPositionId
// are parsed with json.Number rather than interface{}'s default float64, so
// a 256-bit token id survives the JSON round trip intact.
func (c *Client) proxyPositionIDFromReceipt(vaultPositionID string, receipt *coordtypes.TxReceipt) (*big.Int, error) {
	decoded, err := c.cc.ParseReceipt(receipt)
	if err != nil {
		return nil, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to parse execution receipt", err)
	}

	dec := json.NewDecoder(strings.NewReader(decoded))
	dec.UseNumber()
	var decodedEvents []coordtypes.DecodedEvent
	if err := dec.Decode(&decodedEvents); err != nil {
		return nil, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to unmarshal decoded receipt events", err)
	}

	for _, e := range decodedEvents {
		if e.EventName != "PositionExecuted" {
			continue
		}
		if got, ok := e.Parameter["vaultPositionId"].(string); ok && got != "" && got != vaultPositionID {
			continue
		}
		if proxyPositionID, ok := parseNumericParam(e.Parameter["proxyPositionId"]); ok {
			return proxyPositionID, nil
		}
	}
	return nil, coordinatorerr.New(coordinatorerr.KindTransientRemote, "executePendingInvestment confirmed but PositionExecuted event not found in receipt")
}

// parseNumericParam reads a decoded event parameter that ParseReceipt
// rendered through encoding/json back into a *big.Int.
func parseNumericParam(v interface{}) (*big.Int, bool) {
	switch t := v.(type) {
	case json.Number:
		return new(big.Int).SetString(t.String(), 10)
	case string:
		return new(big.Int).SetString(t, 10)
	default:
		return nil, false
	}
}

// IsPositionOutOfRange is a view call reporting whether the position's
// current tick has left its configured range, and the current price.
func (c *Client) IsPositionOutOfRange(ctx context.Context, proxyPositionID string) (bool, *big.Float, error) {
	if err := c.connect(ctx); err != nil {
		return false, nil, err
	}
	out, err := c.cc.Call(nil, "isPositionOutOfRange", proxyPositionID)
	if err != nil {
		return false, nil, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to read position range", err)
	}
	if len(out) < 2 {
		return false, nil, coordinatorerr.New(coordinatorerr.KindTransientRemote, "unexpected isPositionOutOfRange return shape")
	}
	sqrtPriceX96, _ := out[1].(*big.Int)
	outOfRange, _ := out[0].(bool)
	price := ammutil.SqrtPriceToPrice(sqrtPriceX96)
	return outOfRange, price, nil
}

// LiquidateSwapAndReturn burns the LP position, swaps proceeds to the base
// asset and bridges the result back. Operator-only.
func (c *Client) LiquidateSwapAndReturn(ctx context.Context, params LiquidationParams) (string, error) {
	if err := c.connect(ctx); err != nil {
		return "", err
	}
	minOut := params.MinBaseOut
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	result := retry.Execute(ctx, func(ctx context.Context) (string, error) {
		return c.sendAndWait(ctx, "liquidateSwapAndReturn", params.ProxyPositionID, params.VaultPositionID, minOut)
	}, c.retryPolicy)
	if !result.Success {
		return "", result.Err
	}
	return result.Value, nil
}

// CancelPendingPosition refunds a position's deposited assets to
// destination without ever minting an LP NFT.
func (c *Client) CancelPendingPosition(ctx context.Context, vaultPositionID string, destination common.Address) (string, error) {
	if err := c.connect(ctx); err != nil {
		return "", err
	}
	result := retry.Execute(ctx, func(ctx context.Context) (string, error) {
		return c.sendAndWait(ctx, "cancelPendingPosition", vaultPositionID, destination)
	}, c.retryPolicy)
	if !result.Success {
		return "", result.Err
	}
	return result.Value, nil
}

// RemoteExecute submits an already-encoded inner-call payload (built by
// the XCM Builder's settlement path) for the Proxy to execute on the
// custodial chain's behalf, used by the production settlement flow.
func (c *Client) RemoteExecute(ctx context.Context, payload []byte) (string, error) {
	if err := c.connect(ctx); err != nil {
		return "", err
	}
	result := retry.Execute(ctx, func(ctx context.Context) (string, error) {
		return c.sendAndWait(ctx, "remoteExecute", payload)
	}, c.retryPolicy)
	if !result.Success {
		return "", result.Err
	}
	return result.Value, nil
}

// GetSupportedTokensWithNames returns the deduplicated, TTL-cached list of
// tokens the Proxy's DEX integration supports.
func (c *Client) GetSupportedTokensWithNames(ctx context.Context) ([]TokenInfo, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.tokenCache != nil && time.Since(c.tokenCached) < tokenCacheTTL {
		return c.tokenCache, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	out, err := c.cc.Call(nil, "getSupportedTokens")
	if err != nil {
		return nil, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to read supported tokens", err)
	}
	if len(out) == 0 {
		return nil, coordinatorerr.New(coordinatorerr.KindTransientRemote, "unexpected getSupportedTokens return shape")
	}
	addrs, _ := out[0].([]common.Address)

	seen := make(map[common.Address]struct{}, len(addrs))
	tokens := make([]TokenInfo, 0, len(addrs))
	for _, addr := range addrs {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		info, err := c.tokenMetadata(addr)
		if err != nil {
			continue
		}
		tokens = append(tokens, info)
	}

	c.tokenCache = tokens
	c.tokenCached = time.Now()
	return tokens, nil
}

func (c *Client) tokenMetadata(addr common.Address) (TokenInfo, error) {
	symbolOut, err := c.cc.Call(nil, "tokenSymbol", addr)
	if err != nil {
		return TokenInfo{}, err
	}
	nameOut, err := c.cc.Call(nil, "tokenName", addr)
	if err != nil {
		return TokenInfo{}, err
	}
	decimalsOut, err := c.cc.Call(nil, "tokenDecimals", addr)
	if err != nil {
		return TokenInfo{}, err
	}
	symbol, _ := symbolOut[0].(string)
	name, _ := nameOut[0].(string)
	decimals, _ := decimalsOut[0].(uint8)
	return TokenInfo{Address: addr, Symbol: symbol, Name: name, Decimals: decimals}, nil
}

// Quote estimates the output amount for swapping amountIn of tokenIn to
// tokenOut. View.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	out, err := c.cc.Call(nil, "quote", tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "quote failed", err)
	}
	if len(out) == 0 {
		return nil, coordinatorerr.New(coordinatorerr.KindTransientRemote, "unexpected quote return shape")
	}
	amountOut, _ := out[0].(*big.Int)
	return amountOut, nil
}

// GetActivePositions returns every open LP position the Proxy currently
// holds. View.
func (c *Client) GetActivePositions(ctx context.Context) ([]ActivePosition, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	out, err := c.cc.Call(nil, "getActivePositions")
	if err != nil {
		return nil, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to read active positions", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	positions, _ := out[0].([]ActivePosition)
	return positions, nil
}

// GetTestMode/SetTestMode implement testmode.ChainFlag.
func (c *Client) GetTestMode(ctx context.Context) (bool, error) {
	if err := c.connect(ctx); err != nil {
		return false, err
	}
	out, err := c.cc.Call(nil, "testMode")
	if err != nil {
		return false, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to read proxy test mode", err)
	}
	if len(out) == 0 {
		return false, coordinatorerr.New(coordinatorerr.KindTransientRemote, "unexpected testMode return shape")
	}
	enabled, _ := out[0].(bool)
	return enabled, nil
}

func (c *Client) SetTestMode(ctx context.Context, enabled bool) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	_, err := c.sendAndWait(ctx, "setTestMode", enabled)
	return err
}

// Subscribe atomically replaces the installed handler set and
// (re)subscribes to the Proxy's event logs via SubscribeFilterLogs.
func (c *Client) Subscribe(handlers events.ProxyHandlers) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.stopSub != nil {
		c.stopSub()
	}
	c.handlers = handlers

	ctx, cancel := context.WithCancel(context.Background())
	c.stopSub = cancel
	go c.subscribeLoop(ctx)
	return nil
}

func (c *Client) subscribeLoop(ctx context.Context) {
	if err := c.connect(ctx); err != nil {
		return
	}
	logsCh := make(chan types.Log, 256)
	query := ethereum.FilterQuery{Addresses: []common.Address{c.contractAddress}}

	sub, err := c.ethClient.SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		time.Sleep(time.Second)
		_ = c.reconnect(ctx)
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case subErr := <-sub.Err():
			if subErr != nil {
				_ = c.reconnect(ctx)
			}
			return
		case lg := <-logsCh:
			c.subMu.Lock()
			handlers := c.handlers
			c.subMu.Unlock()
			dispatchProxyLog(handlers, lg, c.contractABI)
		}
	}
}

func (c *Client) sendAndWait(ctx context.Context, method string, args ...interface{}) (string, error) {
	hash, err := c.cc.Send(c.txType, nil, &c.from, c.privateKey, method, args...)
	if err != nil {
		return "", classifySendError(err)
	}
	if c.waiter == nil {
		return hash.Hex(), nil
	}
	receipt, err := c.waiter.WaitForTransactionCtx(ctx, hash)
	if err != nil {
		return "", coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed waiting for proxy transaction", err)
	}
	if receipt.Status != "0x1" && receipt.Status != "1" {
		return "", coordinatorerr.New(coordinatorerr.KindPermanentRemote, "proxy transaction reverted")
	}
	return hash.Hex(), nil
}

func classifySendError(err error) error {
	return coordinatorerr.Wrap(retry.Classify(err), "proxy transaction submission failed", err)
}
