// Package vaultclient wraps the custodial-chain Vault contract: connection
// lifecycle, typed reads/writes, and event subscription, built on the
// Substrate/AssetHub RPC and SCALE codec.
package vaultclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"coordinatorcore/internal/coordinatorerr"
	"coordinatorcore/pkg/events"
	"coordinatorcore/pkg/retry"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/rpc/author"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"golang.org/x/crypto/blake2b"
)

// ChainPosition is the read-model view of one position as stored on the
// Vault contract.
type ChainPosition struct {
	VaultPositionID string
	User            string
	PoolID          string
	ChainID         uint64
	Amount          string
	Liquidity       string
	ReturnedAmount  string
	Status          string
}

const maxPageSize = 200

// Client wraps one Vault contract instance on one custodial-chain endpoint.
type Client struct {
	endpoint string
	keypair  signature.KeyringPair

	mu        sync.Mutex
	api       *gsrpc.SubstrateAPI
	connected bool

	subMu        sync.Mutex
	handlers     events.VaultHandlers
	stopSub      context.CancelFunc
	pollInterval time.Duration

	retryPolicy retry.Policy
}

type Option func(*Client)

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retryPolicy = p }
}

func New(endpoint string, keypair signature.KeyringPair, opts ...Option) *Client {
	c := &Client{
		endpoint:     endpoint,
		keypair:      keypair,
		pollInterval: 6 * time.Second,
		retryPolicy:  retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// isInitialized reports whether the client holds a live RPC connection.
func (c *Client) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// connect lazily dials the RPC endpoint. Safe to call repeatedly; it is a
// no-op once connected.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	api, err := gsrpc.NewSubstrateAPI(c.endpoint)
	if err != nil {
		return coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to dial vault endpoint", err)
	}
	c.api = api
	c.connected = true
	return nil
}

// reconnect drops the stale connection and re-dials, then re-installs
// whatever handler set was last registered.
func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.api = nil
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

// Deposit credits the caller's balance; user-triggered, returns the
// submitted transaction hash.
func (c *Client) Deposit(ctx context.Context, amount *big.Int) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "deposit", amount.String())
}

// Withdraw debits the caller's balance; user-triggered.
func (c *Client) Withdraw(ctx context.Context, amount *big.Int) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "withdraw", amount.String())
}

// InvestmentRequest is the operator-supplied intent behind
// DispatchInvestment; destination/message are the already-built XCM bytes.
type InvestmentRequest struct {
	User         string
	PoolID       string
	ChainID      uint64
	Amount       *big.Int
	TickLowerBps int32
	TickUpperBps int32
}

// dispatchInvestmentResult is the value retry.Execute carries between
// attempts of DispatchInvestment; the vaultPositionId is only known once
// the extrinsic is in a block and its event decoded, so there is no bare
// string/string pair to thread through retry.Execute's generic result.
type dispatchInvestmentResult struct {
	vaultPositionID string
	txHash          string
}

// DispatchInvestment consumes balance and emits InvestmentInitiated,
// minting a new vaultPositionId. Operator-only. vaultPositionId is the
// canonical cross-chain key the rest of the system tracks the position
// under, so the call waits for the extrinsic to land in a block and
// decodes the real event rather than handing back a locally-derived
// placeholder the persister could never reconcile.
func (c *Client) DispatchInvestment(ctx context.Context, req InvestmentRequest, destination, message []byte) (vaultPositionID string, txHash string, err error) {
	if err := c.connect(ctx); err != nil {
		return "", "", err
	}

	result := retry.Execute(ctx, func(ctx context.Context) (dispatchInvestmentResult, error) {
		return c.dispatchInvestmentOnce(ctx, req, destination, message)
	}, c.retryPolicy)

	if !result.Success {
		return "", "", result.Err
	}
	return result.Value.vaultPositionID, result.Value.txHash, nil
}

func (c *Client) dispatchInvestmentOnce(ctx context.Context, req InvestmentRequest, destination, message []byte) (dispatchInvestmentResult, error) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return dispatchInvestmentResult{}, coordinatorerr.New(coordinatorerr.KindTransientRemote, "vault client not connected")
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return dispatchInvestmentResult{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to fetch chain metadata", err)
	}

	ext, err := c.buildSignedExtrinsic(api, meta, "Vault", "dispatch_investment",
		req.User, req.PoolID, req.ChainID, req.Amount.String(), req.TickLowerBps, req.TickUpperBps, destination, message)
	if err != nil {
		return dispatchInvestmentResult{}, err
	}

	txHash, err := extrinsicHashHex(ext)
	if err != nil {
		return dispatchInvestmentResult{}, coordinatorerr.Wrap(coordinatorerr.KindValidation, "failed to hash extrinsic", err)
	}

	sub, err := api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return dispatchInvestmentResult{}, classifyExtrinsicError(err)
	}
	defer sub.Unsubscribe()

	blockHash, err := waitForInclusion(ctx, sub)
	if err != nil {
		return dispatchInvestmentResult{}, err
	}

	records, err := c.decodeEventsAt(meta, blockHash)
	if err != nil {
		return dispatchInvestmentResult{}, err
	}

	e, found := selectInvestmentInitiated(records, req.User, req.PoolID)
	if !found {
		return dispatchInvestmentResult{}, coordinatorerr.New(coordinatorerr.KindTransientRemote, "dispatch_investment included but InvestmentInitiated event not found in block")
	}
	return dispatchInvestmentResult{vaultPositionID: e.VaultPositionID.Hex(), txHash: txHash}, nil
}

// selectInvestmentInitiated picks the InvestmentInitiated event matching
// this request out of one block's decoded Vault events. A block can carry
// other users' dispatches too, so matching by user/poolId rather than just
// taking records.Vault_InvestmentInitiated[0] avoids attributing the wrong
// vaultPositionId when multiple investments land in the same block.
func selectInvestmentInitiated(records vaultEventRecords, user, poolID string) (eventInvestmentInitiated, bool) {
	for _, e := range records.Vault_InvestmentInitiated {
		if e.User.ToHexString() == user && e.PoolID.Hex() == poolID {
			return e, true
		}
	}
	return eventInvestmentInitiated{}, false
}

// waitForInclusion drains an extrinsic's status subscription until it
// reaches a block (finalization is not required; the persister reconciles
// later via its own listener, so we only need a block to read events from)
// or a terminal failure status.
func waitForInclusion(ctx context.Context, sub *author.ExtrinsicStatusSubscription) (gstypes.Hash, error) {
	for {
		select {
		case <-ctx.Done():
			return gstypes.Hash{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "context cancelled waiting for extrinsic inclusion", ctx.Err())
		case status, ok := <-sub.Chan():
			if !ok {
				return gstypes.Hash{}, coordinatorerr.New(coordinatorerr.KindTransientRemote, "extrinsic status subscription closed before inclusion")
			}
			if status.IsDropped || status.IsInvalid || status.IsUsurped {
				return gstypes.Hash{}, coordinatorerr.New(coordinatorerr.KindPermanentRemote, "extrinsic rejected by chain before inclusion")
			}
			if status.IsFinalityTimeout {
				return gstypes.Hash{}, coordinatorerr.New(coordinatorerr.KindTransientRemote, "extrinsic finality timed out")
			}
			if status.IsInBlock {
				return status.AsInBlock, nil
			}
			if status.IsFinalized {
				return status.AsFinalized, nil
			}
		}
	}
}

// decodeEventsAt reads and decodes the Vault pallet's events out of one
// specific block, the same SCALE shape pollOnce's decoder targets.
func (c *Client) decodeEventsAt(meta *gstypes.Metadata, blockHash gstypes.Hash) (vaultEventRecords, error) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return vaultEventRecords{}, coordinatorerr.New(coordinatorerr.KindTransientRemote, "vault client not connected")
	}

	key, err := gstypes.CreateStorageKey(meta, "System", "Events", nil)
	if err != nil {
		return vaultEventRecords{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to build events storage key", err)
	}

	raw, err := api.RPC.State.GetStorageRaw(key, blockHash)
	if err != nil {
		return vaultEventRecords{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to fetch block events", err)
	}

	var records vaultEventRecords
	if err := gstypes.EventRecordsRaw(*raw).DecodeEventRecords(meta, &records); err != nil {
		return vaultEventRecords{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to decode block events", err)
	}
	return records, nil
}

// extrinsicHashHex computes the same Blake2-256 hash Substrate nodes use to
// identify an extrinsic, since SubmitAndWatchExtrinsic's subscription never
// surfaces the hash SubmitExtrinsic would have returned directly.
func extrinsicHashHex(ext gstypes.Extrinsic) (string, error) {
	enc, err := gstypes.EncodeToBytes(ext)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(enc)
	return gstypes.NewHash(sum[:]).Hex(), nil
}

// ConfirmExecution records that the Proxy finished minting the LP position.
// Operator-only.
func (c *Client) ConfirmExecution(ctx context.Context, vaultPositionID string, proxyPositionID *big.Int, liquidity *big.Int) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "confirm_execution", vaultPositionID, proxyPositionID.String(), liquidity.String())
}

// SettleLiquidation credits the user with the returned amount. Operator-only.
func (c *Client) SettleLiquidation(ctx context.Context, vaultPositionID string, receivedAmount *big.Int) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "settle_liquidation", vaultPositionID, receivedAmount.String())
}

func (c *Client) AddChain(ctx context.Context, chainID uint64, executorAddress string) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "add_chain", chainID, executorAddress)
}

func (c *Client) RemoveChain(ctx context.Context, chainID uint64) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "remove_chain", chainID)
}

func (c *Client) UpdateChainExecutor(ctx context.Context, chainID uint64, executorAddress string) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "update_chain_executor", chainID, executorAddress)
}

func (c *Client) Pause(ctx context.Context) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "pause")
}

func (c *Client) Unpause(ctx context.Context) (string, error) {
	return c.submitExtrinsic(ctx, "Vault", "unpause")
}

// GetTestMode reads the on-chain test-mode flag. Read-only.
func (c *Client) GetTestMode(ctx context.Context) (bool, error) {
	if err := c.connect(ctx); err != nil {
		return false, err
	}
	var enabled bool
	if err := c.queryStorage(ctx, "Vault", "TestMode", &enabled); err != nil {
		return false, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to read vault test mode", err)
	}
	return enabled, nil
}

// SetTestMode submits a transaction flipping the on-chain flag.
func (c *Client) SetTestMode(ctx context.Context, enabled bool) error {
	_, err := c.submitExtrinsic(ctx, "Vault", "set_test_mode", enabled)
	return err
}

// GetPosition reads one position by its vaultPositionId.
func (c *Client) GetPosition(ctx context.Context, vaultPositionID string) (ChainPosition, error) {
	if err := c.connect(ctx); err != nil {
		return ChainPosition{}, err
	}
	var pos ChainPosition
	if err := c.queryStorage(ctx, "Vault", "Positions", &pos, vaultPositionID); err != nil {
		return ChainPosition{}, coordinatorerr.Wrap(coordinatorerr.KindNotFound, fmt.Sprintf("position %s not found", vaultPositionID), err)
	}
	return pos, nil
}

// GetUserPositionsPage returns a bounded page of a user's positions;
// unbounded reads are disallowed (spec §9). Out-of-range offsets return an
// empty page rather than an error.
func (c *Client) GetUserPositionsPage(ctx context.Context, user string, offset, limit int) ([]ChainPosition, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	var all []ChainPosition
	if err := c.queryStorage(ctx, "Vault", "UserPositions", &all, user); err != nil {
		return nil, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to read user positions", err)
	}

	return paginate(all, offset, limit), nil
}

// paginate slices positions defensively: negative or out-of-range offsets
// yield an empty page instead of a panic or an error.
func paginate(all []ChainPosition, offset, limit int) []ChainPosition {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 || offset >= len(all) {
		return []ChainPosition{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// Subscribe atomically replaces the installed handler set and starts a
// poll loop that fetches the latest block every pollInterval, decodes its
// Vault-pallet events and dispatches them to the matching callback. Each
// callback runs synchronously on the poll loop, so a slow handler delays
// the next poll.
func (c *Client) Subscribe(handlers events.VaultHandlers) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.stopSub != nil {
		c.stopSub()
	}
	c.handlers = handlers

	ctx, cancel := context.WithCancel(context.Background())
	c.stopSub = cancel
	go c.pollLoop(ctx)
	return nil
}

func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.isInitialized() {
				if err := c.connect(ctx); err != nil {
					continue
				}
			}
			c.pollOnce(ctx)
		}
	}
}

// pollOnce fetches the latest block's events and dispatches
// them. Reconnects on RPC failure and resumes from the current head, with
// no attempt at historical replay (spec §9 open question).
func (c *Client) pollOnce(ctx context.Context) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return
	}

	block, err := api.RPC.Chain.GetBlockLatest()
	if err != nil {
		_ = c.reconnect(ctx)
		return
	}

	decoded, err := decodeVaultEvents(block)
	if err != nil {
		return
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return
	}
	blockHash, err := api.RPC.Chain.GetBlockHash(decoded.blockNumber)
	if err != nil {
		return
	}
	records, err := c.decodeEventsAt(meta, blockHash)
	if err != nil {
		return
	}
	decoded.records = records

	c.subMu.Lock()
	handlers := c.handlers
	c.subMu.Unlock()

	dispatchVaultEvents(handlers, decoded)
}

func (c *Client) submitExtrinsic(ctx context.Context, module, call string, args ...interface{}) (string, error) {
	if err := c.connect(ctx); err != nil {
		return "", err
	}

	result := retry.Execute(ctx, func(ctx context.Context) (string, error) {
		return c.submitExtrinsicOnce(module, call, args...)
	}, c.retryPolicy)

	if !result.Success {
		return "", result.Err
	}
	return result.Value, nil
}

func (c *Client) submitExtrinsicOnce(module, call string, args ...interface{}) (string, error) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return "", coordinatorerr.New(coordinatorerr.KindTransientRemote, "vault client not connected")
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return "", coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to fetch chain metadata", err)
	}

	ext, err := c.buildSignedExtrinsic(api, meta, module, call, args...)
	if err != nil {
		return "", err
	}

	hash, err := api.RPC.Author.SubmitExtrinsic(ext)
	if err != nil {
		return "", classifyExtrinsicError(err)
	}

	return hash.Hex(), nil
}

// buildSignedExtrinsic builds, and signs with the client's keypair, one
// extrinsic for module.call(args...). Shared by the fire-and-forget
// submitExtrinsicOnce path and DispatchInvestment's watch-for-inclusion
// path, which otherwise diverge only in how the signed extrinsic gets
// submitted.
func (c *Client) buildSignedExtrinsic(api *gsrpc.SubstrateAPI, meta *gstypes.Metadata, module, call string, args ...interface{}) (gstypes.Extrinsic, error) {
	call2, err := gstypes.NewCall(meta, fmt.Sprintf("%s.%s", module, call), args...)
	if err != nil {
		return gstypes.Extrinsic{}, coordinatorerr.Wrap(coordinatorerr.KindValidation, "failed to build extrinsic call", err)
	}

	ext := gstypes.NewExtrinsic(call2)
	genesisHash, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return gstypes.Extrinsic{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to fetch genesis hash", err)
	}

	rv, err := api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return gstypes.Extrinsic{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to fetch runtime version", err)
	}

	key, err := gstypes.CreateStorageKey(meta, "System", "Account", c.keypair.PublicKey)
	if err != nil {
		return gstypes.Extrinsic{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to build account storage key", err)
	}

	var accountInfo gstypes.AccountInfo
	ok, err := api.RPC.State.GetStorageLatest(key, &accountInfo)
	if err != nil || !ok {
		return gstypes.Extrinsic{}, coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to read account nonce", err)
	}

	options := gstypes.SignatureOptions{
		BlockHash:          genesisHash,
		Era:                gstypes.ExtrinsicEra{IsMortalEra: false},
		GenesisHash:        genesisHash,
		Nonce:              gstypes.NewUCompactFromUInt(uint64(accountInfo.Nonce)),
		SpecVersion:        rv.SpecVersion,
		Tip:                gstypes.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}

	if err := ext.Sign(c.keypair, options); err != nil {
		return gstypes.Extrinsic{}, coordinatorerr.Wrap(coordinatorerr.KindValidation, "failed to sign extrinsic", err)
	}

	return ext, nil
}

func classifyExtrinsicError(err error) error {
	kind := retry.Classify(err)
	return coordinatorerr.Wrap(kind, "extrinsic submission failed", err)
}
