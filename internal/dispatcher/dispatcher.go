// Package dispatcher implements the investment-dispatch flow: build XCM
// params, dry-run them, build the real bytes, submit to the Vault, and
// return the minted vaultPositionId. Every outbound chain call already
// carries its own classify-then-retry policy inside the Vault client; this
// package adds no second layer of retry around the same submission.
package dispatcher

import (
	"context"
	"fmt"

	"coordinatorcore/internal/coordinatorerr"
	"coordinatorcore/pkg/vaultclient"
	"coordinatorcore/pkg/xcmbuilder"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VaultDispatch is the subset of pkg/vaultclient.Client this package
// depends on.
type VaultDispatch interface {
	DispatchInvestment(ctx context.Context, req vaultclient.InvestmentRequest, destination, message []byte) (vaultPositionID, txHash string, err error)
}

// XcmBuilder is the subset of pkg/xcmbuilder.Builder this package depends
// on.
type XcmBuilder interface {
	Build(spec xcmbuilder.InvestmentSpec) (destination, message []byte, err error)
	DryRun(spec xcmbuilder.InvestmentSpec) xcmbuilder.DryRunResult
}

// fullyUtilizedRangeWidthBps is the reference tick-range width below which
// a requested range is considered fully capital-efficient; wider ranges
// scale the estimate down proportionally (spec supplement, not a chain
// read — the exact on-chain utilization depends on live price position
// within the range, which this pre-trade estimate has no way to observe).
const fullyUtilizedRangeWidthBps = 1000

// Config carries the operator-side addresses stamped onto every outgoing
// spec; these never vary per request.
type Config struct {
	ProxyAddress string
	VaultAddress string
	ParaID       uint32
}

// TxRecorder is the subset of internal/db.MySQLRecorder this package
// depends on for operator telemetry. Recording is best-effort: a failure
// here never fails the dispatch it describes.
type TxRecorder interface {
	RecordTx(vaultPositionID, operation, txHash string) error
}

// Dispatcher implements C8.
type Dispatcher struct {
	vault    VaultDispatch
	builder  XcmBuilder
	cfg      Config
	log      *zap.SugaredLogger
	recorder TxRecorder
}

func New(vault VaultDispatch, builder XcmBuilder, cfg Config, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{vault: vault, builder: builder, cfg: cfg, log: log}
}

// WithTxRecorder attaches operator telemetry; optional.
func (d *Dispatcher) WithTxRecorder(r TxRecorder) *Dispatcher {
	d.recorder = r
	return d
}

// Result is what DispatchInvestmentWithXcm returns on success.
type Result struct {
	VaultPositionID string
	TxHash          string
	CorrelationID   string
	EstimatedFees   string
}

// DispatchInvestmentWithXcm runs the five-step flow: build params, dry run,
// build real bytes, submit, return the minted id.
func (d *Dispatcher) DispatchInvestmentWithXcm(ctx context.Context, req vaultclient.InvestmentRequest) (Result, error) {
	correlationID := uuid.NewString()
	logFields := []interface{}{"correlationId", correlationID, "user", req.User, "poolId", req.PoolID}

	spec := xcmbuilder.InvestmentSpec{
		Amount:       req.Amount.String(),
		ProxyAddress: d.cfg.ProxyAddress,
		VaultAddress: d.cfg.VaultAddress,
		User:         req.User,
		PoolID:       req.PoolID,
		ChainID:      req.ChainID,
		TickLowerBps: req.TickLowerBps,
		TickUpperBps: req.TickUpperBps,
		ParaID:       d.cfg.ParaID,
	}

	dry := d.builder.DryRun(spec)
	if !dry.Success {
		if d.log != nil {
			d.log.Errorw("xcm dry run failed", append(logFields, "reason", dry.FailureReason)...)
		}
		return Result{}, coordinatorerr.New(coordinatorerr.KindXcmBuild, fmt.Sprintf("xcm dry run failed: %s", dry.FailureReason))
	}

	if util := capitalUtilization(req); util < 0.9 && d.log != nil {
		d.log.Warnw("requested range leaves capital underutilized", append(logFields, "estimatedUtilization", util)...)
	}

	destination, message, err := d.builder.Build(spec)
	if err != nil {
		return Result{}, err
	}

	vaultPositionID, txHash, err := d.vault.DispatchInvestment(ctx, req, destination, message)
	if err != nil {
		return Result{}, err
	}

	if d.recorder != nil {
		if err := d.recorder.RecordTx(vaultPositionID, "dispatch", txHash); err != nil && d.log != nil {
			d.log.Warnw("failed to record dispatch transaction", "vaultPositionId", vaultPositionID, "err", err)
		}
	}

	if d.log != nil {
		d.log.Infow("investment dispatched", append(logFields, "vaultPositionId", vaultPositionID, "txHash", txHash)...)
	}

	return Result{
		VaultPositionID: vaultPositionID,
		TxHash:          txHash,
		CorrelationID:   correlationID,
		EstimatedFees:   dry.EstimatedFees,
	}, nil
}

// capitalUtilization estimates how efficiently the requested tick range
// uses the deposited capital, as a proportion of fullyUtilizedRangeWidthBps.
func capitalUtilization(req vaultclient.InvestmentRequest) float64 {
	width := req.TickUpperBps - req.TickLowerBps
	if width <= 0 {
		return 1
	}
	util := float64(fullyUtilizedRangeWidthBps) / float64(width)
	if util > 1 {
		util = 1
	}
	return util
}
