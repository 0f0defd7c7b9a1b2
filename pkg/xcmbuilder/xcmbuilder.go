// Package xcmbuilder is a pure component: typed investment/return specs in,
// SCALE-encoded destination and message bytes out, ready to pass verbatim
// to the Vault's dispatchInvestment. No network calls, no wall-clock, no
// counters — identical inputs always produce identical outputs.
package xcmbuilder

import (
	"encoding/hex"
	"strconv"
	"strings"

	"coordinatorcore/internal/coordinatorerr"

	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// InvestmentSpec is the typed input to Build.
type InvestmentSpec struct {
	Amount       string // decimal string, 256-bit
	ProxyAddress string // 20-byte hex on the execution chain
	VaultAddress string // hex on the custodial chain
	User         string
	PoolID       string
	ChainID      uint64
	TickLowerBps int32
	TickUpperBps int32
	ParaID       uint32
}

// ReturnSpec is the typed input to BuildReturn.
type ReturnSpec struct {
	User   string
	Amount string
	ParaID uint32
}

// DryRunResult is what DryRun returns without submitting anything.
type DryRunResult struct {
	Success       bool
	EstimatedFees string
	FailureReason string
}

// Config carries the feature flags and endpoint configuration the builder
// consults for the settlement inner-call path.
type Config struct {
	EnablePassethubTransactSettlement bool
	SettlementEndpointConfigured      bool
}

// Builder is stateless beyond its static configuration; every method is
// safe for concurrent use.
type Builder struct {
	cfg Config
}

func New(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build encodes spec into (destination, message) bytes deterministically.
func (b *Builder) Build(spec InvestmentSpec) (destination []byte, message []byte, err error) {
	if err := validateInvestmentSpec(spec); err != nil {
		return nil, nil, err
	}

	destination, err = encodeDestination(spec.ParaID, spec.ProxyAddress)
	if err != nil {
		return nil, nil, coordinatorerr.Wrap(coordinatorerr.KindXcmBuild, "failed to encode destination", err)
	}

	message, err = encodeInvestmentMessage(spec)
	if err != nil {
		return nil, nil, coordinatorerr.Wrap(coordinatorerr.KindXcmBuild, "failed to encode message", err)
	}

	return destination, message, nil
}

// BuildReturn encodes a return-of-funds spec, used by the cancellation and
// refund paths.
func (b *Builder) BuildReturn(spec ReturnSpec) (destination []byte, message []byte, err error) {
	if !isValidHexAddress(spec.User) {
		return nil, nil, coordinatorerr.New(coordinatorerr.KindValidation, "return spec user address must be 20-byte hex")
	}
	if spec.Amount == "" {
		return nil, nil, coordinatorerr.New(coordinatorerr.KindValidation, "return spec amount must not be empty")
	}

	destination, err = encodeDestination(spec.ParaID, spec.User)
	if err != nil {
		return nil, nil, coordinatorerr.Wrap(coordinatorerr.KindXcmBuild, "failed to encode return destination", err)
	}
	message, err = encodeReturnMessage(spec)
	if err != nil {
		return nil, nil, coordinatorerr.Wrap(coordinatorerr.KindXcmBuild, "failed to encode return message", err)
	}
	return destination, message, nil
}

// DryRun simulates a Build without producing bytes meant for submission;
// it exercises the same validation path and reports an estimated fee.
// Fee is a deterministic function of message length here, a stand-in for
// the chain's own weight-to-fee conversion which genuinely does vary with
// live state; callers must treat the value as a point-in-time snapshot.
func (b *Builder) DryRun(spec InvestmentSpec) DryRunResult {
	_, message, err := b.Build(spec)
	if err != nil {
		return DryRunResult{Success: false, FailureReason: err.Error()}
	}
	fee := estimateFee(message)
	return DryRunResult{Success: true, EstimatedFees: fee}
}

// BuildSettlementInnerCall builds the inner-call payload the production
// settlement path wraps into a cross-chain Transact. Feature-flagged: must
// fail fast if disabled or unconfigured, before touching its inputs.
func (b *Builder) BuildSettlementInnerCall(vaultAddress, vaultPositionID, receivedAmount string) ([]byte, error) {
	if !b.cfg.EnablePassethubTransactSettlement {
		return nil, coordinatorerr.New(coordinatorerr.KindFeatureDisabled, "passethub transact settlement is disabled")
	}
	if !b.cfg.SettlementEndpointConfigured {
		return nil, coordinatorerr.New(coordinatorerr.KindConfigFrozen, "settlement remote endpoint is not configured")
	}
	if !isValidHexAddress(vaultAddress) {
		return nil, coordinatorerr.New(coordinatorerr.KindValidation, "vault address must be 20-byte hex")
	}
	if vaultPositionID == "" || receivedAmount == "" {
		return nil, coordinatorerr.New(coordinatorerr.KindValidation, "vaultPositionId and receivedAmount are required")
	}

	payload, err := gstypes.EncodeToBytes(struct {
		Call            string
		VaultAddress    string
		VaultPositionID string
		ReceivedAmount  string
	}{
		Call:            "settle_liquidation",
		VaultAddress:    vaultAddress,
		VaultPositionID: vaultPositionID,
		ReceivedAmount:  receivedAmount,
	})
	if err != nil {
		return nil, coordinatorerr.Wrap(coordinatorerr.KindXcmBuild, "failed to encode settlement inner call", err)
	}
	return payload, nil
}

// TestModeMessage emits well-formed but recognizable mock bytes,
// sufficient for the Vault contract's test-mode branch to accept without a
// real cross-chain round trip.
func (b *Builder) TestModeMessage(spec InvestmentSpec) (destination []byte, message []byte, err error) {
	if err := validateInvestmentSpec(spec); err != nil {
		return nil, nil, err
	}
	destination = []byte("TESTMODE::" + spec.ProxyAddress)
	message = []byte("TESTMODE::" + spec.User + "::" + spec.PoolID + "::" + spec.Amount)
	return destination, message, nil
}

func validateInvestmentSpec(spec InvestmentSpec) error {
	if !isValidHexAddress(spec.ProxyAddress) {
		return coordinatorerr.New(coordinatorerr.KindValidation, "proxy address must be 20-byte hex")
	}
	if !isValidHexAddress(spec.VaultAddress) {
		return coordinatorerr.New(coordinatorerr.KindValidation, "vault address must be 20-byte hex")
	}
	if spec.Amount == "" {
		return coordinatorerr.New(coordinatorerr.KindValidation, "amount must not be empty")
	}
	if spec.TickLowerBps >= spec.TickUpperBps {
		return coordinatorerr.New(coordinatorerr.KindValidation, "tick lower must be strictly less than tick upper")
	}
	return nil
}

// isValidHexAddress checks the strict 0x + 40 hex char format (20 bytes).
func isValidHexAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	raw := addr[2:]
	if len(raw) != 40 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

func encodeDestination(paraID uint32, targetAddress string) ([]byte, error) {
	return gstypes.EncodeToBytes(struct {
		ParaID uint32
		Target string
	}{ParaID: paraID, Target: targetAddress})
}

func encodeInvestmentMessage(spec InvestmentSpec) ([]byte, error) {
	return gstypes.EncodeToBytes(struct {
		User         string
		PoolID       string
		ChainID      uint64
		Amount       string
		TickLowerBps int32
		TickUpperBps int32
	}{
		User:         spec.User,
		PoolID:       spec.PoolID,
		ChainID:      spec.ChainID,
		Amount:       spec.Amount,
		TickLowerBps: spec.TickLowerBps,
		TickUpperBps: spec.TickUpperBps,
	})
}

func encodeReturnMessage(spec ReturnSpec) ([]byte, error) {
	return gstypes.EncodeToBytes(struct {
		User   string
		Amount string
	}{User: spec.User, Amount: spec.Amount})
}

// estimateFee derives a deterministic placeholder fee from message length;
// real fee estimation happens on-chain during an actual dry-run call,
// which this pure package has no connection to perform.
func estimateFee(message []byte) string {
	base := 1000 + len(message)*10
	return strconv.Itoa(base)
}
