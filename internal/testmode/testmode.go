// Package testmode implements the process-wide test-mode flag and its
// synchronization against both chain contracts.
package testmode

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ChainFlag reads and writes a contract's on-chain test-mode flag. Both
// the Vault and Proxy clients implement it.
type ChainFlag interface {
	GetTestMode(ctx context.Context) (bool, error)
	SetTestMode(ctx context.Context, enabled bool) error
}

// Status is the externally visible view returned by GetStatus.
type Status struct {
	BackendTestMode bool
	VaultTestMode   *bool
	ProxyTestMode   *bool
	Synchronized    bool
	LastSyncTime    *time.Time
}

// SyncOutcome reports per-contract sync results.
type SyncOutcome struct {
	Success bool
	Errors  []string
}

// Controller owns the process-wide flag and keeps it synchronized with
// whichever chain clients were configured; a nil client (no read-only
// connection configured) is reported as unknown rather than mismatched.
type Controller struct {
	flag  atomic.Bool
	vault ChainFlag
	proxy ChainFlag
	log   *zap.SugaredLogger

	lastSync atomic.Value // time.Time
}

// New derives the initial flag from explicit or environment-derived
// intent: true if forced on, or if environment is development/test.
func New(forced bool, environment string, vault, proxy ChainFlag, log *zap.SugaredLogger) *Controller {
	c := &Controller{vault: vault, proxy: proxy, log: log}
	initial := forced || isNonProdEnvironment(environment)
	c.flag.Store(initial)
	return c
}

func isNonProdEnvironment(env string) bool {
	switch strings.ToLower(env) {
	case "development", "test":
		return true
	default:
		return false
	}
}

func (c *Controller) ShouldSkipXcm() bool { return c.flag.Load() }

func (c *Controller) ShouldSkipXcmValidation() bool { return c.flag.Load() }

func (c *Controller) Enabled() bool { return c.flag.Load() }

// Enable flips the flag on and re-synchronizes both contracts.
func (c *Controller) Enable(ctx context.Context) SyncOutcome {
	c.flag.Store(true)
	return c.Sync(ctx)
}

// Disable flips the flag off and re-synchronizes both contracts.
func (c *Controller) Disable(ctx context.Context) SyncOutcome {
	c.flag.Store(false)
	return c.Sync(ctx)
}

// Sync reads each configured contract's on-chain flag and, if different
// from the backend's value, submits a transaction to update it.
func (c *Controller) Sync(ctx context.Context) SyncOutcome {
	desired := c.flag.Load()
	var errs []string

	for name, client := range map[string]ChainFlag{"vault": c.vault, "proxy": c.proxy} {
		if client == nil {
			continue
		}
		current, err := client.GetTestMode(ctx)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: failed to read test mode: %v", name, err))
			continue
		}
		if current == desired {
			continue
		}
		if err := client.SetTestMode(ctx, desired); err != nil {
			errs = append(errs, fmt.Sprintf("%s: failed to set test mode: %v", name, err))
			continue
		}
		if c.log != nil {
			c.log.Infow("synchronized on-chain test mode", "chain", name, "enabled", desired)
		}
	}

	c.lastSync.Store(time.Now())
	return SyncOutcome{Success: len(errs) == 0, Errors: errs}
}

// GetStatus returns the combined backend/on-chain view. A contract with no
// read-only connection reports nil rather than a mismatch.
func (c *Controller) GetStatus(ctx context.Context) Status {
	backend := c.flag.Load()
	status := Status{BackendTestMode: backend, Synchronized: true}

	if v, ok := readFlag(ctx, c.vault); ok {
		status.VaultTestMode = v
		if *v != backend {
			status.Synchronized = false
		}
	}
	if p, ok := readFlag(ctx, c.proxy); ok {
		status.ProxyTestMode = p
		if *p != backend {
			status.Synchronized = false
		}
	}

	if t, ok := c.lastSync.Load().(time.Time); ok {
		status.LastSyncTime = &t
	}
	return status
}

func readFlag(ctx context.Context, client ChainFlag) (*bool, bool) {
	if client == nil {
		return nil, false
	}
	v, err := client.GetTestMode(ctx)
	if err != nil {
		return nil, false
	}
	return &v, true
}
