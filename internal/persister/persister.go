package persister

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"coordinatorcore/internal/keyedmutex"
	"coordinatorcore/pkg/events"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Persister registers one handler per observed event kind. Every handler
// is idempotent and wraps its work in recover so a single failure never
// crashes the listening loop. Mutations for a given vaultPositionId are
// serialized via a keyed mutex so transitions apply in arrival order.
type Persister struct {
	db   *gorm.DB
	keys *keyedmutex.KeyedMutex
	log  *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Persister {
	return &Persister{db: db, keys: keyedmutex.New(), log: log}
}

// Migrate creates/updates the three owned tables.
func (p *Persister) Migrate() error {
	return p.db.AutoMigrate(&User{}, &Pool{}, &Position{})
}

// IsActive reports whether vaultPositionId currently has status Active,
// satisfying internal/settlement's PositionLookup.
func (p *Persister) IsActive(vaultPositionID string) (bool, error) {
	var position Position
	err := p.db.Where("vault_position_id = ?", vaultPositionID).First(&position).Error
	if err != nil {
		return false, err
	}
	return position.Status == StatusActive, nil
}

// VaultHandlers returns the callback set the Vault client should install.
func (p *Persister) VaultHandlers() events.VaultHandlers {
	return events.VaultHandlers{
		OnDeposit:                    p.onDeposit,
		OnWithdrawal:                 p.onWithdrawal,
		OnInvestmentInitiated:        p.onInvestmentInitiated,
		OnPositionExecutionConfirmed: p.onPositionExecutionConfirmed,
		OnPositionLiquidated:         p.onPositionLiquidated,
		OnLiquidationSettled:         p.onLiquidationSettled,
		OnChainAdded:                 p.onChainAdded,
		OnXcmMessageSent:             p.onXcmMessageSent,
	}
}

// ProxyHandlers returns the callback set the Proxy client should install.
func (p *Persister) ProxyHandlers() events.ProxyHandlers {
	return events.ProxyHandlers{
		OnAssetsReceived:           p.onAssetsReceived,
		OnPendingPositionCreated:   p.onPendingPositionCreated,
		OnPositionExecuted:         p.onPositionExecuted,
		OnPositionLiquidated:       p.onProxyPositionLiquidated,
		OnLiquidationCompleted:     p.onLiquidationCompleted,
		OnAssetsReturned:           p.onAssetsReturned,
		OnPendingPositionCancelled: p.onPendingPositionCancelled,
	}
}

func (p *Persister) recoverAndLog(handlerName string) {
	if r := recover(); r != nil {
		if p.log != nil {
			p.log.Errorw("persister handler panicked", "handler", handlerName, "panic", r)
		}
	}
}

// --- Vault handlers ---

func (p *Persister) onDeposit(e events.DepositEvent) {
	defer p.recoverAndLog("onDeposit")
	addr := strings.ToLower(e.User)

	p.keys.With(addr, func() error {
		var user User
		err := p.db.Where("wallet_address = ?", addr).First(&user).Error
		if err == gorm.ErrRecordNotFound {
			user = User{WalletAddress: addr, IsActive: true}
			if err := p.db.Create(&user).Error; err != nil {
				p.logf("failed to create user on deposit: %v", err)
			}
			return nil
		}
		if err != nil {
			p.logf("failed to look up user on deposit: %v", err)
			return nil
		}
		if !user.IsActive {
			p.db.Model(&user).Update("is_active", true)
		}
		return nil
	})
}

func (p *Persister) onWithdrawal(e events.WithdrawalEvent) {
	defer p.recoverAndLog("onWithdrawal")
	p.logf("withdrawal observed: user=%s amount=%s", e.User, e.Amount)
}

func (p *Persister) onInvestmentInitiated(e events.InvestmentInitiatedEvent) {
	defer p.recoverAndLog("onInvestmentInitiated")

	p.keys.With(e.VaultPositionID, func() error {
		addr := strings.ToLower(e.User)
		var user User
		if err := p.db.Where("wallet_address = ?", addr).First(&user).Error; err != nil {
			p.logf("investment initiated for unknown user %s: %v", addr, err)
			return nil
		}

		var pool Pool
		if err := p.db.Where("address = ?", strings.ToLower(e.PoolID)).First(&pool).Error; err != nil {
			p.logf("investment initiated for unknown pool %s: %v", e.PoolID, err)
			return nil
		}

		var existing Position
		err := p.db.Where("vault_position_id = ?", e.VaultPositionID).First(&existing).Error
		if err == nil {
			existing.Status = StatusPendingExecution
			if err := p.db.Save(&existing).Error; err != nil {
				p.logf("failed to reset position %s: %v", e.VaultPositionID, err)
			}
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			p.logf("failed to look up position %s: %v", e.VaultPositionID, err)
			return nil
		}

		position := Position{
			VaultPositionID: e.VaultPositionID,
			UserID:          user.ID,
			PoolID:          pool.ID,
			ChainID:         e.ChainID,
			Amount:          e.Amount,
			Status:          StatusPendingExecution,
			TickLowerBps:    e.TickLowerBps,
			TickUpperBps:    e.TickUpperBps,
		}
		if err := p.db.Create(&position).Error; err != nil {
			p.logf("failed to create position %s: %v", e.VaultPositionID, err)
		}
		return nil
	})
}

func (p *Persister) onPositionExecutionConfirmed(e events.PositionExecutionConfirmedEvent) {
	defer p.recoverAndLog("onPositionExecutionConfirmed")

	p.keys.With(e.VaultPositionID, func() error {
		var position Position
		if err := p.db.Where("vault_position_id = ?", e.VaultPositionID).First(&position).Error; err != nil {
			p.logf("execution confirmed for unknown position %s: %v", e.VaultPositionID, err)
			return nil
		}
		now := time.Now()
		position.Status = StatusActive
		position.ProxyPositionID = e.RemotePositionID
		position.Liquidity = e.Liquidity
		position.ExecutedAt = &now
		if err := p.db.Save(&position).Error; err != nil {
			p.logf("failed to activate position %s: %v", e.VaultPositionID, err)
		}
		return nil
	})
}

func (p *Persister) onPositionLiquidated(e events.PositionLiquidatedEvent) {
	defer p.recoverAndLog("onPositionLiquidated")

	p.keys.With(e.VaultPositionID, func() error {
		var position Position
		if err := p.db.Where("vault_position_id = ?", e.VaultPositionID).First(&position).Error; err != nil {
			p.logf("liquidation for unknown position %s: %v", e.VaultPositionID, err)
			return nil
		}
		now := time.Now()
		position.Status = StatusLiquidated
		position.ReturnedAmount = e.FinalAmount
		position.LiquidatedAt = &now
		if err := p.db.Save(&position).Error; err != nil {
			p.logf("failed to liquidate position %s: %v", e.VaultPositionID, err)
		}
		return nil
	})
}

func (p *Persister) onLiquidationSettled(e events.LiquidationSettledEvent) {
	defer p.recoverAndLog("onLiquidationSettled")

	bps, ok := slippageBps(e.ExpectedAmount, e.ReceivedAmount)
	if ok && bps.Sign() > 0 && p.log != nil {
		p.log.Warnw("settlement slippage observed", "vaultPositionId", e.VaultPositionID, "slippageBps", bps.String())
	}
}

func (p *Persister) onChainAdded(e events.ChainAddedEvent) {
	defer p.recoverAndLog("onChainAdded")
	p.logf("chain added: %d", e.ChainID)
}

func (p *Persister) onXcmMessageSent(e events.XcmMessageSentEvent) {
	defer p.recoverAndLog("onXcmMessageSent")
	p.logf("xcm message sent: %s", e.MessageHash)
}

// --- Proxy handlers ---

func (p *Persister) onAssetsReceived(e events.AssetsReceivedEvent) {
	defer p.recoverAndLog("onAssetsReceived")
	p.logf("assets received for position %s: %s", e.VaultPositionID, e.Amount)
}

func (p *Persister) onPendingPositionCreated(e events.PendingPositionCreatedEvent) {
	defer p.recoverAndLog("onPendingPositionCreated")
	p.logf("pending position created on proxy: %s", e.VaultPositionID)
}

func (p *Persister) onPositionExecuted(e events.PositionExecutedEvent) {
	defer p.recoverAndLog("onPositionExecuted")

	p.keys.With(e.VaultPositionID, func() error {
		var position Position
		if err := p.db.Where("vault_position_id = ?", e.VaultPositionID).First(&position).Error; err != nil {
			return nil // best-effort, Vault side is authoritative
		}
		position.ProxyPositionID = e.ProxyPositionID
		position.Liquidity = e.Liquidity
		if err := p.db.Save(&position).Error; err != nil {
			p.logf("failed to update position %s from proxy execution: %v", e.VaultPositionID, err)
		}
		return nil
	})
}

func (p *Persister) onProxyPositionLiquidated(e events.ProxyPositionLiquidatedEvent) {
	defer p.recoverAndLog("onProxyPositionLiquidated")
	p.logf("proxy position liquidated: %s", e.ProxyPositionID)
}

func (p *Persister) onLiquidationCompleted(e events.LiquidationCompletedEvent) {
	defer p.recoverAndLog("onLiquidationCompleted")
	p.logf("liquidation completed: vaultPositionId=%s proxyPositionId=%s totalBase=%s", e.VaultPositionID, e.ProxyPositionID, e.TotalBase)
}

func (p *Persister) onAssetsReturned(e events.AssetsReturnedEvent) {
	defer p.recoverAndLog("onAssetsReturned")
	p.logf("assets returned for position %s: %s", e.VaultPositionID, e.Amount)
}

func (p *Persister) onPendingPositionCancelled(e events.PendingPositionCancelledEvent) {
	defer p.recoverAndLog("onPendingPositionCancelled")

	p.keys.With(e.VaultPositionID, func() error {
		var position Position
		if err := p.db.Where("vault_position_id = ?", e.VaultPositionID).First(&position).Error; err != nil {
			return nil
		}
		position.Status = StatusFailed
		if err := p.db.Save(&position).Error; err != nil {
			p.logf("failed to fail position %s on cancellation: %v", e.VaultPositionID, err)
		}
		return nil
	})
}

func (p *Persister) logf(format string, args ...interface{}) {
	if p.log == nil {
		return
	}
	p.log.Info(fmt.Sprintf(format, args...))
}

// slippageBps computes (expected-received)/expected in basis points using
// big.Int arithmetic throughout; chain amounts are 256-bit and must never
// be downcast to int64.
func slippageBps(expected, received string) (*big.Int, bool) {
	e, ok1 := new(big.Int).SetString(expected, 10)
	r, ok2 := new(big.Int).SetString(received, 10)
	if !ok1 || !ok2 || e.Sign() == 0 {
		return nil, false
	}
	diff := new(big.Int).Sub(e, r)
	diff.Mul(diff, big.NewInt(10000))
	diff.Quo(diff, e)
	return diff, true
}
