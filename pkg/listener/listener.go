// Package listener fans the Vault and Proxy clients' event subscriptions
// into two priority channels and dispatches them to whatever handler set
// is currently registered. State-mutating events (anything that writes a
// Position or User row, or drives settlement) block the upstream poll loop
// on a full channel;
// informational events drop the oldest entry instead (spec §5).
package listener

import (
	"context"
	"sync"
	"time"

	"coordinatorcore/pkg/events"
)

const (
	stateChannelCapacity = 256
	infoChannelCapacity  = 256
)

// VaultSubscriber is the subset of pkg/vaultclient.Client this package
// depends on.
type VaultSubscriber interface {
	Subscribe(events.VaultHandlers) error
}

// ProxySubscriber mirrors VaultSubscriber for the execution chain.
type ProxySubscriber interface {
	Subscribe(events.ProxyHandlers) error
}

// Stats is a point-in-time snapshot; GetStats returns a deep copy so
// callers can read it without holding the listener's lock.
type Stats struct {
	Counts               map[string]uint64
	LastEventTime        time.Time
	IsListening          bool
	DroppedInformational uint64
}

func (s Stats) clone() Stats {
	counts := make(map[string]uint64, len(s.Counts))
	for k, v := range s.Counts {
		counts[k] = v
	}
	return Stats{
		Counts:               counts,
		LastEventTime:        s.LastEventTime,
		IsListening:          s.IsListening,
		DroppedInformational: s.DroppedInformational,
	}
}

// Listener owns both chain subscriptions and dispatches their events
// through bounded priority channels to the currently registered handlers.
type Listener struct {
	vault VaultSubscriber
	proxy ProxySubscriber

	mu            sync.Mutex
	vaultHandlers events.VaultHandlers
	proxyHandlers events.ProxyHandlers
	listening     bool
	cancelDispatch context.CancelFunc

	statsMu sync.Mutex
	stats   Stats

	stateCh chan func()
	infoCh  chan func()
}

func New(vault VaultSubscriber, proxy ProxySubscriber) *Listener {
	return &Listener{
		vault:   vault,
		proxy:   proxy,
		stats:   Stats{Counts: make(map[string]uint64)},
		stateCh: make(chan func(), stateChannelCapacity),
		infoCh:  make(chan func(), infoChannelCapacity),
	}
}

// RegisterHandlers replaces the current callback set. If the listener is
// already running, subscriptions are reinstalled immediately.
func (l *Listener) RegisterHandlers(vault events.VaultHandlers, proxy events.ProxyHandlers) error {
	l.mu.Lock()
	l.vaultHandlers = vault
	l.proxyHandlers = proxy
	running := l.listening
	l.mu.Unlock()

	if running {
		return l.installSubscriptions()
	}
	return nil
}

// Start begins dispatching and installs the current handler set on both
// chain clients. Calling Start while already running is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.listening {
		l.mu.Unlock()
		return nil
	}
	l.listening = true
	dispatchCtx, cancel := context.WithCancel(ctx)
	l.cancelDispatch = cancel
	l.mu.Unlock()

	go l.dispatchLoop(dispatchCtx)

	if err := l.installSubscriptions(); err != nil {
		l.Stop()
		return err
	}

	l.statsMu.Lock()
	l.stats.IsListening = true
	l.statsMu.Unlock()
	return nil
}

// Stop halts dispatch. Subscriptions on the chain clients themselves are
// left installed; a later Start reuses whatever handler set was last
// registered.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.listening = false
	cancel := l.cancelDispatch
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	l.statsMu.Lock()
	l.stats.IsListening = false
	l.statsMu.Unlock()
}

func (l *Listener) GetStats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats.clone()
}

func (l *Listener) ResetStats() {
	l.statsMu.Lock()
	l.stats = Stats{Counts: make(map[string]uint64), IsListening: l.stats.IsListening}
	l.statsMu.Unlock()
}

func (l *Listener) installSubscriptions() error {
	l.mu.Lock()
	vh := l.vaultHandlers
	ph := l.proxyHandlers
	l.mu.Unlock()

	if err := l.vault.Subscribe(l.wrapVaultHandlers(vh)); err != nil {
		return err
	}
	return l.proxy.Subscribe(l.wrapProxyHandlers(ph))
}

// dispatchLoop drains stateCh ahead of infoCh whenever both have work
// waiting, without starving infoCh when stateCh sits empty.
func (l *Listener) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.stateCh:
			fn()
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case fn := <-l.stateCh:
			fn()
		case fn := <-l.infoCh:
			fn()
		}
	}
}

func (l *Listener) recordEvent(kind string, at time.Time) {
	l.statsMu.Lock()
	l.stats.Counts[kind]++
	l.stats.LastEventTime = at
	l.statsMu.Unlock()
}

// enqueueState blocks the caller (the chain client's poll loop) when the
// channel is full rather than ever dropping a state-mutating event.
func (l *Listener) enqueueState(kind string, at time.Time, fn func()) {
	l.recordEvent(kind, at)
	l.stateCh <- fn
}

// enqueueInfo drops the oldest queued informational event to make room
// for the new one when the channel is full, counting the drop.
func (l *Listener) enqueueInfo(kind string, at time.Time, fn func()) {
	l.recordEvent(kind, at)
	select {
	case l.infoCh <- fn:
		return
	default:
	}

	select {
	case <-l.infoCh:
		l.statsMu.Lock()
		l.stats.DroppedInformational++
		l.statsMu.Unlock()
	default:
	}

	select {
	case l.infoCh <- fn:
	default:
	}
}

// wrapVaultHandlers installs stats/priority wrapping around whatever
// handler set the caller registered; a nil field stays nil so the
// underlying client still skips decoding cost for kinds nobody wants.
func (l *Listener) wrapVaultHandlers(h events.VaultHandlers) events.VaultHandlers {
	var wrapped events.VaultHandlers

	if fn := h.OnDeposit; fn != nil {
		wrapped.OnDeposit = func(e events.DepositEvent) {
			l.enqueueState("Deposit", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnWithdrawal; fn != nil {
		wrapped.OnWithdrawal = func(e events.WithdrawalEvent) {
			l.enqueueInfo("Withdrawal", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnInvestmentInitiated; fn != nil {
		wrapped.OnInvestmentInitiated = func(e events.InvestmentInitiatedEvent) {
			l.enqueueState("InvestmentInitiated", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnPositionExecutionConfirmed; fn != nil {
		wrapped.OnPositionExecutionConfirmed = func(e events.PositionExecutionConfirmedEvent) {
			l.enqueueState("PositionExecutionConfirmed", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnPositionLiquidated; fn != nil {
		wrapped.OnPositionLiquidated = func(e events.PositionLiquidatedEvent) {
			l.enqueueState("PositionLiquidated", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnLiquidationSettled; fn != nil {
		wrapped.OnLiquidationSettled = func(e events.LiquidationSettledEvent) {
			l.enqueueInfo("LiquidationSettled", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnChainAdded; fn != nil {
		wrapped.OnChainAdded = func(e events.ChainAddedEvent) {
			l.enqueueInfo("ChainAdded", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnXcmMessageSent; fn != nil {
		wrapped.OnXcmMessageSent = func(e events.XcmMessageSentEvent) {
			l.enqueueInfo("XcmMessageSent", time.Now(), func() { fn(e) })
		}
	}

	return wrapped
}

func (l *Listener) wrapProxyHandlers(h events.ProxyHandlers) events.ProxyHandlers {
	var wrapped events.ProxyHandlers

	if fn := h.OnAssetsReceived; fn != nil {
		wrapped.OnAssetsReceived = func(e events.AssetsReceivedEvent) {
			l.enqueueInfo("AssetsReceived", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnPendingPositionCreated; fn != nil {
		wrapped.OnPendingPositionCreated = func(e events.PendingPositionCreatedEvent) {
			l.enqueueInfo("PendingPositionCreated", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnPositionExecuted; fn != nil {
		wrapped.OnPositionExecuted = func(e events.PositionExecutedEvent) {
			l.enqueueState("PositionExecuted", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnPositionLiquidated; fn != nil {
		wrapped.OnPositionLiquidated = func(e events.ProxyPositionLiquidatedEvent) {
			l.enqueueInfo("ProxyPositionLiquidated", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnLiquidationCompleted; fn != nil {
		wrapped.OnLiquidationCompleted = func(e events.LiquidationCompletedEvent) {
			l.enqueueState("LiquidationCompleted", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnAssetsReturned; fn != nil {
		wrapped.OnAssetsReturned = func(e events.AssetsReturnedEvent) {
			l.enqueueInfo("AssetsReturned", time.Now(), func() { fn(e) })
		}
	}
	if fn := h.OnPendingPositionCancelled; fn != nil {
		wrapped.OnPendingPositionCancelled = func(e events.PendingPositionCancelledEvent) {
			l.enqueueState("PendingPositionCancelled", time.Now(), func() { fn(e) })
		}
	}

	return wrapped
}
