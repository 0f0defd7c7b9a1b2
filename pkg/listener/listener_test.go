package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"coordinatorcore/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVaultSubscriber struct {
	mu       sync.Mutex
	installs int
	last     events.VaultHandlers
}

func (f *fakeVaultSubscriber) Subscribe(h events.VaultHandlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs++
	f.last = h
	return nil
}

type fakeProxySubscriber struct {
	mu       sync.Mutex
	installs int
	last     events.ProxyHandlers
}

func (f *fakeProxySubscriber) Subscribe(h events.ProxyHandlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs++
	f.last = h
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestStart_InstallsCurrentHandlerSet(t *testing.T) {
	vault := &fakeVaultSubscriber{}
	proxy := &fakeProxySubscriber{}
	l := New(vault, proxy)

	require.NoError(t, l.RegisterHandlers(events.VaultHandlers{}, events.ProxyHandlers{}))
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	assert.Equal(t, 1, vault.installs)
	assert.Equal(t, 1, proxy.installs)
	assert.True(t, l.GetStats().IsListening)
}

func TestRegisterHandlers_ReinstallsWhileRunning(t *testing.T) {
	vault := &fakeVaultSubscriber{}
	proxy := &fakeProxySubscriber{}
	l := New(vault, proxy)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.NoError(t, l.RegisterHandlers(events.VaultHandlers{}, events.ProxyHandlers{}))
	assert.Equal(t, 2, vault.installs)
	assert.Equal(t, 2, proxy.installs)
}

func TestWrapVaultHandlers_DeliversToInstalledCallback(t *testing.T) {
	vault := &fakeVaultSubscriber{}
	proxy := &fakeProxySubscriber{}
	l := New(vault, proxy)

	var received events.DepositEvent
	var mu sync.Mutex
	require.NoError(t, l.RegisterHandlers(events.VaultHandlers{
		OnDeposit: func(e events.DepositEvent) {
			mu.Lock()
			received = e
			mu.Unlock()
		},
	}, events.ProxyHandlers{}))
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	vault.mu.Lock()
	handlers := vault.last
	vault.mu.Unlock()
	require.NotNil(t, handlers.OnDeposit)

	handlers.OnDeposit(events.DepositEvent{User: "0xabc", Amount: "100"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received.User == "0xabc"
	})

	stats := l.GetStats()
	assert.Equal(t, uint64(1), stats.Counts["Deposit"])
}

func TestWrapVaultHandlers_NilHandlerStaysNil(t *testing.T) {
	vault := &fakeVaultSubscriber{}
	proxy := &fakeProxySubscriber{}
	l := New(vault, proxy)

	require.NoError(t, l.RegisterHandlers(events.VaultHandlers{}, events.ProxyHandlers{}))
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	vault.mu.Lock()
	handlers := vault.last
	vault.mu.Unlock()
	assert.Nil(t, handlers.OnDeposit)
	assert.Nil(t, handlers.OnWithdrawal)
}

func TestEnqueueInfo_DropsOldestWhenFull(t *testing.T) {
	vault := &fakeVaultSubscriber{}
	proxy := &fakeProxySubscriber{}
	l := New(vault, proxy)
	// Do not Start: fill infoCh directly to exercise the drop path in isolation.
	for i := 0; i < infoChannelCapacity; i++ {
		l.infoCh <- func() {}
	}

	l.enqueueInfo("ChainAdded", time.Now(), func() {})

	stats := l.GetStats()
	assert.Equal(t, uint64(1), stats.DroppedInformational)
	assert.Equal(t, uint64(1), stats.Counts["ChainAdded"])
}

func TestResetStats_ClearsCountsButKeepsListeningFlag(t *testing.T) {
	vault := &fakeVaultSubscriber{}
	proxy := &fakeProxySubscriber{}
	l := New(vault, proxy)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	l.recordEvent("Deposit", time.Now())
	l.ResetStats()

	stats := l.GetStats()
	assert.Empty(t, stats.Counts)
	assert.True(t, stats.IsListening)
}

func TestStop_ClearsListeningFlag(t *testing.T) {
	vault := &fakeVaultSubscriber{}
	proxy := &fakeProxySubscriber{}
	l := New(vault, proxy)
	require.NoError(t, l.Start(context.Background()))

	l.Stop()
	assert.False(t, l.GetStats().IsListening)
}
