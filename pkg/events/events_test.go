package events

import "testing"

func TestMergeProxyHandlers_CallsAllRegisteredCallbacksForSameField(t *testing.T) {
	var calls []string
	a := ProxyHandlers{OnLiquidationCompleted: func(LiquidationCompletedEvent) { calls = append(calls, "a") }}
	b := ProxyHandlers{OnLiquidationCompleted: func(LiquidationCompletedEvent) { calls = append(calls, "b") }}

	merged := MergeProxyHandlers(a, b)
	merged.OnLiquidationCompleted(LiquidationCompletedEvent{})

	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("expected both handlers called in order, got %v", calls)
	}
}

func TestMergeProxyHandlers_LeavesUnregisteredFieldsNil(t *testing.T) {
	a := ProxyHandlers{OnAssetsReceived: func(AssetsReceivedEvent) {}}

	merged := MergeProxyHandlers(a)

	if merged.OnLiquidationCompleted != nil {
		t.Fatal("expected OnLiquidationCompleted to stay nil when no set registers it")
	}
	if merged.OnAssetsReceived == nil {
		t.Fatal("expected OnAssetsReceived to be set")
	}
}

func TestMergeProxyHandlers_EmptyInputProducesAllNilHandlers(t *testing.T) {
	merged := MergeProxyHandlers()

	if merged.OnAssetsReceived != nil || merged.OnLiquidationCompleted != nil {
		t.Fatal("expected all-nil handlers for no input sets")
	}
}
