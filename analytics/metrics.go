package analytics

import (
	"context"

	"learnkit/core"
)

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(ctx context.Context, e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(ctx, e)
	}
}

// EventSource is the subscription side of the engine event bus.
type EventSource interface {
	SubscribeAll(handler func(context.Context, core.Event)) func()
}

// Attach subscribes the bridge to every event on src.
func (b *BridgeHook) Attach(src EventSource) func() { return src.SubscribeAll(b.OnEvent) }
