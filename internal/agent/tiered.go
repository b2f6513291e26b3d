package agent

import (
	"context"
	"fmt"

	"github.com/stewardops/steward/internal/types"
)

// TieredInvoker routes each tier to its own backend. Used when the observer
// runs over the API while the actor still needs the CLI for tool execution.
type TieredInvoker struct {
	observer Invoker
	actor    Invoker
}

// NewTieredInvoker creates a per-tier router.
func NewTieredInvoker(observer, actor Invoker) (*TieredInvoker, error) {
	if observer == nil || actor == nil {
		return nil, fmt.Errorf("both tier invokers are required")
	}
	return &TieredInvoker{observer: observer, actor: actor}, nil
}

// Invoke implements Invoker.
func (t *TieredInvoker) Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error) {
	switch req.Tier {
	case types.TierObserver:
		return t.observer.Invoke(ctx, req)
	case types.TierActor:
		return t.actor.Invoke(ctx, req)
	default:
		return InvokeResult{}, fmt.Errorf("unknown tier %q", req.Tier)
	}
}
