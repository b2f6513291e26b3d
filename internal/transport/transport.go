// Package transport carries the chat between the operator and the daemon.
// Implementations are dumb pipes: trigger-token filtering and conversation
// buffering belong to the lifecycle loop, not here.
package transport

import (
	"context"

	"github.com/stewardops/steward/internal/types"
)

// Transport is a bidirectional message channel to the operator.
type Transport interface {
	// Receive starts delivering inbound messages. The channel closes when
	// ctx is cancelled or the transport dies.
	Receive(ctx context.Context) (<-chan types.InboundMessage, error)

	// Send delivers one outbound text to the operator.
	Send(ctx context.Context, text string) error
}
