// Package agent invokes the external reasoning agent that does the actual
// thinking: a cheap read-only observer tier for triage and an expensive
// full-access actor tier for intervention. The daemon never reasons about
// system state itself; it only decides when to ask.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/stewardops/steward/internal/types"
)

// ErrSessionExpired reports that the session ID passed for resumption is no
// longer valid on the agent side. Callers retry once with a fresh session;
// any other error is a plain invocation failure.
var ErrSessionExpired = errors.New("agent session expired")

// InvokeRequest is one agent call.
type InvokeRequest struct {
	Tier   types.Tier
	Prompt string

	// SessionID, when non-empty, resumes an existing conversation so the
	// agent keeps its working context across calls.
	SessionID string

	// Timeout overrides the tier's configured timeout when positive.
	Timeout time.Duration
}

// InvokeResult is the agent's terminal response.
type InvokeResult struct {
	Text string

	// SessionID identifies the (possibly new) conversation for the next
	// resume. Empty when the backend does not support sessions.
	SessionID string
}

// Invoker runs one agent call to completion.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error)
}
