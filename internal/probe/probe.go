// Package probe defines the probe contract and the closed set of probe
// variants. A probe produces a point-in-time snapshot of one subsystem,
// derives stateless alerts from it, and renders a one-line digest for agent
// prompts. Variants are enumerated here and registered from config at
// startup; there is no open-ended plugin mechanism.
package probe

import (
	"context"
	"fmt"
	"sync"

	"github.com/stewardops/steward/internal/types"
)

// Probe is the capability interface every variant implements. Status must
// respect ctx cancellation and return promptly; the aggregator wraps each
// call in its own timeout, and a probe that overruns it is reported as
// degraded for that cycle.
type Probe interface {
	// Name returns the unique identifier for this probe.
	Name() string

	// Status returns a fresh snapshot of the monitored subsystem.
	Status(ctx context.Context) (types.Snapshot, error)

	// Alerts derives threshold violations from a snapshot. Stateless: the
	// same snapshot always yields the same alerts.
	Alerts(snap types.Snapshot) []types.Alert

	// SummaryLine renders a one-line digest of the most recent snapshot for
	// inclusion in agent prompts.
	SummaryLine() string
}

// Executor is the optional command capability. Probes that can act on their
// subsystem (e.g. the OBS probe starting a stream) implement it.
type Executor interface {
	Execute(ctx context.Context, command string) (types.CommandResult, error)
}

// Registry holds the registered probes in registration order. The order is
// fixed so summary digests and startup notices are stable.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe
	order  []string
}

// NewRegistry creates an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register adds a probe. Duplicate names are rejected.
func (r *Registry) Register(p Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.probes[name]; exists {
		return fmt.Errorf("probe %q already registered", name)
	}
	r.probes[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns a registered probe by name.
func (r *Registry) Get(name string) (Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.probes[name]
	return p, ok
}

// List returns all probes in registration order.
func (r *Registry) List() []Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Probe, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.probes[name])
	}
	return out
}

// Names returns the registered probe names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Execute runs a command on a named probe. Probes without the Executor
// capability report failure rather than erroring, so agent tool use gets a
// message it can relay.
func (r *Registry) Execute(ctx context.Context, probeName, command string) (types.CommandResult, error) {
	p, ok := r.Get(probeName)
	if !ok {
		return types.CommandResult{Message: fmt.Sprintf("probe %q not found", probeName)}, nil
	}
	exec, ok := p.(Executor)
	if !ok {
		return types.CommandResult{Message: fmt.Sprintf("probe %q does not support commands", probeName)}, nil
	}
	return exec.Execute(ctx, command)
}
