package probe

import (
	"context"
	"time"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

// EngineProbe is the placeholder variant for the rendering engine behind the
// stream. The engine does not expose a metrics endpoint yet; until it does,
// this probe reports itself as not configured so the variant stays wired
// through config and the registry.
type EngineProbe struct {
	cfg config.EngineProbeConfig
}

// NewEngineProbe creates the engine probe.
func NewEngineProbe(cfg config.EngineProbeConfig) *EngineProbe {
	return &EngineProbe{cfg: cfg}
}

// Name implements Probe.
func (p *EngineProbe) Name() string { return "engine" }

// Status implements Probe.
func (p *EngineProbe) Status(ctx context.Context) (types.Snapshot, error) {
	return types.Snapshot{
		Probe:   p.Name(),
		TakenAt: time.Now(),
		Metrics: map[string]any{"configured": false},
	}, nil
}

// Alerts implements Probe.
func (p *EngineProbe) Alerts(types.Snapshot) []types.Alert { return nil }

// SummaryLine implements Probe.
func (p *EngineProbe) SummaryLine() string { return "engine: not configured" }
