// Package health aggregates probe snapshots into a single status object per
// poll cycle. The aggregator is read-only: it never writes the ops log or
// any other state, so the single-writer discipline on the memory document
// stays with the caller.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stewardops/steward/internal/probe"
	"github.com/stewardops/steward/internal/types"
)

// Aggregator polls every registered probe on demand and merges the results.
type Aggregator struct {
	registry     *probe.Registry
	probeTimeout time.Duration
	log          *logrus.Logger
}

// Config holds aggregator configuration.
type Config struct {
	// ProbeTimeout bounds each individual probe poll so one stalled probe
	// cannot stall the cycle. Default: 10 seconds.
	ProbeTimeout time.Duration
}

// NewAggregator creates a health aggregator over a probe registry.
func NewAggregator(registry *probe.Registry, cfg Config, log *logrus.Logger) (*Aggregator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Aggregator{
		registry:     registry,
		probeTimeout: timeout,
		log:          log,
	}, nil
}

// Poll takes a snapshot from every probe. A probe that errors, panics, or
// exceeds its timeout contributes a degraded entry; the other probes are
// unaffected. Alerts from all healthy probes are concatenated in
// registration order.
func (a *Aggregator) Poll(ctx context.Context) types.AggregatedStatus {
	status := types.AggregatedStatus{
		TakenAt: time.Now(),
		Probes:  make(map[string]types.ProbeStatus),
	}

	for _, p := range a.registry.List() {
		snap, err := a.pollOne(ctx, p)
		if err != nil {
			a.log.WithField("probe", p.Name()).Warnf("probe poll failed: %v", err)
			status.Probes[p.Name()] = types.ProbeStatus{Available: false, Err: err.Error()}
			continue
		}
		status.Probes[p.Name()] = types.ProbeStatus{Available: true, Metrics: snap.Metrics}
		status.Alerts = append(status.Alerts, p.Alerts(snap)...)
	}

	return status
}

// pollOne runs a single probe under its own timeout, converting panics into
// errors so a buggy probe degrades instead of taking the daemon down.
func (a *Aggregator) pollOne(ctx context.Context, p probe.Probe) (snap types.Snapshot, err error) {
	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	type result struct {
		snap types.Snapshot
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		s, e := p.Status(ctx)
		ch <- result{snap: s, err: e}
	}()

	select {
	case <-ctx.Done():
		return types.Snapshot{}, fmt.Errorf("timed out after %v", a.probeTimeout)
	case r := <-ch:
		return r.snap, r.err
	}
}

// SummaryLine returns a fixed-order one-line-per-probe digest for agent
// prompts and startup notices.
func (a *Aggregator) SummaryLine() string {
	var lines []string
	for _, p := range a.registry.List() {
		lines = append(lines, "- "+p.SummaryLine())
	}
	return strings.Join(lines, "\n")
}

// StatusSummary renders the digest plus any active alerts, the block that
// goes verbatim into observer prompts.
func (a *Aggregator) StatusSummary(status types.AggregatedStatus) string {
	var b strings.Builder
	b.WriteString("## Current System Status\n")
	b.WriteString(a.SummaryLine())
	if len(status.Alerts) == 0 {
		b.WriteString("\n\n## Active Alerts: None")
		return b.String()
	}
	b.WriteString("\n\n## Active Alerts\n")
	for i, alert := range status.Alerts {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [%s] %s", alert.Severity, alert.Message)
	}
	return b.String()
}
