package types

import (
	"fmt"
	"strings"
	"time"
)

// Tier identifies which capability level of the external reasoning agent
// an invocation targets. The observer is cheap and read-only; the actor is
// expensive and has full tool access.
type Tier string

const (
	TierObserver Tier = "observer"
	TierActor    Tier = "actor"
)

// Severity classifies probe-local alerts.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Snapshot is one point-in-time set of metric values from a single probe.
// Values are float64, bool, or string. A Snapshot is immutable once
// returned from a probe.
type Snapshot struct {
	Probe   string
	TakenAt time.Time
	Metrics map[string]any
}

// Alert is a stateless threshold violation derived by a probe from its own
// snapshot. Alerts are surfaced to the current escalation cycle only and
// never persisted.
type Alert struct {
	Metric   string
	Severity Severity
	Message  string
	Source   string
}

// ProbeStatus is one probe's contribution to an aggregated poll. A probe
// that failed or timed out contributes Available=false with the reason, so
// one bad probe never hides the others.
type ProbeStatus struct {
	Available bool
	Err       string
	Metrics   map[string]any
}

// AggregatedStatus merges all probe snapshots from one poll cycle.
type AggregatedStatus struct {
	TakenAt time.Time
	Probes  map[string]ProbeStatus
	Alerts  []Alert
}

// Metric looks up a metric value by name. Dotted names ("obs.streaming")
// address a specific probe; bare names ("streaming") search all available
// probes in unspecified order.
func (s AggregatedStatus) Metric(name string) (any, bool) {
	if s.Probes == nil {
		return nil, false
	}
	if probe, metric, ok := strings.Cut(name, "."); ok {
		ps, found := s.Probes[probe]
		if !found || !ps.Available {
			return nil, false
		}
		v, found := ps.Metrics[metric]
		return v, found
	}
	for _, ps := range s.Probes {
		if !ps.Available {
			continue
		}
		if v, found := ps.Metrics[name]; found {
			return v, true
		}
	}
	return nil, false
}

// EventKind describes which rule condition produced an Event.
type EventKind string

const (
	EventDelta       EventKind = "delta"
	EventAbsolute    EventKind = "absolute"
	EventStateChange EventKind = "state-change"
)

// Event is a decision that a metric change is escalation-worthy. Events are
// produced by the change-detection engine and consumed immediately by the
// escalation dispatcher.
type Event struct {
	ID        string
	Metric    string
	Kind      EventKind
	OldValue  any
	NewValue  any
	Timestamp time.Time
}

// Summary renders the event as a single human-readable line for prompts and
// the ops log.
func (e Event) Summary() string {
	switch e.Kind {
	case EventStateChange:
		return fmt.Sprintf("%s changed: %v -> %v", e.Metric, e.OldValue, e.NewValue)
	case EventAbsolute:
		return fmt.Sprintf("%s crossed threshold: now %v (was %v)", e.Metric, e.NewValue, e.OldValue)
	default:
		return fmt.Sprintf("%s jumped: %v -> %v", e.Metric, e.OldValue, e.NewValue)
	}
}

// InboundMessage is a message received from the chat transport.
type InboundMessage struct {
	Sender    string
	Chat      int64
	Text      string
	Timestamp time.Time
}

// OutboundMessage is the dispatcher's reply, attributed to the tier that
// produced it. Failed marks synthetic messages reporting an invocation
// failure rather than agent output.
type OutboundMessage struct {
	Text   string
	Tier   Tier
	Failed bool
}

// CommandResult reports the outcome of an operator command executed through
// a probe (e.g. "start_stream" on the OBS probe).
type CommandResult struct {
	Success bool
	Message string
}

// Session is the persisted continuity record for one agent tier. Two
// sessions exist at most, one per tier, and they are never shared.
type Session struct {
	Tier       Tier
	SessionID  string
	LastUsedAt time.Time
}
