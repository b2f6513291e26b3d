// Package monitor implements the change-detection engine: stateful,
// cooldown-aware rules that decide whether a metric change is interesting
// enough to escalate. This is deliberately separate from probe-local alerts:
// alerts answer "is this bad right now" statelessly, the engine answers
// "is this new" with memory, so static badness doesn't re-escalate every
// poll cycle.
package monitor

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

// ruleState is the engine's only memory for one metric: the last observed
// value and the last time its rule fired. In-memory only; a restart starts
// cold (with cold-start suppression covering the gap).
type ruleState struct {
	lastValue       any
	hasValue        bool
	lastTriggeredAt time.Time
}

// Engine evaluates successive aggregated statuses against the configured
// rules. It is not safe for concurrent use; the control loop is the only
// caller.
type Engine struct {
	rules     map[string]config.Rule
	states    map[string]*ruleState
	startedAt time.Time
	grace     time.Duration
	log       *logrus.Logger
}

// Options holds engine construction options.
type Options struct {
	// StartupGrace suppresses all events for this long after construction,
	// so a daemon restart doesn't replay a burst of stale-looking changes.
	StartupGrace time.Duration
}

// NewEngine creates a change-detection engine from the configured rule set.
// There is at most one rule per metric by construction (map key).
func NewEngine(rules map[string]config.Rule, opts Options, log *logrus.Logger) *Engine {
	return &Engine{
		rules:     rules,
		states:    make(map[string]*ruleState),
		startedAt: time.Now(),
		grace:     opts.StartupGrace,
		log:       log,
	}
}

// Evaluate compares current against the engine's per-metric state and
// returns the events whose rules fired. Per metric and cycle at most one
// event is emitted, picking the first firing kind in priority order
// state-change > absolute > delta. The very first observation of a metric
// only initializes its state and never fires, whatever the value.
func (e *Engine) Evaluate(current types.AggregatedStatus, now time.Time) []types.Event {
	inGrace := e.grace > 0 && now.Sub(e.startedAt) < e.grace

	var events []types.Event
	for _, metric := range e.sortedRuleMetrics() {
		rule := e.rules[metric]
		value, ok := current.Metric(metric)
		if !ok {
			continue
		}

		state, seen := e.states[metric]
		if !seen {
			state = &ruleState{}
			e.states[metric] = state
		}

		if state.hasValue && !inGrace {
			if kind, fired := e.firingKind(rule, state.lastValue, value); fired {
				if now.Sub(state.lastTriggeredAt) >= rule.Cooldown() {
					events = append(events, types.Event{
						ID:        uuid.NewString(),
						Metric:    metric,
						Kind:      kind,
						OldValue:  state.lastValue,
						NewValue:  value,
						Timestamp: now,
					})
					state.lastTriggeredAt = now
					e.log.WithFields(logrus.Fields{
						"metric": metric,
						"kind":   kind,
					}).Infof("change detected: %v -> %v", state.lastValue, value)
				} else {
					e.log.WithField("metric", metric).Debug("change suppressed by cooldown")
				}
			}
		}

		// Last value always tracks the latest observation, fired or not,
		// so drift never accumulates silently.
		state.lastValue = value
		state.hasValue = true
	}

	return events
}

// firingKind returns the first rule condition that fires, in priority order.
// At most one kind fires per metric per cycle so a single change cannot
// produce duplicate escalations.
func (e *Engine) firingKind(rule config.Rule, last, current any) (types.EventKind, bool) {
	if rule.TriggerOnStateChange && isStateLike(current) {
		if !valuesEqual(last, current) {
			return types.EventStateChange, true
		}
		return "", false
	}

	curNum, curOK := asFloat(current)
	lastNum, lastOK := asFloat(last)
	if !curOK || !lastOK {
		return "", false
	}

	// Absolute threshold fires on the crossing only, never while the value
	// merely stays beyond it.
	if rule.AbsoluteThreshold != 0 && lastNum <= rule.AbsoluteThreshold && curNum > rule.AbsoluteThreshold {
		return types.EventAbsolute, true
	}

	if rule.DeltaThreshold > 0 && abs(curNum-lastNum) >= rule.DeltaThreshold {
		return types.EventDelta, true
	}

	return "", false
}

// sortedRuleMetrics returns rule metric names in a stable order so event
// emission order is deterministic across cycles.
func (e *Engine) sortedRuleMetrics() []string {
	metrics := make([]string, 0, len(e.rules))
	for m := range e.rules {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	return metrics
}

// isStateLike reports whether a value participates in state-change rules:
// booleans and strings (discrete states), never numerics.
func isStateLike(v any) bool {
	switch v.(type) {
	case bool, string:
		return true
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
