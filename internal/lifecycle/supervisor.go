// Package lifecycle owns the daemon's run: startup (including crash
// detection from the previous run), the control loops, and orderly shutdown.
// A single loop serializes polling, dispatching, and message handling, so no
// other package needs locking around the ops log or the rule state.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/dispatch"
	"github.com/stewardops/steward/internal/health"
	"github.com/stewardops/steward/internal/memory"
	"github.com/stewardops/steward/internal/monitor"
	"github.com/stewardops/steward/internal/probe"
	"github.com/stewardops/steward/internal/storage"
	"github.com/stewardops/steward/internal/transport"
	"github.com/stewardops/steward/internal/types"
)

// maxConversationContext bounds the ring of recent non-trigger messages kept
// as context for the next dispatched question.
const maxConversationContext = 10

// Supervisor wires the components together and runs the daemon.
type Supervisor struct {
	cfg        *config.Config
	transport  transport.Transport
	registry   *probe.Registry
	aggregator *health.Aggregator
	engine     *monitor.Engine
	dispatcher *dispatch.Dispatcher
	opsLog     *memory.OpsLog
	store      *storage.Store
	marker     *RunMarker
	log        *logrus.Logger

	lastStatus types.AggregatedStatus
	recent     []string
}

// Deps are the supervisor's collaborators. All fields are required.
type Deps struct {
	Config     *config.Config
	Transport  transport.Transport
	Registry   *probe.Registry
	Aggregator *health.Aggregator
	Engine     *monitor.Engine
	Dispatcher *dispatch.Dispatcher
	OpsLog     *memory.OpsLog
	Store      *storage.Store
	Log        *logrus.Logger
}

// NewSupervisor creates the daemon supervisor.
func NewSupervisor(d Deps) (*Supervisor, error) {
	switch {
	case d.Config == nil:
		return nil, fmt.Errorf("config is required")
	case d.Transport == nil:
		return nil, fmt.Errorf("transport is required")
	case d.Registry == nil:
		return nil, fmt.Errorf("registry is required")
	case d.Aggregator == nil:
		return nil, fmt.Errorf("aggregator is required")
	case d.Engine == nil:
		return nil, fmt.Errorf("engine is required")
	case d.Dispatcher == nil:
		return nil, fmt.Errorf("dispatcher is required")
	case d.OpsLog == nil:
		return nil, fmt.Errorf("ops log is required")
	case d.Store == nil:
		return nil, fmt.Errorf("store is required")
	case d.Log == nil:
		return nil, fmt.Errorf("logger is required")
	}
	return &Supervisor{
		cfg:        d.Config,
		transport:  d.Transport,
		registry:   d.Registry,
		aggregator: d.Aggregator,
		engine:     d.Engine,
		dispatcher: d.Dispatcher,
		opsLog:     d.OpsLog,
		store:      d.Store,
		marker:     NewRunMarker(d.Config.RunMarkerPath()),
		log:        d.Log,
	}, nil
}

// Run executes the daemon until ctx is cancelled. The caller handles
// signals; cancellation here always produces a clean shutdown (marker
// removed, shutdown notice sent).
func (s *Supervisor) Run(ctx context.Context) error {
	crashed, crashedAt := s.marker.CheckStale()
	if err := s.marker.Create(); err != nil {
		return err
	}

	s.lastStatus = s.aggregator.Poll(ctx)
	if err := s.opsLog.ApplyStatus(s.aggregator.StatusSummary(s.lastStatus)); err != nil {
		s.log.Warnf("failed to write initial status: %v", err)
	}

	inbound, err := s.transport.Receive(ctx)
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	s.sendStartupNotice(ctx, crashed, crashedAt)
	if crashed {
		s.analyzeCrash(ctx, crashedAt)
	}

	pollTicker := time.NewTicker(s.cfg.PollInterval())
	defer pollTicker.Stop()

	var deepCh <-chan time.Time
	if s.cfg.DeepCheckInterval() > 0 {
		deepTicker := time.NewTicker(s.cfg.DeepCheckInterval())
		defer deepTicker.Stop()
		deepCh = deepTicker.C
	}

	var cleanupCh <-chan time.Time
	if s.cfg.TempCleanupInterval() > 0 {
		cleanupTicker := time.NewTicker(s.cfg.TempCleanupInterval())
		defer cleanupTicker.Stop()
		cleanupCh = cleanupTicker.C
	}

	s.log.Info("steward running")
	for {
		select {
		case <-ctx.Done():
			return s.shutdown()

		case <-pollTicker.C:
			s.cycle(ctx)

		case <-deepCh:
			s.log.Debug("deep check")
			out := s.dispatcher.Handle(ctx, dispatch.Trigger{Kind: dispatch.TriggerDeepCheck}, s.statusContext())
			s.deliver(ctx, out)

		case <-cleanupCh:
			s.cleanupTemp()

		case msg, ok := <-inbound:
			if !ok {
				// Inbound side is dead (console EOF or transport failure).
				// Outbound may still work, so shut down orderly.
				s.log.Info("inbound transport closed")
				return s.shutdown()
			}
			s.handleMessage(ctx, msg)
		}
	}
}

// cycle is one poll/evaluate/dispatch pass.
func (s *Supervisor) cycle(ctx context.Context) {
	status := s.aggregator.Poll(ctx)
	s.lastStatus = status

	if err := s.opsLog.ApplyStatus(s.aggregator.StatusSummary(status)); err != nil {
		s.log.Warnf("failed to update status section: %v", err)
	}

	events := s.engine.Evaluate(status, time.Now())
	if len(events) == 0 {
		return
	}

	var summaries []string
	for _, e := range events {
		summaries = append(summaries, e.Summary())
		if err := s.store.RecordEvent(ctx, e); err != nil {
			s.log.Warnf("failed to record event: %v", err)
		}
		if err := s.opsLog.AppendEvent(e.Summary()); err != nil {
			s.log.Warnf("failed to append event to ops log: %v", err)
		}
	}
	s.log.WithField("count", len(events)).Info("dispatching detected changes")

	out := s.dispatcher.Handle(ctx, dispatch.Trigger{
		Kind: dispatch.TriggerEvent,
		Text: strings.Join(summaries, "\n"),
	}, s.statusContext())
	s.deliver(ctx, out)
}

// handleMessage routes one inbound chat message: probe commands, trigger
// messages, or silent conversation context.
func (s *Supervisor) handleMessage(ctx context.Context, msg types.InboundMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	// "!<probe> <command>" executes a probe capability directly, no agent
	// involved (e.g. "!obs start_stream").
	if strings.HasPrefix(text, "!") {
		s.runProbeCommand(ctx, text)
		return
	}

	if !s.isTrigger(text) {
		// Kept as context only; next dispatched question includes it.
		s.recent = append(s.recent, fmt.Sprintf("%s: %s", msg.Sender, text))
		if len(s.recent) > maxConversationContext {
			s.recent = s.recent[1:]
		}
		return
	}

	trig := dispatch.Trigger{Kind: dispatch.TriggerMessage, Text: s.withConversation(text)}
	if s.cfg.ActorToken != "" && strings.Contains(strings.ToLower(text), strings.ToLower(s.cfg.ActorToken)) {
		trig.DirectActor = true
		trig.Text = strings.TrimSpace(strings.ReplaceAll(trig.Text, s.cfg.ActorToken, ""))
	}

	out := s.dispatcher.Handle(ctx, trig, s.statusContext())
	s.deliver(ctx, out)
	s.recent = nil
}

func (s *Supervisor) runProbeCommand(ctx context.Context, text string) {
	parts := strings.Fields(strings.TrimPrefix(text, "!"))
	if len(parts) < 2 {
		s.deliver(ctx, types.OutboundMessage{Text: "usage: !<probe> <command>"})
		return
	}
	result, err := s.registry.Execute(ctx, parts[0], parts[1])
	if err != nil {
		s.deliver(ctx, types.OutboundMessage{Text: fmt.Sprintf("command failed: %v", err)})
		return
	}
	s.deliver(ctx, types.OutboundMessage{Text: result.Message})
}

// isTrigger reports whether the message should dispatch to the agent. With
// no trigger token configured every message dispatches.
func (s *Supervisor) isTrigger(text string) bool {
	if s.cfg.TriggerToken == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(s.cfg.TriggerToken))
}

func (s *Supervisor) withConversation(text string) string {
	if len(s.recent) == 0 {
		return text
	}
	return fmt.Sprintf("Recent conversation:\n%s\n\nCurrent message:\n%s",
		strings.Join(s.recent, "\n"), text)
}

func (s *Supervisor) statusContext() string {
	return s.aggregator.StatusSummary(s.lastStatus)
}

func (s *Supervisor) deliver(ctx context.Context, out types.OutboundMessage) {
	if out.Text == "" {
		return
	}
	if err := s.transport.Send(ctx, out.Text); err != nil {
		s.log.Errorf("send failed: %v", err)
	}
}

func (s *Supervisor) sendStartupNotice(ctx context.Context, crashed bool, crashedAt time.Time) {
	var b strings.Builder
	b.WriteString("Steward online.")
	if crashed {
		if crashedAt.IsZero() {
			b.WriteString(" Previous run ended uncleanly.")
		} else {
			fmt.Fprintf(&b, " Previous run (started %s) ended uncleanly.", crashedAt.Format("2006-01-02 15:04"))
		}
	}
	b.WriteString("\n\n")
	b.WriteString(s.aggregator.SummaryLine())

	s.deliver(ctx, types.OutboundMessage{Text: b.String()})

	event := "started"
	if crashed {
		event = "started (recovered from unclean shutdown)"
	}
	if err := s.opsLog.AppendEvent(event); err != nil {
		s.log.Warnf("failed to log startup event: %v", err)
	}
}

// analyzeCrash asks the observer what the previous run's log tail suggests
// went wrong. Best effort; a failed analysis only costs the notice.
func (s *Supervisor) analyzeCrash(ctx context.Context, crashedAt time.Time) {
	tail := s.logTail(4000)
	if tail == "" {
		return
	}
	if err := s.opsLog.AddActiveIssue("investigate unclean shutdown of previous run"); err != nil {
		s.log.Warnf("failed to file crash issue: %v", err)
	}

	text := tail
	if !crashedAt.IsZero() {
		text = fmt.Sprintf("(run started %s)\n%s", crashedAt.Format(time.RFC3339), tail)
	}
	out := s.dispatcher.Handle(ctx, dispatch.Trigger{Kind: dispatch.TriggerCrash, Text: text}, s.statusContext())
	s.deliver(ctx, out)
}

func (s *Supervisor) logTail(maxBytes int) string {
	data, err := os.ReadFile(s.cfg.LogPath())
	if err != nil {
		return ""
	}
	if len(data) > maxBytes {
		data = data[len(data)-maxBytes:]
	}
	return string(data)
}

// cleanupTemp sweeps stale .tmp leftovers from the state dir (interrupted
// atomic writes leave them behind).
func (s *Supervisor) cleanupTemp() {
	matches, err := filepath.Glob(filepath.Join(s.cfg.StateDir, "*.tmp"))
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.Warnf("failed to remove stale temp file %s: %v", path, err)
		} else {
			s.log.WithField("path", path).Debug("removed stale temp file")
		}
	}
}

// shutdown runs the clean-exit sequence. The parent context is already
// cancelled, so final work gets its own bounded one.
func (s *Supervisor) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info("shutting down")
	if err := s.opsLog.AppendEvent("clean shutdown"); err != nil {
		s.log.Warnf("failed to log shutdown event: %v", err)
	}
	if err := s.transport.Send(ctx, "Steward shutting down."); err != nil {
		s.log.Warnf("failed to send shutdown notice: %v", err)
	}
	return s.marker.Remove()
}
