package dispatch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/stewardops/steward/internal/agent"
	"github.com/stewardops/steward/internal/memory"
	"github.com/stewardops/steward/internal/storage"
	"github.com/stewardops/steward/internal/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// scriptedInvoker answers per tier and records every call.
type scriptedInvoker struct {
	observerText string
	observerErr  error
	actorText    string
	actorErr     error

	// expireOnce makes the first resumed call fail with ErrSessionExpired.
	expireOnce bool

	calls []agent.InvokeRequest
}

func (s *scriptedInvoker) Invoke(_ context.Context, req agent.InvokeRequest) (agent.InvokeResult, error) {
	s.calls = append(s.calls, req)

	if s.expireOnce && req.SessionID != "" {
		s.expireOnce = false
		return agent.InvokeResult{}, fmt.Errorf("resume failed: %w", agent.ErrSessionExpired)
	}

	switch req.Tier {
	case types.TierObserver:
		if s.observerErr != nil {
			return agent.InvokeResult{}, s.observerErr
		}
		return agent.InvokeResult{Text: s.observerText, SessionID: "obs-session"}, nil
	default:
		if s.actorErr != nil {
			return agent.InvokeResult{}, s.actorErr
		}
		return agent.InvokeResult{Text: s.actorText, SessionID: "act-session"}, nil
	}
}

func (s *scriptedInvoker) callsForTier(tier types.Tier) []agent.InvokeRequest {
	var out []agent.InvokeRequest
	for _, c := range s.calls {
		if c.Tier == tier {
			out = append(out, c)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T, inv agent.Invoker, cfg Config) (*Dispatcher, *storage.Store) {
	t.Helper()

	store, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	opsLog, err := memory.NewOpsLog(filepath.Join(t.TempDir(), "ops-log.md"), memory.Options{})
	if err != nil {
		t.Fatalf("NewOpsLog: %v", err)
	}

	d, err := NewDispatcher(inv, store, opsLog, cfg, testLogger())
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d, store
}

func TestActorRunsOnlyOnEscalationMarker(t *testing.T) {
	inv := &scriptedInvoker{observerText: "CPU is elevated but within normal range for an encode job."}
	d, _ := newTestDispatcher(t, inv, Config{})

	out := d.Handle(context.Background(), Trigger{Kind: TriggerMessage, Text: "how's the machine?"}, "status")

	if out.Failed {
		t.Fatalf("unexpected failure: %s", out.Text)
	}
	if out.Tier != types.TierObserver {
		t.Errorf("expected observer attribution, got %s", out.Tier)
	}
	if got := inv.callsForTier(types.TierActor); len(got) != 0 {
		t.Fatalf("actor invoked without escalation marker: %d calls", len(got))
	}
}

func TestEscalationMarkerInvokesActor(t *testing.T) {
	inv := &scriptedInvoker{
		observerText: "Looked at the logs.\nESCALATE: OBS process is down and must be restarted",
		actorText:    "Restarted OBS, stream is back.",
	}
	d, _ := newTestDispatcher(t, inv, Config{})

	out := d.Handle(context.Background(), Trigger{Kind: TriggerEvent, Text: "streaming changed: true -> false"}, "status")

	if out.Tier != types.TierActor {
		t.Fatalf("expected actor reply, got tier %s: %s", out.Tier, out.Text)
	}
	actorCalls := inv.callsForTier(types.TierActor)
	if len(actorCalls) != 1 {
		t.Fatalf("expected 1 actor call, got %d", len(actorCalls))
	}
	if !strings.Contains(actorCalls[0].Prompt, "OBS process is down") {
		t.Error("escalation reason not passed to the actor")
	}
	if !strings.Contains(out.Text, "Restarted OBS") {
		t.Errorf("actor report missing from outbound: %s", out.Text)
	}
}

func TestAllClearSwallowedForRoutineTriggers(t *testing.T) {
	for _, kind := range []TriggerKind{TriggerEvent, TriggerDeepCheck} {
		inv := &scriptedInvoker{observerText: "ALL CLEAR"}
		d, _ := newTestDispatcher(t, inv, Config{})

		out := d.Handle(context.Background(), Trigger{Kind: kind, Text: "x"}, "status")
		if out.Text != "" {
			t.Errorf("%s: all-clear should be swallowed, got %q", kind, out.Text)
		}
	}

	// An operator question always gets an answer, even "ALL CLEAR".
	inv := &scriptedInvoker{observerText: "ALL CLEAR"}
	d, _ := newTestDispatcher(t, inv, Config{})
	out := d.Handle(context.Background(), Trigger{Kind: TriggerMessage, Text: "all good?"}, "status")
	if out.Text == "" {
		t.Error("operator message must always be answered")
	}
}

func TestObserverFailureProducesFailureMessage(t *testing.T) {
	inv := &scriptedInvoker{observerErr: fmt.Errorf("agent observer call timed out after 1m0s")}
	d, _ := newTestDispatcher(t, inv, Config{})

	out := d.Handle(context.Background(), Trigger{Kind: TriggerEvent, Text: "x"}, "status")

	if !out.Failed {
		t.Fatal("expected failure-attributed message")
	}
	if !strings.Contains(out.Text, "timed out") {
		t.Errorf("failure message should carry the cause: %s", out.Text)
	}
	if got := inv.callsForTier(types.TierActor); len(got) != 0 {
		t.Error("actor must not run when the observer failed")
	}
}

func TestActorFailureProducesFailureMessage(t *testing.T) {
	inv := &scriptedInvoker{
		observerText: "ESCALATE: disk filling fast",
		actorErr:     fmt.Errorf("agent CLI failed: exit status 1"),
	}
	d, _ := newTestDispatcher(t, inv, Config{})

	out := d.Handle(context.Background(), Trigger{Kind: TriggerEvent, Text: "x"}, "status")
	if !out.Failed || out.Tier != types.TierActor {
		t.Fatalf("expected actor failure message, got %+v", out)
	}
}

func TestExpiredSessionRetriedFresh(t *testing.T) {
	ctx := context.Background()
	inv := &scriptedInvoker{observerText: "fine", expireOnce: true}
	d, store := newTestDispatcher(t, inv, Config{})

	// Seed a stale session so the first call resumes.
	if err := store.PutSession(ctx, types.Session{Tier: types.TierObserver, SessionID: "stale"}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	out := d.Handle(ctx, Trigger{Kind: TriggerMessage, Text: "hello"}, "status")
	if out.Failed {
		t.Fatalf("expected success after fresh retry: %s", out.Text)
	}

	calls := inv.callsForTier(types.TierObserver)
	if len(calls) != 2 {
		t.Fatalf("expected resume + fresh retry, got %d calls", len(calls))
	}
	if calls[0].SessionID != "stale" || calls[1].SessionID != "" {
		t.Errorf("retry should drop the session id: %+v", calls)
	}

	// The fresh session id replaces the stale record.
	sess, err := store.GetSession(ctx, types.TierObserver)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil || sess.SessionID != "obs-session" {
		t.Errorf("expected new session persisted, got %+v", sess)
	}
}

func TestDirectActorBypassesObserver(t *testing.T) {
	inv := &scriptedInvoker{actorText: "done"}
	d, _ := newTestDispatcher(t, inv, Config{})

	out := d.Handle(context.Background(), Trigger{
		Kind:        TriggerMessage,
		Text:        "restart the stream",
		DirectActor: true,
	}, "status")

	if out.Tier != types.TierActor {
		t.Fatalf("expected actor reply, got %s", out.Tier)
	}
	if got := inv.callsForTier(types.TierObserver); len(got) != 0 {
		t.Error("direct-actor trigger must not invoke the observer")
	}
}

func TestVerifyAppendsVerdict(t *testing.T) {
	inv := &scriptedInvoker{
		observerText: "looks resolved now",
		actorText:    "fixed it",
	}
	d, _ := newTestDispatcher(t, inv, Config{VerifyActions: true})

	out := d.Handle(context.Background(), Trigger{
		Kind:        TriggerMessage,
		Text:        "fix it",
		DirectActor: true,
	}, "status")

	if !strings.Contains(out.Text, "Verification: looks resolved now") {
		t.Errorf("expected verification verdict appended: %s", out.Text)
	}
}

func TestEscalationReasonParsing(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		ok       bool
	}{
		{"plain", "ESCALATE: restart obs", "restart obs", true},
		{"mid response", "I checked.\nESCALATE: disk full\nmore text", "disk full", true},
		{"indented", "  ESCALATE: gpu overheating", "gpu overheating", true},
		{"absent", "all is well", "", false},
		{"mentioned not prefixed", "I would not ESCALATE: this", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := escalationReason(tt.response)
			if ok != tt.ok || got != tt.want {
				t.Errorf("escalationReason(%q) = (%q, %v), want (%q, %v)", tt.response, got, ok, tt.want, tt.ok)
			}
		})
	}
}
