// Package dispatch implements tiered escalation. Every trigger goes to the
// cheap read-only observer first; only when the observer's response opens
// with the escalation marker does the expensive full-access actor run. The
// two tiers hold independent resumable sessions so the actor keeps its
// intervention history even though it runs rarely.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stewardops/steward/internal/agent"
	"github.com/stewardops/steward/internal/memory"
	"github.com/stewardops/steward/internal/storage"
	"github.com/stewardops/steward/internal/types"
)

// EscalationMarker is the prefix the observer uses to hand off to the actor.
// Everything after it is the reason the actor receives.
const EscalationMarker = "ESCALATE:"

// allClearResponse is what the observer answers when a routine check finds
// nothing worth reporting. Such responses to event and deep-check triggers
// are swallowed rather than sent, so the chat only carries signal.
const allClearResponse = "ALL CLEAR"

// TriggerKind says why the dispatcher is being invoked.
type TriggerKind string

const (
	TriggerEvent     TriggerKind = "event"      // change-detection engine fired
	TriggerMessage   TriggerKind = "message"    // operator asked something
	TriggerDeepCheck TriggerKind = "deep_check" // periodic forced observation
	TriggerCrash     TriggerKind = "crash"      // previous run died uncleanly
)

// Trigger is one escalation request.
type Trigger struct {
	Kind TriggerKind

	// Text is the trigger payload: event summaries, the operator's message,
	// or the crash log tail.
	Text string

	// DirectActor skips the observer and goes straight to the actor. Set
	// when the operator used the direct-actor token.
	DirectActor bool
}

// Dispatcher routes triggers through the observe/act tiers.
type Dispatcher struct {
	invoker agent.Invoker
	store   *storage.Store
	opsLog  *memory.OpsLog
	log     *logrus.Logger

	// verifyActions re-observes after every actor intervention and appends
	// the verification verdict to the outbound text.
	verifyActions bool
}

// Config holds dispatcher configuration.
type Config struct {
	VerifyActions bool
}

// NewDispatcher creates an escalation dispatcher.
func NewDispatcher(invoker agent.Invoker, store *storage.Store, opsLog *memory.OpsLog, cfg Config, log *logrus.Logger) (*Dispatcher, error) {
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opsLog == nil {
		return nil, fmt.Errorf("ops log is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Dispatcher{
		invoker:       invoker,
		store:         store,
		opsLog:        opsLog,
		log:           log,
		verifyActions: cfg.VerifyActions,
	}, nil
}

// Handle runs one trigger to completion and returns the message to send.
// An empty Text means nothing should be sent (a swallowed all-clear).
// Invocation failures never propagate; they come back as a failure-attributed
// message so the operator learns the assistant itself is degraded.
func (d *Dispatcher) Handle(ctx context.Context, trig Trigger, statusContext string) types.OutboundMessage {
	if trig.DirectActor {
		return d.act(ctx, trig, statusContext, "operator requested direct action: "+trig.Text)
	}

	observed, err := d.invokeWithSession(ctx, types.TierObserver, d.observerPrompt(trig, statusContext))
	if err != nil {
		d.log.WithField("trigger", trig.Kind).Errorf("observer invocation failed: %v", err)
		return types.OutboundMessage{
			Text:   fmt.Sprintf("(assistant degraded: observer check failed: %v)", err),
			Tier:   types.TierObserver,
			Failed: true,
		}
	}

	if reason, escalated := escalationReason(observed); escalated {
		d.log.WithField("reason", firstLine(reason)).Info("observer escalated to actor")
		return d.act(ctx, trig, statusContext, reason)
	}

	if isAllClear(observed) && (trig.Kind == TriggerEvent || trig.Kind == TriggerDeepCheck) {
		d.log.WithField("trigger", trig.Kind).Debug("observer reported all clear, swallowing")
		return types.OutboundMessage{Tier: types.TierObserver}
	}

	return types.OutboundMessage{Text: observed, Tier: types.TierObserver}
}

// act runs the actor tier, optionally followed by a verification pass.
func (d *Dispatcher) act(ctx context.Context, trig Trigger, statusContext, reason string) types.OutboundMessage {
	response, err := d.invokeWithSession(ctx, types.TierActor, d.actorPrompt(trig, statusContext, reason))
	if err != nil {
		d.log.WithField("trigger", trig.Kind).Errorf("actor invocation failed: %v", err)
		return types.OutboundMessage{
			Text:   fmt.Sprintf("(assistant degraded: escalation to actor failed: %v)", err),
			Tier:   types.TierActor,
			Failed: true,
		}
	}

	if d.verifyActions {
		verdict, err := d.invokeWithSession(ctx, types.TierObserver, d.verifyPrompt(reason, response))
		if err != nil {
			d.log.Warnf("post-action verification failed: %v", err)
			response += "\n\n(verification unavailable)"
		} else {
			response += "\n\nVerification: " + verdict
		}
	}

	return types.OutboundMessage{Text: response, Tier: types.TierActor}
}

// invokeWithSession resumes the tier's stored session, retrying once with a
// fresh session when the old one has expired. The stored record is updated
// only after a successful call.
func (d *Dispatcher) invokeWithSession(ctx context.Context, tier types.Tier, prompt string) (string, error) {
	sess, err := d.store.GetSession(ctx, tier)
	if err != nil {
		d.log.Warnf("failed to load %s session, starting fresh: %v", tier, err)
		sess = nil
	}

	req := agent.InvokeRequest{Tier: tier, Prompt: prompt}
	if sess != nil {
		req.SessionID = sess.SessionID
	}

	result, err := d.invoker.Invoke(ctx, req)
	if errors.Is(err, agent.ErrSessionExpired) {
		d.log.WithField("tier", tier).Info("session expired, retrying with fresh session")
		if clearErr := d.store.ClearSession(ctx, tier); clearErr != nil {
			d.log.Warnf("failed to clear expired %s session: %v", tier, clearErr)
		}
		req.SessionID = ""
		result, err = d.invoker.Invoke(ctx, req)
	}
	if err != nil {
		return "", err
	}

	if result.SessionID != "" {
		if putErr := d.store.PutSession(ctx, types.Session{
			Tier:       tier,
			SessionID:  result.SessionID,
			LastUsedAt: time.Now(),
		}); putErr != nil {
			d.log.Warnf("failed to persist %s session: %v", tier, putErr)
		}
	}

	return result.Text, nil
}

func (d *Dispatcher) observerPrompt(trig Trigger, statusContext string) string {
	opsLog := d.opsLogText()

	var b strings.Builder
	b.WriteString("You are the monitoring observer for this machine. ")
	b.WriteString("You have read-only access; you diagnose, you do not fix.\n\n")
	b.WriteString(opsLog)
	b.WriteString("\n\n")
	b.WriteString(statusContext)
	b.WriteString("\n\n")

	switch trig.Kind {
	case TriggerEvent:
		b.WriteString("Detected changes:\n")
		b.WriteString(trig.Text)
		b.WriteString("\n\nAssess whether these changes need attention.")
	case TriggerDeepCheck:
		b.WriteString("This is a periodic deep check. Review the status above for anything developing.")
	case TriggerCrash:
		b.WriteString("The previous assistant run ended without a clean shutdown. Log tail from that run:\n")
		b.WriteString(trig.Text)
		b.WriteString("\n\nAssess what likely happened.")
	default:
		b.WriteString("Operator message:\n")
		b.WriteString(trig.Text)
	}

	b.WriteString("\n\nIf intervention on the machine is required, respond with a single message starting with \"")
	b.WriteString(EscalationMarker)
	b.WriteString("\" followed by what needs doing and why.\n")
	b.WriteString("If everything is fine and there is nothing worth reporting, respond with exactly \"")
	b.WriteString(allClearResponse)
	b.WriteString("\".\nOtherwise answer concisely (this is read on a phone).")
	return b.String()
}

func (d *Dispatcher) actorPrompt(trig Trigger, statusContext, reason string) string {
	var b strings.Builder
	b.WriteString("You are the operations actor for this machine, with full tool access. ")
	b.WriteString("Investigate and fix the issue below, then report what you did.\n\n")
	b.WriteString(d.opsLogText())
	b.WriteString("\n\n")
	b.WriteString(statusContext)
	b.WriteString("\n\nEscalation reason:\n")
	b.WriteString(reason)
	if trig.Kind == TriggerMessage {
		b.WriteString("\n\nOriginal operator message:\n")
		b.WriteString(trig.Text)
	}
	b.WriteString("\n\nUpdate the ops log's Active Issues section if you open or resolve an issue. ")
	b.WriteString("Keep your report concise (this is read on a phone).")
	return b.String()
}

func (d *Dispatcher) verifyPrompt(reason, actorReport string) string {
	return fmt.Sprintf(`The actor just intervened on this machine.

Reason for intervention:
%s

Actor's report:
%s

Check the current state read-only and answer in one or two sentences whether the intervention actually resolved the issue.`, reason, actorReport)
}

func (d *Dispatcher) opsLogText() string {
	text, err := d.opsLog.Render()
	if err != nil {
		d.log.Warnf("failed to render ops log for prompt: %v", err)
		return "(ops log unavailable)"
	}
	return text
}

// escalationReason scans the observer's response for the escalation marker
// and returns everything after it. The marker is honored at the start of any
// line, not only the first, since models often preface it.
func escalationReason(response string) (string, bool) {
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, EscalationMarker) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, EscalationMarker)), true
		}
	}
	return "", false
}

func isAllClear(response string) bool {
	return strings.EqualFold(strings.TrimSpace(response), allClearResponse)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
