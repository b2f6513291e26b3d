package agent

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		Binary:     "claude",
		WorkingDir: ".",
		Observer: config.TierConfig{
			Model:        "haiku",
			TimeoutSec:   60,
			MaxTurns:     10,
			AllowedTools: []string{"Read", "Glob", "Grep"},
		},
		Actor: config.TierConfig{
			Model:        "opus",
			TimeoutSec:   120,
			MaxTurns:     30,
			AllowedTools: []string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"},
		},
	}
}

func TestBuildArgsPerTier(t *testing.T) {
	inv, err := NewCLIInvoker(testAgentConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewCLIInvoker: %v", err)
	}

	obs := inv.buildArgs(inv.cfg.Observer, InvokeRequest{Tier: types.TierObserver, Prompt: "check"})
	joined := strings.Join(obs, " ")
	if !strings.Contains(joined, "--model haiku") {
		t.Errorf("observer model missing: %v", obs)
	}
	if !strings.Contains(joined, "--allowedTools Read,Glob,Grep") {
		t.Errorf("observer tool set wrong: %v", obs)
	}
	if strings.Contains(joined, "Bash") {
		t.Error("observer must never get Bash")
	}
	if strings.Contains(joined, "--resume") {
		t.Error("no resume flag without a session id")
	}

	act := inv.buildArgs(inv.cfg.Actor, InvokeRequest{
		Tier:      types.TierActor,
		Prompt:    "fix it",
		SessionID: "sess-9",
	})
	joined = strings.Join(act, " ")
	if !strings.Contains(joined, "--model opus") {
		t.Errorf("actor model missing: %v", act)
	}
	if !strings.Contains(joined, "Bash") {
		t.Error("actor should carry the full tool set")
	}
	if !strings.Contains(joined, "--resume sess-9") {
		t.Errorf("resume flag missing: %v", act)
	}
	if !strings.Contains(joined, "--output-format json") {
		t.Errorf("json output required for session extraction: %v", act)
	}
}

func TestSessionExpiredDetection(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"Error: No conversation found with session ID abc", true},
		{"error: session not found", true},
		{"Session abc has EXPIRED", true},
		{"rate limit exceeded", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := sessionExpired(tt.stderr); got != tt.want {
			t.Errorf("sessionExpired(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func TestTieredInvokerRoutes(t *testing.T) {
	obs := &recordingInvoker{}
	act := &recordingInvoker{}
	tiered, err := NewTieredInvoker(obs, act)
	if err != nil {
		t.Fatalf("NewTieredInvoker: %v", err)
	}

	ctx := context.Background()
	if _, err := tiered.Invoke(ctx, InvokeRequest{Tier: types.TierObserver, Prompt: "a"}); err != nil {
		t.Fatalf("observer invoke: %v", err)
	}
	if _, err := tiered.Invoke(ctx, InvokeRequest{Tier: types.TierActor, Prompt: "b"}); err != nil {
		t.Fatalf("actor invoke: %v", err)
	}

	if obs.count != 1 || act.count != 1 {
		t.Errorf("routing wrong: observer=%d actor=%d", obs.count, act.count)
	}

	if _, err := tiered.Invoke(ctx, InvokeRequest{Tier: "manager", Prompt: "c"}); err == nil {
		t.Error("unknown tier must error")
	}
}

type recordingInvoker struct {
	count int
}

func (r *recordingInvoker) Invoke(context.Context, InvokeRequest) (InvokeResult, error) {
	r.count++
	return InvokeResult{Text: "ok"}, nil
}
