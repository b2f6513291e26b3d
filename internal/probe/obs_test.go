package probe

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

func TestOBSAuthString(t *testing.T) {
	password, salt, challenge := "supersecret", "salt123", "challenge456"

	// Recompute the two-stage derivation independently.
	inner := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(inner[:])
	outer := sha256.Sum256([]byte(secret + challenge))
	want := base64.StdEncoding.EncodeToString(outer[:])

	if got := obsAuthString(password, salt, challenge); got != want {
		t.Errorf("obsAuthString = %q, want %q", got, want)
	}

	// Different salt must change the result.
	if obsAuthString(password, "other", challenge) == want {
		t.Error("auth string must depend on the salt")
	}
}

func TestOBSAlertsOnlyWhileStreaming(t *testing.T) {
	p := NewOBSProbe(config.OBSProbeConfig{DroppedPctMax: 1})

	offline := types.Snapshot{Probe: "obs", TakenAt: time.Now(), Metrics: map[string]any{
		"streaming":   false,
		"dropped_pct": 50.0,
	}}
	if alerts := p.Alerts(offline); len(alerts) != 0 {
		t.Errorf("dropped frames while offline must not alert: %+v", alerts)
	}

	liveClean := types.Snapshot{Probe: "obs", TakenAt: time.Now(), Metrics: map[string]any{
		"streaming":   true,
		"dropped_pct": 0.4,
	}}
	if alerts := p.Alerts(liveClean); len(alerts) != 0 {
		t.Errorf("dropped frames under threshold must not alert: %+v", alerts)
	}

	liveDropping := types.Snapshot{Probe: "obs", TakenAt: time.Now(), Metrics: map[string]any{
		"streaming":   true,
		"dropped_pct": 2.5,
	}}
	alerts := p.Alerts(liveDropping)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Severity != types.SeverityCritical {
		t.Errorf("dropped frames while live are critical, got %s", alerts[0].Severity)
	}
}

func TestOBSUnknownCommand(t *testing.T) {
	p := NewOBSProbe(config.OBSProbeConfig{})

	result, err := p.Execute(context.Background(), "make_coffee")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("unknown command must not succeed")
	}
}
