package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMarkerLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", ".running")
	m := NewRunMarker(path)

	// Clean start: no stale marker.
	if stale, _ := m.CheckStale(); stale {
		t.Fatal("fresh state dir should have no marker")
	}

	if err := m.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("marker file missing after Create: %v", err)
	}

	// A second instance (or the next startup after a crash) sees it.
	stale, startedAt := m.CheckStale()
	if !stale {
		t.Fatal("existing marker should be detected")
	}
	if startedAt.IsZero() {
		t.Error("marker should carry the start time")
	}
	if time.Since(startedAt) > time.Minute {
		t.Errorf("unexpected start time: %v", startedAt)
	}

	if err := m.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if stale, _ := m.CheckStale(); stale {
		t.Fatal("marker should be gone after clean shutdown")
	}

	// Removing twice is fine.
	if err := m.Remove(); err != nil {
		t.Errorf("second Remove should be a no-op: %v", err)
	}
}

func TestMarkerWithUnparseableContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".running")
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewRunMarker(path)
	stale, startedAt := m.CheckStale()
	if !stale {
		t.Fatal("any existing marker means a crashed prior run")
	}
	if !startedAt.IsZero() {
		t.Error("unparseable marker should report zero start time")
	}
}
