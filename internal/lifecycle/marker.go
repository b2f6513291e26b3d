package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunMarker is the crash-detection flag file. It exists exactly while a
// daemon instance is running: created at startup, removed on clean shutdown.
// Finding it at startup means the previous run died without cleaning up.
type RunMarker struct {
	path string
}

// NewRunMarker creates a marker handle for path.
func NewRunMarker(path string) *RunMarker {
	return &RunMarker{path: path}
}

// CheckStale reports whether a marker from a previous run exists, and the
// start time it recorded.
func (m *RunMarker) CheckStale() (bool, time.Time) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return false, time.Time{}
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for _, line := range lines {
		if ts, found := strings.CutPrefix(line, "started_at="); found {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				return true, t
			}
		}
	}
	return true, time.Time{}
}

// Create writes the marker for this run.
func (m *RunMarker) Create() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}
	content := fmt.Sprintf("pid=%d\nstarted_at=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := os.WriteFile(m.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("creating run marker: %w", err)
	}
	return nil
}

// Remove deletes the marker; the last step of a clean shutdown. Removing a
// marker that is already gone is fine.
func (m *RunMarker) Remove() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing run marker: %w", err)
	}
	return nil
}
