package memory

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLog(t *testing.T, opts Options) *OpsLog {
	t.Helper()
	l, err := NewOpsLog(filepath.Join(t.TempDir(), "ops-log.md"), opts)
	if err != nil {
		t.Fatalf("NewOpsLog: %v", err)
	}
	return l
}

func TestNewCreatesDefaultDocument(t *testing.T) {
	l := newTestLog(t, Options{})

	doc, err := l.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, header := range []string{
		"## Current Status", "## Active Issues", "## Recent Events",
		"## History Summary", "## Standing Instructions",
	} {
		if !strings.Contains(doc, header) {
			t.Errorf("default document missing %q", header)
		}
	}
}

func TestApplyStatusOverwritesOnlyStatusSection(t *testing.T) {
	l := newTestLog(t, Options{})

	if err := l.ApplyStatus("- cpu: 42%\n- disk: 10%"); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}
	if err := l.ApplyStatus("- cpu: 50%"); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}

	doc, _ := l.Read()
	if !strings.Contains(doc, "- cpu: 50%") {
		t.Error("latest status not present")
	}
	if strings.Contains(doc, "- cpu: 42%") {
		t.Error("old status not overwritten")
	}
	if !strings.Contains(doc, "Keep responses concise") {
		t.Error("standing instructions were clobbered by a status write")
	}
}

func TestAppendEventPrependsNewestFirst(t *testing.T) {
	l := newTestLog(t, Options{})

	if err := l.AppendEvent("gpu temp spike"); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := l.AppendEvent("stream went offline"); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	doc, _ := l.Read()
	olderIdx := strings.Index(doc, "gpu temp spike")
	newerIdx := strings.Index(doc, "stream went offline")
	if newerIdx == -1 || olderIdx == -1 {
		t.Fatal("events missing from document")
	}
	if newerIdx > olderIdx {
		t.Error("newest event should come first")
	}
}

func TestAppendEventTrimsByRetention(t *testing.T) {
	l := newTestLog(t, Options{Retention: time.Hour})

	now := time.Now()
	l.now = func() time.Time { return now.Add(-2 * time.Hour) }
	if err := l.AppendEvent("ancient"); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	l.now = func() time.Time { return now }
	if err := l.AppendEvent("fresh"); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	doc, _ := l.Read()
	if strings.Contains(doc, "ancient") {
		t.Error("expired event survived trimming")
	}
	if !strings.Contains(doc, "fresh") {
		t.Error("fresh event missing")
	}
}

func TestAppendEventTrimsByCount(t *testing.T) {
	l := newTestLog(t, Options{MaxRecentEvents: 3})

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if err := l.AppendEvent("event-" + name); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	doc, _ := l.Read()
	for _, kept := range []string{"event-e", "event-d", "event-c"} {
		if !strings.Contains(doc, kept) {
			t.Errorf("expected %s to survive", kept)
		}
	}
	for _, dropped := range []string{"event-a", "event-b"} {
		if strings.Contains(doc, dropped) {
			t.Errorf("expected %s to be trimmed", dropped)
		}
	}
}

func TestRenderNeverDropsStatusOrInstructions(t *testing.T) {
	l := newTestLog(t, Options{MaxRenderBytes: 400})

	if err := l.ApplyStatus("- cpu: 42%"); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := l.AppendEvent(strings.Repeat("x", 80)); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	out, err := l.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "- cpu: 42%") {
		t.Error("current status must never be truncated")
	}
	if !strings.Contains(out, "Keep responses concise") {
		t.Error("standing instructions must never be truncated")
	}
	// The events section must have been the one that shrank.
	if strings.Count(out, "xxxxxxxx") >= 20 {
		t.Error("expected oldest events to be dropped under the byte cap")
	}
}

func TestAddAndResolveIssue(t *testing.T) {
	l := newTestLog(t, Options{})

	if err := l.AddActiveIssue("OBS dropping frames on scene switch"); err != nil {
		t.Fatalf("AddActiveIssue: %v", err)
	}
	doc, _ := l.Read()
	if !strings.Contains(doc, "OBS dropping frames") {
		t.Fatal("issue not recorded")
	}

	if err := l.ResolveIssue("dropping frames"); err != nil {
		t.Fatalf("ResolveIssue: %v", err)
	}
	doc, _ = l.Read()
	if strings.Contains(doc, "OBS dropping frames") {
		t.Error("resolved issue still present")
	}
	// Empty section falls back to its placeholder.
	if !strings.Contains(doc, "_None currently_") {
		t.Error("expected placeholder after last issue resolved")
	}
}

func TestCompressionPromptNeedsEnoughEvents(t *testing.T) {
	l := newTestLog(t, Options{})

	prompt, err := l.CompressionPrompt()
	if err != nil {
		t.Fatalf("CompressionPrompt: %v", err)
	}
	if prompt != "" {
		t.Error("expected empty prompt with too few events")
	}

	for i := 0; i < 6; i++ {
		if err := l.AppendEvent("something happened"); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	prompt, err = l.CompressionPrompt()
	if err != nil {
		t.Fatalf("CompressionPrompt: %v", err)
	}
	if !strings.Contains(prompt, "something happened") {
		t.Error("prompt should include the events to compress")
	}
}
