// Package memory maintains the ops log: a small, human-readable markdown
// document that gives the stateless external agent durable operational
// context across its own session resets and across daemon restarts. The
// document has five fixed sections; by construction only the control loop
// writes Current Status and Recent Events, while Active Issues and Standing
// Instructions change only through actor-tier tool use editing the file
// directly.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Section headers, in document order.
const (
	headerStatus       = "## Current Status"
	headerIssues       = "## Active Issues"
	headerEvents       = "## Recent Events"
	headerHistory      = "## History Summary"
	headerInstructions = "## Standing Instructions"
)

const eventTimeLayout = "2006-01-02 15:04"

const defaultDocument = `# Ops Log

## Current Status
_Waiting for first health check..._

## Active Issues
_None currently_

## Recent Events
- System initialized

## History Summary
Key patterns and learnings (compressed, not a full log):
- _No history yet_

## Standing Instructions
- Keep responses concise (chat on a phone)
`

// Options holds ops log tuning.
type Options struct {
	// Retention is how long recent-events entries are kept. Default: 6h.
	Retention time.Duration

	// MaxRecentEvents bounds the recent-events section by count as well.
	// Default: 20.
	MaxRecentEvents int

	// MaxRenderBytes caps Render output. Oldest recent-events lines are
	// dropped first; Current Status and Standing Instructions are never
	// truncated. Default: 16384.
	MaxRenderBytes int
}

// OpsLog manages the document at a fixed path.
type OpsLog struct {
	mu   sync.Mutex
	path string
	opts Options

	now func() time.Time // test seam
}

// NewOpsLog opens (creating if needed) the ops log at path.
func NewOpsLog(path string, opts Options) (*OpsLog, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = 6 * time.Hour
	}
	if opts.MaxRecentEvents <= 0 {
		opts.MaxRecentEvents = 20
	}
	if opts.MaxRenderBytes <= 0 {
		opts.MaxRenderBytes = 16384
	}

	l := &OpsLog{path: path, opts: opts, now: time.Now}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating ops log directory: %w", err)
		}
		if err := l.writeDocument(defaultDocument); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking ops log: %w", err)
	}

	return l, nil
}

// ApplyStatus overwrites the Current Status section. Called once per
// aggregation cycle by the control loop; the tmp+rename write means a
// concurrent reader (the actor's tools) never sees a torn document.
func (l *OpsLog) ApplyStatus(statusText string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readSections()
	if err != nil {
		return err
	}
	doc.replace(headerStatus, strings.Split(strings.TrimRight(statusText, "\n"), "\n"))
	return l.writeDocument(doc.render())
}

// AppendEvent adds a timestamped line to Recent Events and trims entries
// older than the retention window or beyond the count bound. Trimming is by
// timestamp comparison, so out-of-order arrivals are handled correctly.
func (l *OpsLog) AppendEvent(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readSections()
	if err != nil {
		return err
	}

	now := l.now()
	line := fmt.Sprintf("- %s - %s", now.Format(eventTimeLayout), text)
	events := append([]string{line}, doc.entries(headerEvents)...)
	doc.replace(headerEvents, l.trimEvents(events, now))
	return l.writeDocument(doc.render())
}

// AddActiveIssue appends an issue line to Active Issues. Normally issues are
// edited by the actor's tools; the daemon itself only files the
// crash-investigation issue at recovery startup.
func (l *OpsLog) AddActiveIssue(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readSections()
	if err != nil {
		return err
	}
	issues := doc.entries(headerIssues)
	issues = append(issues, fmt.Sprintf("- [%s] %s", l.now().Format("2006-01-02"), text))
	doc.replace(headerIssues, issues)
	return l.writeDocument(doc.render())
}

// ResolveIssue removes the first Active Issues entry containing fragment
// (case-insensitive).
func (l *OpsLog) ResolveIssue(fragment string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readSections()
	if err != nil {
		return err
	}

	var kept []string
	removed := false
	for _, line := range doc.entries(headerIssues) {
		if !removed && strings.Contains(strings.ToLower(line), strings.ToLower(fragment)) {
			removed = true
			continue
		}
		kept = append(kept, line)
	}
	if !removed {
		return nil
	}
	doc.replace(headerIssues, kept)
	return l.writeDocument(doc.render())
}

// AddHistory appends a compressed learning to History Summary.
func (l *OpsLog) AddHistory(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readSections()
	if err != nil {
		return err
	}
	history := doc.section(headerHistory)
	history = append(history, "- "+line)
	doc.replace(headerHistory, history)
	return l.writeDocument(doc.render())
}

// Render returns the document for prompt inclusion, trimming expired events
// first and then dropping the oldest remaining events until the byte cap is
// met. Current Status and Standing Instructions are never dropped.
func (l *OpsLog) Render() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readSections()
	if err != nil {
		return "", err
	}
	doc.replace(headerEvents, l.trimEvents(doc.entries(headerEvents), l.now()))

	out := doc.render()
	for len(out) > l.opts.MaxRenderBytes {
		events := doc.entries(headerEvents)
		if len(events) == 0 {
			break
		}
		doc.replace(headerEvents, events[:len(events)-1]) // oldest is last
		out = doc.render()
	}

	// Persist the trim so the on-disk file stays bounded too.
	if err := l.writeDocument(out); err != nil {
		return "", err
	}
	return out, nil
}

// Read returns the raw document without trimming.
func (l *OpsLog) Read() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return "", fmt.Errorf("reading ops log: %w", err)
	}
	return string(data), nil
}

// CompressionPrompt builds a prompt asking the agent to fold recent events
// into the history summary. Returns "" when there is too little to compress;
// compression is a best-effort agent action, never required for
// correctness.
func (l *OpsLog) CompressionPrompt() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readSections()
	if err != nil {
		return "", err
	}
	events := doc.entries(headerEvents)
	if len(events) < 5 {
		return "", nil
	}
	history := strings.Join(doc.section(headerHistory), "\n")

	return fmt.Sprintf(`Review these recent events and update the history summary.

Current History Summary:
%s

Recent Events to Review:
%s

---
Extract any patterns or important context worth remembering.
Keep the summary concise (max 10 bullet points total).
Don't duplicate what's already in history.
If nothing new worth adding, respond with just "No updates needed."

Format your response as bullet points starting with "- "`, history, strings.Join(events, "\n")), nil
}

// trimEvents drops entries older than the retention window, then enforces
// the count bound. Input and output are newest-first.
func (l *OpsLog) trimEvents(events []string, now time.Time) []string {
	cutoff := now.Add(-l.opts.Retention)

	var kept []string
	for _, line := range events {
		if ts, ok := parseEventTime(line, now); ok && ts.Before(cutoff) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) > l.opts.MaxRecentEvents {
		kept = kept[:l.opts.MaxRecentEvents]
	}
	return kept
}

// parseEventTime extracts the timestamp from an event line. Unparseable
// lines are kept (ok=false) rather than silently discarded.
func parseEventTime(line string, now time.Time) (time.Time, bool) {
	rest, found := strings.CutPrefix(line, "- ")
	if !found || len(rest) < len(eventTimeLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(eventTimeLayout, rest[:len(eventTimeLayout)], now.Location())
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// document is the parsed five-section form.
type document struct {
	sections map[string][]string
}

var sectionOrder = []string{
	headerStatus, headerIssues, headerEvents, headerHistory, headerInstructions,
}

func (l *OpsLog) readSections() (*document, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading ops log: %w", err)
	}

	doc := &document{sections: make(map[string][]string)}
	current := ""
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "## ") {
			current = ""
			for _, h := range sectionOrder {
				if strings.HasPrefix(line, h) {
					current = h
					break
				}
			}
			continue
		}
		if current != "" {
			doc.sections[current] = append(doc.sections[current], line)
		}
	}

	// Strip leading/trailing blank lines inside each section.
	for h, lines := range doc.sections {
		doc.sections[h] = trimBlank(lines)
	}
	return doc, nil
}

// section returns a section's content lines.
func (d *document) section(header string) []string {
	return d.sections[header]
}

// entries returns only the "- " list entries of a section.
func (d *document) entries(header string) []string {
	var out []string
	for _, line := range d.sections[header] {
		if strings.HasPrefix(line, "- ") {
			out = append(out, line)
		}
	}
	return out
}

// replace swaps a section's content.
func (d *document) replace(header string, lines []string) {
	d.sections[header] = trimBlank(lines)
}

// render writes the document back in fixed section order, substituting
// placeholders for empty sections so the file stays readable.
func (d *document) render() string {
	placeholders := map[string]string{
		headerStatus: "_Waiting for first health check..._",
		headerIssues: "_None currently_",
	}

	var b strings.Builder
	b.WriteString("# Ops Log\n")
	for _, header := range sectionOrder {
		b.WriteString("\n")
		b.WriteString(header)
		b.WriteString("\n")
		lines := d.sections[header]
		if len(lines) == 0 {
			if ph, ok := placeholders[header]; ok {
				b.WriteString(ph)
				b.WriteString("\n")
			}
			continue
		}
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// writeDocument persists atomically via tmp+rename so readers never observe
// a partial document.
func (l *OpsLog) writeDocument(content string) error {
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing ops log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("committing ops log: %w", err)
	}
	return nil
}

func trimBlank(lines []string) []string {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines)
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
