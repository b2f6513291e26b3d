package probe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

// AgentProcessProbe watches the content-producing agent process that the
// assistant supervises: whether it is running, how long since it last wrote
// a log line, and how many error-looking lines its recent log contains.
type AgentProcessProbe struct {
	cfg config.AgentProbeConfig

	mu   sync.Mutex
	last types.Snapshot
}

var errorKeywords = []string{"error", "exception", "failed", "crash", "fatal"}

// NewAgentProcessProbe creates the watched-process probe.
func NewAgentProcessProbe(cfg config.AgentProbeConfig) *AgentProcessProbe {
	if cfg.LogFile == "" {
		cfg.LogFile = "agent.log"
	}
	if cfg.MaxLogAgeSec == 0 {
		cfg.MaxLogAgeSec = 300
	}
	if cfg.MaxErrors == 0 {
		cfg.MaxErrors = 10
	}
	return &AgentProcessProbe{cfg: cfg}
}

// Name implements Probe.
func (p *AgentProcessProbe) Name() string { return "agent" }

// Status implements Probe.
func (p *AgentProcessProbe) Status(ctx context.Context) (types.Snapshot, error) {
	metrics := map[string]any{
		"process_running":    p.processRunning(ctx),
		"error_count_recent": float64(p.countRecentErrors()),
	}
	if age, ok := p.logAge(); ok {
		metrics["last_log_age_sec"] = age.Seconds()
	}

	snap := types.Snapshot{
		Probe:   p.Name(),
		TakenAt: time.Now(),
		Metrics: metrics,
	}

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()

	return snap, nil
}

// Alerts implements Probe.
func (p *AgentProcessProbe) Alerts(snap types.Snapshot) []types.Alert {
	var alerts []types.Alert

	if running, ok := snap.Metrics["process_running"].(bool); ok && !running && p.cfg.ProcessName != "" {
		alerts = append(alerts, types.Alert{
			Metric:   "process_running",
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("agent process %q not running", p.cfg.ProcessName),
			Source:   p.Name(),
		})
	}

	if age, ok := snap.Metrics["last_log_age_sec"].(float64); ok && age > float64(p.cfg.MaxLogAgeSec) {
		alerts = append(alerts, types.Alert{
			Metric:   "last_log_age_sec",
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("agent logs stale (%.0fs since last output)", age),
			Source:   p.Name(),
		})
	}

	if errs, ok := snap.Metrics["error_count_recent"].(float64); ok && errs > float64(p.cfg.MaxErrors) {
		alerts = append(alerts, types.Alert{
			Metric:   "error_count_recent",
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("agent has %.0f recent errors", errs),
			Source:   p.Name(),
		})
	}

	return alerts
}

// SummaryLine implements Probe.
func (p *AgentProcessProbe) SummaryLine() string {
	p.mu.Lock()
	snap := p.last
	p.mu.Unlock()

	if snap.Metrics == nil {
		return "agent: no data yet"
	}

	var parts []string
	if p.cfg.ProcessName != "" {
		if running, _ := snap.Metrics["process_running"].(bool); running {
			parts = append(parts, "running")
		} else {
			parts = append(parts, "STOPPED")
		}
	}
	if age, ok := snap.Metrics["last_log_age_sec"].(float64); ok {
		if age < 60 {
			parts = append(parts, fmt.Sprintf("last output %.0fs ago", age))
		} else {
			parts = append(parts, fmt.Sprintf("last output %.0fm ago", age/60))
		}
	}
	if errs, _ := snap.Metrics["error_count_recent"].(float64); errs > 0 {
		parts = append(parts, fmt.Sprintf("%.0f recent errors", errs))
	}
	if len(parts) == 0 {
		return "agent: no data"
	}
	return "agent: " + strings.Join(parts, ", ")
}

func (p *AgentProcessProbe) processRunning(ctx context.Context) bool {
	if p.cfg.ProcessName == "" {
		return true // nothing configured to watch
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := exec.CommandContext(ctx, "pgrep", "-f", p.cfg.ProcessName).Run()
	return err == nil
}

// logAge returns the time since the watched log file was last written. If
// the configured file is missing it falls back to the newest *.log in the
// log dir.
func (p *AgentProcessProbe) logAge() (time.Duration, bool) {
	path, ok := p.resolveLogFile()
	if !ok {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

func (p *AgentProcessProbe) resolveLogFile() (string, bool) {
	if p.cfg.LogDir == "" {
		return "", false
	}
	path := filepath.Join(p.cfg.LogDir, p.cfg.LogFile)
	if _, err := os.Stat(path); err == nil {
		return path, true
	}

	matches, err := filepath.Glob(filepath.Join(p.cfg.LogDir, "*.log"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	newest := matches[0]
	var newestMod time.Time
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.ModTime().After(newestMod) {
			newest = m
			newestMod = info.ModTime()
		}
	}
	return newest, true
}

// countRecentErrors counts error-keyword lines in the tail of the watched
// log. The scan is bounded to the last maxScanLines lines.
func (p *AgentProcessProbe) countRecentErrors() int {
	const maxScanLines = 1000

	path, ok := p.resolveLogFile()
	if !ok {
		return 0
	}
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	// Ring of the last maxScanLines lines; log files here are small enough
	// that a full scan is fine.
	ring := make([]string, 0, maxScanLines)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == maxScanLines {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}

	count := 0
	for _, line := range ring {
		lower := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				count++
				break
			}
		}
	}
	return count
}
