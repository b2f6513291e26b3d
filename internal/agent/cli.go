package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

// CLIInvoker shells out to the agent CLI binary in single-shot print mode.
// The CLI owns tool execution, so the actor tier's full capability set
// (editing files, running commands) works without any plumbing here; this
// invoker only constrains WHICH tools each tier may use.
type CLIInvoker struct {
	cfg config.AgentConfig
	log *logrus.Logger
}

// cliResult is the terminal JSON object the CLI prints with
// --output-format json.
type cliResult struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Subtype   string `json:"subtype"`
}

// NewCLIInvoker creates a subprocess-backed invoker.
func NewCLIInvoker(cfg config.AgentConfig, log *logrus.Logger) (*CLIInvoker, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("agent binary is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &CLIInvoker{cfg: cfg, log: log}, nil
}

// Invoke runs one CLI call. The subprocess is killed when the tier timeout
// (or req.Timeout) elapses; a killed call returns an error, never a partial
// result.
func (c *CLIInvoker) Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error) {
	tier, err := c.tierConfig(req.Tier)
	if err != nil {
		return InvokeResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = tier.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := c.buildArgs(tier, req)
	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	cmd.Dir = c.cfg.WorkingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	c.log.WithFields(logrus.Fields{
		"tier":     req.Tier,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("agent CLI call finished")

	if ctx.Err() == context.DeadlineExceeded {
		return InvokeResult{}, fmt.Errorf("agent %s call timed out after %v", req.Tier, timeout)
	}
	if runErr != nil {
		if req.SessionID != "" && sessionExpired(stderr.String()) {
			return InvokeResult{}, fmt.Errorf("resuming session %s: %w", req.SessionID, ErrSessionExpired)
		}
		return InvokeResult{}, fmt.Errorf("agent CLI failed: %w (stderr: %s)", runErr, tail(stderr.String(), 500))
	}

	var parsed cliResult
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return InvokeResult{}, fmt.Errorf("failed to parse agent CLI output: %w", err)
	}
	if parsed.IsError {
		return InvokeResult{}, fmt.Errorf("agent reported error (%s): %s", parsed.Subtype, tail(parsed.Result, 500))
	}

	return InvokeResult{
		Text:      strings.TrimSpace(parsed.Result),
		SessionID: parsed.SessionID,
	}, nil
}

func (c *CLIInvoker) tierConfig(tier types.Tier) (config.TierConfig, error) {
	switch tier {
	case types.TierObserver:
		return c.cfg.Observer, nil
	case types.TierActor:
		return c.cfg.Actor, nil
	default:
		return config.TierConfig{}, fmt.Errorf("unknown tier %q", tier)
	}
}

func (c *CLIInvoker) buildArgs(tier config.TierConfig, req InvokeRequest) []string {
	args := []string{"-p", req.Prompt, "--output-format", "json"}
	if tier.Model != "" {
		args = append(args, "--model", tier.Model)
	}
	if len(tier.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tier.AllowedTools, ","))
	}
	if tier.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", tier.MaxTurns))
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	return args
}

// sessionExpired recognizes the CLI's unknown/expired-session errors on
// stderr. Matching is loose on purpose; a false positive just costs one
// fresh-session retry.
func sessionExpired(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range []string{"no conversation found", "session not found", "unknown session", "expired"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
