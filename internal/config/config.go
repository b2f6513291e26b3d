package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration, loaded once at startup from
// settings.yaml. Interval fields are plain seconds so the YAML stays
// readable; use the accessor methods for time.Duration values.
type Config struct {
	// PollIntervalSec is how often the health aggregator polls all probes.
	// Default: 10 seconds.
	PollIntervalSec int `yaml:"poll_interval"`

	// DeepCheckIntervalSec forces an observer-tier heartbeat invocation even
	// when nothing changed. 0 disables. Default: 1800 (30 minutes).
	DeepCheckIntervalSec int `yaml:"deep_check_interval"`

	// TempCleanupIntervalSec is how often stale temp files under the state
	// dir are removed. 0 disables. Default: 0.
	TempCleanupIntervalSec int `yaml:"temp_cleanup_interval"`

	// StartupGraceSec suppresses change-detection events for this long after
	// process start, so a restart doesn't replay a burst of cold deltas.
	// Default: 300.
	StartupGraceSec int `yaml:"startup_grace_period"`

	// EventRetentionSec is how long recent-events entries stay in the ops
	// log before trimming. Default: 21600 (6 hours).
	EventRetentionSec int `yaml:"event_retention_window"`

	// TriggerToken must appear in an inbound message for it to dispatch.
	// Empty means every message from an allowed chat dispatches.
	TriggerToken string `yaml:"trigger_token"`

	// ActorToken, when present in an inbound message, bypasses the observer
	// tier entirely. Default: "@actor".
	ActorToken string `yaml:"actor_token"`

	// VerifyActions re-runs the observer read-only after every actor action
	// and appends its verdict to the reply. Default: false.
	VerifyActions bool `yaml:"verify_actions"`

	// StateDir holds the ops log, run marker, session store, and daemon
	// logs. Default: ./state.
	StateDir string `yaml:"state_dir"`

	Agent     AgentConfig          `yaml:"agent"`
	Transport TransportConfig      `yaml:"transport"`
	Probes    ProbesConfig         `yaml:"probes"`
	Rules     map[string]Rule      `yaml:"rules"`
	Logging   LoggingConfig        `yaml:"logging"`
}

// Rule is the declarative change-detection policy for one metric. Zero
// thresholds mean that condition is not configured.
type Rule struct {
	DeltaThreshold       float64 `yaml:"delta_threshold"`
	AbsoluteThreshold    float64 `yaml:"absolute_threshold"`
	TriggerOnStateChange bool    `yaml:"trigger_on_state_change"`
	CooldownSeconds      int     `yaml:"cooldown_seconds"`
}

// Cooldown returns the rule's cooldown as a duration.
func (r Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// ruleOverlay is Rule with pointer fields for YAML decoding, so Load can
// merge only the keys a settings.yaml rule entry actually sets.
type ruleOverlay struct {
	DeltaThreshold       *float64 `yaml:"delta_threshold"`
	AbsoluteThreshold    *float64 `yaml:"absolute_threshold"`
	TriggerOnStateChange *bool    `yaml:"trigger_on_state_change"`
	CooldownSeconds      *int     `yaml:"cooldown_seconds"`
}

// AgentConfig configures the external reasoning agent invokers.
type AgentConfig struct {
	// Backend selects the invoker: "cli" shells out to the agent CLI,
	// "api" calls the Anthropic API directly (observer tier only).
	// Default: "cli".
	Backend string `yaml:"backend"`

	// Binary is the agent CLI executable. Default: "claude".
	Binary string `yaml:"binary"`

	// WorkingDir is where the agent runs (its project context lives there).
	// Default: ".".
	WorkingDir string `yaml:"working_dir"`

	Observer TierConfig `yaml:"observer"`
	Actor    TierConfig `yaml:"actor"`
}

// TierConfig holds the per-tier invocation limits. The observer gets a
// short timeout and read-only tools; the actor gets a long timeout and the
// full set.
type TierConfig struct {
	Model        string   `yaml:"model"`
	TimeoutSec   int      `yaml:"timeout"`
	MaxTurns     int      `yaml:"max_turns"`
	AllowedTools []string `yaml:"allowed_tools"`
}

// Timeout returns the tier timeout as a duration.
func (t TierConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSec) * time.Second
}

// TransportConfig configures the chat transport.
type TransportConfig struct {
	// Type is "telegram" or "console". Default: "telegram".
	Type string `yaml:"type"`

	// BotToken is the Telegram bot token. If empty, read from the
	// STEWARD_BOT_TOKEN environment variable.
	BotToken string `yaml:"bot_token"`

	// AllowedChats are the chat IDs messages are accepted from and
	// notifications are sent to.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// SendRatePerSec bounds outbound message rate. Default: 1.
	SendRatePerSec int `yaml:"send_rate_per_sec"`
}

// ProbesConfig enumerates the closed set of probe variants. Each variant is
// registered only when enabled.
type ProbesConfig struct {
	Resource ResourceProbeConfig `yaml:"resource"`
	OBS      OBSProbeConfig      `yaml:"obs"`
	Agent    AgentProbeConfig    `yaml:"agent"`
	Engine   EngineProbeConfig   `yaml:"engine"`
}

// ResourceProbeConfig configures the host resource probe.
type ResourceProbeConfig struct {
	Enabled    bool    `yaml:"enabled"`
	DiskPath   string  `yaml:"disk_path"`   // default "/"
	GPUEnabled bool    `yaml:"gpu_enabled"` // query nvidia-smi
	// Probe-local alert thresholds (stateless "is this bad" checks, distinct
	// from the change-detection rules).
	CPUMax     float64 `yaml:"cpu_pct_max"`      // default 95
	MemoryMax  float64 `yaml:"memory_pct_max"`   // default 90
	DiskMax    float64 `yaml:"disk_pct_max"`     // default 85
	GPUTempMax float64 `yaml:"gpu_temp_max"`     // default 80
	GPUUtilMax float64 `yaml:"gpu_util_max"`     // default 95
}

// OBSProbeConfig configures the OBS WebSocket probe.
type OBSProbeConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Host           string  `yaml:"host"` // default "localhost"
	Port           int     `yaml:"port"` // default 4455
	Password       string  `yaml:"password"`
	DroppedPctMax  float64 `yaml:"dropped_frames_pct"` // default 1
}

// AgentProbeConfig configures the watched-process probe.
type AgentProbeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ProcessName  string `yaml:"process_name"`
	LogDir       string `yaml:"log_dir"`
	LogFile      string `yaml:"log_file"` // default "agent.log"
	MaxLogAgeSec int    `yaml:"max_log_age_sec"` // default 300
	MaxErrors    int    `yaml:"max_errors_per_hour"` // default 10
}

// EngineProbeConfig configures the placeholder engine probe.
type EngineProbeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig controls the daemon's own log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`        // default "info"
	MaxSizeMB  int    `yaml:"max_size_mb"`  // per rotated file, default 10
	MaxBackups int    `yaml:"max_backups"`  // default 5
}

// PollInterval returns the aggregation cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// DeepCheckInterval returns the heartbeat cadence (0 = disabled).
func (c *Config) DeepCheckInterval() time.Duration {
	return time.Duration(c.DeepCheckIntervalSec) * time.Second
}

// TempCleanupInterval returns the temp-sweep cadence (0 = disabled).
func (c *Config) TempCleanupInterval() time.Duration {
	return time.Duration(c.TempCleanupIntervalSec) * time.Second
}

// StartupGrace returns the post-start event suppression window.
func (c *Config) StartupGrace() time.Duration {
	return time.Duration(c.StartupGraceSec) * time.Second
}

// EventRetention returns the recent-events retention window.
func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionSec) * time.Second
}

// OpsLogPath is the rolling memory document location.
func (c *Config) OpsLogPath() string { return filepath.Join(c.StateDir, "ops-log.md") }

// RunMarkerPath is the crash-detection flag file location.
func (c *Config) RunMarkerPath() string { return filepath.Join(c.StateDir, ".running") }

// StorePath is the sqlite session/event store location.
func (c *Config) StorePath() string { return filepath.Join(c.StateDir, "steward.db") }

// LogPath is the daemon's own rotating log file.
func (c *Config) LogPath() string { return filepath.Join(c.StateDir, "steward.log") }

// Default returns a fully populated configuration. Load applies the YAML
// file on top of this.
func Default() *Config {
	return &Config{
		PollIntervalSec:        10,
		DeepCheckIntervalSec:   1800,
		TempCleanupIntervalSec: 0,
		StartupGraceSec:        300,
		EventRetentionSec:      21600,
		ActorToken:             "@actor",
		StateDir:               "state",
		Agent: AgentConfig{
			Backend:    "cli",
			Binary:     "claude",
			WorkingDir: ".",
			Observer: TierConfig{
				Model:        "haiku",
				TimeoutSec:   60,
				MaxTurns:     10,
				AllowedTools: []string{"Read", "Glob", "Grep"},
			},
			Actor: TierConfig{
				Model:        "opus",
				TimeoutSec:   120,
				MaxTurns:     30,
				AllowedTools: []string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"},
			},
		},
		Transport: TransportConfig{
			Type:           "telegram",
			SendRatePerSec: 1,
		},
		Probes: ProbesConfig{
			Resource: ResourceProbeConfig{
				Enabled:    true,
				DiskPath:   "/",
				GPUEnabled: true,
				CPUMax:     95,
				MemoryMax:  90,
				DiskMax:    85,
				GPUTempMax: 80,
				GPUUtilMax: 95,
			},
			OBS: OBSProbeConfig{
				Host:          "localhost",
				Port:          4455,
				DroppedPctMax: 1,
			},
			Agent: AgentProbeConfig{
				LogFile:      "agent.log",
				MaxLogAgeSec: 300,
				MaxErrors:    10,
			},
		},
		Rules: DefaultRules(),
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// DefaultRules is the built-in change-detection rule set. settings.yaml
// entries override matching metrics field-by-field and may add new ones.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"cpu_percent":        {DeltaThreshold: 25, AbsoluteThreshold: 90, CooldownSeconds: 300},
		"memory_percent":     {DeltaThreshold: 20, AbsoluteThreshold: 90, CooldownSeconds: 300},
		"disk_percent":       {DeltaThreshold: 10, AbsoluteThreshold: 85, CooldownSeconds: 300},
		"gpu_temp":           {DeltaThreshold: 10, AbsoluteThreshold: 80, CooldownSeconds: 300},
		"gpu_utilization":    {DeltaThreshold: 30, AbsoluteThreshold: 95, CooldownSeconds: 300},
		"streaming":          {TriggerOnStateChange: true, CooldownSeconds: 300},
		"dropped_pct":        {DeltaThreshold: 0.5, AbsoluteThreshold: 1, CooldownSeconds: 300},
		"process_running":    {TriggerOnStateChange: true, CooldownSeconds: 300},
		"last_log_age_sec":   {AbsoluteThreshold: 300, CooldownSeconds: 300},
		"error_count_recent": {DeltaThreshold: 5, AbsoluteThreshold: 10, CooldownSeconds: 300},
	}
}

// Load reads settings.yaml from path, layering it over the defaults. A bot
// token absent from the file falls back to the STEWARD_BOT_TOKEN environment
// variable. An unreadable or malformed file is fatal to startup.
func Load(path string) (*Config, error) {
	// Secrets may live in a .env next to the config; absence is fine.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()

	// Rules need merge-on-top semantics, not replacement: an override that
	// sets one field of one metric must not wipe that metric's other default
	// fields, nor the other default metrics. Decode rules separately with
	// pointer fields so unset keys are distinguishable from zero values.
	var overlay struct {
		Rules map[string]ruleOverlay `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Rules = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Transport.BotToken == "" {
		cfg.Transport.BotToken = os.Getenv("STEWARD_BOT_TOKEN")
	}

	cfg.Rules = DefaultRules()
	for metric, o := range overlay.Rules {
		rule, ok := cfg.Rules[metric]
		if !ok {
			rule = Rule{CooldownSeconds: 300}
		}
		if o.DeltaThreshold != nil {
			rule.DeltaThreshold = *o.DeltaThreshold
		}
		if o.AbsoluteThreshold != nil {
			rule.AbsoluteThreshold = *o.AbsoluteThreshold
		}
		if o.TriggerOnStateChange != nil {
			rule.TriggerOnStateChange = *o.TriggerOnStateChange
		}
		if o.CooldownSeconds != nil {
			rule.CooldownSeconds = *o.CooldownSeconds
		}
		cfg.Rules[metric] = rule
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PollIntervalSec <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Agent.Observer.TimeoutSec <= 0 || c.Agent.Actor.TimeoutSec <= 0 {
		return fmt.Errorf("agent tier timeouts must be positive")
	}
	switch c.Agent.Backend {
	case "cli", "api":
	default:
		return fmt.Errorf("unknown agent backend %q", c.Agent.Backend)
	}
	switch c.Transport.Type {
	case "telegram", "console":
	default:
		return fmt.Errorf("unknown transport type %q", c.Transport.Type)
	}
	return nil
}
