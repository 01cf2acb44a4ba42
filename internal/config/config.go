package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Env var names for secrets. These never live in the YAML file.
const (
	EnvStudentEmail  = "STUDENT_EMAIL"
	EnvStudentSecret = "STUDENT_SECRET"
	EnvGeminiAPIKey  = "GEMINI_API_KEY"
	EnvFallbackToken = "AIPIPE_TOKEN"
)

// Config captures all tunable settings for the quizNERD solver service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Agent   AgentConfig   `yaml:"agent"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Env     string `yaml:"env"`
	Listen  string `yaml:"listen"`
	LogFile string `yaml:"log_file"`
	// Comma-separated CORS origins; "*" or empty allows any origin.
	CORSOrigins string `yaml:"cors_origins"`

	// Populated from env, not YAML.
	StudentEmail  string `yaml:"-"`
	StudentSecret string `yaml:"-"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). When empty, launch is used.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chromium", "--no-sandbox"]).
	// When empty, Rod's launcher locates or downloads a browser itself.
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "20s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Viewport width for new pages (default: 1280).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new pages (default: 800).
	ViewportHeight int `yaml:"viewport_height"`
}

// OracleConfig configures the reasoning backends.
type OracleConfig struct {
	// Primary Gemini model name.
	Model string `yaml:"model"`
	// Max attempts per oracle call before failing over (exponential backoff between attempts).
	MaxAttempts int `yaml:"max_attempts"`
	// Per-call timeout (e.g., "2m").
	RequestTimeout string `yaml:"request_timeout"`
	// OpenAI-compatible fallback endpoint (AIPipe-style proxy). Empty disables failover.
	FallbackURL string `yaml:"fallback_url"`
	// Model name to request from the fallback endpoint.
	FallbackModel string `yaml:"fallback_model"`

	// Populated from env, not YAML.
	APIKey        string `yaml:"-"`
	FallbackToken string `yaml:"-"`
}

// SandboxConfig configures generated-code execution.
type SandboxConfig struct {
	// Interpreter invoked with the generated script (default: python3).
	Interpreter string `yaml:"interpreter"`
	// Hard wall-clock cap per execution (e.g., "30s").
	Timeout string `yaml:"timeout"`
	// Cap on captured stdout/stderr bytes.
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// AgentConfig tunes the solving loop itself.
type AgentConfig struct {
	// Distinct approaches allowed per level before the soft-pass escape valve fires.
	MaxApproaches int `yaml:"max_approaches"`
	// Sanitized page content cap handed to the oracle.
	MaxContentBytes int `yaml:"max_content_bytes"`
	// Directory for per-session scratchpad files.
	ScratchpadDir string `yaml:"scratchpad_dir"`
	// Directory for per-session solve traces (empty disables recording).
	TraceDir string `yaml:"trace_dir"`
	// Overall wall-clock budget per session (e.g., "20m"). Empty or "0" disables the cap.
	SessionBudget string `yaml:"session_budget"`
	// Per-submission HTTP timeout (e.g., "30s").
	SubmitTimeout string `yaml:"submit_timeout"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:        "quiznerd",
			Env:         "production",
			Listen:      ":8000",
			CORSOrigins: "*",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "20s",
			ViewportWidth:            1280,
			ViewportHeight:           800,
		},
		Oracle: OracleConfig{
			Model:          "gemini-2.0-flash",
			MaxAttempts:    3,
			RequestTimeout: "2m",
			FallbackURL:    "https://aipipe.org/openrouter/v1/chat/completions",
			FallbackModel:  "openai/gpt-4o-mini",
		},
		Sandbox: SandboxConfig{
			Interpreter:    "python3",
			Timeout:        "30s",
			MaxOutputBytes: 16 * 1024,
		},
		Agent: AgentConfig{
			MaxApproaches:   10,
			MaxContentBytes: 50_000,
			ScratchpadDir:   "data/scratchpads",
			TraceDir:        "data/traces",
			SessionBudget:   "20m",
			SubmitTimeout:   "30s",
		},
	}
}

// Load reads YAML config from disk, overlays defaults, then applies env secrets.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			// Running on defaults plus environment is a supported setup.
			raw = nil
		} else if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv pulls secrets and identity from the process environment.
func (c *Config) applyEnv() {
	c.Server.StudentEmail = os.Getenv(EnvStudentEmail)
	c.Server.StudentSecret = os.Getenv(EnvStudentSecret)
	c.Oracle.APIKey = os.Getenv(EnvGeminiAPIKey)
	c.Oracle.FallbackToken = os.Getenv(EnvFallbackToken)
}

// Validate ensures required fields exist so the service can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if c.Server.StudentSecret == "" {
		return fmt.Errorf("%s must be set", EnvStudentSecret)
	}
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("%s must be set", EnvGeminiAPIKey)
	}
	if c.Agent.MaxApproaches <= 0 {
		return errors.New("agent.max_approaches must be positive")
	}
	if c.Agent.MaxContentBytes <= 0 {
		return errors.New("agent.max_content_bytes must be positive")
	}
	return nil
}

// CORSOriginList splits the configured origins, trimming blanks.
func (s ServerConfig) CORSOriginList() []string {
	if s.CORSOrigins == "" || s.CORSOrigins == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDurationOr(b.DefaultNavigationTimeout, 20*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1280
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 800
	}
	return b.ViewportHeight
}

// Timeout returns the parsed per-call oracle timeout with a sane default.
func (o OracleConfig) Timeout() time.Duration {
	return parseDurationOr(o.RequestTimeout, 2*time.Minute)
}

// Attempts returns the bounded oracle attempt count.
func (o OracleConfig) Attempts() int {
	if o.MaxAttempts <= 0 {
		return 3
	}
	return o.MaxAttempts
}

// ExecTimeout returns the parsed sandbox wall-clock cap.
func (s SandboxConfig) ExecTimeout() time.Duration {
	return parseDurationOr(s.Timeout, 30*time.Second)
}

// OutputCap returns the captured-output byte cap with a sane default.
func (s SandboxConfig) OutputCap() int {
	if s.MaxOutputBytes <= 0 {
		return 16 * 1024
	}
	return s.MaxOutputBytes
}

// Budget returns the overall session wall-clock budget; zero disables it.
func (a AgentConfig) Budget() time.Duration {
	if a.SessionBudget == "" {
		return 0
	}
	d, err := time.ParseDuration(a.SessionBudget)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// SubmissionTimeout returns the per-submission HTTP timeout.
func (a AgentConfig) SubmissionTimeout() time.Duration {
	return parseDurationOr(a.SubmitTimeout, 30*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
