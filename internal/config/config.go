package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the demo agent server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Browser  BrowserConfig  `yaml:"browser"`
	Demos    DemosConfig    `yaml:"demos"`
	Decision DecisionConfig `yaml:"decision"`
	Journal  JournalConfig  `yaml:"journal"`
	Recorder RecorderConfig `yaml:"recorder"`
	MCP      MCPConfig      `yaml:"mcp"`
}

type ServerConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	LogLevel    string `yaml:"log_level"`
	Development bool   `yaml:"development"`
	// Optional log file; stderr is used when empty.
	LogFile string `yaml:"log_file"`
}

// HTTPConfig configures the JSON endpoints consumed by the demo client.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// Origins allowed by the CORS middleware ("*" allows any).
	AllowedOrigins []string `yaml:"allowed_origins"`
	ReadTimeout    string   `yaml:"read_timeout"`
}

// BrowserConfig configures how Rod launches Chrome and how long actions may take.
type BrowserConfig struct {
	// Optional Chrome binary; empty lets Rod locate or download one.
	Bin string `yaml:"bin"`
	// Extra launcher flags (e.g., ["--no-sandbox", "--lang=en-US"]).
	Flags []string `yaml:"flags"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Viewport width for new sessions (default: 1280).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 800).
	ViewportHeight int `yaml:"viewport_height"`
	// Timeout for the initial navigation to a demo's start URL (e.g., "30s").
	StartNavigationTimeout string `yaml:"start_navigation_timeout"`
	// Timeout for navigate actions issued during a demo (e.g., "15s").
	NavigationTimeout string `yaml:"navigation_timeout"`
	// Per-attempt timeout for click/type in predefined setup scripts.
	SetupActionTimeout string `yaml:"setup_action_timeout"`
	// Per-attempt timeout for click/type chosen by the decision service.
	TurnActionTimeout string `yaml:"turn_action_timeout"`
	// Upper bound on the network-idle wait after a click.
	IdleTimeout string `yaml:"idle_timeout"`
	// JPEG quality 1-100 for snapshots (default: 85).
	ScreenshotQuality int `yaml:"screenshot_quality"`
}

// DemosConfig points at the directory holding <tag>.json demo definitions.
type DemosConfig struct {
	Dir        string `yaml:"dir"`
	DefaultTag string `yaml:"default_tag"`
}

// DecisionConfig configures the model that picks one action per turn.
type DecisionConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	// Environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	Timeout   string `yaml:"timeout"`
}

// JournalConfig controls the in-memory Mangle fact journal.
type JournalConfig struct {
	Enable          bool `yaml:"enable"`
	FactBufferLimit int  `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls the per-run JSONL trace files.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
	// Number of trace files kept on disk (default: 5).
	Keep int `yaml:"keep"`
}

type MCPConfig struct {
	// Enable registers the demo operations as MCP tools.
	Enable bool `yaml:"enable"`
	// When set, serves MCP over SSE on this port; otherwise stdio.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "demoagent-server",
			Version:  "0.1.0",
			LogLevel: "info",
		},
		HTTP: HTTPConfig{
			Addr:           ":5000",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    "30s",
		},
		Browser: BrowserConfig{
			ViewportWidth:          1280,
			ViewportHeight:         800,
			StartNavigationTimeout: "30s",
			NavigationTimeout:      "15s",
			SetupActionTimeout:     "10s",
			TurnActionTimeout:      "5s",
			IdleTimeout:            "10s",
			ScreenshotQuality:      85,
		},
		Demos: DemosConfig{
			Dir:        "demo_configs",
			DefaultTag: "twitter",
		},
		Decision: DecisionConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 1024,
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Timeout:   "60s",
		},
		Journal: JournalConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Enable: false,
			Dir:    "data/traces",
			Keep:   5,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Demos.Dir == "" {
		return errors.New("demos.dir is required")
	}
	if c.Decision.Model == "" {
		return errors.New("decision.model is required")
	}
	if c.Decision.MaxTokens < 0 {
		return errors.New("decision.max_tokens must be >= 0")
	}
	if c.Journal.FactBufferLimit < 0 {
		return errors.New("journal.fact_buffer_limit must be >= 0")
	}
	if c.Recorder.Keep < 0 {
		return errors.New("recorder.keep must be >= 0")
	}
	if c.Browser.ScreenshotQuality < 0 || c.Browser.ScreenshotQuality > 100 {
		return errors.New("browser.screenshot_quality must be between 0 and 100")
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
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

func (b BrowserConfig) StartNavTimeout() time.Duration {
	return parseDuration(b.StartNavigationTimeout, 30*time.Second)
}

// NavTimeout returns the parsed per-turn navigation timeout with a sane default.
func (b BrowserConfig) NavTimeout() time.Duration {
	return parseDuration(b.NavigationTimeout, 15*time.Second)
}

func (b BrowserConfig) SetupTimeout() time.Duration {
	return parseDuration(b.SetupActionTimeout, 10*time.Second)
}

func (b BrowserConfig) TurnTimeout() time.Duration {
	return parseDuration(b.TurnActionTimeout, 5*time.Second)
}

func (b BrowserConfig) NetworkIdleTimeout() time.Duration {
	return parseDuration(b.IdleTimeout, 10*time.Second)
}

// GetScreenshotQuality returns the JPEG quality with a sane default.
func (b BrowserConfig) GetScreenshotQuality() int {
	if b.ScreenshotQuality <= 0 {
		return 85
	}
	return b.ScreenshotQuality
}

// GetReadTimeout returns the HTTP read timeout with a sane default.
func (h HTTPConfig) GetReadTimeout() time.Duration {
	return parseDuration(h.ReadTimeout, 30*time.Second)
}

// GetTimeout returns the per-call decision timeout with a sane default.
func (d DecisionConfig) GetTimeout() time.Duration {
	return parseDuration(d.Timeout, 60*time.Second)
}

// APIKey resolves the API key from the configured environment variable.
func (d DecisionConfig) APIKey() string {
	env := d.APIKeyEnv
	if env == "" {
		env = "ANTHROPIC_API_KEY"
	}
	return os.Getenv(env)
}
