package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the OverlayNERD controller.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Overlay OverlayConfig `yaml:"overlay"`
	MCP     MCPConfig     `yaml:"mcp"`
	Mangle  MangleConfig  `yaml:"mangle"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// Log level understood by zerolog: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the controller launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: false, the overlay is meant to be seen).
	Headless *bool `yaml:"headless"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Viewport width for pages opened by the controller (default: 1280).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for pages opened by the controller (default: 800).
	ViewportHeight int `yaml:"viewport_height"`
}

// OverlayConfig tunes the injection handshake and the dialog side-channel.
type OverlayConfig struct {
	// DOM id of the element the overlay runtime mounts into.
	RootElementID string `yaml:"root_element_id"`
	// Upper bound for a single liveness probe (e.g., "2s").
	ProbeTimeout string `yaml:"probe_timeout"`
	// Fixed wait between installing the runtime and re-probing it (e.g., "500ms").
	SettleDelay string `yaml:"settle_delay"`
	// URL prefixes the runtime must never be installed into.
	DisallowedSchemes []string `yaml:"disallowed_schemes"`
	// DOM ids for the two dialog kinds; re-rendering replaces an open dialog with the same id.
	ConfirmDialogID string `yaml:"confirm_dialog_id"`
	InputDialogID   string `yaml:"input_dialog_id"`
	// Directory for channel flight-recorder traces. Empty disables recording.
	TraceDir string `yaml:"trace_dir"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the embedded deductive engine.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen address for /metrics (e.g., ":9464"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "overlaynerd-mcp",
			Version:  "0.1.0",
			LogFile:  "overlaynerd-mcp.log",
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			AutoStart:            true,
			DefaultAttachTimeout: "10s",
			ViewportWidth:        1280,
			ViewportHeight:       800,
		},
		Overlay: OverlayConfig{
			RootElementID:     "aum-automation-chat-root",
			ProbeTimeout:      "2s",
			SettleDelay:       "500ms",
			DisallowedSchemes: []string{"chrome://", "chrome-extension://", "edge://", "devtools://"},
			ConfirmDialogID:   "custom-confirm-popup",
			InputDialogID:     "update-popup-overlay",
			TraceDir:          "data/traces",
		},
		Mangle: MangleConfig{
			Enable:          true,
			SchemaPath:      "schemas/overlay.mg",
			FactBufferLimit: 2048,
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
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate ensures required fields exist so the controller can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Overlay.ConfirmID() == c.Overlay.InputID() {
		return errors.New("overlay.confirm_dialog_id and overlay.input_dialog_id must differ")
	}
	return nil
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
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

// ProbeTimeoutDuration returns the liveness probe bound with a sane default.
func (o OverlayConfig) ProbeTimeoutDuration() time.Duration {
	return parseDuration(o.ProbeTimeout, 2*time.Second)
}

// SettleDelayDuration returns the post-install settling interval with a sane default.
// Zero is allowed and means re-probe immediately.
func (o OverlayConfig) SettleDelayDuration() time.Duration {
	return parseDuration(o.SettleDelay, 500*time.Millisecond)
}

// Schemes returns the disallowed URL prefixes, falling back to the browser-internal set.
func (o OverlayConfig) Schemes() []string {
	if len(o.DisallowedSchemes) == 0 {
		return []string{"chrome://", "chrome-extension://", "edge://", "devtools://"}
	}
	return o.DisallowedSchemes
}

// RootID returns the overlay root element id.
func (o OverlayConfig) RootID() string {
	if strings.TrimSpace(o.RootElementID) == "" {
		return "aum-automation-chat-root"
	}
	return o.RootElementID
}

// ConfirmID returns the confirmation dialog element id.
func (o OverlayConfig) ConfirmID() string {
	if o.ConfirmDialogID == "" {
		return "custom-confirm-popup"
	}
	return o.ConfirmDialogID
}

// InputID returns the text-input dialog element id.
func (o OverlayConfig) InputID() string {
	if o.InputDialogID == "" {
		return "update-popup-overlay"
	}
	return o.InputDialogID
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
