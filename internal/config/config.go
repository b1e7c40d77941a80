package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file Load accepts.
const MaxConfigFileBytes = 64 * 1024

// DeviceConfig selects the camera gateway.
// Type names a registered opener (e.g., "simulated").
type DeviceConfig struct {
	Type string `yaml:"type"`
	Port string `yaml:"port"` // opener specific, e.g. "usb:001,004"; empty = first body found
}

// CaptureConfig holds capture timing and host-side paths.
type CaptureConfig struct {
	DownloadDir    string `yaml:"download_dir"`
	PollMs         int    `yaml:"poll_ms"`         // event poll slice
	TimeoutMs      int    `yaml:"timeout_ms"`      // still: wait budget for the file-added event
	BurstPollMs    int    `yaml:"burst_poll_ms"`   // burst drain poll slice
	QuietMs        int    `yaml:"quiet_ms"`        // burst: stop after this long without a new file
	SaveTimeoutMs  int    `yaml:"save_timeout_ms"` // video: wait for the clip after stopping
	PreviewTarget  string `yaml:"preview_target"`  // live-view recording output
	BurstHoldMs    int    `yaml:"burst_hold_ms"`   // default trigger hold for burst
	VideoSeconds   int    `yaml:"video_seconds"`   // default recording length
	PreviewSeconds int    `yaml:"preview_seconds"` // default live-view recording length
}

// RetryConfig bounds busy retries on configuration writes.
// Zero values are meaningful here, so defaults are only applied to keys
// missing from the file.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`       // 0 = retry until the body accepts
	InitialBackoffMs int `yaml:"initial_backoff_ms"` // 0 = retry immediately
	MaxBackoffMs     int `yaml:"max_backoff_ms"`     // 0 = no cap
}

// EncoderConfig selects the live-view video encoder.
type EncoderConfig struct {
	Kind   string `yaml:"kind"`   // "ffmpeg" or "mjpeg"
	FFmpeg string `yaml:"ffmpeg"` // binary path, default "ffmpeg"
}

// TallyConfig drives an optional "armed" lamp on a GPIO pin.
type TallyConfig struct {
	Enabled   bool `yaml:"enabled"`
	Pin       int  `yaml:"pin"` // BCM numbering
	ActiveLow bool `yaml:"active_low"`
}

// RemoteConfig describes an optional wired release on the body's remote
// terminal, used when the body has no USB remote-release control.
type RemoteConfig struct {
	Enabled        bool `yaml:"enabled"`
	FocusPin       int  `yaml:"focus_pin"`        // GPIO pin for FOCUS line
	ShutterPin     int  `yaml:"shutter_pin"`      // GPIO pin for SHUTTER line
	FocusDelayMs   int  `yaml:"focus_delay_ms"`   // autofocus delay (ms)
	ShutterDelayMs int  `yaml:"shutter_delay_ms"` // shutter hold time (ms)
	// Note: GND is physically connected to Raspberry Pi ground
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Capture  CaptureConfig  `yaml:"capture"`
	Retry    RetryConfig    `yaml:"retry"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Tally    TallyConfig    `yaml:"tally"`
	Remote   RemoteConfig   `yaml:"remote"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Retry: RetryConfig{MaxAttempts: 200, InitialBackoffMs: 1, MaxBackoffMs: 50},
	}
	cfg.applyDefaults()
	return cfg
}

// ValidateConfigPath rejects paths that are empty, climb out of their
// directory or do not name a .yaml file.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	return nil
}

// Load reads a YAML file, overlays EOSCTL_* environment variables and
// returns the validated configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Type == "" {
		c.Device.Type = "simulated"
	}
	if c.Capture.DownloadDir == "" {
		c.Capture.DownloadDir = "."
	}
	if c.Capture.PollMs <= 0 {
		c.Capture.PollMs = 1000
	}
	if c.Capture.TimeoutMs <= 0 {
		c.Capture.TimeoutMs = 5000
	}
	if c.Capture.BurstPollMs <= 0 {
		c.Capture.BurstPollMs = 100
	}
	if c.Capture.QuietMs <= 0 {
		c.Capture.QuietMs = 5000
	}
	if c.Capture.SaveTimeoutMs <= 0 {
		c.Capture.SaveTimeoutMs = 5000
	}
	if c.Capture.PreviewTarget == "" {
		c.Capture.PreviewTarget = "prev_vid.mp4"
	}
	if c.Capture.BurstHoldMs <= 0 {
		c.Capture.BurstHoldMs = 1000
	}
	if c.Capture.VideoSeconds <= 0 {
		c.Capture.VideoSeconds = 5
	}
	if c.Capture.PreviewSeconds <= 0 {
		c.Capture.PreviewSeconds = 5
	}
	if c.Encoder.Kind == "" {
		c.Encoder.Kind = "ffmpeg"
	}
	if c.Encoder.FFmpeg == "" {
		c.Encoder.FFmpeg = "ffmpeg"
	}
	if c.Remote.FocusDelayMs <= 0 {
		c.Remote.FocusDelayMs = 500 // 500ms for autofocus
	}
	if c.Remote.ShutterDelayMs <= 0 {
		c.Remote.ShutterDelayMs = 200 // 200ms shutter hold
	}
}

// Validate checks ranges that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoffMs < 0 || c.Retry.MaxBackoffMs < 0 {
		return fmt.Errorf("retry backoff must be >= 0, got initial=%d max=%d", c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
	}
	if c.Retry.MaxBackoffMs > 0 && c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return fmt.Errorf("retry.max_backoff_ms (%d) must be >= initial_backoff_ms (%d)", c.Retry.MaxBackoffMs, c.Retry.InitialBackoffMs)
	}
	if c.Capture.PollMs > c.Capture.TimeoutMs {
		return fmt.Errorf("capture.poll_ms (%d) must not exceed timeout_ms (%d)", c.Capture.PollMs, c.Capture.TimeoutMs)
	}
	switch c.Encoder.Kind {
	case "ffmpeg", "mjpeg":
	default:
		return fmt.Errorf("unsupported encoder kind: %s", c.Encoder.Kind)
	}
	if c.Tally.Enabled && !validPin(c.Tally.Pin) {
		return fmt.Errorf("tally.pin must be a BCM pin between 0 and 27, got %d", c.Tally.Pin)
	}
	if c.Remote.Enabled {
		if !validPin(c.Remote.FocusPin) || !validPin(c.Remote.ShutterPin) {
			return fmt.Errorf("remote pins must be BCM pins between 0 and 27, got focus=%d shutter=%d", c.Remote.FocusPin, c.Remote.ShutterPin)
		}
		if c.Remote.FocusPin == c.Remote.ShutterPin {
			return fmt.Errorf("remote.focus_pin and remote.shutter_pin must differ, both are %d", c.Remote.FocusPin)
		}
		if c.Tally.Enabled && (c.Tally.Pin == c.Remote.FocusPin || c.Tally.Pin == c.Remote.ShutterPin) {
			return fmt.Errorf("tally.pin %d is already used by the wired remote", c.Tally.Pin)
		}
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func validPin(pin int) bool {
	return pin >= 0 && pin <= 27
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("EOSCTL_DEVICE"); v != "" {
		cfg.Device.Type = v
	}
	if v := os.Getenv("EOSCTL_PORT"); v != "" {
		cfg.Device.Port = v
	}
	if v := os.Getenv("EOSCTL_DOWNLOAD_DIR"); v != "" {
		cfg.Capture.DownloadDir = v
	}
	if v := os.Getenv("EOSCTL_FFMPEG"); v != "" {
		cfg.Encoder.FFmpeg = v
	}
	if v := os.Getenv("EOSCTL_MOCK_GPIO"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("EOSCTL_MOCK_GPIO: %w", err)
		}
		cfg.Defaults.MockGPIO = b
	}
	if v := os.Getenv("EOSCTL_DEBUG"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("EOSCTL_DEBUG: %w", err)
		}
		cfg.Defaults.DebugLevel = n
	}
	return nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Poll returns the event poll slice.
func (c *Config) Poll() time.Duration {
	return ms(c.Capture.PollMs)
}

// StillTimeout returns the wait budget for a still's file-added event.
func (c *Config) StillTimeout() time.Duration {
	return ms(c.Capture.TimeoutMs)
}

// BurstPoll returns the poll slice used while draining a burst.
func (c *Config) BurstPoll() time.Duration {
	return ms(c.Capture.BurstPollMs)
}

// QuietPeriod returns how long a burst drain waits for another file.
func (c *Config) QuietPeriod() time.Duration {
	return ms(c.Capture.QuietMs)
}

// SaveTimeout returns the wait budget for a clip after recording stops.
func (c *Config) SaveTimeout() time.Duration {
	return ms(c.Capture.SaveTimeoutMs)
}

func (c *Config) BurstHold() time.Duration {
	return ms(c.Capture.BurstHoldMs)
}

func (c *Config) VideoDuration() time.Duration {
	return time.Duration(c.Capture.VideoSeconds) * time.Second
}

func (c *Config) PreviewDuration() time.Duration {
	return time.Duration(c.Capture.PreviewSeconds) * time.Second
}

// InitialBackoff returns the first pause between busy retries.
func (c *Config) InitialBackoff() time.Duration {
	return ms(c.Retry.InitialBackoffMs)
}

// MaxBackoff returns the cap on the busy retry pause.
func (c *Config) MaxBackoff() time.Duration {
	return ms(c.Retry.MaxBackoffMs)
}

// FocusDelay returns the wired remote's autofocus delay.
func (c *Config) FocusDelay() time.Duration {
	return ms(c.Remote.FocusDelayMs)
}

// ShutterDelay returns the wired remote's shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return ms(c.Remote.ShutterDelayMs)
}
