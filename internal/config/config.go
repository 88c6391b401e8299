package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/petems/vela-audio/internal/audio"
	"github.com/rs/zerolog"
)

const appName = "vela-audio"

type Config struct {
	LogLevel string        `json:"log_level"` // zerolog level name
	Backend  string        `json:"backend"`   // "portaudio", "miniaudio", "synth" or "file"
	Capture  CaptureConfig `json:"capture"`
	Synth    SynthConfig   `json:"synth"`
	File     FileConfig    `json:"file"`
	Monitor  MonitorConfig `json:"monitor"`
	Record   RecordConfig  `json:"record"`

	path string
}

type CaptureConfig struct {
	SampleRate int          `json:"sample_rate"`
	ChunkSize  int          `json:"chunk_size"`
	DeviceNode audio.NodeID `json:"device_node"` // "any" or a backend device id
}

type SynthConfig struct {
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
	Format    string  `json:"format"` // "f32le" or "s16le"
}

// FileConfig selects the clip replayed by the file backend.
type FileConfig struct {
	Path string `json:"path"`
	Loop bool   `json:"loop"`
}

type MonitorConfig struct {
	RefreshRate Duration `json:"refresh_rate"`
	Bars        int      `json:"bars"`
}

type RecordConfig struct {
	Dir          string   `json:"dir"`
	PollInterval Duration `json:"poll_interval"`
}

// Duration is a time.Duration that reads and writes as "33ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Backend:  audio.BackendPortAudio,
		Capture: CaptureConfig{
			SampleRate: 44100,
			ChunkSize:  512,
			DeviceNode: audio.AnyNode,
		},
		Synth: SynthConfig{
			Frequency: 440,
			Amplitude: 0.5,
			Format:    "f32le",
		},
		Monitor: MonitorConfig{
			RefreshRate: Duration(33 * time.Millisecond), // ~30fps
			Bars:        32,
		},
		Record: RecordConfig{
			Dir:          RecordingsPath(),
			PollInterval: Duration(5 * time.Millisecond),
		},
	}
}

// Load reads .env (if present), then the config from disk, then VELA_*
// environment overrides. A missing config file yields defaults.
func Load() (*Config, error) {
	return LoadWithEnv(configPath())
}

// LoadWithEnv is Load for an explicit config path.
func LoadWithEnv(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load for an explicit config path, without reading .env.
func LoadFrom(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile returns the defaults overlaid with the file at path, if any.
func readFile(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from VELA_* variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("VELA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VELA_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("VELA_FILE"); v != "" {
		c.File.Path = v
	}
	if v := os.Getenv("VELA_SAMPLE_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VELA_SAMPLE_RATE: %w", err)
		}
		c.Capture.SampleRate = n
	}
	if v := os.Getenv("VELA_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VELA_CHUNK_SIZE: %w", err)
		}
		c.Capture.ChunkSize = n
	}
	if v := os.Getenv("VELA_DEVICE_NODE"); v != "" {
		node, err := audio.ParseNodeID(v)
		if err != nil {
			return fmt.Errorf("VELA_DEVICE_NODE: %w", err)
		}
		c.Capture.DeviceNode = node
	}
	return nil
}

// Validate rejects settings no component can honour.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if !knownBackend(c.Backend) {
		return fmt.Errorf("backend: %w: %q", audio.ErrUnknownBackend, c.Backend)
	}
	if _, err := audio.ParseFormat(c.Synth.Format); err != nil {
		return fmt.Errorf("synth.format: %w", err)
	}
	if strings.EqualFold(c.Backend, audio.BackendFile) && c.File.Path == "" {
		return fmt.Errorf("file.path is required for the file backend")
	}
	if c.Monitor.RefreshRate <= 0 {
		return fmt.Errorf("monitor.refresh_rate must be positive")
	}
	if c.Record.PollInterval <= 0 {
		return fmt.Errorf("record.poll_interval must be positive")
	}
	return nil
}

func knownBackend(name string) bool {
	if strings.EqualFold(name, "malgo") {
		return true
	}
	for _, b := range audio.Backends {
		if strings.EqualFold(name, b) {
			return true
		}
	}
	return false
}

// BackendOptions maps the config onto audio.NewBackend options.
func (c *Config) BackendOptions(log zerolog.Logger) audio.Options {
	format, _ := audio.ParseFormat(c.Synth.Format)
	return audio.Options{
		Synth: audio.SynthOptions{
			Frequency: c.Synth.Frequency,
			Amplitude: c.Synth.Amplitude,
			Format:    format,
		},
		File: audio.FileOptions{
			Path: c.File.Path,
			Loop: c.File.Loop,
		},
		Logger: log,
	}
}

// Path returns the file Save writes to.
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.Path()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Persist applies update to the config stored at Path and writes it back. Only
// what update changes reaches the disk: environment and flag overrides held
// by c stay out of the file.
func (c *Config) Persist(update func(*Config)) error {
	stored, err := readFile(c.Path())
	if err != nil {
		return err
	}
	update(stored)
	return stored.Save()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, appName, "config.json")
}

// RecordingsPath returns the platform-specific default directory for WAV captures
func RecordingsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Music"
	case "windows":
		base = os.Getenv("USERPROFILE") + "\\Music"
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, appName, "recordings")
}
