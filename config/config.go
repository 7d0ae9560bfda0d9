// Package config loads ollamachat settings from TOML files and the
// environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/ollamakit/logging"
	"github.com/vinayprograms/ollamakit/ollama"
)

// Dialects the chat command can speak.
const (
	DialectNative = "native"
	DialectOpenAI = "openai"
)

// FileName is the settings file looked up in the standard locations.
const FileName = "ollamachat.toml"

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Settings holds everything the CLI needs to run a chat.
type Settings struct {
	Address      string `toml:"address"`
	Model        string `toml:"model"`
	Dialect      string `toml:"dialect"`
	SystemPrompt string `toml:"system_prompt"`
	LogLevel     string `toml:"log_level"`

	Timeouts   Timeouts   `toml:"timeouts"`
	Transcript Transcript `toml:"transcript"`
	Metrics    Metrics    `toml:"metrics"`
	Tracing    Tracing    `toml:"tracing"`
}

// Timeouts bounds lifecycle waits and connection setup.
type Timeouts struct {
	Ready   Duration `toml:"ready"`
	Stop    Duration `toml:"stop"`
	Connect Duration `toml:"connect"`
}

// Transcript configures the searchable archive of exchanges.
type Transcript struct {
	// Path of the index directory. Empty keeps the archive in memory.
	Path string `toml:"path"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Address to serve /metrics on, e.g. "127.0.0.1:9464". Empty disables it.
	Address string `toml:"address"`
}

// Tracing configures OTLP span export.
type Tracing struct {
	// Endpoint of the OTLP collector. Empty disables export.
	Endpoint string `toml:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `toml:"protocol"`
	Insecure bool   `toml:"insecure"`
	// Debug records prompts and responses on spans.
	Debug bool `toml:"debug"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Address:  ollama.DefaultAddress,
		Model:    "llama3.1",
		Dialect:  DialectNative,
		LogLevel: "info",
		Timeouts: Timeouts{
			Ready:   Duration{5 * time.Second},
			Stop:    Duration{5 * time.Second},
			Connect: Duration{ollama.DefaultTimeout},
		},
		Tracing: Tracing{Protocol: "grpc"},
	}
}

// StandardPaths returns the settings file locations in order of priority.
func StandardPaths() []string {
	paths := []string{FileName}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "ollamachat", "config.toml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".ollamachat.toml"))
	}
	return paths
}

// Load reads path if given, otherwise the first standard location that
// exists, and applies environment overrides. No file at all is not an
// error; the defaults are returned with an empty path.
func Load(path string) (*Settings, string, error) {
	if path != "" {
		s, err := LoadFile(path)
		if err != nil {
			return nil, path, err
		}
		s.ApplyEnv(os.Getenv)
		return s, path, s.Validate()
	}

	for _, candidate := range StandardPaths() {
		if _, err := os.Stat(candidate); err == nil {
			s, err := LoadFile(candidate)
			if err != nil {
				return nil, candidate, err
			}
			s.ApplyEnv(os.Getenv)
			return s, candidate, s.Validate()
		}
	}

	s := Default()
	s.ApplyEnv(os.Getenv)
	return s, "", s.Validate()
}

// LoadFile decodes path on top of the defaults.
func LoadFile(path string) (*Settings, error) {
	s := Default()
	md, err := toml.DecodeFile(path, s)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("reading %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return s, nil
}

// ApplyEnv overrides settings from the environment: OLLAMA_HOST for the
// address (as the ollama CLI reads it) and OLLAMACHAT_MODEL for the model.
func (s *Settings) ApplyEnv(getenv func(string) string) {
	if host := strings.TrimSpace(getenv("OLLAMA_HOST")); host != "" {
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		s.Address = host
	}
	if model := strings.TrimSpace(getenv("OLLAMACHAT_MODEL")); model != "" {
		s.Model = model
	}
}

// Validate reports the first invalid setting.
func (s *Settings) Validate() error {
	u, err := url.Parse(s.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("address %q must be an http(s) URL", s.Address)
	}
	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	switch s.Dialect {
	case DialectNative, DialectOpenAI:
	default:
		return fmt.Errorf("dialect %q must be %q or %q", s.Dialect, DialectNative, DialectOpenAI)
	}
	switch s.Tracing.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("tracing.protocol %q must be \"grpc\" or \"http\"", s.Tracing.Protocol)
	}
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		return err
	}
	for name, d := range map[string]Duration{
		"ready":   s.Timeouts.Ready,
		"stop":    s.Timeouts.Stop,
		"connect": s.Timeouts.Connect,
	} {
		if d.Duration == 0 {
			return fmt.Errorf("timeouts.%s must not be zero", name)
		}
	}
	return nil
}

// Level returns the parsed log level. Call Validate first.
func (s *Settings) Level() logging.Level {
	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
