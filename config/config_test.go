package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/ollamakit/logging"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	assert.Equal(t, "http://localhost:11434", s.Address)
	assert.Equal(t, "llama3.1", s.Model)
	assert.Equal(t, DialectNative, s.Dialect)
	assert.Equal(t, 5*time.Second, s.Timeouts.Ready.Duration)
	assert.Equal(t, 5*time.Second, s.Timeouts.Stop.Duration)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
address = "http://gpu-box:11434"
model = "mistral"
dialect = "openai"
log_level = "debug"
system_prompt = "Answer in one sentence."

[timeouts]
ready = "2s"
stop = "750ms"

[transcript]
path = "/tmp/ollamachat.bleve"

[metrics]
address = "127.0.0.1:9464"

[tracing]
endpoint = "otel:4318"
protocol = "http"
insecure = true
`)

	s, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "http://gpu-box:11434", s.Address)
	assert.Equal(t, "mistral", s.Model)
	assert.Equal(t, DialectOpenAI, s.Dialect)
	assert.Equal(t, logging.LevelDebug, s.Level())
	assert.Equal(t, "Answer in one sentence.", s.SystemPrompt)
	assert.Equal(t, 2*time.Second, s.Timeouts.Ready.Duration)
	assert.Equal(t, 750*time.Millisecond, s.Timeouts.Stop.Duration)
	assert.Equal(t, 10*time.Second, s.Timeouts.Connect.Duration, "unset keys keep their defaults")
	assert.Equal(t, "/tmp/ollamachat.bleve", s.Transcript.Path)
	assert.Equal(t, "127.0.0.1:9464", s.Metrics.Address)
	assert.Equal(t, Tracing{Endpoint: "otel:4318", Protocol: "http", Insecure: true}, s.Tracing)
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeFile(t, `modle = "typo"`)
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modle")
}

func TestLoadFile_BadDuration(t *testing.T) {
	path := writeFile(t, "[timeouts]\nready = \"soon\"\n")
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoad_ExplicitPath(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("OLLAMACHAT_MODEL", "")
	path := writeFile(t, `model = "phi3"`)

	s, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "phi3", s.Model)
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OLLAMA_HOST":      "10.0.0.5:11434",
		"OLLAMACHAT_MODEL": "qwen2",
	}
	s := Default()
	s.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "http://10.0.0.5:11434", s.Address)
	assert.Equal(t, "qwen2", s.Model)

	s.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, "qwen2", s.Model, "empty variables change nothing")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"no scheme", func(s *Settings) { s.Address = "localhost:11434" }},
		{"ftp", func(s *Settings) { s.Address = "ftp://host" }},
		{"no model", func(s *Settings) { s.Model = "" }},
		{"dialect", func(s *Settings) { s.Dialect = "grpc" }},
		{"log level", func(s *Settings) { s.LogLevel = "chatty" }},
		{"tracing protocol", func(s *Settings) { s.Tracing.Protocol = "udp" }},
		{"zero timeout", func(s *Settings) { s.Timeouts.Stop = Duration{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestStandardPaths(t *testing.T) {
	paths := StandardPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, FileName, paths[0])
}
