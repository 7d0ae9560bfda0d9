package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/ollamakit/chat"
)

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.0 KB", humanSize(1024))
	assert.Equal(t, "5.0 GB", humanSize(5*1024*1024*1024))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n  b\tc", 10))
	assert.Equal(t, "abc...", oneLine("abcdef", 3))
}

func TestPrinter_Streams(t *testing.T) {
	var out bytes.Buffer
	p := &printer{out: &out, stream: true}
	m := chat.NewMessage(chat.RoleAssistant, chat.WaitingText)

	p.begin()
	p.refresh(m)
	m.SetContent("")
	p.refresh(m)
	m.Append("Hel")
	p.refresh(m)
	m.Append("lo")
	p.refresh(m)
	p.refresh(chat.NewMessage(chat.RoleUser, "ignored"))
	p.end()

	assert.Equal(t, "Hello\n", out.String())
}

func TestPrinter_Replaced(t *testing.T) {
	var out bytes.Buffer
	p := &printer{out: &out, stream: true}
	m := chat.NewMessage(chat.RoleAssistant, "partial")

	p.begin()
	p.refresh(m)
	m.SetContent(chat.ConnectText)
	p.refresh(m)
	p.end()

	assert.Equal(t, "partial\n"+chat.ConnectText+"\n", out.String())
}

func TestPrinter_RenderModeIsQuiet(t *testing.T) {
	var out bytes.Buffer
	p := &printer{out: &out}
	p.begin()
	p.refresh(chat.NewMessage(chat.RoleAssistant, "x"))
	p.end()
	assert.Empty(t, out.String())
}

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	addSettingsFlags(cmd.Flags())
	return cmd
}

func TestLoadSettings_Flags(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("OLLAMACHAT_MODEL", "")

	cmd := newTestCommand()
	dir := t.TempDir()
	require.NoError(t, cmd.Flags().Set("config", filepath.Join("testdata", "ollamachat.toml")))
	require.NoError(t, cmd.Flags().Set("model", "mistral"))
	require.NoError(t, cmd.Flags().Set("transcript", dir))

	s, err := loadSettings(cmd)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", s.Address)
	assert.Equal(t, "mistral", s.Model)
	assert.Equal(t, dir, s.Transcript.Path)
}

func TestLoadSettings_Invalid(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", filepath.Join("testdata", "ollamachat.toml")))
	require.NoError(t, cmd.Flags().Set("dialect", "smoke-signals"))

	_, err := loadSettings(cmd)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(out.String(), "ollamachat version "))
}
