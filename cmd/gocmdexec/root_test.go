package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/gocmdexec/internal/config"
	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flagCommand registers the session flags on a throwaway command.
func flagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&logDir, "log_dir", config.DefaultLogDir, "")
	cmd.Flags().BoolVar(&disableLog, "disable_log", false, "")
	cmd.Flags().StringVar(&lineEndings, "line_endings", string(models.LineEndingsAuto), "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestLoadSettings_Defaults(t *testing.T) {
	configFile = ""

	cfg, err := loadSettings(flagCommand(t))

	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)
}

func TestLoadSettings_FlagOverrides(t *testing.T) {
	configFile = ""
	dir := t.TempDir()

	cfg, err := loadSettings(flagCommand(t, "--log_dir", dir, "--disable_log", "--line_endings", "KEEP"))

	require.NoError(t, err)
	assert.Equal(t, dir, cfg.LogDir)
	assert.True(t, cfg.DisableLog)
	assert.Equal(t, models.LineEndingsKeep, cfg.LineEndings)
}

func TestLoadSettings_FlagsBeatConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gocmdexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_dir: /from/file\ntranscript:\n  line_endings: strip\n"), 0o600))
	configFile = path
	t.Cleanup(func() { configFile = "" })

	cfg, err := loadSettings(flagCommand(t, "--log_dir", "/from/flag"))

	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.LogDir)
	assert.Equal(t, models.LineEndingsStrip, cfg.LineEndings)
}

func TestLoadSettings_InvalidLineEndings(t *testing.T) {
	configFile = ""

	_, err := loadSettings(flagCommand(t, "--line_endings", "cr"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "line_endings")
}

func TestLoadSettings_MissingConfigFile(t *testing.T) {
	configFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { configFile = "" })

	_, err := loadSettings(flagCommand(t))

	assert.Error(t, err)
}
