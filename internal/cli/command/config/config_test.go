package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thomas-vilte/releasepipe/internal/config"
	"github.com/thomas-vilte/releasepipe/internal/i18n"
	ghclient "github.com/thomas-vilte/releasepipe/internal/vcs/github"
	"github.com/urfave/cli/v3"
)

func setupConfigTest(t *testing.T) (*config.Config, *i18n.Translations) {
	t.Helper()
	translations, err := i18n.NewTranslations("en", "")
	require.NoError(t, err)

	cfg := config.Default(t.TempDir())
	cfg.PathFile = filepath.Join(cfg.ProjectDir, config.FileName)
	return cfg, translations
}

func runConfig(cfg *config.Config, translations *i18n.Translations, args ...string) (string, error) {
	var out bytes.Buffer
	app := &cli.Command{
		Name:     "releasepipe",
		Writer:   &out,
		Commands: []*cli.Command{NewConfigCommandFactory().CreateCommand(translations, cfg)},
	}
	err := app.Run(context.Background(), append([]string{"releasepipe", "config"}, args...))
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	t.Run("should write a loadable default file", func(t *testing.T) {
		cfg, translations := setupConfigTest(t)

		out, err := runConfig(cfg, translations, "init", "--repo", "demo-org/tf-demos")

		require.NoError(t, err)
		assert.Contains(t, out, config.FileName)

		loaded, err := config.LoadConfig("", cfg.ProjectDir)
		require.NoError(t, err)
		assert.Equal(t, "demo-org/tf-demos", loaded.Repository)
		assert.Equal(t, "x86_64-unknown-linux-musl", loaded.Toolchain.Target)
		assert.Equal(t, cfg.ProjectDir, loaded.ProjectDir)

		data, err := os.ReadFile(cfg.PathFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), cfg.ProjectDir)
	})

	t.Run("should refuse to overwrite without --force", func(t *testing.T) {
		cfg, translations := setupConfigTest(t)
		require.NoError(t, os.WriteFile(cfg.PathFile, []byte("# mine\n"), 0644))

		_, err := runConfig(cfg, translations, "init")
		require.Error(t, err)

		data, err := os.ReadFile(cfg.PathFile)
		require.NoError(t, err)
		assert.Equal(t, "# mine\n", string(data))

		_, err = runConfig(cfg, translations, "init", "--force")
		require.NoError(t, err)
		data, err = os.ReadFile(cfg.PathFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[toolchain]")
	})
}

func TestShowCommand(t *testing.T) {
	t.Run("should print the effective configuration", func(t *testing.T) {
		cfg, translations := setupConfigTest(t)
		cfg.Publish.OnExisting = ghclient.OnExistingReplace

		out, err := runConfig(cfg, translations, "show")

		require.NoError(t, err)
		assert.Contains(t, out, "[publish]")
		assert.Contains(t, out, `on_existing = "replace"`)
	})

	t.Run("should never print the token", func(t *testing.T) {
		cfg, translations := setupConfigTest(t)
		t.Setenv("GITHUB_TOKEN", "ghs_supersecret")

		out, err := runConfig(cfg, translations, "show")

		require.NoError(t, err)
		assert.NotContains(t, out, "ghs_supersecret")
		assert.Contains(t, out, "set")
	})
}
