package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/thomas-vilte/releasepipe/internal/cli/completion_helper"
	"github.com/thomas-vilte/releasepipe/internal/config"
	"github.com/thomas-vilte/releasepipe/internal/i18n"
	"github.com/thomas-vilte/releasepipe/internal/ui"
	"github.com/urfave/cli/v3"
)

func (c *ConfigCommandFactory) newInitCommand(t *i18n.Translations, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: t.GetMessage("config.init_usage", 0, nil),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "repo",
				Usage: t.GetMessage("run.repo_flag", 0, nil),
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   t.GetMessage("config.force_flag", 0, nil),
			},
		},
		ShellComplete: completion_helper.DefaultFlagComplete,
		Action:        initConfigAction(cfg, t),
	}
}

func initConfigAction(cfg *config.Config, t *i18n.Translations) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		w := command.Root().Writer
		path := filepath.Join(cfg.ProjectDir, config.FileName)

		if _, err := os.Stat(path); err == nil && !command.Bool("force") {
			ui.PrintWarning(w, t.GetMessage("config.exists", 0, map[string]interface{}{"Path": path}))
			return errors.New(t.GetMessage("config.exists", 0, map[string]interface{}{"Path": path}))
		}

		// project_dir stays relative so the file can be committed.
		fresh := config.Default(".")
		fresh.Repository = command.String("repo")
		fresh.Language = cfg.Language
		fresh.PathFile = path

		if err := config.SaveConfig(fresh); err != nil {
			return err
		}

		ui.PrintSuccess(w, t.GetMessage("config.created", 0, map[string]interface{}{"Path": path}))
		return nil
	}
}
