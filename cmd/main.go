package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/thomas-vilte/releasepipe/internal/cli/command/cache"
	"github.com/thomas-vilte/releasepipe/internal/cli/command/completion"
	"github.com/thomas-vilte/releasepipe/internal/cli/command/config"
	"github.com/thomas-vilte/releasepipe/internal/cli/command/run"
	"github.com/thomas-vilte/releasepipe/internal/cli/command/workflow"
	"github.com/thomas-vilte/releasepipe/internal/cli/registry"
	cfg "github.com/thomas-vilte/releasepipe/internal/config"
	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/i18n"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/ui"
	"github.com/thomas-vilte/releasepipe/internal/version"
	"github.com/urfave/cli/v3"
)

func main() {
	app, err := initializeApp()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error starting releasepipe: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		ui.HandleAppError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func initializeApp() (*cli.Command, error) {
	// Loaded early only to pick the help language; Before reloads it with
	// the final flags.
	cfgApp, err := cfg.LoadConfig(os.Getenv("RELEASEPIPE_CONFIG"), os.Getenv("RELEASEPIPE_PROJECT"))
	if err != nil {
		cfgApp = cfg.Default(".")
	}

	translations, err := i18n.NewTranslations(cfg.GetLocaleConfig(cfgApp.Language), "")
	if err != nil {
		return nil, fmt.Errorf("error loading translations: %w", err)
	}

	registerCommand := registry.NewRegistry(cfgApp, translations)

	if err := registerCommand.Register("run", run.NewRunCommandFactory()); err != nil {
		return nil, err
	}
	if err := registerCommand.Register("workflow", workflow.NewWorkflowCommandFactory()); err != nil {
		return nil, err
	}
	if err := registerCommand.Register("cache", cache.NewCacheCommand()); err != nil {
		return nil, err
	}
	if err := registerCommand.Register("config", config.NewConfigCommandFactory()); err != nil {
		return nil, err
	}

	commands := registerCommand.CreateCommands()
	commands = append(commands, completion.NewCompletionCommand(translations))

	helpCommand := &cli.Command{
		Name:    "help",
		Aliases: []string{"h"},
		Usage:   translations.GetMessage("help_command_usage", 0, nil),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd.Root())
		},
	}
	commands = append(commands, helpCommand)

	return &cli.Command{
		Name:        "releasepipe",
		Usage:       translations.GetMessage("app_usage", 0, nil),
		Version:     version.Version,
		Description: translations.GetMessage("app_description", 0, nil),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   translations.GetMessage("global.config_flag", 0, nil),
				Sources: cli.EnvVars("RELEASEPIPE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "project",
				Aliases: []string{"C"},
				Usage:   translations.GetMessage("global.project_flag", 0, nil),
				Value:   ".",
				Sources: cli.EnvVars("RELEASEPIPE_PROJECT", "GITHUB_WORKSPACE"),
			},
			&cli.StringFlag{
				Name:    "lang",
				Usage:   translations.GetMessage("global.lang_flag", 0, nil),
				Sources: cli.EnvVars("RELEASEPIPE_LANG"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   translations.GetMessage("global.debug_flag", 0, nil),
				Sources: cli.EnvVars("RELEASEPIPE_DEBUG", "RUNNER_DEBUG"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   translations.GetMessage("global.verbose_flag", 0, nil),
				Sources: cli.EnvVars("RELEASEPIPE_VERBOSE"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger.Initialize(cmd.Bool("debug"), cmd.Bool("verbose"), ui.IsTerminal(os.Stderr))

			loaded, err := cfg.LoadConfig(cmd.String("config"), cmd.String("project"))
			if err != nil {
				return ctx, errors.ErrConfigInvalid.WithError(err)
			}
			if lang := cmd.String("lang"); lang != "" {
				loaded.Language = lang
			}

			// Commands hold this pointer since they were created above.
			*cfgApp = *loaded
			if err := translations.SetLanguage(cfg.GetLocaleConfig(cfgApp.Language)); err != nil {
				logger.Warn(ctx, "could not switch language", "language", cfgApp.Language, "error", err)
			}

			logger.Debug(ctx, "configuration loaded", "file", cfgApp.PathFile, "project", cfgApp.ProjectDir)
			return ctx, nil
		},
		Commands:              commands,
		EnableShellCompletion: true,
	}, nil
}
