package config

import (
	"context"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/thomas-vilte/releasepipe/internal/config"
	"github.com/thomas-vilte/releasepipe/internal/i18n"
	"github.com/thomas-vilte/releasepipe/internal/ui"
	"github.com/urfave/cli/v3"
)

func (c *ConfigCommandFactory) newShowCommand(t *i18n.Translations, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: t.GetMessage("config.show_usage", 0, nil),
		Action: func(ctx context.Context, command *cli.Command) error {
			w := command.Root().Writer

			ui.PrintKeyValue(w, "file", cfg.PathFile)
			token := t.GetMessage("config.token_not_set", 0, nil)
			if os.Getenv("GITHUB_TOKEN") != "" {
				token = t.GetMessage("config.token_set", 0, nil)
			}
			ui.PrintKeyValue(w, "GITHUB_TOKEN", token)
			_, _ = w.Write([]byte("\n"))

			return toml.NewEncoder(w).Encode(cfg)
		},
	}
}
