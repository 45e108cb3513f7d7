package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thomas-vilte/releasepipe/internal/cli/completion_helper"
	"github.com/thomas-vilte/releasepipe/internal/config"
	"github.com/thomas-vilte/releasepipe/internal/i18n"
	"github.com/thomas-vilte/releasepipe/internal/ui"
	"github.com/thomas-vilte/releasepipe/internal/workflow"
	"github.com/urfave/cli/v3"
)

type WorkflowCommandFactory struct{}

func NewWorkflowCommandFactory() *WorkflowCommandFactory {
	return &WorkflowCommandFactory{}
}

func (f *WorkflowCommandFactory) CreateCommand(t *i18n.Translations, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: t.GetMessage("workflow.usage", 0, nil),
		Commands: []*cli.Command{
			{
				Name:  "render",
				Usage: t.GetMessage("workflow.render_usage", 0, nil),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   t.GetMessage("workflow.output_flag", 0, nil),
					},
				},
				ShellComplete: completion_helper.DefaultFlagComplete,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					data, err := workflow.Render(cfg)
					if err != nil {
						return err
					}

					output := cmd.String("output")
					if output == "" {
						_, err := cmd.Root().Writer.Write(data)
						return err
					}

					if !filepath.IsAbs(output) {
						output = filepath.Join(cfg.ProjectDir, output)
					}
					if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
						return fmt.Errorf("error creating workflow directory: %w", err)
					}
					if err := os.WriteFile(output, data, 0644); err != nil {
						return fmt.Errorf("error writing workflow: %w", err)
					}

					ui.PrintSuccess(cmd.Root().Writer, t.GetMessage("workflow.written", 0, map[string]interface{}{"Path": output}))
					return nil
				},
			},
		},
	}
}
