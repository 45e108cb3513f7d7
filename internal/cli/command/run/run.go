// Package run wires the release pipeline components from configuration and
// flags and executes one run.
package run

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/thomas-vilte/releasepipe/internal/builder"
	"github.com/thomas-vilte/releasepipe/internal/cache"
	"github.com/thomas-vilte/releasepipe/internal/cli/completion_helper"
	"github.com/thomas-vilte/releasepipe/internal/config"
	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/i18n"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/models"
	"github.com/thomas-vilte/releasepipe/internal/pipeline"
	"github.com/thomas-vilte/releasepipe/internal/provision"
	"github.com/thomas-vilte/releasepipe/internal/shell"
	"github.com/thomas-vilte/releasepipe/internal/toolchain"
	"github.com/thomas-vilte/releasepipe/internal/trigger"
	"github.com/thomas-vilte/releasepipe/internal/ui"
	"github.com/thomas-vilte/releasepipe/internal/vcs"
	ghclient "github.com/thomas-vilte/releasepipe/internal/vcs/github"
	"github.com/urfave/cli/v3"
)

// PublisherFactory creates the client that uploads the asset.
type PublisherFactory func(owner, repo, token string, opts ...ghclient.Option) (vcs.AssetPublisher, error)

type RunCommandFactory struct {
	runner       shell.Runner
	newPublisher PublisherFactory
	out          io.Writer
}

type Option func(*RunCommandFactory)

// WithShellRunner replaces the runner used for apt-get, rustup and cargo.
func WithShellRunner(runner shell.Runner) Option {
	return func(f *RunCommandFactory) {
		f.runner = runner
	}
}

func WithPublisherFactory(factory PublisherFactory) Option {
	return func(f *RunCommandFactory) {
		f.newPublisher = factory
	}
}

func WithOutput(w io.Writer) Option {
	return func(f *RunCommandFactory) {
		f.out = w
	}
}

func NewRunCommandFactory(opts ...Option) *RunCommandFactory {
	f := &RunCommandFactory{
		runner: shell.NewExecRunner(),
		newPublisher: func(owner, repo, token string, opts ...ghclient.Option) (vcs.AssetPublisher, error) {
			return ghclient.NewGitHubClient(owner, repo, token, opts...)
		},
		out: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *RunCommandFactory) CreateCommand(t *i18n.Translations, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: t.GetMessage("run.usage", 0, nil),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "event",
				Aliases: []string{"e"},
				Usage:   t.GetMessage("run.event_flag", 0, nil),
				Sources: cli.EnvVars("GITHUB_EVENT_PATH"),
			},
			&cli.StringFlag{
				Name:    "tag",
				Usage:   t.GetMessage("run.tag_flag", 0, nil),
				Sources: cli.EnvVars("RELEASEPIPE_TAG"),
			},
			&cli.StringFlag{
				Name:  "action",
				Usage: t.GetMessage("run.action_flag", 0, nil),
				Value: string(models.TriggerCreated),
			},
			&cli.StringFlag{
				Name:    "repo",
				Usage:   t.GetMessage("run.repo_flag", 0, nil),
				Sources: cli.EnvVars("GITHUB_REPOSITORY"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   t.GetMessage("run.token_flag", 0, nil),
				Sources: cli.EnvVars("GITHUB_TOKEN"),
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: t.GetMessage("run.dry_run_flag", 0, nil),
			},
			&cli.BoolFlag{
				Name:    "ci",
				Usage:   t.GetMessage("run.ci_flag", 0, nil),
				Sources: cli.EnvVars("CI"),
			},
			&cli.StringFlag{
				Name:    "on-existing",
				Usage:   t.GetMessage("run.on_existing_flag", 0, nil),
				Sources: cli.EnvVars("RELEASEPIPE_ON_EXISTING"),
			},
			&cli.BoolFlag{
				Name:    "no-cache",
				Usage:   t.GetMessage("run.no_cache_flag", 0, nil),
				Sources: cli.EnvVars("RELEASEPIPE_NO_CACHE"),
			},
		},
		ShellComplete: completion_helper.DefaultFlagComplete,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts := Options{
				EventPath:  cmd.String("event"),
				Tag:        cmd.String("tag"),
				Repository: cmd.String("repo"),
				Token:      cmd.String("token"),
				OnExisting: cmd.String("on-existing"),
				DryRun:     cmd.Bool("dry-run"),
				CI:         cmd.Bool("ci"),
				NoCache:    cmd.Bool("no-cache"),
			}
			// --action only matters for a synthetic event built from --tag.
			if cmd.IsSet("action") || opts.Tag != "" {
				opts.Action = cmd.String("action")
			}

			result, err := f.Execute(ctx, t, cfg, opts)
			if err != nil {
				ui.HandleAppError(f.out, err, t)
				return cli.Exit("", 1)
			}
			if result.State == pipeline.StateFailed {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// Options are the per-invocation inputs of Execute.
type Options struct {
	EventPath  string
	Tag        string
	Action     string
	Repository string
	Token      string
	OnExisting string
	DryRun     bool
	CI         bool
	NoCache    bool
}

// Execute resolves the event, builds the pipeline and runs it. Errors
// returned directly happened before the pipeline started; failures inside
// the pipeline are reported in the Result and already printed.
func (f *RunCommandFactory) Execute(ctx context.Context, t *i18n.Translations, cfg *config.Config, opts Options) (pipeline.Result, error) {
	if opts.CI {
		ui.DisableColor()
	}

	repository := opts.Repository
	if repository == "" {
		repository = cfg.Repository
	}

	event, err := trigger.Listen(trigger.Source{
		EventPath:  opts.EventPath,
		Tag:        opts.Tag,
		Action:     opts.Action,
		Repository: repository,
	})
	if err != nil {
		var ignored *trigger.IgnoredEventError
		if stdErrors.As(err, &ignored) {
			ui.PrintInfo(f.out, t.GetMessage("run.event_ignored", 0, map[string]interface{}{
				"Action": string(ignored.Action),
			}))
			logger.Info(ctx, "release event ignored", "action", ignored.Action)
			return pipeline.Result{State: pipeline.StateIdle, Ignored: true}, nil
		}
		return pipeline.Result{}, err
	}

	if opts.OnExisting != "" {
		cfg.Publish.OnExisting = opts.OnExisting
	}
	if !ghclient.ValidOnExisting(cfg.Publish.OnExisting) {
		return pipeline.Result{}, errors.ErrConfigInvalid.
			WithContext("on_existing", cfg.Publish.OnExisting).
			WithSuggestion(fmt.Sprintf("Use %q or %q", ghclient.OnExistingReject, ghclient.OnExistingReplace))
	}
	if opts.NoCache {
		cfg.Cache.Enabled = false
	}

	ctx = logger.With(ctx, "tag", event.Tag, "repository", event.Repository())

	pipelineOpts := []pipeline.Option{}
	if !cfg.Provision.Skip {
		pipelineOpts = append(pipelineOpts, pipeline.WithProvisioner(
			provision.NewProvisioner(f.runner, cfg.Provision.Packages, provision.WithSudo(cfg.Provision.UseSudo)),
		))
	}
	if buildCache := f.openCache(ctx, cfg); buildCache != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithCache(buildCache))
	}

	cargo := builder.NewCargoBuilder(f.runner, cfg.ProjectDir, cfg.Build.BinaryName,
		builder.WithToolchain(cfg.Toolchain.Name),
		builder.WithAssetName(cfg.Publish.AssetName),
		builder.WithLocked(cfg.Build.Locked),
		builder.WithFeatures(cfg.Build.Features...),
		builder.WithStaticCheck(cfg.Build.RequireStatic),
	)
	installer := toolchain.NewInstaller(f.runner, cfg.Toolchain.Profile)

	if opts.DryRun {
		planner := pipeline.NewRunner(cfg.ToolchainSpec(), installer, cargo, nil, pipelineOpts...)
		f.printPlan(t, event, planner.Plan(), cargo.Command(cfg.Toolchain.Target))
		return pipeline.Result{State: pipeline.StateIdle}, nil
	}

	if opts.Token == "" {
		return pipeline.Result{}, errors.ErrTokenMissing
	}

	publisherOpts := []ghclient.Option{
		ghclient.WithOnExisting(cfg.Publish.OnExisting),
		ghclient.WithUploadTimeout(cfg.Publish.Timeout.Duration),
		ghclient.WithReleaseID(event.ReleaseID),
	}
	if cfg.Publish.BaseURL != "" {
		publisherOpts = append(publisherOpts, ghclient.WithEnterpriseURLs(cfg.Publish.BaseURL, cfg.Publish.UploadURL))
	}
	publisher, err := f.newPublisher(event.Owner, event.Repo, opts.Token, publisherOpts...)
	if err != nil {
		return pipeline.Result{}, err
	}

	progressCh := make(chan models.Progress)
	pipelineOpts = append(pipelineOpts, pipeline.WithProgress(progressCh))
	runner := pipeline.NewRunner(cfg.ToolchainSpec(), installer, cargo, publisher, pipelineOpts...)

	renderer := ui.NewProgressRenderer(f.out, t, !opts.CI && f.interactive())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderer.Render(progressCh)
	}()

	result := runner.Run(ctx, event)
	close(progressCh)
	wg.Wait()

	f.printResult(t, event, result)
	return result, nil
}

// openCache returns nil when the cache is disabled or cannot be opened; a
// broken cache never stops a release.
func (f *RunCommandFactory) openCache(ctx context.Context, cfg *config.Config) pipeline.BuildCache {
	if !cfg.Cache.Enabled {
		return nil
	}

	paths := cfg.Cache.Paths
	if len(paths) == 0 {
		paths = cache.DefaultPaths(cfg.Toolchain.Target)
	}

	buildCache, err := cache.NewCache(cfg.CacheDir(),
		cache.WithProjectDir(cfg.ProjectDir),
		cache.WithCompression(cfg.Cache.Compression),
		cache.WithTTL(cfg.Cache.TTL.Duration),
		cache.WithPaths(paths...),
		cache.WithManifests(cfg.Cache.Manifests...),
	)
	if err != nil {
		logger.Warn(ctx, "continuing without build cache", "error", err)
		return nil
	}

	if removed, err := buildCache.CleanExpired(); err != nil {
		logger.Warn(ctx, "could not prune expired cache entries", "error", err)
	} else if removed > 0 {
		logger.Debug(ctx, "pruned expired cache entries", "removed", removed)
	}
	return buildCache
}

func (f *RunCommandFactory) printPlan(t *i18n.Translations, event *models.ReleaseEvent, steps []models.Step, build shell.Command) {
	ui.PrintSectionBanner(f.out, t.GetMessage("run.plan_header", 0, map[string]interface{}{
		"Tag":        event.Tag,
		"Repository": event.Repository(),
	}))
	for i, step := range steps {
		_, _ = fmt.Fprintf(f.out, "  %d. %s\n", i+1, t.GetMessage("step."+string(step), 0, nil))
	}
	_, _ = fmt.Fprintln(f.out)
	ui.PrintKeyValue(f.out, "cargo", build.String())
}

func (f *RunCommandFactory) printResult(t *i18n.Translations, event *models.ReleaseEvent, result pipeline.Result) {
	if result.Ignored {
		return
	}
	if result.Succeeded() {
		msg := t.GetMessage("run.success", 0, map[string]interface{}{
			"Asset": result.Asset.Name,
			"Tag":   event.Tag,
			"URL":   result.Asset.DownloadURL,
		})
		ui.PrintDuration(f.out, msg, result.Duration)
		if result.Cache != models.CacheDisabled {
			ui.PrintKeyValue(f.out, "cache", string(result.Cache))
		}
		return
	}

	ui.PrintError(f.out, t.GetMessage("run.failed", 0, map[string]interface{}{
		"Step":  t.GetMessage("step."+string(result.FailedStep), 0, nil),
		"State": string(result.FailedState),
	}))
	ui.HandleAppError(f.out, result.Err, t)
}

func (f *RunCommandFactory) interactive() bool {
	file, ok := f.out.(*os.File)
	return ok && ui.IsTerminal(file)
}
