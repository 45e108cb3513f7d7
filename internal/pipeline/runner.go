// Package pipeline runs the release steps in order and tracks the run's
// state: trigger, provision, toolchain, cache, build, verify, publish.
package pipeline

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/models"
	"github.com/thomas-vilte/releasepipe/internal/trigger"
	"github.com/thomas-vilte/releasepipe/internal/vcs"
)

type Provisioner interface {
	Provision(ctx context.Context) error
}

type ToolchainInstaller interface {
	Install(ctx context.Context, spec models.ToolchainSpec) (string, error)
}

type BuildCache interface {
	Key(ctx context.Context, toolchainIdentity, triple string) (string, error)
	Restore(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, key string) error
}

type Builder interface {
	Build(ctx context.Context, triple string) (models.BuildArtifact, error)
	Verify(ctx context.Context, artifact models.BuildArtifact) (models.BuildArtifact, error)
}

// Result is the outcome of one run. FailedState and FailedStep are set only
// when State is Failed.
type Result struct {
	State       State
	FailedState State
	FailedStep  models.Step
	Err         error
	Ignored     bool
	Artifact    *models.BuildArtifact
	Asset       *models.PublishedAsset
	Cache       models.CacheStatus
	Duration    time.Duration
}

// Succeeded reports whether the run published its asset or was ignored.
func (r Result) Succeeded() bool {
	return r.Ignored || r.State == StatePublished
}

type Runner struct {
	provisioner Provisioner
	toolchain   ToolchainInstaller
	builder     Builder
	publisher   vcs.AssetPublisher
	cache       BuildCache
	spec        models.ToolchainSpec
	progressCh  chan<- models.Progress
}

type Option func(*Runner)

// WithCache enables the build cache. Without it every build is cold.
func WithCache(cache BuildCache) Option {
	return func(r *Runner) {
		r.cache = cache
	}
}

// WithProvisioner enables the system package step.
func WithProvisioner(p Provisioner) Option {
	return func(r *Runner) {
		r.provisioner = p
	}
}

// WithProgress sends progress events to ch. Sends block, so the consumer
// must keep reading until ProgressPipelineDone.
func WithProgress(ch chan<- models.Progress) Option {
	return func(r *Runner) {
		r.progressCh = ch
	}
}

func NewRunner(spec models.ToolchainSpec, toolchain ToolchainInstaller, builder Builder, publisher vcs.AssetPublisher, opts ...Option) *Runner {
	r := &Runner{
		toolchain: toolchain,
		builder:   builder,
		publisher: publisher,
		spec:      spec,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan lists the steps Run would execute, in order.
func (r *Runner) Plan() []models.Step {
	var steps []models.Step
	for _, step := range models.Steps {
		if step == models.StepProvision && r.provisioner == nil {
			continue
		}
		if step == models.StepCache && r.cache == nil {
			continue
		}
		steps = append(steps, step)
	}
	return steps
}

// Run executes one release. Steps run strictly in sequence and the first
// fatal error stops the run; cache errors only produce a warning.
func (r *Runner) Run(ctx context.Context, event *models.ReleaseEvent) Result {
	start := time.Now()
	machine := NewMachine()
	result := Result{Cache: models.CacheDisabled}

	finish := func(step models.Step, err error) Result {
		if err != nil {
			_ = machine.Fail()
			result.FailedState = machine.FailedState()
			result.FailedStep = step
			result.Err = err
			r.emit(models.Progress{Type: models.ProgressStepFailed, Step: step, Error: err})
			logger.FromContext(ctx).Error("release pipeline failed",
				"step", step,
				"state", result.FailedState,
				"error", err)
		}
		result.State = machine.Current()
		result.Duration = time.Since(start)
		r.emit(models.Progress{Type: models.ProgressPipelineDone, Duration: result.Duration, Error: err})
		return result
	}

	if event == nil {
		return finish(models.StepTrigger, errors.ErrEventSourceMissing)
	}
	if err := trigger.Validate(event); err != nil {
		if stdErrors.Is(err, trigger.ErrEventIgnored) {
			logger.FromContext(ctx).Info("release event ignored", "action", event.TriggerType, "tag", event.Tag)
			result.State = machine.Current()
			result.Ignored = true
			result.Duration = time.Since(start)
			r.emit(models.Progress{Type: models.ProgressPipelineDone, Duration: result.Duration})
			return result
		}
		return finish(models.StepTrigger, err)
	}

	ctx = logger.With(ctx, "tag", event.Tag, "repository", event.Repository())

	if err := machine.Transition(StateProvisioning); err != nil {
		return finish(models.StepTrigger, err)
	}

	if r.provisioner != nil {
		if err := r.step(ctx, models.StepProvision, func(ctx context.Context) error {
			return r.provisioner.Provision(ctx)
		}); err != nil {
			return finish(models.StepProvision, err)
		}
	}

	var identity string
	if err := r.step(ctx, models.StepToolchain, func(ctx context.Context) error {
		var err error
		identity, err = r.toolchain.Install(ctx, r.spec)
		return err
	}); err != nil {
		return finish(models.StepToolchain, err)
	}
	if err := machine.Transition(StateToolchainReady); err != nil {
		return finish(models.StepToolchain, err)
	}

	cacheKey := r.restoreCache(ctx, identity, &result)

	if err := machine.Transition(StateBuilding); err != nil {
		return finish(models.StepBuild, err)
	}

	var artifact models.BuildArtifact
	if err := r.step(ctx, models.StepBuild, func(ctx context.Context) error {
		var err error
		artifact, err = r.builder.Build(ctx, r.spec.TargetTriple)
		return err
	}); err != nil {
		return finish(models.StepBuild, err)
	}

	if err := r.step(ctx, models.StepVerify, func(ctx context.Context) error {
		var err error
		artifact, err = r.builder.Verify(ctx, artifact)
		return err
	}); err != nil {
		return finish(models.StepVerify, err)
	}
	result.Artifact = &artifact

	if err := machine.Transition(StateBuilt); err != nil {
		return finish(models.StepVerify, err)
	}

	r.saveCache(ctx, cacheKey, &result)

	var asset *models.PublishedAsset
	if err := r.step(ctx, models.StepPublish, func(ctx context.Context) error {
		var err error
		asset, err = r.publisher.PublishAsset(ctx, event.Tag, artifact)
		return err
	}); err != nil {
		return finish(models.StepPublish, err)
	}
	result.Asset = asset

	if err := machine.Transition(StatePublished); err != nil {
		return finish(models.StepPublish, err)
	}

	return finish(models.StepPublish, nil)
}

// restoreCache returns the key to save under after a successful build, or
// "" when the cache is disabled or unusable for this run.
func (r *Runner) restoreCache(ctx context.Context, identity string, result *Result) string {
	if r.cache == nil {
		return ""
	}

	var key string
	err := r.step(ctx, models.StepCache, func(ctx context.Context) error {
		var err error
		key, err = r.cache.Key(ctx, identity, r.spec.TargetTriple)
		if err != nil {
			return err
		}

		hit, err := r.cache.Restore(ctx, key)
		if err != nil {
			return err
		}
		if hit {
			result.Cache = models.CacheHit
		} else {
			result.Cache = models.CacheMiss
		}
		logger.FromContext(ctx).Info("build cache checked", "hit", hit)
		return nil
	})
	if err != nil {
		result.Cache = models.CacheError
	}
	return key
}

func (r *Runner) saveCache(ctx context.Context, key string, result *Result) {
	if r.cache == nil || key == "" || result.Cache == models.CacheHit {
		return
	}
	if err := r.cache.Save(ctx, key); err != nil {
		result.Cache = models.CacheError
		r.warn(logger.With(ctx, "step", models.StepCache), models.StepCache, err)
	}
}

// step runs fn with a step-scoped logger and reports its progress. Non-fatal
// errors are reported as warnings rather than failures.
func (r *Runner) step(ctx context.Context, step models.Step, fn func(ctx context.Context) error) error {
	ctx = logger.With(ctx, "step", step)
	log := logger.FromContext(ctx)

	r.emit(models.Progress{Type: models.ProgressStepStart, Step: step})
	log.Debug("step started")

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		if !errors.IsFatal(err) {
			r.warn(ctx, step, err)
		}
		return err
	}

	log.Debug("step finished", "duration", duration.Round(time.Millisecond))
	r.emit(models.Progress{Type: models.ProgressStepDone, Step: step, Duration: duration})
	return nil
}

// warn expects ctx to already carry the step attribute.
func (r *Runner) warn(ctx context.Context, step models.Step, err error) {
	logger.FromContext(ctx).Warn("continuing without build cache", "error", err)
	r.emit(models.Progress{Type: models.ProgressStepWarning, Step: step, Message: err.Error(), Error: err})
}

func (r *Runner) emit(p models.Progress) {
	if r.progressCh != nil {
		r.progressCh <- p
	}
}
