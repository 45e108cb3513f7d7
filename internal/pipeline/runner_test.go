package pipeline

import (
	"bytes"
	"context"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogithub "github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/thomas-vilte/releasepipe/internal/cache"
	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/models"
	ghclient "github.com/thomas-vilte/releasepipe/internal/vcs/github"
)

const (
	testTriple   = "x86_64-unknown-linux-musl"
	testIdentity = "rustc 1.80.1 (3f5fd8dd4 2024-08-06)"
)

var testSpec = models.ToolchainSpec{Name: "stable", TargetTriple: testTriple}

func createdEvent() *models.ReleaseEvent {
	return &models.ReleaseEvent{
		Tag:         "v1.0.0",
		TriggerType: models.TriggerCreated,
		Owner:       "test-owner",
		Repo:        "test-repo",
	}
}

type fixture struct {
	provisioner *MockProvisioner
	toolchain   *MockToolchainInstaller
	builder     *MockBuilder
	publisher   *MockPublisher
	artifact    models.BuildArtifact
}

func newFixture() *fixture {
	return &fixture{
		provisioner: new(MockProvisioner),
		toolchain:   new(MockToolchainInstaller),
		builder:     new(MockBuilder),
		publisher:   new(MockPublisher),
		artifact: models.BuildArtifact{
			SourcePath: filepath.Join("target", testTriple, "release", "parse_demo"),
			AssetName:  "parse_demo",
		},
	}
}

func (f *fixture) runner(opts ...Option) *Runner {
	opts = append([]Option{WithProvisioner(f.provisioner)}, opts...)
	return NewRunner(testSpec, f.toolchain, f.builder, f.publisher, opts...)
}

func (f *fixture) expectUpToBuild() {
	f.provisioner.On("Provision", mock.Anything).Return(nil)
	f.toolchain.On("Install", mock.Anything, testSpec).Return(testIdentity, nil)
}

func (f *fixture) expectBuilt() models.BuildArtifact {
	verified := f.artifact
	verified.Size = 1024
	f.builder.On("Build", mock.Anything, testTriple).Return(f.artifact, nil)
	f.builder.On("Verify", mock.Anything, f.artifact).Return(verified, nil)
	return verified
}

func TestRunner_Success(t *testing.T) {
	f := newFixture()
	f.expectUpToBuild()
	verified := f.expectBuilt()
	f.publisher.On("PublishAsset", mock.Anything, "v1.0.0", verified).
		Return(&models.PublishedAsset{ID: 1, Name: "parse_demo", DownloadURL: "https://example.com/parse_demo"}, nil)

	result := f.runner().Run(context.Background(), createdEvent())

	require.NoError(t, result.Err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, StatePublished, result.State)
	assert.Empty(t, result.FailedState)
	assert.Equal(t, "parse_demo", result.Asset.Name)
	assert.Equal(t, int64(1024), result.Artifact.Size)
	assert.Equal(t, models.CacheDisabled, result.Cache)
	f.publisher.AssertNumberOfCalls(t, "PublishAsset", 1)
}

func TestRunner_CompileFailure(t *testing.T) {
	f := newFixture()
	f.expectUpToBuild()
	f.builder.On("Build", mock.Anything, testTriple).
		Return(models.BuildArtifact{}, errors.ErrBuildFailed.WithError(stdErrors.New("exit status 101")))

	result := f.runner().Run(context.Background(), createdEvent())

	assert.False(t, result.Succeeded())
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateBuilding, result.FailedState)
	assert.Equal(t, models.StepBuild, result.FailedStep)
	assert.True(t, stdErrors.Is(result.Err, errors.ErrBuildFailed))
	f.builder.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "PublishAsset", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_UploadTimeout(t *testing.T) {
	f := newFixture()
	f.expectUpToBuild()

	binary := filepath.Join(t.TempDir(), "parse_demo")
	require.NoError(t, os.WriteFile(binary, []byte("\x7fELF"), 0755))
	f.artifact.SourcePath = binary
	f.expectBuilt()

	releases := &ghclient.MockReleaseService{}
	ok := &gogithub.Response{Response: &http.Response{StatusCode: http.StatusOK}}
	releases.On("GetReleaseByTag", mock.Anything, "test-owner", "test-repo", "v1.0.0").
		Return(&gogithub.RepositoryRelease{ID: gogithub.Ptr(int64(7))}, ok, nil)
	releases.On("ListReleaseAssets", mock.Anything, "test-owner", "test-repo", int64(7), mock.Anything).
		Return([]*gogithub.ReleaseAsset{}, ok, nil)
	releases.On("UploadReleaseAsset", mock.Anything, "test-owner", "test-repo", int64(7), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, nil, context.DeadlineExceeded)

	publisher := ghclient.NewGitHubClientWithServices(releases, "test-owner", "test-repo",
		ghclient.WithUploadTimeout(20*time.Millisecond))
	runner := NewRunner(testSpec, f.toolchain, f.builder, publisher, WithProvisioner(f.provisioner))

	result := runner.Run(context.Background(), createdEvent())

	assert.False(t, result.Succeeded())
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateBuilt, result.FailedState)
	assert.Equal(t, models.StepPublish, result.FailedStep)
	assert.True(t, stdErrors.Is(result.Err, errors.ErrUploadAsset))
	assert.Equal(t, errors.TypePublish, errors.TypeOf(result.Err))
	releases.AssertNumberOfCalls(t, "UploadReleaseAsset", 1)
}

func TestRunner_IgnoredEvent(t *testing.T) {
	for _, action := range []models.TriggerType{"published", "edited", "deleted"} {
		t.Run(string(action), func(t *testing.T) {
			f := newFixture()
			event := createdEvent()
			event.TriggerType = action

			result := f.runner().Run(context.Background(), event)

			assert.True(t, result.Ignored)
			assert.True(t, result.Succeeded())
			assert.Equal(t, StateIdle, result.State)
			assert.NoError(t, result.Err)
			f.provisioner.AssertNotCalled(t, "Provision", mock.Anything)
			f.toolchain.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
		})
	}
}

func TestRunner_IgnoredEventSignalsDone(t *testing.T) {
	f := newFixture()
	event := createdEvent()
	event.TriggerType = "edited"

	progress := make(chan models.Progress, 4)
	result := f.runner(WithProgress(progress)).Run(context.Background(), event)
	close(progress)

	assert.True(t, result.Ignored)
	var events []models.Progress
	for p := range progress {
		events = append(events, p)
	}
	require.Len(t, events, 1)
	assert.Equal(t, models.ProgressPipelineDone, events[0].Type)
	assert.NoError(t, events[0].Error)
}

func TestRunner_MissingTag(t *testing.T) {
	f := newFixture()
	event := createdEvent()
	event.Tag = ""

	result := f.runner().Run(context.Background(), event)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateIdle, result.FailedState)
	assert.Equal(t, models.StepTrigger, result.FailedStep)
	assert.True(t, stdErrors.Is(result.Err, errors.ErrEventMissingTag))
	assert.Equal(t, errors.TypeConfiguration, errors.TypeOf(result.Err))
	f.provisioner.AssertNotCalled(t, "Provision", mock.Anything)
}

func TestRunner_NilEvent(t *testing.T) {
	f := newFixture()

	result := f.runner().Run(context.Background(), nil)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, errors.TypeConfiguration, errors.TypeOf(result.Err))
}

func TestRunner_MissingArtifact(t *testing.T) {
	f := newFixture()
	f.expectUpToBuild()
	f.builder.On("Build", mock.Anything, testTriple).Return(f.artifact, nil)
	f.builder.On("Verify", mock.Anything, f.artifact).
		Return(f.artifact, errors.ErrArtifactMissing.WithContext("path", f.artifact.SourcePath))

	result := f.runner().Run(context.Background(), createdEvent())

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateBuilding, result.FailedState)
	assert.Equal(t, models.StepVerify, result.FailedStep)
	assert.Equal(t, errors.TypeMissingArtifact, errors.TypeOf(result.Err))
	assert.Nil(t, result.Artifact)
	f.publisher.AssertNotCalled(t, "PublishAsset", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_ProvisioningFailure(t *testing.T) {
	f := newFixture()
	f.provisioner.On("Provision", mock.Anything).
		Return(errors.ErrProvisionFailed.WithContext("output", "E: Unable to locate package musl-tools"))

	result := f.runner().Run(context.Background(), createdEvent())

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateProvisioning, result.FailedState)
	assert.Equal(t, models.StepProvision, result.FailedStep)
	f.toolchain.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
}

func TestRunner_ToolchainFailure(t *testing.T) {
	f := newFixture()
	f.provisioner.On("Provision", mock.Anything).Return(nil)
	f.toolchain.On("Install", mock.Anything, testSpec).Return("", errors.ErrTargetAdd)

	result := f.runner().Run(context.Background(), createdEvent())

	assert.Equal(t, StateProvisioning, result.FailedState)
	assert.Equal(t, models.StepToolchain, result.FailedStep)
	assert.Equal(t, errors.TypeToolchain, errors.TypeOf(result.Err))
	f.builder.AssertNotCalled(t, "Build", mock.Anything, mock.Anything)
}

func TestRunner_CacheHitSkipsSave(t *testing.T) {
	f := newFixture()
	f.expectUpToBuild()
	verified := f.expectBuilt()
	f.publisher.On("PublishAsset", mock.Anything, "v1.0.0", verified).Return(&models.PublishedAsset{Name: "parse_demo"}, nil)

	buildCache := new(MockBuildCache)
	buildCache.On("Key", mock.Anything, testIdentity, testTriple).Return("abc", nil)
	buildCache.On("Restore", mock.Anything, "abc").Return(true, nil)

	result := f.runner(WithCache(buildCache)).Run(context.Background(), createdEvent())

	require.NoError(t, result.Err)
	assert.Equal(t, models.CacheHit, result.Cache)
	buildCache.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRunner_CacheMissSavesAfterBuild(t *testing.T) {
	f := newFixture()
	f.expectUpToBuild()
	verified := f.expectBuilt()
	f.publisher.On("PublishAsset", mock.Anything, "v1.0.0", verified).Return(&models.PublishedAsset{Name: "parse_demo"}, nil)

	buildCache := new(MockBuildCache)
	buildCache.On("Key", mock.Anything, testIdentity, testTriple).Return("abc", nil)
	buildCache.On("Restore", mock.Anything, "abc").Return(false, nil)
	buildCache.On("Save", mock.Anything, "abc").Return(errors.ErrCacheSave.WithError(stdErrors.New("disk full")))

	result := f.runner(WithCache(buildCache)).Run(context.Background(), createdEvent())

	require.NoError(t, result.Err)
	assert.Equal(t, StatePublished, result.State)
	assert.Equal(t, models.CacheError, result.Cache)
	buildCache.AssertCalled(t, "Save", mock.Anything, "abc")
}

func TestRunner_CacheWarningsNameTheStepOnce(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *MockBuildCache)
	}{
		{
			name: "restore",
			setup: func(c *MockBuildCache) {
				c.On("Restore", mock.Anything, "abc").Return(false, errors.ErrCacheRestore.WithError(stdErrors.New("bad archive")))
			},
		},
		{
			name: "save",
			setup: func(c *MockBuildCache) {
				c.On("Restore", mock.Anything, "abc").Return(false, nil)
				c.On("Save", mock.Anything, "abc").Return(errors.ErrCacheSave.WithError(stdErrors.New("disk full")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.expectUpToBuild()
			verified := f.expectBuilt()
			f.publisher.On("PublishAsset", mock.Anything, "v1.0.0", verified).Return(&models.PublishedAsset{Name: "parse_demo"}, nil)

			buildCache := new(MockBuildCache)
			buildCache.On("Key", mock.Anything, testIdentity, testTriple).Return("abc", nil)
			tt.setup(buildCache)

			var buf bytes.Buffer
			ctx := logger.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

			result := f.runner(WithCache(buildCache)).Run(ctx, createdEvent())

			require.NoError(t, result.Err)
			var warning string
			for _, line := range strings.Split(buf.String(), "\n") {
				if strings.Contains(line, "continuing without build cache") {
					warning = line
				}
			}
			require.NotEmpty(t, warning)
			assert.Equal(t, 1, strings.Count(warning, "step=cache"), warning)
		})
	}
}

func TestRunner_CorruptCacheStillBuildsCold(t *testing.T) {
	projectDir := t.TempDir()
	buildCache, err := cache.NewCache(filepath.Join(projectDir, ".releasepipe", "cache"),
		cache.WithProjectDir(projectDir),
		cache.WithPaths(cache.DefaultPaths(testTriple)...))
	require.NoError(t, err)

	ctx := context.Background()
	key, err := buildCache.Key(ctx, testIdentity, testTriple)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(buildCache.Dir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(buildCache.Dir(), key+".tar.zst"), []byte("garbage"), 0644))

	f := newFixture()
	f.expectUpToBuild()
	verified := f.artifact
	f.builder.On("Build", mock.Anything, testTriple).
		Run(func(mock.Arguments) {
			dep := filepath.Join(projectDir, "target", testTriple, "release", "deps", "libparse.rlib")
			require.NoError(t, os.MkdirAll(filepath.Dir(dep), 0755))
			require.NoError(t, os.WriteFile(dep, []byte("rlib"), 0644))
		}).
		Return(f.artifact, nil)
	f.builder.On("Verify", mock.Anything, f.artifact).Return(verified, nil)
	f.publisher.On("PublishAsset", mock.Anything, "v1.0.0", verified).Return(&models.PublishedAsset{Name: "parse_demo"}, nil)

	progress := make(chan models.Progress, 64)
	result := f.runner(WithCache(buildCache), WithProgress(progress)).Run(ctx, createdEvent())
	close(progress)

	require.NoError(t, result.Err)
	assert.Equal(t, StatePublished, result.State)
	assert.Equal(t, models.CacheError, result.Cache)
	f.builder.AssertCalled(t, "Build", mock.Anything, testTriple)

	var warnings int
	for p := range progress {
		if p.Type == models.ProgressStepWarning {
			warnings++
			assert.Equal(t, models.StepCache, p.Step)
			assert.True(t, stdErrors.Is(p.Error, errors.ErrCacheRestore))
		}
	}
	assert.Equal(t, 1, warnings)

	hit, err := buildCache.Restore(ctx, key)
	require.NoError(t, err)
	assert.True(t, hit, "a fresh entry replaces the corrupt one")
}

func TestRunner_ProgressEvents(t *testing.T) {
	f := newFixture()
	f.expectUpToBuild()
	verified := f.expectBuilt()
	f.publisher.On("PublishAsset", mock.Anything, "v1.0.0", verified).Return(&models.PublishedAsset{Name: "parse_demo"}, nil)

	progress := make(chan models.Progress, 64)
	f.runner(WithProgress(progress)).Run(context.Background(), createdEvent())
	close(progress)

	var started []models.Step
	var last models.Progress
	for p := range progress {
		if p.Type == models.ProgressStepStart {
			started = append(started, p.Step)
		}
		last = p
	}

	assert.Equal(t, []models.Step{models.StepProvision, models.StepToolchain, models.StepBuild, models.StepVerify, models.StepPublish}, started)
	assert.Equal(t, models.ProgressPipelineDone, last.Type)
	assert.NoError(t, last.Error)
}

func TestRunner_Plan(t *testing.T) {
	f := newFixture()

	assert.Equal(t,
		[]models.Step{models.StepTrigger, models.StepProvision, models.StepToolchain, models.StepBuild, models.StepVerify, models.StepPublish},
		f.runner().Plan())

	withCache := NewRunner(testSpec, f.toolchain, f.builder, f.publisher, WithCache(new(MockBuildCache)))
	assert.Equal(t,
		[]models.Step{models.StepTrigger, models.StepToolchain, models.StepCache, models.StepBuild, models.StepVerify, models.StepPublish},
		withCache.Plan())
}
