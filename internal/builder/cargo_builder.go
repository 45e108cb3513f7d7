package builder

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/models"
	"github.com/thomas-vilte/releasepipe/internal/shell"
)

type CargoBuilder struct {
	runner        shell.Runner
	projectDir    string
	binaryName    string
	assetName     string
	toolchain     string
	locked        bool
	features      []string
	requireStatic bool
}

type Option func(*CargoBuilder)

// WithToolchain pins the build to a rustup toolchain (cargo +<name>).
func WithToolchain(name string) Option {
	return func(b *CargoBuilder) {
		b.toolchain = name
	}
}

func WithAssetName(name string) Option {
	return func(b *CargoBuilder) {
		b.assetName = name
	}
}

func WithLocked(locked bool) Option {
	return func(b *CargoBuilder) {
		b.locked = locked
	}
}

func WithFeatures(features ...string) Option {
	return func(b *CargoBuilder) {
		b.features = features
	}
}

// WithStaticCheck controls whether Verify rejects dynamically linked binaries.
func WithStaticCheck(required bool) Option {
	return func(b *CargoBuilder) {
		b.requireStatic = required
	}
}

func NewCargoBuilder(runner shell.Runner, projectDir, binaryName string, opts ...Option) *CargoBuilder {
	b := &CargoBuilder{
		runner:        runner,
		projectDir:    projectDir,
		binaryName:    binaryName,
		assetName:     binaryName,
		requireStatic: true,
	}

	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ArtifactPath is where cargo leaves the release binary for triple.
func (b *CargoBuilder) ArtifactPath(triple string) string {
	return filepath.Join(b.projectDir, "target", triple, models.DefaultBuildProfile, b.binaryName)
}

// Command returns the cargo invocation Build runs.
func (b *CargoBuilder) Command(triple string) shell.Command {
	var args []string
	if b.toolchain != "" {
		args = append(args, "+"+b.toolchain)
	}
	args = append(args, "build", "--release", "--target", triple, "--bin", b.binaryName)
	if b.locked {
		args = append(args, "--locked")
	}
	if len(b.features) > 0 {
		args = append(args, "--features", strings.Join(b.features, ","))
	}

	return shell.Command{
		Dir:  b.projectDir,
		Env:  []string{"CARGO_TERM_COLOR=never"},
		Name: "cargo",
		Args: args,
	}
}

// Build compiles the binary for triple. The returned artifact is not yet
// verified; call Verify before handing it to the publisher.
func (b *CargoBuilder) Build(ctx context.Context, triple string) (models.BuildArtifact, error) {
	log := logger.FromContext(ctx)

	cmd := b.Command(triple)
	log.Info("compiling binary", "binary", b.binaryName, "target", triple)

	output, err := b.runner.Run(ctx, cmd)
	if err != nil {
		return models.BuildArtifact{}, errors.ErrBuildFailed.WithError(err).
			WithContext("target", triple).
			WithContext("command", cmd.String()).
			WithContext("output", string(output))
	}

	artifact := models.BuildArtifact{
		SourcePath: b.ArtifactPath(triple),
		AssetName:  b.assetName,
	}
	log.Debug("compiler finished", "path", artifact.SourcePath)
	return artifact, nil
}
