package builder

import (
	"context"
	"debug/elf"
	stdErrors "errors"
	"fmt"
	"os"

	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/models"
)

// Verify checks the artifact exists, is a non-empty executable regular
// file and, unless disabled, that it is a statically linked ELF. It fills
// in the artifact size.
func (b *CargoBuilder) Verify(ctx context.Context, artifact models.BuildArtifact) (models.BuildArtifact, error) {
	log := logger.FromContext(ctx)

	info, err := os.Stat(artifact.SourcePath)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			return artifact, errors.ErrArtifactMissing.WithContext("path", artifact.SourcePath)
		}
		return artifact, errors.ErrArtifactMissing.WithError(err).WithContext("path", artifact.SourcePath)
	}
	if !info.Mode().IsRegular() {
		return artifact, errors.ErrArtifactMissing.
			WithError(fmt.Errorf("%s is not a regular file", artifact.SourcePath)).
			WithContext("path", artifact.SourcePath)
	}
	if info.Size() == 0 {
		return artifact, errors.ErrArtifactEmpty.WithContext("path", artifact.SourcePath)
	}
	if info.Mode().Perm()&0111 == 0 {
		return artifact, errors.ErrNotExecutable.
			WithContext("path", artifact.SourcePath).
			WithContext("mode", info.Mode().String())
	}

	artifact.Size = info.Size()

	if b.requireStatic {
		if err := checkStatic(artifact.SourcePath); err != nil {
			return artifact, err
		}
	}

	log.Info("artifact verified", "path", artifact.SourcePath, "bytes", artifact.Size)
	return artifact, nil
}

// checkStatic rejects ELF files that need a program interpreter or shared
// libraries at run time.
func checkStatic(path string) error {
	file, err := elf.Open(path)
	if err != nil {
		return errors.ErrNotStatic.WithError(fmt.Errorf("not an ELF executable: %w", err)).
			WithContext("path", path)
	}
	defer func() {
		_ = file.Close()
	}()

	for _, prog := range file.Progs {
		if prog.Type == elf.PT_INTERP {
			return errors.ErrNotStatic.WithContext("path", path).WithContext("reason", "has PT_INTERP")
		}
	}

	libs, err := file.ImportedLibraries()
	if err != nil {
		return errors.ErrNotStatic.WithError(err).WithContext("path", path)
	}
	if len(libs) > 0 {
		return errors.ErrNotStatic.WithContext("path", path).WithContext("needed", libs)
	}
	return nil
}
