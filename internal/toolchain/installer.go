// Package toolchain installs the Rust toolchain and the cross-compilation
// target through rustup.
package toolchain

import (
	"bufio"
	"context"
	"strings"

	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/models"
	"github.com/thomas-vilte/releasepipe/internal/regex"
	"github.com/thomas-vilte/releasepipe/internal/shell"
)

type Installer struct {
	runner  shell.Runner
	profile string
}

func NewInstaller(runner shell.Runner, profile string) *Installer {
	if profile == "" {
		profile = "minimal"
	}
	return &Installer{
		runner:  runner,
		profile: profile,
	}
}

// ValidateTriple checks the shape of a target triple without touching the network.
func ValidateTriple(triple string) error {
	if !regex.TargetTriple.MatchString(triple) {
		return errors.ErrInvalidTriple.WithContext("target", triple)
	}
	return nil
}

// Install makes `cargo +<name> build --target <triple>` valid and returns
// the compiler identity (rustc --version), which feeds the cache key.
func (i *Installer) Install(ctx context.Context, spec models.ToolchainSpec) (string, error) {
	log := logger.FromContext(ctx)

	if err := ValidateTriple(spec.TargetTriple); err != nil {
		return "", err
	}

	log.Info("installing toolchain", "toolchain", spec.Name, "profile", i.profile)
	output, err := i.runner.Run(ctx, shell.Command{
		Name: "rustup",
		Args: []string{"toolchain", "install", spec.Name, "--profile", i.profile, "--no-self-update"},
	})
	if err != nil {
		return "", errors.ErrToolchainInstall.WithError(err).
			WithContext("toolchain", spec.Name).
			WithContext("output", string(output))
	}

	log.Info("adding target", "toolchain", spec.Name, "target", spec.TargetTriple)
	output, err = i.runner.Run(ctx, shell.Command{
		Name: "rustup",
		Args: []string{"target", "add", "--toolchain", spec.Name, spec.TargetTriple},
	})
	if err != nil {
		return "", errors.ErrTargetAdd.WithError(err).
			WithContext("target", spec.TargetTriple).
			WithContext("output", string(output))
	}

	installed, err := i.installedTargets(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	if !installed[spec.TargetTriple] {
		return "", errors.ErrTargetMissing.WithContext("target", spec.TargetTriple)
	}

	output, err = i.runner.Run(ctx, shell.Command{
		Name: "rustup",
		Args: []string{"run", spec.Name, "rustc", "--version"},
	})
	if err != nil {
		return "", errors.ErrToolchainInstall.WithError(err).
			WithContext("toolchain", spec.Name).
			WithContext("output", string(output))
	}

	identity := strings.TrimSpace(string(output))
	rustcVersion := identity
	if m := regex.RustcVersion.FindStringSubmatch(identity); m != nil {
		rustcVersion = m[1]
	}
	log.Info("toolchain ready", "rustc", rustcVersion, "target", spec.TargetTriple)
	return identity, nil
}

func (i *Installer) installedTargets(ctx context.Context, name string) (map[string]bool, error) {
	output, err := i.runner.Run(ctx, shell.Command{
		Name: "rustup",
		Args: []string{"target", "list", "--installed", "--toolchain", name},
	})
	if err != nil {
		return nil, errors.ErrTargetMissing.WithError(err).WithContext("output", string(output))
	}

	targets := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			targets[line] = true
		}
	}
	return targets, nil
}
