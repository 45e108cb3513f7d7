// Package provision installs the OS packages static linking needs.
package provision

import (
	"context"
	"strings"

	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/shell"
)

const installedStatus = "install ok installed"

type Provisioner struct {
	runner   shell.Runner
	packages []string
	useSudo  bool
}

type Option func(*Provisioner)

func WithSudo(useSudo bool) Option {
	return func(p *Provisioner) {
		p.useSudo = useSudo
	}
}

func NewProvisioner(runner shell.Runner, packages []string, opts ...Option) *Provisioner {
	p := &Provisioner{
		runner:   runner,
		packages: packages,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision installs whatever is missing. Running it on an already
// provisioned machine only performs the dpkg queries.
func (p *Provisioner) Provision(ctx context.Context) error {
	log := logger.FromContext(ctx)

	missing := p.missingPackages(ctx)
	if len(missing) == 0 {
		log.Info("system packages already installed", "packages", strings.Join(p.packages, ","))
		return nil
	}

	log.Info("installing system packages", "packages", strings.Join(missing, ","))

	if output, err := p.runner.Run(ctx, p.aptGet("update", "-qq")); err != nil {
		return errors.ErrProvisionFailed.WithError(err).
			WithContext("command", "apt-get update").
			WithContext("output", string(output))
	}

	args := append([]string{"install", "-y", "--no-install-recommends"}, missing...)
	if output, err := p.runner.Run(ctx, p.aptGet(args...)); err != nil {
		return errors.ErrProvisionFailed.WithError(err).
			WithContext("command", "apt-get install").
			WithContext("packages", strings.Join(missing, " ")).
			WithContext("output", string(output))
	}

	return nil
}

func (p *Provisioner) missingPackages(ctx context.Context) []string {
	var missing []string
	for _, pkg := range p.packages {
		output, err := p.runner.Run(ctx, shell.Command{
			Name: "dpkg-query",
			Args: []string{"-W", "-f=${Status}", pkg},
		})
		if err != nil || !strings.Contains(string(output), installedStatus) {
			missing = append(missing, pkg)
		}
	}
	return missing
}

func (p *Provisioner) aptGet(args ...string) shell.Command {
	if p.useSudo {
		return shell.Command{
			Name: "sudo",
			Args: append([]string{"DEBIAN_FRONTEND=noninteractive", "apt-get"}, args...),
		}
	}
	return shell.Command{
		Name: "apt-get",
		Args: args,
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	}
}
