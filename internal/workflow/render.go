// Package workflow renders the GitHub Actions definition that runs the same
// release steps as the CLI, from the same configuration.
package workflow

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/thomas-vilte/releasepipe/internal/cache"
	"github.com/thomas-vilte/releasepipe/internal/config"
	"github.com/thomas-vilte/releasepipe/internal/models"
	ghclient "github.com/thomas-vilte/releasepipe/internal/vcs/github"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where GitHub looks for the workflow in a repository.
const DefaultPath = ".github/workflows/release.yml"

const header = "# Generated by `releasepipe workflow render`. Edit .releasepipe.toml and re-render.\n"

type Workflow struct {
	Name        string            `yaml:"name"`
	On          map[string]Filter `yaml:"on"`
	Permissions map[string]string `yaml:"permissions"`
	Jobs        map[string]Job    `yaml:"jobs"`
}

type Filter struct {
	Types []string `yaml:"types"`
}

type Job struct {
	RunsOn string            `yaml:"runs-on"`
	Env    map[string]string `yaml:"env,omitempty"`
	Steps  []Step            `yaml:"steps"`
}

type Step struct {
	Name            string            `yaml:"name"`
	Uses            string            `yaml:"uses,omitempty"`
	With            map[string]string `yaml:"with,omitempty"`
	Run             string            `yaml:"run,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	ContinueOnError bool              `yaml:"continue-on-error,omitempty"`
}

// Build maps the configuration onto a single-job workflow triggered by
// release creation.
func Build(cfg *config.Config) *Workflow {
	triple := cfg.Toolchain.Target
	binaryPath := path.Join("target", triple, models.DefaultBuildProfile, cfg.Build.BinaryName)

	var steps []Step
	steps = append(steps, Step{Name: "Checkout", Uses: "actions/checkout@v4"})

	if !cfg.Provision.Skip && len(cfg.Provision.Packages) > 0 {
		packages := strings.Join(cfg.Provision.Packages, " ")
		steps = append(steps, Step{
			Name: "Install system packages",
			Run:  fmt.Sprintf("sudo apt-get update -qq\nsudo apt-get install -y --no-install-recommends %s\n", packages),
		})
	}

	steps = append(steps, Step{
		Name: "Install Rust toolchain",
		Run: fmt.Sprintf("rustup toolchain install %s --profile %s --no-self-update\nrustup target add --toolchain %s %s\n",
			cfg.Toolchain.Name, cfg.Toolchain.Profile, cfg.Toolchain.Name, triple),
	})

	if cfg.Cache.Enabled {
		steps = append(steps, Step{
			Name: "Build cache",
			Uses: "actions/cache@v4",
			With: map[string]string{
				"path": strings.Join(cachePaths(cfg), "\n"),
				"key":  fmt.Sprintf("${{ runner.os }}-cargo-%s-%s-${{ hashFiles('**/Cargo.lock') }}", cfg.Toolchain.Name, triple),
			},
			ContinueOnError: true,
		})
	}

	steps = append(steps, Step{
		Name: "Build release binary",
		Run:  buildCommand(cfg) + "\n",
	})

	upload := fmt.Sprintf("gh release upload \"$TAG\" %s\n", binaryPath)
	if cfg.Publish.AssetName != cfg.Build.BinaryName {
		upload = fmt.Sprintf("mkdir -p dist\ncp %s dist/%s\ngh release upload \"$TAG\" dist/%s\n",
			binaryPath, cfg.Publish.AssetName, cfg.Publish.AssetName)
	}
	if cfg.Publish.OnExisting == ghclient.OnExistingReplace {
		upload = strings.Replace(upload, "gh release upload \"$TAG\"", "gh release upload --clobber \"$TAG\"", 1)
	}
	steps = append(steps, Step{
		Name: "Upload release asset",
		Run:  upload,
		Env: map[string]string{
			"GH_TOKEN": "${{ secrets.GITHUB_TOKEN }}",
			"TAG":      "${{ github.event.release.tag_name }}",
		},
	})

	return &Workflow{
		Name: "Release",
		On: map[string]Filter{
			"release": {Types: []string{string(models.TriggerCreated)}},
		},
		Permissions: map[string]string{"contents": "write"},
		Jobs: map[string]Job{
			"release": {
				RunsOn: "ubuntu-latest",
				Env:    map[string]string{"CARGO_TERM_COLOR": "always"},
				Steps:  steps,
			},
		},
	}
}

// Render returns the workflow as YAML with a generated-file header.
func Render(cfg *config.Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(Build(cfg)); err != nil {
		return nil, fmt.Errorf("workflow: encode: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("workflow: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func buildCommand(cfg *config.Config) string {
	args := []string{"cargo", "+" + cfg.Toolchain.Name, "build", "--release", "--target", cfg.Toolchain.Target, "--bin", cfg.Build.BinaryName}
	if cfg.Build.Locked {
		args = append(args, "--locked")
	}
	if len(cfg.Build.Features) > 0 {
		args = append(args, "--features", strings.Join(cfg.Build.Features, ","))
	}
	return strings.Join(args, " ")
}

func cachePaths(cfg *config.Config) []string {
	if len(cfg.Cache.Paths) > 0 {
		return cfg.Cache.Paths
	}
	return append([]string{"~/.cargo/registry", "~/.cargo/git"}, cache.DefaultPaths(cfg.Toolchain.Target)...)
}
