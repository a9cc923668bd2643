// Package docker builds the argv for running a High-risk child inside the
// container launcher instead of spawning it directly on the host.
package docker

import (
	"context"
	"fmt"
	"os/exec"

	"mcp-bridge/internal/logging"
)

// Config describes the container launcher invocation for one server:
// image, volume bindings, and network mode. It mirrors config.DockerConfig
// but lives in this package to keep the launcher free of a config import.
type Config struct {
	Image   string
	Volumes []string
	Network string
}

// ErrNoImage is returned when a High-risk server has no container image
// configured; the supervisor downgrades the server's risk class to Medium
// on this error (§4.1 rule 1).
var ErrNoImage = fmt.Errorf("docker: risk level High requires a container image")

// BuildArgs constructs the `docker run` argv for a High-risk child per
// §4.1 rule 1: one-shot mode, -e for every extra environment entry, -v for
// every volume, --network if configured, the image, and then — unless the
// original command is a package-runner shim — the original command and
// argv appended verbatim so it runs inside the container.
func BuildArgs(cfg Config, env map[string]string, originalCommand string, originalArgs []string, isPackageRunnerShim bool) ([]string, error) {
	if cfg.Image == "" {
		return nil, ErrNoImage
	}

	args := []string{"run", "--rm"}

	for k, v := range env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	for _, binding := range cfg.Volumes {
		args = append(args, "-v", binding)
	}
	if cfg.Network != "" {
		args = append(args, "--network", cfg.Network)
	}

	args = append(args, cfg.Image)

	if !isPackageRunnerShim {
		args = append(args, originalCommand)
		args = append(args, originalArgs...)
	}

	return args, nil
}

// Launcher is the concrete executable the resolver substitutes in place of
// the original command when risk level is High.
const Launcher = "docker"

// Probe checks that the container launcher is reachable on the host. It is
// used at server-start time so a missing docker binary surfaces as a
// descriptive spawn failure rather than an opaque exec error.
func Probe(ctx context.Context) error {
	if err := exec.CommandContext(ctx, Launcher, "version").Run(); err != nil {
		logging.Op().Warn("container launcher not reachable", "launcher", Launcher, "err", err)
		return fmt.Errorf("docker: launcher not reachable: %w", err)
	}
	return nil
}
