// Package resolver turns a server's configured launch specification into a
// concrete (executable, argv, env) triple ready to hand to the OS spawn
// primitive, applying the platform-specific indirection described in the
// component design for command resolution.
package resolver

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"mcp-bridge/internal/config"
	"mcp-bridge/internal/docker"
	"mcp-bridge/internal/logging"
)

// packageRunnerShims are commands that, when containerized, should not be
// re-invoked inside the container — the container image is expected to run
// the intended tool directly.
var packageRunnerShims = map[string]bool{
	"npm": true,
	"npx": true,
}

// Resolved is the concrete spawn triple the supervisor hands to exec.Command.
type Resolved struct {
	Path       string
	Args       []string
	UseShell   bool
	Env        map[string]string
	EffRisk    config.RiskLevel // may differ from the requested level on downgrade
	Downgraded bool
	Container  bool
}

// Resolve applies the resolution rules in order: container launcher
// substitution for High risk, package-runner shim lookup, and Windows .cmd
// rewriting. It is pure beyond file-existence probes and a `which` query.
func Resolve(spec config.ServerSpec) Resolved {
	if spec.RiskLevel == config.RiskHigh {
		if r, ok := resolveContainer(spec); ok {
			return r
		}
		logging.Op().Warn("risk level High without a usable container image; downgrading to Medium",
			"command", spec.Command)
		spec = config.ServerSpec{
			Command:   spec.Command,
			Args:      spec.Args,
			Env:       spec.Env,
			RiskLevel: config.RiskMedium,
			Docker:    spec.Docker,
		}
		r := resolveDirect(spec)
		r.Downgraded = true
		return r
	}

	return resolveDirect(spec)
}

// resolveContainer builds the `docker run` invocation for a High-risk
// server. Returns ok=false if no container spec or image is configured, in
// which case the caller downgrades the effective risk class to Medium.
func resolveContainer(spec config.ServerSpec) (Resolved, bool) {
	if spec.Docker == nil || spec.Docker.Image == "" {
		return Resolved{}, false
	}

	shim := packageRunnerShims[spec.Command]

	dockerCfg := docker.Config{
		Image:   spec.Docker.Image,
		Volumes: spec.Docker.Volumes,
		Network: spec.Docker.Network,
	}

	args, err := docker.BuildArgs(dockerCfg, spec.Env, spec.Command, spec.Args, shim)
	if err != nil {
		return Resolved{}, false
	}

	return Resolved{
		Path:      docker.Launcher,
		Args:      args,
		Env:       spec.Env,
		EffRisk:   config.RiskHigh,
		Container: true,
	}, true
}

// resolveDirect handles Low/Medium/unspecified risk servers: package-runner
// shim lookup, then Windows .cmd rewriting.
func resolveDirect(spec config.ServerSpec) Resolved {
	path := spec.Command
	args := spec.Args
	useShell := false

	if packageRunnerShims[spec.Command] {
		if found, ok := lookupShim(spec.Command); ok {
			path = found
		}
		// resolution failure falls back to the bare name; the spawn
		// primitive may still find it via PATH.
	}

	if runtime.GOOS == "windows" {
		if hasCmdSuffix(path) {
			args = append([]string{"/c", path}, args...)
			path = "cmd"
		} else {
			useShell = true
		}
	}

	return Resolved{
		Path:     path,
		Args:     args,
		UseShell: useShell,
		Env:      spec.Env,
		EffRisk:  spec.RiskLevel,
	}
}

func hasCmdSuffix(path string) bool {
	return len(path) >= 4 && path[len(path)-4:] == ".cmd"
}

// lookupShim resolves a package-runner shim (npm, npx) to a concrete path
// using the platform-appropriate probe.
func lookupShim(command string) (string, bool) {
	if runtime.GOOS == "windows" {
		return lookupShimWindows(command)
	}
	return lookupShimPOSIX(command)
}

// lookupShimPOSIX asks the shell's `which` facility.
func lookupShimPOSIX(command string) (string, bool) {
	out, err := exec.Command("which", command).Output()
	if err != nil {
		return "", false
	}
	path := trimNewline(string(out))
	if path == "" {
		return "", false
	}
	return path, true
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// lookupShimWindows probes, in order, %APPDATA%\npm\<command>.cmd,
// %ProgramFiles%\nodejs\<command>.cmd, and the canonical
// C:\Program Files\nodejs\<command>.cmd, taking the first that exists.
func lookupShimWindows(command string) (string, bool) {
	candidates := []string{}
	if appData := os.Getenv("APPDATA"); appData != "" {
		candidates = append(candidates, filepath.Join(appData, "npm", command+".cmd"))
	}
	if programFiles := os.Getenv("ProgramFiles"); programFiles != "" {
		candidates = append(candidates, filepath.Join(programFiles, "nodejs", command+".cmd"))
	}
	candidates = append(candidates, filepath.Join(`C:\Program Files\nodejs`, command+".cmd"))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return "", false
}
