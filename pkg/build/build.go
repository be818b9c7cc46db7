// Package build implements the Worker Runtime's build-target abstraction
// (spec.md §4.7 step 6): a small interface any build flavor implements, with
// a `debian` target running an incremental dependency-fix loop and a
// `generic` target (supplemented from original_source/janitor/build.py,
// dropped by the distillation) that just runs the recipe's command tokens.
//
// Grounded on original_source/janitor/build.py's module-level `build()`
// function, which shells out to `brz builddeb` and classifies the resulting
// subprocess.CalledProcessError; generalized here into a Target interface so
// the dependency-fix retry loop and the generic non-Debian path share a
// contract instead of being two unrelated functions.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/threatcode/janitor/pkg/codes"
)

// MaxBuildIterations caps the debian target's dependency-fix retry loop
// (spec.md §4.7 step 6).
const MaxBuildIterations = 50

// Workspace is the materialized checkout a Target builds from (spec.md §4.7
// step 3): a temporary directory holding a checkout of the package's main
// branch, optionally rebased on a resume branch, with colocated branches
// cloned alongside it.
type Workspace struct {
	Dir     string
	Subpath string
}

// Path joins ws.Dir and ws.Subpath, the directory a Target actually builds
// from (packages may live in a subdirectory of their VCS tree).
func (ws *Workspace) Path() string {
	if ws.Subpath == "" {
		return ws.Dir
	}
	return filepath.Join(ws.Dir, ws.Subpath)
}

// Result is the outcome of a successful Target.Build: the artifact files it
// produced (relative to resultDir) plus, for the debian target, an attached
// lintian report.
type Result struct {
	ArtifactFiles []string
	LintianReport string
}

// Target is implemented once per build flavor (spec.md §4.7 step 6):
// parse_args, make_changes, build, additional_colocated_branches,
// directory_name.
type Target interface {
	// ParseArgs absorbs the recipe's build-target-specific command line
	// arguments (e.g. --build-command=sbuild).
	ParseArgs(args []string) error

	// MakeChanges applies any build-target-specific preparation that must
	// happen before Build runs, such as the debian target's dummy
	// changelog entry.
	MakeChanges(ctx context.Context, ws *Workspace, suite string) error

	// Build runs the actual build, writing artifacts into resultDir.
	Build(ctx context.Context, ws *Workspace, resultDir string) (*Result, error)

	// AdditionalColocatedBranches lists extra branches (beyond the
	// recipe's own result branch) this target expects to find colocated
	// in the package's VCS tree, e.g. "pristine-tar" for the debian
	// target.
	AdditionalColocatedBranches() []string

	// DirectoryName is the stable subdirectory name the result mirrors
	// into under the VCS store, independent of the package's own name
	// (spec.md §4.7's generic-target supplement still requires this).
	DirectoryName() string
}

// NewTarget builds the Target named by kind ("debian" or "generic").
func NewTarget(kind string) (Target, error) {
	switch kind {
	case "debian", "":
		return &DebianTarget{BuildCommand: "sbuild"}, nil
	case "generic":
		return &GenericTarget{}, nil
	default:
		return nil, codes.New(codes.TargetUnsupported, kind)
	}
}

// ParseUpdateChangelog interprets the DEB_UPDATE_CHANGELOG environment
// variable. Per the Open Question decision recorded in DESIGN.md, the
// ambiguous historical value "leave" is rejected outright rather than
// guessed at.
func ParseUpdateChangelog(value string) (bool, error) {
	switch value {
	case "", "auto":
		return true, nil
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	case "leave":
		return false, codes.New(codes.ConfigError, "DEB_UPDATE_CHANGELOG=leave is ambiguous and is not supported; set true or false explicitly")
	default:
		return false, codes.New(codes.ConfigError, fmt.Sprintf("unrecognised DEB_UPDATE_CHANGELOG value %q", value))
	}
}

// runCommand runs name with args in dir, capturing combined output for
// failure classification. It never returns a *codes.Error itself — callers
// classify the raw error against the command's output.
func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// classifyDebianFailure maps a failed build invocation's combined output to
// the §7 coded taxonomy, following DetailedDebianBuildFailure /
// UnidentifiedDebianBuildError / MissingUpstreamTarball / MissingChangesFile
// from spec.md §4.7 step 6.
func classifyDebianFailure(output string, stage string, cause error) *codes.Error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "unable to find upstream tarball") ||
		strings.Contains(lower, "no upstream tarball found"):
		return codes.Wrap(codes.BuildMissingUpstreamSource, "no upstream tarball available for this version", cause)
	case strings.Contains(lower, "no such file or directory") && strings.Contains(lower, ".changes"):
		return codes.Wrap(codes.BuildMissingChanges, "expected .changes file was not produced", cause)
	case strings.Contains(lower, "command not found") || strings.Contains(lower, "no such file or directory: 'sbuild'"):
		return codes.Wrap(codes.NoBuildToolsFound, "build tool invocation failed to start", cause)
	case stage != "":
		return codes.Wrap(codes.BuildFailedStage(stage), "build failed during "+stage, cause)
	default:
		return codes.Wrap(codes.BuildFailed, "build command exited non-zero", cause)
	}
}

// missingDependencyHint detects a known "Unmet build dependencies" marker in
// sbuild/dpkg-buildpackage output and returns the first listed requirement
// with its trailing comma trimmed. It is the signal the
// debian target's retry loop uses to decide whether another iteration is
// worth attempting.
func missingDependencyHint(output string) (requirement string, ok bool) {
	const marker = "unmet build dependencies:"
	lower := strings.ToLower(output)
	idx := strings.Index(lower, marker)
	if idx == -1 {
		return "", false
	}
	rest := strings.TrimSpace(output[idx+len(marker):])
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[:nl]
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return strings.TrimSuffix(fields[0], ","), true
}
