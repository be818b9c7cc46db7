package build

import (
	"context"
	"os"

	"github.com/threatcode/janitor/pkg/codes"
)

// GenericTarget is the supplemented non-Debian build target (spec.md §4.7,
// supplemented from original_source/janitor/build.py which the distillation
// dropped): it just runs the recipe's own command as the build step,
// attaches no lintian report, and still mirrors its output into the VCS
// store under a stable directory name.
type GenericTarget struct {
	Command []string
}

func (t *GenericTarget) ParseArgs(args []string) error {
	t.Command = args
	return nil
}

// MakeChanges is a no-op for the generic target: there is no
// changelog-style preparation step outside the Debian ecosystem.
func (t *GenericTarget) MakeChanges(ctx context.Context, ws *Workspace, suite string) error {
	return nil
}

// Build runs the recipe-declared command tokens directly in the workspace,
// with no dependency-fix retry loop (that machinery is Debian-specific) and
// no lintian report.
func (t *GenericTarget) Build(ctx context.Context, ws *Workspace, resultDir string) (*Result, error) {
	if len(t.Command) == 0 {
		return nil, codes.New(codes.CommandFailed, "generic build target has no command configured")
	}
	_, err := runCommand(ctx, ws.Path(), t.Command[0], t.Command[1:]...)
	if err != nil {
		return nil, codes.Wrap(codes.CommandFailed, "generic build command exited non-zero", err)
	}
	if resultDir != "" {
		if err := os.MkdirAll(resultDir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Result{ArtifactFiles: listResultFiles(resultDir)}, nil
}

func (t *GenericTarget) AdditionalColocatedBranches() []string { return nil }

func (t *GenericTarget) DirectoryName() string { return "generic" }
