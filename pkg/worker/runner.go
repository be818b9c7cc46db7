package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/threatcode/janitor/pkg/build"
	"github.com/threatcode/janitor/pkg/codes"
	"github.com/threatcode/janitor/pkg/vcsstore"
	"github.com/threatcode/janitor/pkg/watchdog"
)

// Runner drives one assignment end-to-end (spec.md §4.7's eight steps).
type Runner struct {
	VCS        vcsstore.Store
	Dispatcher Dispatcher
	WorkerName string
	BaseDir    string // parent of per-run temporary workspaces
	Log        *slog.Logger

	mu           sync.Mutex
	currentRunID string
}

func New(vcs vcsstore.Store, dispatcher Dispatcher, workerName, baseDir string) *Runner {
	return &Runner{VCS: vcs, Dispatcher: dispatcher, WorkerName: workerName, BaseDir: baseDir, Log: slog.Default()}
}

// CurrentRunID returns the run id currently executing, or "" between
// assignments. A signal handler reads this to know what to pass AbortRun.
func (r *Runner) CurrentRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentRunID
}

func (r *Runner) setCurrentRunID(id string) {
	r.mu.Lock()
	r.currentRunID = id
	r.mu.Unlock()
}

// RunOnce fetches one assignment, executes it, and uploads the result.
// It returns (nil, nil) when the dispatcher has nothing queued.
func (r *Runner) RunOnce(ctx context.Context) (*Result, error) {
	assignment, err := r.Dispatcher.FetchAssignment(ctx, r.WorkerName)
	if err != nil {
		return nil, fmt.Errorf("fetching assignment: %w", err)
	}
	if assignment == nil {
		return nil, nil
	}

	r.setCurrentRunID(assignment.RunID)
	defer r.setCurrentRunID("")

	result, outputDir := r.execute(ctx, assignment)
	if outputDir != "" {
		defer os.RemoveAll(outputDir)
	}

	if err := r.Dispatcher.UploadResult(ctx, assignment.RunID, result, outputDir); err != nil {
		return result, fmt.Errorf("uploading result for run %s: %w", assignment.RunID, err)
	}
	return result, nil
}

// execute runs steps 2 through 7 of spec.md §4.7 and returns the Result
// plus the output directory its artifacts live in (caller uploads, then
// removes it).
func (r *Runner) execute(ctx context.Context, a *Assignment) (*Result, string) {
	result := &Result{RunID: a.RunID}

	workDir, err := os.MkdirTemp(r.BaseDir, "janitor-run-")
	if err != nil {
		result.Code = codes.WorkerFailure
		result.Description = err.Error()
		return result, ""
	}
	outputDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		result.Code = codes.WorkerFailure
		result.Description = err.Error()
		return result, ""
	}

	// Component H: own the progress channel for the run's lifetime. A
	// server-sent "kill" frame cancels runCtx, which every blocking step
	// below observes; Run returns once runCtx is done at the end of this
	// function.
	runCtx, cancelRun := context.WithCancel(ctx)
	if progressURL := r.Dispatcher.ProgressURL(a.RunID, a.QueueID); progressURL != "" {
		ch := watchdog.New(progressURL, outputDir, func() { cancelRun() })
		var wg sync.WaitGroup
		wg.Add(1)
		go func() { defer wg.Done(); ch.Run(runCtx) }()
		defer func() { cancelRun(); wg.Wait() }()
	} else {
		defer cancelRun()
	}
	ctx = runCtx

	// Step 2: open the main branch; failure is fatal. Only the main branch
	// is opened: no cached or resume branch is looked up.
	mainTip, err := r.VCS.MainBranchTip(ctx, a.SourceBranchURL, vcsstore.Kind(a.VCSType))
	if err != nil {
		result.Code = codes.BranchUnavailable
		result.Description = err.Error()
		return result, outputDir
	}

	// Step 3: materialize a workspace checked out from main.
	ws := &build.Workspace{Dir: filepath.Join(workDir, "tree"), Subpath: a.Subpath}
	if err := materializeWorkspace(ctx, a.SourceBranchURL, vcsstore.Kind(a.VCSType), ws.Dir); err != nil {
		result.Code = codes.WorkerCloneBadGateway
		result.Description = err.Error()
		return result, outputDir
	}

	// Step 4: record provenance.
	result.MainBranchRevision = mainTip

	// Step 5: run the recipe.
	changeResult, recipeErr := r.runRecipe(ctx, a, ws)
	if recipeErr != nil {
		var coded *codes.Error
		if errors.As(recipeErr, &coded) {
			result.Code = coded.Code
			result.Description = coded.Description
			result.FollowupActions = coded.FollowupActions
		} else {
			result.Code = codes.CommandFailed
			result.Description = recipeErr.Error()
		}
		return result, outputDir
	}

	hasMainBranch := false
	for _, b := range changeResult.Branches {
		if b.Role == "main" {
			hasMainBranch = true
		}
	}

	result.Description = changeResult.Description
	result.RecipeResult = changeResult.Value
	result.Branches = changeResult.Branches
	result.FollowupActions = changeResult.FollowupActions
	if changeResult.Code != "" {
		result.Code = changeResult.Code
	} else {
		result.Code = "success"
	}

	// Step 6: build, unless there's nothing to build and no force-build.
	if hasMainBranch || a.ForceBuild {
		target, err := build.NewTarget(a.BuildTarget)
		if err != nil {
			result.Code = codes.TargetUnsupported
			result.Description = err.Error()
			return result, outputDir
		}
		if debian, ok := target.(*build.DebianTarget); ok {
			updateChangelog, err := build.ParseUpdateChangelog(a.Environment["DEB_UPDATE_CHANGELOG"])
			if err != nil {
				r.Log.Error("unsupported DEB_UPDATE_CHANGELOG value", "run", a.RunID, "error", err)
				result.Code = codes.ConfigError
				result.Description = err.Error()
				return result, outputDir
			}
			debian.UpdateChangelog = updateChangelog
		}
		if err := target.MakeChanges(ctx, ws, a.Campaign); err != nil {
			result.Code = codes.CommandFailed
			result.Description = err.Error()
			return result, outputDir
		}
		buildResult, err := target.Build(ctx, ws, outputDir)
		if err != nil {
			var coded *codes.Error
			if errors.As(err, &coded) {
				result.Code = coded.Code
				result.Description = coded.Description
				result.FollowupActions = coded.FollowupActions
			} else {
				result.Code = codes.BuildFailed
				result.Description = err.Error()
			}
			return result, outputDir
		}
		result.ArtifactFiles = buildResult.ArtifactFiles
		result.LintianReport = buildResult.LintianReport
	}

	// Step 7: mirror into the VCS store; best-effort push to the cached URL.
	r.mirror(ctx, a, ws, changeResult)

	return result, outputDir
}

// runRecipe invokes the recipe's command tokens in the workspace and parses
// its JSON stdout into a ChangeResult. Special-cases nothing-to-do/
// force-build remapping per spec.md §4.7 step 5.
func (r *Runner) runRecipe(ctx context.Context, a *Assignment, ws *build.Workspace) (*ChangeResult, error) {
	if len(a.Command) == 0 {
		return nil, codes.New(codes.ConfigError, "assignment carries no recipe command")
	}

	cmd := exec.CommandContext(ctx, a.Command[0], a.Command[1:]...)
	cmd.Dir = ws.Path()
	env := os.Environ()
	for k, v := range a.Environment {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if runErr != nil {
		if stdout.Len() > 0 {
			if cr, ok := parseNothingToDo(stdout.Bytes()); ok {
				return r.remapNothingToDo(a, cr), nil
			}
		}
		return nil, codes.Wrap(codes.CommandFailed, stderr.String(), runErr)
	}

	var cr ChangeResult
	if err := json.Unmarshal(stdout.Bytes(), &cr); err != nil {
		return nil, codes.Wrap(codes.ResultFileFormat, "recipe produced non-JSON result", err)
	}
	return r.remapNothingToDo(a, &cr), nil
}

// remapNothingToDo applies spec.md §4.7 step 5's special case: a
// nothing-to-do result with resume metadata supplied becomes
// nothing-new-to-do; force-build synthesizes an empty successful result so
// the build still runs. The resolved code is promoted onto cr.Code so
// execute can carry it into Result.Code, not just the opaque Value blob.
func (r *Runner) remapNothingToDo(a *Assignment, cr *ChangeResult) *ChangeResult {
	if len(cr.Branches) > 0 {
		return cr
	}
	if a.ForceBuild {
		return &ChangeResult{Description: "forced build with no recipe changes", Value: cr.Value}
	}
	if a.ResumeBranchURL != "" {
		cr.Value = mergeNothingNewToDo(cr.Value)
		cr.Code = codes.NothingNewToDo
		return cr
	}
	cr.Code = codes.NothingToDo
	return cr
}

func mergeNothingNewToDo(value map[string]interface{}) map[string]interface{} {
	if value == nil {
		value = map[string]interface{}{}
	}
	value["code"] = codes.NothingNewToDo
	return value
}

// parseNothingToDo detects the recipe's "no changes to make" sentinel
// output even when the command itself exited non-zero (the convention the
// original lintian-brush/new-upstream wrappers use).
func parseNothingToDo(stdout []byte) (*ChangeResult, bool) {
	var cr ChangeResult
	if err := json.Unmarshal(stdout, &cr); err != nil {
		return nil, false
	}
	if len(cr.Branches) == 0 {
		return &cr, true
	}
	return nil, false
}

// mirror writes the produced branches into the VCS store and, best-effort,
// pushes to the cached URL (spec.md §4.7 step 7). Failures here are logged,
// never fatal to the run's result.
func (r *Runner) mirror(ctx context.Context, a *Assignment, ws *build.Workspace, cr *ChangeResult) {
	branches := make([]vcsstore.ColocatedBranch, 0, len(cr.Branches))
	for _, b := range cr.Branches {
		branches = append(branches, vcsstore.ColocatedBranch{
			TargetName:     b.Name,
			SourcePath:     ws.Dir,
			SourceRevision: b.NewRev,
		})
	}
	if len(branches) == 0 {
		return
	}
	if err := r.VCS.ImportBranches(ctx, a.Package, vcsstore.Kind(a.VCSType), a.SourceBranchURL, branches); err != nil {
		r.Log.Error("mirroring result branches failed", "package", a.Package, "error", err)
		return
	}
	if a.CachedBranchURL != "" {
		for _, b := range branches {
			if err := r.VCS.PushDirect(ctx, a.Package, vcsstore.Kind(a.VCSType), b.TargetName, a.CachedBranchURL); err != nil {
				r.Log.Warn("pushing to cached branch URL failed", "package", a.Package, "branch", b.TargetName, "error", err)
			}
		}
	}
}

// materializeWorkspace checks out sourceURL into dir using the VCS
// family's own tooling, mirroring original_source/janitor/vcs.py's
// per-family clone behaviour.
func materializeWorkspace(ctx context.Context, sourceURL string, vcsKind vcsstore.Kind, dir string) error {
	var cmd *exec.Cmd
	switch vcsKind {
	case vcsstore.Bzr:
		cmd = exec.CommandContext(ctx, "brz", "branch", sourceURL, dir)
	default:
		cmd = exec.CommandContext(ctx, "git", "clone", "--depth=1", sourceURL, dir)
	}
	var out bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", out.String(), err)
	}
	return nil
}

// AbortRun marks a run aborted and uploads a minimal result, per spec.md
// §4.7's cancellation contract: signal handlers call this synchronously on
// SIGINT/SIGTERM before the process exits.
func (r *Runner) AbortRun(ctx context.Context, runID string) error {
	result := &Result{RunID: runID, Code: codes.Aborted, Description: "run aborted by signal"}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return r.Dispatcher.UploadResult(ctx, runID, result, "")
}
