// Package worker implements Component G of SPEC_FULL.md: the Worker Runtime
// that pulls one assignment from the control plane's dispatcher endpoints,
// executes the recipe and build, mirrors the result, and uploads it back.
//
// Grounded on original_source/janitor/worker.py's process_run/run_worker,
// generalized into Go's explicit-error-return style; the dispatcher HTTP
// client follows the request/response conventions of the moby-moby client
// package (a plain http.Client plus small per-call request builders, no
// generated client).
package worker

import "encoding/json"

// Assignment is everything the dispatcher hands the worker to execute one
// run (spec.md §4.7 step 1). It is the flat, worker-internal shape; the
// dispatcher's actual wire format is the nested JSON object spec.md §6
// shows (branch/build/resume sub-objects) and is unmarshaled into this
// shape by UnmarshalJSON below.
type Assignment struct {
	RunID           string
	QueueID         string
	Package         string
	Campaign        string
	SourceBranchURL string
	VCSType         string
	Subpath         string
	Command         []string
	Environment     map[string]string
	BuildTarget     string // "debian" or "generic"
	ResumeBranchURL string
	ResumeResult    map[string]interface{}
	ResumeBranches  []ResumeBranch
	CachedBranchURL string
	ForceBuild      bool
	VCSStoreBaseURL string
}

// assignmentWire mirrors the dispatcher's actual JSON shape from spec.md §6:
//
//	{ id, queue_id, suite, command, branch: { url, vcs_type, subpath?,
//	  cached_url? }, build: { target, environment }, env, resume?: {
//	  branch_url, result, branches: [[role, name, base_rev, rev], …] },
//	  vcs_store, force-build? }
//
// package isn't in the sketch spec.md §6 shows, but the worker needs a
// package name for every VCS Store call; it travels alongside suite in the
// dispatcher's real payload the same way original_source/janitor/worker.py
// reads assignment["package"], so it is accepted here too.
type assignmentWire struct {
	ID      string   `json:"id"`
	QueueID string   `json:"queue_id"`
	Package string   `json:"package"`
	Suite   string   `json:"suite"`
	Command []string `json:"command"`
	Branch  struct {
		URL       string `json:"url"`
		VCSType   string `json:"vcs_type"`
		Subpath   string `json:"subpath"`
		CachedURL string `json:"cached_url"`
	} `json:"branch"`
	Build struct {
		Target      string            `json:"target"`
		Environment map[string]string `json:"environment"`
	} `json:"build"`
	Env    map[string]string `json:"env"`
	Resume *struct {
		BranchURL string                 `json:"branch_url"`
		Result    map[string]interface{} `json:"result"`
		Branches  [][4]string            `json:"branches"`
	} `json:"resume"`
	VCSStore   string `json:"vcs_store"`
	ForceBuild bool   `json:"force-build"`
}

// UnmarshalJSON decodes the dispatcher's nested wire format into the flat
// Assignment shape the rest of the worker package operates on.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	var wire assignmentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	env := wire.Env
	if len(wire.Build.Environment) > 0 {
		if env == nil {
			env = make(map[string]string, len(wire.Build.Environment))
		}
		for k, v := range wire.Build.Environment {
			env[k] = v
		}
	}

	*a = Assignment{
		RunID:           wire.ID,
		QueueID:         wire.QueueID,
		Package:         wire.Package,
		Campaign:        wire.Suite,
		SourceBranchURL: wire.Branch.URL,
		VCSType:         wire.Branch.VCSType,
		Subpath:         wire.Branch.Subpath,
		CachedBranchURL: wire.Branch.CachedURL,
		Command:         wire.Command,
		Environment:     env,
		BuildTarget:     wire.Build.Target,
		VCSStoreBaseURL: wire.VCSStore,
		ForceBuild:      wire.ForceBuild,
	}
	if wire.Resume != nil {
		a.ResumeBranchURL = wire.Resume.BranchURL
		a.ResumeResult = wire.Resume.Result
		for _, b := range wire.Resume.Branches {
			a.ResumeBranches = append(a.ResumeBranches, ResumeBranch{
				Role: b[0], Name: b[1], BaseRev: b[2], TipRev: b[3],
			})
		}
	}
	return nil
}

// ResumeBranch describes one extra branch carried over from a prior run
// being resumed: (role, branch name, base revision, tip revision).
type ResumeBranch struct {
	Role    string
	Name    string
	BaseRev string
	TipRev  string
}

// Branch is one output branch a recipe run produced, before it is mirrored
// into the VCS store.
type Branch struct {
	Role    string
	Name    string
	OldRev  string
	NewRev  string
}

// ChangeResult is what running the recipe (spec.md §4.7 step 5) produces on
// success: a description, an opaque value blob, the branches it touched,
// any tags, and follow-up actions a downstream dependency resolver might
// use.
type ChangeResult struct {
	Description     string
	Value           map[string]interface{}
	Branches        []Branch
	Tags            map[string]string
	FollowupActions []string

	// Code overrides the Result's default "success" code when the recipe
	// produced no branches (spec.md §7's nothing-to-do/nothing-new-to-do
	// taxonomy); empty means the run is a plain success.
	Code string
}

// Result is the full outcome of one assignment, ready for upload (spec.md
// §4.7 step 8).
type Result struct {
	RunID              string
	Code               string // "success" or a §7 coded failure
	Description        string
	MainBranchRevision string
	Revision           string
	RecipeResult       map[string]interface{}
	Branches           []Branch
	ArtifactFiles      []string
	LintianReport      string
	FollowupActions    []string
}
