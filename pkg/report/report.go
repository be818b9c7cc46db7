// Package report builds the worker-status snapshot rendered by the
// `janitor-worker status` sub-command (SPEC_FULL.md's Supplemented
// Features), generalized from the teacher's dependency-version Report/
// Generator shape onto the last N uploaded Run results instead of
// per-repository dependency versions.
package report

import (
	"sort"

	"github.com/threatcode/janitor/pkg/model"
)

// RunSummary is one row of the status table.
type RunSummary struct {
	RunID      string
	Package    string
	Campaign   string
	Result     model.ResultCode
	FinishTime string // pre-formatted so the formatter stays free of time.Time
	WorkerName string
	Error      string // the run's description for any non-publish-ready result
}

// Identifier returns the (package, campaign) pair this row reports on.
func (s RunSummary) Identifier() string { return s.Package + "/" + s.Campaign }

// Report is a snapshot of the most recent runs, newest first.
type Report struct {
	Runs []RunSummary
}

// HasErrors reports whether any run in the snapshot ended outside the
// publish-ready result codes.
func (r *Report) HasErrors() bool {
	for _, run := range r.Runs {
		if !model.IsPublishReady(run.Result) {
			return true
		}
	}
	return false
}

// GetErrors returns every non-publish-ready run, keyed by its identifier.
func (r *Report) GetErrors() map[string]RunSummary {
	out := make(map[string]RunSummary)
	for _, run := range r.Runs {
		if !model.IsPublishReady(run.Result) {
			out[run.Identifier()] = run
		}
	}
	return out
}

// Generator builds a Report from a store snapshot of recent Runs.
type Generator struct {
	// Limit caps how many runs are kept, newest first. Zero means no cap.
	Limit int
}

// NewGenerator creates a Generator with the teacher's "no cap unless asked"
// default.
func NewGenerator() *Generator {
	return &Generator{Limit: 0}
}

// Generate builds a Report from runs, sorted newest-finished-first and
// truncated to g.Limit when set.
func (g *Generator) Generate(runs []model.Run) *Report {
	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		s := RunSummary{
			RunID:      run.ID,
			Package:    run.Package,
			Campaign:   run.Campaign,
			Result:     run.Result,
			FinishTime: run.FinishTime.Format("2006-01-02 15:04:05"),
			WorkerName: run.WorkerName,
		}
		if !model.IsPublishReady(run.Result) {
			s.Error = run.Description
		}
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].FinishTime > summaries[j].FinishTime
	})

	if g.Limit > 0 && len(summaries) > g.Limit {
		summaries = summaries[:g.Limit]
	}

	return &Report{Runs: summaries}
}
