package report

import (
	"testing"
	"time"

	"github.com/threatcode/janitor/pkg/model"
)

func TestGenerate_SortsNewestFirstAndCaps(t *testing.T) {
	g := &Generator{Limit: 2}
	runs := []model.Run{
		{ID: "r1", Package: "foo", Campaign: "lintian-fixes", Result: model.ResultSuccess, FinishTime: time.Unix(100, 0)},
		{ID: "r2", Package: "bar", Campaign: "lintian-fixes", Result: model.ResultSuccess, FinishTime: time.Unix(300, 0)},
		{ID: "r3", Package: "baz", Campaign: "lintian-fixes", Result: model.ResultSuccess, FinishTime: time.Unix(200, 0)},
	}

	rpt := g.Generate(runs)
	if len(rpt.Runs) != 2 {
		t.Fatalf("expected the Limit to cap the report at 2 runs, got %d", len(rpt.Runs))
	}
	if rpt.Runs[0].RunID != "r2" || rpt.Runs[1].RunID != "r3" {
		t.Errorf("expected r2 then r3 (newest first), got %v", rpt.Runs)
	}
}

func TestGenerate_NoLimitKeepsEverything(t *testing.T) {
	g := NewGenerator()
	runs := make([]model.Run, 5)
	for i := range runs {
		runs[i] = model.Run{ID: "r", Package: "foo", Campaign: "c", Result: model.ResultSuccess}
	}
	rpt := g.Generate(runs)
	if len(rpt.Runs) != 5 {
		t.Errorf("expected no cap with Limit 0, got %d runs", len(rpt.Runs))
	}
}

func TestGenerate_RecordsErrorDetailForNonPublishReadyRuns(t *testing.T) {
	g := NewGenerator()
	runs := []model.Run{
		{ID: "r1", Package: "foo", Campaign: "lintian-fixes", Result: model.ResultWorkerFailure, Description: "build-failed"},
	}
	rpt := g.Generate(runs)
	if rpt.Runs[0].Error != "build-failed" {
		t.Errorf("Error = %q, want build-failed", rpt.Runs[0].Error)
	}
}

func TestReport_HasErrorsAndGetErrors(t *testing.T) {
	rpt := &Report{Runs: []RunSummary{
		{Package: "foo", Campaign: "c", Result: model.ResultSuccess},
		{Package: "bar", Campaign: "c", Result: model.ResultWorkerFailure},
	}}

	if !rpt.HasErrors() {
		t.Fatal("expected HasErrors to be true")
	}
	errs := rpt.GetErrors()
	if _, ok := errs["bar/c"]; !ok {
		t.Errorf("expected bar/c in GetErrors, got %v", errs)
	}
	if _, ok := errs["foo/c"]; ok {
		t.Errorf("did not expect foo/c (publish-ready) in GetErrors")
	}
}
