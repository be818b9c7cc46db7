package format

import (
	"bytes"
	"strings"
	"testing"

	"github.com/threatcode/janitor/pkg/model"
	"github.com/threatcode/janitor/pkg/report"
)

func sampleReport() *report.Report {
	return &report.Report{Runs: []report.RunSummary{
		{RunID: "r1", Package: "foo", Campaign: "lintian-fixes", Result: model.ResultSuccess, FinishTime: "2026-01-01 00:00:00", WorkerName: "worker-1"},
		{RunID: "r2", Package: "bar", Campaign: "lintian-fixes", Result: model.ResultWorkerFailure, FinishTime: "2026-01-02 00:00:00", WorkerName: "worker-2", Error: "command failed"},
	}}
}

func TestConsoleFormatterBasicRender(t *testing.T) {
	rpt := sampleReport()

	var buf bytes.Buffer
	f := NewConsoleFormatter()
	f.EnableColors = false

	if err := f.Render(rpt, &buf); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	out := buf.String()
	expectContains(t, out, "foo", "package foo missing")
	expectContains(t, out, "bar", "package bar missing")
	expectContains(t, out, "worker-failure", "result code missing")
	expectContains(t, out, "Runs shown: 1/2 publish-ready", "summary mismatch")
	expectContains(t, out, "Non-publish-ready runs:", "errors section header missing")
	expectContains(t, out, "command failed", "error detail missing")

	if strings.Contains(out, "\x1b[") {
		t.Errorf("unexpected ANSI color sequences found when colors disabled")
	}
}

func TestConsoleFormatterColorsEnabledShowsANSIForFailure(t *testing.T) {
	rpt := sampleReport()

	var buf bytes.Buffer
	f := NewConsoleFormatter()
	f.EnableColors = true

	if err := f.Render(rpt, &buf); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("expected ANSI color sequences but none found")
	}
}

func TestConsoleFormatterNilReport(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter()
	if err := f.Render(nil, &buf); err == nil {
		t.Fatal("expected error rendering nil report, got nil")
	}
}

func expectContains(t *testing.T, s, substr, msg string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("%s: expected to contain %q\nFull output:\n%s", msg, substr, s)
	}
}
