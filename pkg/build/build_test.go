package build

import (
	"context"
	"testing"
)

func TestNewTarget(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"debian", false},
		{"", false},
		{"generic", false},
		{"nonsense", true},
	}
	for _, tt := range tests {
		target, err := NewTarget(tt.kind)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewTarget(%q): expected error, got none", tt.kind)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewTarget(%q): unexpected error: %v", tt.kind, err)
		}
		if target == nil {
			t.Errorf("NewTarget(%q): got nil target", tt.kind)
		}
	}
}

func TestParseUpdateChangelog(t *testing.T) {
	tests := []struct {
		value   string
		want    bool
		wantErr bool
	}{
		{"", true, false},
		{"auto", true, false},
		{"true", true, false},
		{"false", false, false},
		{"leave", false, true},
		{"garbage", false, true},
	}
	for _, tt := range tests {
		got, err := ParseUpdateChangelog(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUpdateChangelog(%q): expected error, got none", tt.value)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUpdateChangelog(%q): unexpected error: %v", tt.value, err)
		}
		if got != tt.want {
			t.Errorf("ParseUpdateChangelog(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestMissingDependencyHint(t *testing.T) {
	output := "Build started\nUnmet build dependencies: libfoo-dev, libbar-dev\nbuild failed"
	requirement, ok := missingDependencyHint(output)
	if !ok {
		t.Fatal("expected a dependency hint to be found")
	}
	if requirement != "libfoo-dev" {
		t.Errorf("requirement = %q, want %q", requirement, "libfoo-dev")
	}

	if _, ok := missingDependencyHint("build succeeded"); ok {
		t.Error("expected no dependency hint in successful output")
	}
}

func TestClassifyDebianFailure(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"unable to find upstream tarball for foo_1.0", "build-missing-upstream-source"},
		{"no such file or directory: foo_1.0_amd64.changes", "build-missing-changes"},
		{"bash: sbuild: command not found", "no-build-tools-found"},
		{"some unrelated failure", "build-failed"},
	}
	for _, tt := range tests {
		coded := classifyDebianFailure(tt.output, "", nil)
		if coded.Code != tt.want {
			t.Errorf("classifyDebianFailure(%q) = %q, want %q", tt.output, coded.Code, tt.want)
		}
	}
}

func TestGenericTarget_BuildNoCommand(t *testing.T) {
	target := &GenericTarget{}
	ws := &Workspace{Dir: t.TempDir()}
	if _, err := target.Build(context.Background(), ws, ""); err == nil {
		t.Fatal("expected error when no command is configured")
	}
}

func TestGenericTarget_BuildRunsCommand(t *testing.T) {
	target := &GenericTarget{Command: []string{"true"}}
	ws := &Workspace{Dir: t.TempDir()}
	resultDir := t.TempDir()
	result, err := target.Build(context.Background(), ws, resultDir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result == nil {
		t.Fatal("expected a non-nil Result")
	}
}

func TestGenericTarget_BuildFailingCommand(t *testing.T) {
	target := &GenericTarget{Command: []string{"false"}}
	ws := &Workspace{Dir: t.TempDir()}
	if _, err := target.Build(context.Background(), ws, ""); err == nil {
		t.Fatal("expected error from a failing command")
	}
}

func TestWorkspace_Path(t *testing.T) {
	ws := &Workspace{Dir: "/tmp/ws"}
	if got := ws.Path(); got != "/tmp/ws" {
		t.Errorf("Path() = %q, want /tmp/ws", got)
	}
	ws.Subpath = "sub/dir"
	if got := ws.Path(); got != "/tmp/ws/sub/dir" {
		t.Errorf("Path() with subpath = %q, want /tmp/ws/sub/dir", got)
	}
}

func TestDebianTarget_ParseArgs(t *testing.T) {
	target := &DebianTarget{}
	if err := target.ParseArgs([]string{"--build-command", "sbuild", "--distribution", "unstable"}); err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if target.BuildCommand != "sbuild" {
		t.Errorf("BuildCommand = %q, want sbuild", target.BuildCommand)
	}
	if target.Distribution != "unstable" {
		t.Errorf("Distribution = %q, want unstable", target.Distribution)
	}
}

func TestDebianTarget_MakeChangesSkippedWhenUpdateChangelogFalse(t *testing.T) {
	target := &DebianTarget{UpdateChangelog: false}
	ws := &Workspace{Dir: t.TempDir()}
	if err := target.MakeChanges(context.Background(), ws, "unstable"); err != nil {
		t.Fatalf("MakeChanges: %v", err)
	}
}
