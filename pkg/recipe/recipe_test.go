package recipe

import "testing"

func TestBlurbRoundTrip(t *testing.T) {
	original := "Fixed a typo in the manpage."
	withBlurb := AddBlurb(original, "foo", "run-123", "lintian-fixes")
	if withBlurb == original {
		t.Fatal("expected AddBlurb to change the text")
	}
	stripped := StripBlurb(withBlurb, "lintian-fixes")
	if stripped != original {
		t.Errorf("StripBlurb(AddBlurb(x)) = %q, want %q", stripped, original)
	}
}

func TestStripBlurb_NoBlurbPresentIsNoOp(t *testing.T) {
	text := "a human wrote this description"
	if got := StripBlurb(text, "lintian-fixes"); got != text {
		t.Errorf("StripBlurb() = %q, want unchanged %q", got, text)
	}
}

func TestLintianFixes_BranchName(t *testing.T) {
	r, err := New("lintian-fixes", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.BranchName(); got != "lintian-fixes" {
		t.Errorf("BranchName() = %q, want lintian-fixes", got)
	}
}

func TestLintianFixes_AllowCreateProposal(t *testing.T) {
	r, _ := New("lintian-fixes", nil)
	if r.AllowCreateProposal() {
		t.Error("expected no proposal before any result is read")
	}

	result := map[string]interface{}{
		"applied": []interface{}{
			map[string]interface{}{"summary": "Bump debhelper-compat", "fixed_lintian_tags": []interface{}{"no-debhelper-compat"}},
		},
		"failed":      []interface{}{},
		"add_on_only": false,
	}
	if err := r.ReadWorkerResult(result); err != nil {
		t.Fatalf("ReadWorkerResult: %v", err)
	}
	if !r.AllowCreateProposal() {
		t.Error("expected a proposal to be allowed after a non-add-on-only fix applied")
	}

	desc := r.GetProposalDescription("")
	if desc == "" {
		t.Error("expected a non-empty proposal description")
	}
}

func TestLintianFixes_AddOnOnlyBlocksNewProposal(t *testing.T) {
	r, _ := New("lintian-fixes", nil)
	result := map[string]interface{}{
		"applied":     []interface{}{map[string]interface{}{"summary": "Reformat control file"}},
		"add_on_only": true,
	}
	if err := r.ReadWorkerResult(result); err != nil {
		t.Fatalf("ReadWorkerResult: %v", err)
	}
	if r.AllowCreateProposal() {
		t.Error("expected add-on-only fixes to block new proposal creation")
	}
}

func TestNewUpstream_BranchNameBySnapshotFlag(t *testing.T) {
	r, err := New("new-upstream", []string{"new-upstream"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.BranchName(); got != "new-upstream" {
		t.Errorf("BranchName() = %q, want new-upstream", got)
	}

	snap, _ := New("new-upstream-snapshot", []string{"new-upstream", "--snapshot"})
	if got := snap.BranchName(); got != "new-upstream-snapshot" {
		t.Errorf("BranchName() with --snapshot = %q, want new-upstream-snapshot", got)
	}
}

func TestNewUpstream_AlwaysAllowsProposal(t *testing.T) {
	r, _ := New("new-upstream", nil)
	if !r.AllowCreateProposal() {
		t.Error("expected NewUpstream to always allow a new proposal")
	}
}

func TestNew_UnregisteredCampaign(t *testing.T) {
	if _, err := New("does-not-exist", nil); err == nil {
		t.Fatal("expected an error for an unregistered campaign")
	}
}
