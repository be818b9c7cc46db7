package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/threatcode/janitor/pkg/config"
	"github.com/threatcode/janitor/pkg/hoster"
	"github.com/threatcode/janitor/pkg/model"
	"github.com/threatcode/janitor/pkg/publisher"
	"github.com/threatcode/janitor/pkg/ratelimit"
	"github.com/threatcode/janitor/pkg/store"
	"github.com/threatcode/janitor/pkg/vcsstore"
)

type fakeVCS struct {
	branches map[string]*vcsstore.Branch
	tip      string
}

func (f *fakeVCS) OpenBranch(ctx context.Context, pkg, branchName string, vcsKind vcsstore.Kind) (*vcsstore.Branch, error) {
	return f.branches[pkg+"/"+branchName], nil
}
func (f *fakeVCS) BranchURL(pkg, branchName string, vcsKind vcsstore.Kind) string { return "" }
func (f *fakeVCS) ImportBranches(ctx context.Context, pkg string, vcsKind vcsstore.Kind, mainBranchURL string, branches []vcsstore.ColocatedBranch) error {
	return nil
}
func (f *fakeVCS) GetRepository(pkg string, vcsKind vcsstore.Kind) (*vcsstore.Repo, error) {
	return nil, nil
}
func (f *fakeVCS) VCSType(ctx context.Context, mainBranchURL string) (vcsstore.Kind, bool) {
	return vcsstore.Git, true
}
func (f *fakeVCS) MainBranchTip(ctx context.Context, url string, vcsKind vcsstore.Kind) (string, error) {
	return f.tip, nil
}
func (f *fakeVCS) PushDirect(ctx context.Context, pkg string, vcsKind vcsstore.Kind, branchName, targetURL string) error {
	return nil
}

type fakeHoster struct {
	proposals map[hoster.ProposalStatus][]hoster.Proposal
	existing  *hoster.Proposal
}

func (f *fakeHoster) SupportsLabels() bool { return true }
func (f *fakeHoster) FindExistingProposal(ctx context.Context, owner, repo, sourceBranch string) (*hoster.Proposal, error) {
	return f.existing, nil
}
func (f *fakeHoster) CreateProposal(ctx context.Context, req hoster.ProposeRequest) (*hoster.Proposal, error) {
	return &hoster.Proposal{URL: "https://example.com/pull/1", Status: hoster.StatusOpen}, nil
}
func (f *fakeHoster) UpdateProposal(ctx context.Context, proposalURL string, req hoster.ProposeRequest) (*hoster.Proposal, error) {
	return &hoster.Proposal{URL: proposalURL, Status: hoster.StatusOpen}, nil
}
func (f *fakeHoster) Push(ctx context.Context, owner, repo, targetBranch, sourceRevision string) error {
	return nil
}
func (f *fakeHoster) PushDerived(ctx context.Context, owner, repo, branchName, sourceRevision string) error {
	return nil
}
func (f *fakeHoster) ListMyProposals(ctx context.Context, status hoster.ProposalStatus) ([]hoster.Proposal, error) {
	return f.proposals[status], nil
}
func (f *fakeHoster) MainBranchName(ctx context.Context, owner, repo string) (string, error) {
	return "main", nil
}

func testSetup(t *testing.T) (*Reconciler, *store.DB, *fakeHoster) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "janitor.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fh := &fakeHoster{proposals: map[hoster.ProposalStatus][]hoster.Proposal{}}
	registry := hoster.NewRegistry()
	registry.Register("example.com", fh)

	vcs := &fakeVCS{
		branches: map[string]*vcsstore.Branch{
			"foo/lintian-fixes": {Package: "foo", Name: "lintian-fixes", TipRevision: "deadbeef"},
		},
		tip: "cafef00d",
	}

	cfg := &config.Config{
		Campaigns: map[string]config.CampaignConfig{
			"lintian-fixes": {
				BranchName: "lintian-fixes",
				Packages:   map[string]config.PolicyEntry{"foo": {Mode: "propose"}},
			},
		},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}

	limiter := ratelimit.NewPerMaintainerCap(10)
	limiter.SetOpenCounts(map[string]int{})

	pub := publisher.New(db, vcs, registry, limiter, cfg)

	if err := db.PutPackage(model.Package{Name: "foo", Maintainer: "alice@example.com", MainBranchURL: "https://example.com/jelmer/foo"}); err != nil {
		t.Fatalf("PutPackage: %v", err)
	}

	return New(db, registry, pub, limiter), db, fh
}

func TestRun_UnknownProposalIsLeftAlone(t *testing.T) {
	r, _, fh := testSetup(t)
	fh.proposals[hoster.StatusOpen] = []hoster.Proposal{{URL: "https://example.com/pull/99", Status: hoster.StatusOpen}}

	refreshes, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(refreshes) != 0 {
		t.Errorf("expected no refresh requests for an unrecorded proposal, got %v", refreshes)
	}
}

func TestRun_MergedProposalUpdatesStoredStatus(t *testing.T) {
	r, db, fh := testSetup(t)
	if err := db.PutProposal(model.Proposal{URL: "https://example.com/pull/1", Package: "foo", Campaign: "lintian-fixes", Status: model.ProposalOpen, LastRunID: "r1"}); err != nil {
		t.Fatalf("PutProposal: %v", err)
	}
	fh.proposals[hoster.StatusMerged] = []hoster.Proposal{{URL: "https://example.com/pull/1", Status: hoster.StatusMerged}}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := db.GetProposal("https://example.com/pull/1")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if got.Status != model.ProposalMerged {
		t.Errorf("Status = %q, want merged", got.Status)
	}
}

func TestRun_OpenProposalRefreshedFromNewerSuccessfulRun(t *testing.T) {
	r, db, fh := testSetup(t)
	if err := db.PutProposal(model.Proposal{URL: "https://example.com/pull/1", Package: "foo", Campaign: "lintian-fixes", Status: model.ProposalOpen, LastRunID: "r1"}); err != nil {
		t.Fatalf("PutProposal: %v", err)
	}
	newer := model.Run{
		ID: "r2", Package: "foo", Campaign: "lintian-fixes", Result: model.ResultSuccess,
		FinishTime: time.Unix(200, 0),
		RecipeResult: map[string]interface{}{
			"applied": []interface{}{map[string]interface{}{"summary": "Fix bar"}},
		},
	}
	if err := db.PutRun(newer); err != nil {
		t.Fatalf("PutRun: %v", err)
	}
	fh.existing = &hoster.Proposal{URL: "https://example.com/pull/1", Status: hoster.StatusOpen}
	fh.proposals[hoster.StatusOpen] = []hoster.Proposal{{URL: "https://example.com/pull/1", Status: hoster.StatusOpen}}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := db.GetProposal("https://example.com/pull/1")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if got.LastRunID != "r2" {
		t.Errorf("LastRunID = %q, want r2 (refreshed from the newer run)", got.LastRunID)
	}
}

func TestRun_ConflictedWithNoOtherChangeRequestsRefresh(t *testing.T) {
	r, db, fh := testSetup(t)
	if err := db.PutProposal(model.Proposal{URL: "https://example.com/pull/1", Package: "foo", Campaign: "lintian-fixes", Status: model.ProposalOpen, LastRunID: "r1"}); err != nil {
		t.Fatalf("PutProposal: %v", err)
	}
	run := model.Run{ID: "r1", Package: "foo", Campaign: "lintian-fixes", Result: model.ResultSuccess, FinishTime: time.Unix(100, 0)}
	if err := db.PutRun(run); err != nil {
		t.Fatalf("PutRun: %v", err)
	}
	fh.proposals[hoster.StatusOpen] = []hoster.Proposal{{URL: "https://example.com/pull/1", Status: hoster.StatusOpen, Conflicted: true}}

	refreshes, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(refreshes) != 1 || refreshes[0].Package != "foo" {
		t.Fatalf("expected one refresh request for foo, got %v", refreshes)
	}
	if refreshes[0].PriorityOffset != -2 {
		t.Errorf("PriorityOffset = %d, want -2 (spec.md §8 scenario S4)", refreshes[0].PriorityOffset)
	}
}

func TestRun_Idempotent(t *testing.T) {
	r, db, fh := testSetup(t)
	if err := db.PutProposal(model.Proposal{URL: "https://example.com/pull/1", Package: "foo", Campaign: "lintian-fixes", Status: model.ProposalOpen, LastRunID: "r1"}); err != nil {
		t.Fatalf("PutProposal: %v", err)
	}
	run := model.Run{ID: "r1", Package: "foo", Campaign: "lintian-fixes", Result: model.ResultSuccess, FinishTime: time.Unix(100, 0)}
	if err := db.PutRun(run); err != nil {
		t.Fatalf("PutRun: %v", err)
	}
	fh.proposals[hoster.StatusOpen] = []hoster.Proposal{{URL: "https://example.com/pull/1", Status: hoster.StatusOpen}}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before, _ := db.GetProposal("https://example.com/pull/1")

	refreshes, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(refreshes) != 0 {
		t.Errorf("expected no refresh requests on an unchanged re-run, got %v", refreshes)
	}
	after, _ := db.GetProposal("https://example.com/pull/1")
	if before != after {
		t.Errorf("expected no mutation on a no-hoster-state-change re-run: before=%+v after=%+v", before, after)
	}
}
