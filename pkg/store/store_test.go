package store

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/threatcode/janitor/pkg/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "janitor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPackageRoundTrip(t *testing.T) {
	db := openTestDB(t)
	pkg := model.Package{Name: "foo", Maintainer: "jelmer@example.com", MainBranchURL: "https://salsa.debian.org/debian/foo"}
	if err := db.PutPackage(pkg); err != nil {
		t.Fatalf("PutPackage: %v", err)
	}
	got, err := db.GetPackage("foo")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if !reflect.DeepEqual(got, pkg) {
		t.Errorf("GetPackage() = %+v, want %+v", got, pkg)
	}
}

func TestGetPackage_NotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetPackage("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListPublishReadyRuns(t *testing.T) {
	db := openTestDB(t)
	runs := []model.Run{
		{ID: "1", Package: "foo", Result: model.ResultSuccess},
		{ID: "2", Package: "foo", Result: model.ResultNothingToDo},
		{ID: "3", Package: "foo", Result: model.ResultWorkerFailure},
	}
	for _, r := range runs {
		if err := db.PutRun(r); err != nil {
			t.Fatalf("PutRun: %v", err)
		}
	}
	ready, err := db.ListPublishReadyRuns()
	if err != nil {
		t.Fatalf("ListPublishReadyRuns: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 publish-ready runs, got %d", len(ready))
	}
}

func TestLatestRunFor(t *testing.T) {
	db := openTestDB(t)
	older := model.Run{ID: "1", Package: "foo", Campaign: "lintian-fixes", FinishTime: time.Unix(1000, 0)}
	newer := model.Run{ID: "2", Package: "foo", Campaign: "lintian-fixes", FinishTime: time.Unix(2000, 0)}
	other := model.Run{ID: "3", Package: "bar", Campaign: "lintian-fixes", FinishTime: time.Unix(3000, 0)}
	for _, r := range []model.Run{older, newer, other} {
		if err := db.PutRun(r); err != nil {
			t.Fatalf("PutRun: %v", err)
		}
	}
	latest, err := db.LatestRunFor("foo", "lintian-fixes")
	if err != nil {
		t.Fatalf("LatestRunFor: %v", err)
	}
	if latest.ID != "2" {
		t.Errorf("LatestRunFor() = run %s, want run 2", latest.ID)
	}
}

func TestPutPublication_DedupInvariant(t *testing.T) {
	db := openTestDB(t)
	key := model.PublicationKey{Package: "foo", Campaign: "lintian-fixes", BranchName: "lintian-fixes", SourceRev: "a", TargetRev: "b", Mode: model.ModePropose}
	pub := model.Publication{
		RunID: "1", Package: key.Package, Campaign: key.Campaign, BranchName: key.BranchName,
		SourceRev: key.SourceRev, TargetRev: key.TargetRev, Mode: key.Mode,
		Timestamp: time.Unix(1000, 0), Outcome: model.SuccessOutcome,
	}
	if err := db.PutPublication(pub); err != nil {
		t.Fatalf("first PutPublication: %v", err)
	}

	repeat := pub
	repeat.RunID = "2"
	repeat.Timestamp = time.Unix(2000, 0)
	if err := db.PutPublication(repeat); err != ErrPublicationExists {
		t.Errorf("expected ErrPublicationExists on repeat, got %v", err)
	}

	_, ok, err := db.ExistingPublication(key)
	if err != nil {
		t.Fatalf("ExistingPublication: %v", err)
	}
	if !ok {
		t.Error("expected ExistingPublication to report true")
	}
}

func TestPutPublication_FailedOutcomeDoesNotBlockRetry(t *testing.T) {
	db := openTestDB(t)
	key := model.PublicationKey{Package: "foo", Campaign: "lintian-fixes", BranchName: "lintian-fixes", SourceRev: "a", TargetRev: "b", Mode: model.ModePropose}
	failed := model.Publication{
		RunID: "1", Package: key.Package, Campaign: key.Campaign, BranchName: key.BranchName,
		SourceRev: key.SourceRev, TargetRev: key.TargetRev, Mode: key.Mode,
		Timestamp: time.Unix(1000, 0), Outcome: "hoster-unsupported",
	}
	if err := db.PutPublication(failed); err != nil {
		t.Fatalf("PutPublication(failed): %v", err)
	}

	retry := failed
	retry.Timestamp = time.Unix(2000, 0)
	retry.Outcome = model.SuccessOutcome
	if err := db.PutPublication(retry); err != nil {
		t.Errorf("expected a successful retry after a failed attempt to be allowed, got %v", err)
	}
}

func TestOpenCountsByMaintainer(t *testing.T) {
	db := openTestDB(t)
	for _, pkg := range []model.Package{
		{Name: "foo", Maintainer: "alice@example.com"},
		{Name: "bar", Maintainer: "alice@example.com"},
		{Name: "baz", Maintainer: "bob@example.com"},
	} {
		if err := db.PutPackage(pkg); err != nil {
			t.Fatalf("PutPackage: %v", err)
		}
	}
	for _, p := range []model.Proposal{
		{URL: "https://github.com/x/foo/pull/1", Package: "foo", Status: model.ProposalOpen},
		{URL: "https://github.com/x/bar/pull/1", Package: "bar", Status: model.ProposalOpen},
		{URL: "https://github.com/x/baz/pull/1", Package: "baz", Status: model.ProposalMerged},
	} {
		if err := db.PutProposal(p); err != nil {
			t.Fatalf("PutProposal: %v", err)
		}
	}

	counts, err := db.OpenCountsByMaintainer()
	if err != nil {
		t.Fatalf("OpenCountsByMaintainer: %v", err)
	}
	if counts["alice@example.com"] != 2 {
		t.Errorf("alice open count = %d, want 2", counts["alice@example.com"])
	}
	if counts["bob@example.com"] != 0 {
		t.Errorf("bob open count = %d, want 0 (merged, not open)", counts["bob@example.com"])
	}
}

func TestListPublicationsForRun_OrderedOldestFirst(t *testing.T) {
	db := openTestDB(t)
	first := model.Publication{RunID: "1", Timestamp: time.Unix(1000, 0), Outcome: "hoster-unsupported"}
	second := model.Publication{RunID: "1", Timestamp: time.Unix(2000, 0), Outcome: model.SuccessOutcome}
	if err := db.PutPublication(first); err != nil {
		t.Fatalf("PutPublication(first): %v", err)
	}
	if err := db.PutPublication(second); err != nil {
		t.Fatalf("PutPublication(second): %v", err)
	}

	pubs, err := db.ListPublicationsForRun("1")
	if err != nil {
		t.Fatalf("ListPublicationsForRun: %v", err)
	}
	if len(pubs) != 2 {
		t.Fatalf("expected 2 publications, got %d", len(pubs))
	}
	if !pubs[0].Timestamp.Before(pubs[1].Timestamp) {
		t.Error("expected publications ordered oldest first")
	}
}
