// Package publisher implements Component D of SPEC_FULL.md: turning a
// publish-ready Run into an actual push or merge proposal, and the driver
// loop that walks every such Run on a schedule.
//
// Grounded on original_source/janitor/publish.py's publish_one/publish and
// publish_pending_ready; force-push/stack/derive are delegated to pkg/hoster,
// result-branch lookups to pkg/vcsstore, and persistence + the invariant (ii)
// dedup check to pkg/store.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/threatcode/janitor/pkg/codes"
	"github.com/threatcode/janitor/pkg/config"
	"github.com/threatcode/janitor/pkg/hoster"
	"github.com/threatcode/janitor/pkg/model"
	"github.com/threatcode/janitor/pkg/policy"
	"github.com/threatcode/janitor/pkg/ratelimit"
	"github.com/threatcode/janitor/pkg/recipe"
	"github.com/threatcode/janitor/pkg/store"
	"github.com/threatcode/janitor/pkg/vcsstore"
)

// Publisher effects publications for one janitor deployment.
type Publisher struct {
	Store    *store.DB
	VCS      vcsstore.Store
	Hosters  *hoster.Registry
	Limiter  ratelimit.Limiter
	Policy   *config.Config
	Log      *slog.Logger
}

func New(db *store.DB, vcs vcsstore.Store, hosters *hoster.Registry, limiter ratelimit.Limiter, cfg *config.Config) *Publisher {
	return &Publisher{Store: db, VCS: vcs, Hosters: hosters, Limiter: limiter, Policy: cfg, Log: slog.Default()}
}

// PublishOne effects publish_one(run, mode, hoster?) per spec.md §4.4.
func (p *Publisher) PublishOne(ctx context.Context, run model.Run, mode model.PublicationMode, requestor model.PublicationRequestor) (*model.Publication, error) {
	rec, err := recipe.New(run.Campaign, run.Command)
	if err != nil {
		return nil, codes.Wrap(codes.ConfigError, run.Campaign, err)
	}
	branchName := rec.BranchName()

	pkg, err := p.Store.GetPackage(run.Package)
	if err != nil {
		return nil, fmt.Errorf("looking up package %s: %w", run.Package, err)
	}

	vcsKind := vcsstore.Kind(pkg.VCSType)
	if vcsKind == "" {
		kind, ok := p.VCS.VCSType(ctx, pkg.MainBranchURL)
		if !ok {
			return nil, codes.New(codes.UnsupportedVCS, pkg.MainBranchURL)
		}
		vcsKind = kind
	}

	// Step 1: open the result branch from the VCS store.
	resultBranch, err := p.VCS.OpenBranch(ctx, run.Package, branchName, vcsKind)
	if err != nil {
		return nil, fmt.Errorf("opening result branch %s/%s: %w", run.Package, branchName, err)
	}
	if resultBranch == nil {
		return nil, codes.New(codes.ResultBranchNotFound, branchName)
	}

	// Step 2: open the main branch; classify failures per §7.
	mainTip, err := p.VCS.MainBranchTip(ctx, pkg.MainBranchURL, vcsKind)
	if err != nil {
		return nil, codes.Wrap(codes.BranchUnavailable, pkg.MainBranchURL, err)
	}

	// Step 3: pick the hoster.
	client, owner, repo, hasHoster := p.Hosters.ForURL(pkg.MainBranchURL)
	if !hasHoster && mode != model.ModePush && mode != model.ModeBuildOnly {
		return nil, codes.New(codes.HosterUnsupported, pkg.MainBranchURL)
	}

	// §4.2 hard override: attempt-push degrades to propose under
	// collaborative-maintenance namespaces regardless of policy.
	if mode == model.ModeAttemptPush && p.Policy != nil && p.Policy.IsCollabMaintained(pkg.MainBranchURL) {
		mode = model.ModePropose
	}

	pub := model.Publication{
		RunID:      run.ID,
		Package:    run.Package,
		Campaign:   run.Campaign,
		BranchName: branchName,
		SourceRev:  mainTip,
		TargetRev:  resultBranch.TipRevision,
		Timestamp:  run.FinishTime,
		Mode:       mode,
		Requestor:  requestor,
	}

	if _, exists, err := p.Store.ExistingPublication(pub.Key()); err != nil {
		return nil, fmt.Errorf("checking for an existing publication: %w", err)
	} else if exists {
		return nil, store.ErrPublicationExists
	}

	var existingProposal *hoster.Proposal
	if hasHoster {
		existingProposal, err = client.FindExistingProposal(ctx, owner, repo, branchName)
		if err != nil {
			return nil, fmt.Errorf("looking up existing proposal: %w", err)
		}
	}
	if err := rec.ReadWorkerResult(run.RecipeResult); err != nil {
		return nil, fmt.Errorf("reading recipe result: %w", err)
	}

	newProposal, outcome, proposalURL, pubErr := p.execute(ctx, mode, client, hasHoster, owner, repo, branchName,
		resultBranch.TipRevision, vcsKind, pkg.MainBranchURL, rec, existingProposal, run)

	pub.Outcome = outcome
	pub.ProposalURL = proposalURL
	if pubErr != nil {
		var coded *codes.Error
		if errors.As(pubErr, &coded) {
			pub.Outcome = coded.Code
			pub.Description = coded.Description
		} else {
			pub.Outcome = codes.WorkerFailure
			pub.Description = pubErr.Error()
		}
	}

	if newProposal {
		p.Limiter.Inc(pkg.Maintainer)
	}

	if pub.Outcome == model.SuccessOutcome && pub.ProposalURL != "" {
		if err := p.Store.PutProposal(model.Proposal{
			URL:       pub.ProposalURL,
			Package:   run.Package,
			Campaign:  run.Campaign,
			Status:    model.ProposalOpen,
			LastRunID: run.ID,
		}); err != nil {
			return nil, fmt.Errorf("recording proposal: %w", err)
		}
	}

	if err := p.Store.PutPublication(pub); err != nil {
		return nil, err
	}
	return &pub, pubErr
}

// execute runs the publication primitive selected by mode (step 5 of
// spec.md §4.4), returning whether a brand new proposal was created.
// client/hasHoster may be nil/false for push and build-only, the two modes
// exempt from requiring a configured Hoster (step 3). Without a Hoster, push
// goes straight from the VCS Store via PushDirect; build-only pushes nothing.
func (p *Publisher) execute(ctx context.Context, mode model.PublicationMode, client hoster.Client, hasHoster bool, owner, repo, branchName, sourceRevision string,
	vcsKind vcsstore.Kind, mainBranchURL string, rec recipe.Recipe, existing *hoster.Proposal, run model.Run) (newProposal bool, outcome, proposalURL string, err error) {

	doPush := func() error {
		if hasHoster {
			return client.Push(ctx, owner, repo, branchName, sourceRevision)
		}
		return p.VCS.PushDirect(ctx, run.Package, vcsKind, branchName, mainBranchURL)
	}

	switch mode {
	case model.ModeSkip, model.ModeBuildOnly:
		return false, model.SuccessOutcome, "", nil

	case model.ModePush:
		if err := doPush(); err != nil {
			return false, "", "", err
		}
		return false, model.SuccessOutcome, "", nil

	case model.ModePushDerived:
		if err := client.PushDerived(ctx, owner, repo, branchName, sourceRevision); err != nil {
			return false, "", "", err
		}
		return false, model.SuccessOutcome, "", nil

	case model.ModePropose:
		return p.propose(ctx, client, owner, repo, branchName, sourceRevision, rec, existing, run)

	case model.ModeAttemptPush:
		if err := doPush(); err != nil {
			var coded *codes.Error
			if errors.As(err, &coded) && coded.Code == codes.PermissionDenied {
				return p.propose(ctx, client, owner, repo, branchName, sourceRevision, rec, existing, run)
			}
			return false, "", "", err
		}
		return false, model.SuccessOutcome, "", nil

	default:
		return false, "", "", fmt.Errorf("unknown publication mode %q", mode)
	}
}

func (p *Publisher) propose(ctx context.Context, client hoster.Client, owner, repo, branchName, sourceRevision string,
	rec recipe.Recipe, existing *hoster.Proposal, run model.Run) (newProposal bool, outcome, proposalURL string, err error) {

	var existingDescription, existingCommitMessage string
	if existing != nil {
		existingDescription = recipe.StripBlurb(existing.Description, run.Campaign)
		existingCommitMessage = existing.CommitMessage
	}

	description := recipe.AddBlurb(rec.GetProposalDescription(existingDescription), run.Package, run.ID, run.Campaign)
	commitMessage := rec.GetProposalCommitMessage(existingCommitMessage)

	var labels []string
	if client.SupportsLabels() {
		labels = []string{run.Campaign}
	}

	targetBranch, err := client.MainBranchName(ctx, owner, repo)
	if err != nil {
		return false, "", "", fmt.Errorf("looking up default branch for %s/%s: %w", owner, repo, err)
	}

	req := hoster.ProposeRequest{
		Owner: owner, Repo: repo,
		SourceBranch: branchName, TargetBranch: targetBranch,
		Title:         branchName,
		Description:   description,
		CommitMessage: commitMessage,
		Labels:        labels,
	}

	if existing == nil {
		if !rec.AllowCreateProposal() {
			return false, codes.NothingToDo, "", nil
		}
		created, err := client.CreateProposal(ctx, req)
		if err != nil {
			return false, "", "", err
		}
		return true, model.SuccessOutcome, created.URL, nil
	}

	updated, err := client.UpdateProposal(ctx, existing.URL, req)
	if err != nil {
		return false, "", "", err
	}
	return false, model.SuccessOutcome, updated.URL, nil
}

// PendingOutcome is one run's result from a PublishPending sweep.
type PendingOutcome struct {
	Run         model.Run
	Publication *model.Publication
	Err         error
}

// PublishPending is the driver loop publish_pending: over every
// publish-ready run, apply policy, short-circuit on an existing
// Publication (invariant ii), downgrade modes when rate-limited, and call
// PublishOne. Per-run failures are logged, never raised — the loop always
// runs every run it found.
func (p *Publisher) PublishPending(ctx context.Context) []PendingOutcome {
	runs, err := p.Store.ListPublishReadyRuns()
	if err != nil {
		p.Log.Error("listing publish-ready runs", "error", err)
		return nil
	}

	outcomes := make([]PendingOutcome, 0, len(runs))
	for _, run := range runs {
		pkg, err := p.Store.GetPackage(run.Package)
		if err != nil {
			p.Log.Warn("skipping run: package lookup failed", "package", run.Package, "error", err)
			outcomes = append(outcomes, PendingOutcome{Run: run, Err: err})
			continue
		}

		decision, ok := policy.Apply(p.Policy, run.Campaign, run.Package, pkg.MainBranchURL, pkg.Maintainer, pkg.Uploaders)
		if !ok {
			continue
		}
		mode := model.PublicationMode(decision.Mode)
		if mode == model.ModeSkip {
			continue
		}

		if !p.Limiter.Allowed(pkg.Maintainer) {
			switch mode {
			case model.ModePropose:
				mode = model.ModeBuildOnly
			case model.ModeAttemptPush:
				mode = model.ModePush
			}
		}

		pub, err := p.PublishOne(ctx, run, mode, model.RequestorDriver)
		if err != nil && errors.Is(err, store.ErrPublicationExists) {
			continue
		}
		if err != nil {
			p.Log.Error("publishing run failed", "run", run.ID, "package", run.Package, "error", err)
		}
		outcomes = append(outcomes, PendingOutcome{Run: run, Publication: pub, Err: err})
	}
	return outcomes
}
