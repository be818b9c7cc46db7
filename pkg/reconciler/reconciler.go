// Package reconciler implements Component E of SPEC_FULL.md: periodically
// walking every hosting-service instance's own proposals, reconciling
// their hoster-observed state back into the store, refreshing stale
// proposals from newer successful runs, and reseeding the rate limiter's
// per-maintainer counts.
//
// Grounded on original_source/janitor/publish.py's check_existing, which
// performs the same per-status branch over iter_all_mps.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/threatcode/janitor/pkg/hoster"
	"github.com/threatcode/janitor/pkg/model"
	"github.com/threatcode/janitor/pkg/publisher"
	"github.com/threatcode/janitor/pkg/ratelimit"
	"github.com/threatcode/janitor/pkg/store"
)

// RefreshRequest is a priority-raising re-run request the reconciler
// couldn't act on directly (re-running a campaign's recipe is the Worker
// Runtime's job, not the reconciler's) — the caller (control plane or
// scheduler) is expected to enqueue it.
type RefreshRequest struct {
	Package        string
	Campaign       string
	PriorityOffset int
}

// conflictRefreshOffset is the priority bump applied when a proposal is
// flagged conflicted with no other pending changes, so it gets a worker
// slot sooner than newly-discovered work. Matches spec.md §8 scenario S4
// and original_source/janitor/publish.py's add_to_queue(..., offset=-2,
// refresh=True) call: negative offsets sort earlier in the queue.
const conflictRefreshOffset = -2

// Reconciler is Component E.
type Reconciler struct {
	Store     *store.DB
	Hosters   *hoster.Registry
	Publisher *publisher.Publisher
	Limiter   ratelimit.Limiter
	Log       *slog.Logger
}

func New(db *store.DB, hosters *hoster.Registry, pub *publisher.Publisher, limiter ratelimit.Limiter) *Reconciler {
	return &Reconciler{Store: db, Hosters: hosters, Publisher: pub, Limiter: limiter, Log: slog.Default()}
}

// Run performs one full walk: every registered hoster, every status, per
// spec.md §4.5. It returns the refresh requests the conflicted-with-no-
// other-change rule produced; per-proposal errors are logged and skipped,
// since no single hoster's hiccup should abort the walk.
func (r *Reconciler) Run(ctx context.Context) ([]RefreshRequest, error) {
	var refreshes []RefreshRequest

	for _, client := range r.Hosters.All() {
		for _, status := range []hoster.ProposalStatus{hoster.StatusOpen, hoster.StatusMerged, hoster.StatusClosed} {
			observed, err := client.ListMyProposals(ctx, status)
			if err != nil {
				r.Log.Error("listing proposals failed", "status", status, "error", err)
				continue
			}
			for _, p := range observed {
				req, err := r.reconcileOne(ctx, p)
				if err != nil {
					r.Log.Error("reconciling proposal failed", "url", p.URL, "error", err)
					continue
				}
				if req != nil {
					refreshes = append(refreshes, *req)
				}
			}
		}
	}

	counts, err := r.Store.OpenCountsByMaintainer()
	if err != nil {
		return refreshes, fmt.Errorf("computing per-maintainer open counts: %w", err)
	}
	r.Limiter.SetOpenCounts(counts)

	return refreshes, nil
}

// reconcileOne reconciles a single hoster-observed proposal against the
// stored record the Publisher created when it first opened it. A proposal
// the store has no record of was opened outside this system (or by a prior
// deployment whose store was lost) and is left alone: there is nothing
// reliable to reconcile it against.
func (r *Reconciler) reconcileOne(ctx context.Context, observed hoster.Proposal) (*RefreshRequest, error) {
	stored, err := r.Store.GetProposal(observed.URL)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	observedStatus := model.ProposalStatus(observed.Status)
	changed := stored.Status != observedStatus || stored.Conflicted != observed.Conflicted
	stored.Status = observedStatus
	stored.Conflicted = observed.Conflicted

	if observedStatus != model.ProposalOpen {
		if changed {
			if err := r.Store.PutProposal(stored); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	latest, err := r.Store.LatestRunFor(stored.Package, stored.Campaign)
	if err != nil {
		if err == store.ErrNotFound {
			if changed {
				if err := r.Store.PutProposal(stored); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}
		return nil, err
	}

	if !model.IsPublishReady(latest.Result) {
		// Last run regressed; leave the proposal exactly as the hoster has
		// it rather than touching something a failing run produced.
		if changed {
			if err := r.Store.PutProposal(stored); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	refreshedProposal := false
	if latest.ID != stored.LastRunID {
		if _, err := r.Publisher.PublishOne(ctx, latest, model.ModePropose, model.RequestorDriver); err != nil {
			if err != store.ErrPublicationExists {
				return nil, fmt.Errorf("refreshing proposal from newer run %s: %w", latest.ID, err)
			}
		} else {
			refreshedProposal = true
		}
		stored.LastRunID = latest.ID
		changed = true
	}

	if changed {
		if err := r.Store.PutProposal(stored); err != nil {
			return nil, err
		}
	}

	if observed.Conflicted && !refreshedProposal {
		return &RefreshRequest{Package: stored.Package, Campaign: stored.Campaign, PriorityOffset: conflictRefreshOffset}, nil
	}
	return nil, nil
}
