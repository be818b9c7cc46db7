// Package hoster provides abstractions and client implementations for
// interacting with code-hosting services (GitHub, GitLab) as Component D/E
// of SPEC_FULL.md needs: listing, creating and updating merge proposals.
//
// It is adapted from the repository.Client abstraction this project's
// teacher uses to read file trees across providers; here the same
// provider-per-file-pattern wraps the proposal (pull/merge request) surface
// instead.
package hoster

import "context"

// ProposalStatus mirrors model.ProposalStatus to avoid an import cycle
// between hoster and model; publisher/reconciler translate between them.
type ProposalStatus string

const (
	StatusOpen   ProposalStatus = "open"
	StatusMerged ProposalStatus = "merged"
	StatusClosed ProposalStatus = "closed"
)

// Proposal is a merge/pull request as observed on the hosting service.
type Proposal struct {
	URL             string
	SourceBranchURL string
	Status          ProposalStatus
	Description     string
	CommitMessage   string
	Conflicted      bool
	CanBeMerged     bool
}

// ProposeRequest describes a proposal to open or update.
type ProposeRequest struct {
	Owner         string
	Repo          string
	SourceBranch  string
	TargetBranch  string
	Title         string
	Description   string
	CommitMessage string
	Labels        []string
}

// Client is implemented once per hosting service. It abstracts the merge
// proposal operations the Publisher (§4.4) and Reconciler (§4.5) need.
type Client interface {
	// SupportsLabels reports whether this hoster can attach labels to a
	// proposal (used by the Publisher to decide whether to pass suite
	// labels through).
	SupportsLabels() bool

	// FindExistingProposal looks for a prior open proposal from
	// sourceBranch onto the package's main branch, identified by the
	// recipe-dictated branch name (spec.md §4.4 step 4). Returns nil, nil
	// if none exists.
	FindExistingProposal(ctx context.Context, owner, repo, sourceBranch string) (*Proposal, error)

	// CreateProposal opens a new proposal. Returns the created Proposal.
	CreateProposal(ctx context.Context, req ProposeRequest) (*Proposal, error)

	// UpdateProposal updates the description/commit message of an existing
	// proposal (found via FindExistingProposal or ListMyProposals).
	UpdateProposal(ctx context.Context, proposalURL string, req ProposeRequest) (*Proposal, error)

	// Push force-pushes a local branch directly to the target branch of
	// the main repository (mode=push / attempt-push's fallback path).
	// PermissionDenied is surfaced as a *codes.Error with code
	// "permission-denied" so attempt-push can fall back to propose.
	Push(ctx context.Context, owner, repo, targetBranch, sourceRevision string) error

	// PushDerived creates/updates a feature branch in the caller's derived
	// namespace (a fork, in GitHub/GitLab terms) without opening a
	// proposal (mode=push-derived).
	PushDerived(ctx context.Context, owner, repo, branchName, sourceRevision string) error

	// ListMyProposals lists the proposals this hoster account has opened,
	// in the given status, across every repository — used by the Proposal
	// Reconciler's full walk (§4.5). Only the first page of results (up to
	// 100) is fetched; later pages are not requested.
	ListMyProposals(ctx context.Context, status ProposalStatus) ([]Proposal, error)

	// MainBranchName returns the repository's actual default branch
	// ("main", "master", or whatever the repo owner picked), so a proposal
	// is opened against the real base instead of an assumed one.
	MainBranchName(ctx context.Context, owner, repo string) (string, error)
}

// Config holds common configuration for hoster clients.
type Config struct {
	Token   string
	BaseURL string
}
