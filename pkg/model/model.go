// Package model defines the persistent entities of the run lifecycle and
// publication control plane: packages, campaigns, runs, publications,
// proposals and policy entries (spec.md §3).
package model

import "time"

// ResultCode is the stable taxonomy of a Run's outcome. Coded failures are
// carried verbatim end-to-end: uploaded by the worker, stored by the
// publisher, and never re-interpreted along the way.
type ResultCode string

const (
	ResultSuccess          ResultCode = "success"
	ResultNothingToDo      ResultCode = "nothing-to-do"
	ResultNothingNewToDo   ResultCode = "nothing-new-to-do"
	ResultAborted          ResultCode = "aborted"
	ResultWorkerFailure    ResultCode = "worker-failure"
)

// publishReadyCodes are the result codes the publisher driver loop and the
// reconciler treat as "this run may be published/refreshed from".
var publishReadyCodes = map[ResultCode]bool{
	ResultSuccess:        true,
	ResultNothingToDo:    true,
	ResultNothingNewToDo: true,
}

// IsPublishReady reports whether a run with this result code may back a
// Publication (spec.md §3 invariant i, §4.5).
func IsPublishReady(c ResultCode) bool {
	return publishReadyCodes[c]
}

// Package is a unit of work: a source package tracked by the janitor, never
// deleted once created externally (it may only be abandoned).
type Package struct {
	Name            string
	Maintainer      string
	Uploaders       []string
	MainBranchURL   string
	VCSType         string // "", "git" or "bzr" — discovered by probing, cached here once known.
}

// Campaign is a named long-running policy scope, e.g. "lintian-fixes".
type Campaign struct {
	Name       string
	BranchName string
}

// OutputBranch is one branch produced by a Run, of the form
// (role, local name, base revision, tip revision).
type OutputBranch struct {
	Role     string
	Name     string
	BaseRev  string
	TipRev   string
}

// Run is the immutable record of one recipe+build attempt.
type Run struct {
	ID                 string
	Package            string
	Campaign           string
	Command            []string
	StartTime          time.Time
	FinishTime         time.Time
	Result             ResultCode
	Description        string
	MainBranchRevision string
	RevisionID         string // tip of the resulting branch
	ArtifactVersion    string
	RecipeResult       map[string]interface{}
	Branches           []OutputBranch
	WorkerName         string
	LogFilenames       []string
	FollowupActions    []string
}

// PublicationMode is the publication primitive selected by policy
// (spec.md §4.2).
type PublicationMode string

const (
	ModeSkip         PublicationMode = "skip"
	ModeBuildOnly    PublicationMode = "build-only"
	ModePush         PublicationMode = "push"
	ModePushDerived  PublicationMode = "push-derived"
	ModePropose      PublicationMode = "propose"
	ModeAttemptPush  PublicationMode = "attempt-push"
)

// PublicationRequestor distinguishes the driver loop from an on-demand
// control-plane request; both append Publication rows (SPEC_FULL.md §3).
type PublicationRequestor string

const (
	RequestorDriver    PublicationRequestor = "driver"
	RequestorOnDemand  PublicationRequestor = "on-demand"
)

// Publication is one attempted publication of a Run.
type Publication struct {
	RunID       string
	Package     string
	Campaign    string
	BranchName  string
	SourceRev   string
	TargetRev   string
	Timestamp   time.Time
	Mode        PublicationMode
	Outcome     string // result code, §7 "Publication" kinds, or "success"
	Description string
	ProposalURL string
	Requestor   PublicationRequestor
}

// Key returns the tuple used by invariant (ii) in spec.md §3 to
// short-circuit reattempts: at most one non-error Publication may exist
// per (package, campaign, branch-name, source-revision, target-revision, mode).
func (p Publication) Key() PublicationKey {
	return PublicationKey{
		Package:    p.Package,
		Campaign:   p.Campaign,
		BranchName: p.BranchName,
		SourceRev:  p.SourceRev,
		TargetRev:  p.TargetRev,
		Mode:       p.Mode,
	}
}

// SuccessOutcome is the sentinel Publication.Outcome value for a
// publication primitive that completed without error; anything else is one
// of the §7 coded failures. Only a success Publication counts against
// invariant (ii)'s at-most-one-per-tuple rule.
const SuccessOutcome = "success"

// PublicationKey is the deduplication tuple of invariant (ii).
type PublicationKey struct {
	Package    string
	Campaign   string
	BranchName string
	SourceRev  string
	TargetRev  string
	Mode       PublicationMode
}

// ProposalStatus is the Hoster-authoritative status of a Proposal.
type ProposalStatus string

const (
	ProposalOpen   ProposalStatus = "open"
	ProposalMerged ProposalStatus = "merged"
	ProposalClosed ProposalStatus = "closed"
)

// Proposal is an external merge request observed on a hosting service. URL
// is its identity; status is cache only (spec.md §3 invariant iii).
type Proposal struct {
	URL        string
	Package    string
	Campaign   string
	Status     ProposalStatus
	LastRunID  string
	Conflicted bool
}

// PolicyEntry is the resolved (campaign, package) policy.
type PolicyEntry struct {
	Campaign         string
	Package          string
	Mode             PublicationMode
	UpdateChangelog  bool
	Committer        string
}
