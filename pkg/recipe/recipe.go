// Package recipe defines the tagged-variant capability interface the
// Publisher (Component D) drives once per campaign family, and the
// proposal-description blurb helpers shared by every variant. Grounded on
// original_source/janitor/publish.py's LintianBrushPublisher and
// NewUpstreamPublisher, generalized from those two hard-coded classes into
// a small registry so SPEC_FULL.md campaigns beyond the original two can be
// added without touching the publisher.
package recipe

import "fmt"

// Recipe is implemented once per campaign family. The publisher calls
// ReadWorkerResult after a run finishes, then BranchName,
// GetProposalDescription, GetProposalCommitMessage and
// AllowCreateProposal while assembling a Publication.
type Recipe interface {
	// BranchName is the name publish_one asks the hoster and VCS store to
	// use for this campaign's result branch.
	BranchName() string

	// GetProposalDescription merges this run's changes into the existing
	// proposal description (if any), already stripped of the trailing
	// blurb by the caller.
	GetProposalDescription(existingDescription string) string

	// GetProposalCommitMessage is the analogous merge for the commit
	// message used when force-pushing or updating a proposal branch.
	GetProposalCommitMessage(existingCommitMessage string) string

	// ReadWorkerResult absorbs the recipe-specific fields of a run's
	// RecipeResult blob (spec.md §3's "structured recipe result, opaque
	// JSON-ish blob").
	ReadWorkerResult(result map[string]interface{}) error

	// AllowCreateProposal reports whether this run's changes are
	// substantial enough to justify opening a brand new proposal, as
	// opposed to only updating one that already exists.
	AllowCreateProposal() bool
}

// Factory builds a Recipe for one invocation of a campaign's command.
type Factory func(command []string) Recipe

var registry = map[string]Factory{}

// Register associates a campaign name with the Factory that builds its
// Recipe. Called from package init in lintianfixes.go/newupstream.go, the
// same pattern the teacher uses to register provider clients by name.
func Register(campaign string, factory Factory) {
	registry[campaign] = factory
}

// New looks up the registered Factory for campaign and builds a Recipe for
// this run's command line. An unregistered campaign is a configuration
// error the control plane should reject before scheduling any run.
func New(campaign string, command []string) (Recipe, error) {
	factory, ok := registry[campaign]
	if !ok {
		return nil, fmt.Errorf("no recipe registered for campaign %q", campaign)
	}
	return factory(command), nil
}
