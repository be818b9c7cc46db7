// Package policy implements Component B of SPEC_FULL.md: a pure function
// mapping (campaign, package, maintainer, uploaders) to a publication mode,
// an update-changelog flag, and a committer identity.
package policy

import (
	"github.com/threatcode/janitor/pkg/config"
	"github.com/threatcode/janitor/pkg/model"
)

// Decision is the result of Apply.
type Decision struct {
	Mode            model.PublicationMode
	UpdateChangelog bool
	Committer       string
}

// Apply resolves policy for one (campaign, package), then applies the
// collaborative-maintenance override: when mainBranchURL falls under one of
// cfg's configured namespaces, attempt-push always degrades to propose,
// regardless of what the policy file says (spec.md §4.2).
//
// maintainer and uploaders are accepted for interface symmetry with the
// source policy shape (spec.md §4.2) even though the current policy file
// format resolves purely on (campaign, package); a future policy format
// keyed also on maintainer can extend CampaignConfig without touching this
// signature.
func Apply(cfg *config.Config, campaign, pkg, mainBranchURL, maintainer string, uploaders []string) (Decision, bool) {
	entry, ok := cfg.Lookup(campaign, pkg)
	if !ok {
		return Decision{}, false
	}

	mode := model.PublicationMode(entry.Mode)
	if mode == model.ModeAttemptPush && cfg.IsCollabMaintained(mainBranchURL) {
		mode = model.ModePropose
	}

	updateChangelog := false
	if entry.UpdateChangelog != nil {
		updateChangelog = *entry.UpdateChangelog
	}

	return Decision{
		Mode:            mode,
		UpdateChangelog: updateChangelog,
		Committer:       entry.Committer,
	}, true
}
