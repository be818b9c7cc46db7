package recipe

import (
	"fmt"
	"strings"
)

const (
	janitorBlurbFmt = "\nThis merge proposal was created automatically by the janitor bot\n(https://janitor.example/%s).\n\nYou can follow up to this merge proposal as you normally would.\n"
	logBlurbFmt     = "\nBuild and test logs for this branch can be found at\nhttps://janitor.example/cupboard/pkg/%s/%s/.\n"
)

// StripBlurb removes the trailing janitor blurb appended by AddBlurb for
// campaign, returning the user-authored part of a proposal description
// unmodified. If no blurb is present (e.g. the proposal predates this
// campaign, or a human edited the description), text is returned as-is —
// matching strip_janitor_blurb's own fall-through instead of failing.
func StripBlurb(text, campaign string) string {
	blurb := fmt.Sprintf(janitorBlurbFmt, campaign)
	if i := strings.Index(text, blurb); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

// AddBlurb appends the janitor attribution blurb and a link to this run's
// logs to text. Round-tripping AddBlurb then StripBlurb for the same
// campaign must return the original text (spec.md §8 idempotence).
func AddBlurb(text, pkg, runID, campaign string) string {
	text += "\n" + fmt.Sprintf(janitorBlurbFmt, campaign)
	text += fmt.Sprintf(logBlurbFmt, pkg, runID)
	return text
}
