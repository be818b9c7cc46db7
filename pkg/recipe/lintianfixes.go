package recipe

import "strings"

func init() {
	Register("lintian-fixes", func(command []string) Recipe {
		return &lintianFixes{command: command}
	})
}

// lintianFixes mirrors LintianBrushPublisher: it merges the one-line
// summary of each applied fix into the proposal description and commit
// message, and only authorises a new proposal when at least one fix
// actually applied and none of them were "add-on only" (cosmetic changes
// too small to justify a standalone proposal).
type lintianFixes struct {
	command []string

	applied   []appliedFix
	failed    []appliedFix
	addOnOnly bool
}

type appliedFix struct {
	FixedTags []string
	Summary   string
}

func (l *lintianFixes) BranchName() string { return "lintian-fixes" }

func (l *lintianFixes) ReadWorkerResult(result map[string]interface{}) error {
	l.applied = parseAppliedFixes(result["applied"])
	l.failed = parseAppliedFixes(result["failed"])
	if v, ok := result["add_on_only"].(bool); ok {
		l.addOnOnly = v
	}
	return nil
}

func (l *lintianFixes) GetProposalDescription(existingDescription string) string {
	lines := parseBulletLines(existingDescription)
	for _, fix := range l.applied {
		lines = append(lines, fix.Summary)
	}
	return renderBulletLines(lines)
}

func (l *lintianFixes) GetProposalCommitMessage(existingCommitMessage string) string {
	var parts []string
	for _, fix := range l.applied {
		if len(fix.FixedTags) > 0 {
			parts = append(parts, strings.Join(fix.FixedTags, ", ")+": "+fix.Summary)
		} else {
			parts = append(parts, fix.Summary)
		}
	}
	if len(parts) == 0 {
		return existingCommitMessage
	}
	return "Fix lintian issues: " + strings.Join(parts, "; ")
}

func (l *lintianFixes) AllowCreateProposal() bool {
	return len(l.applied) > 0 && !l.addOnOnly
}

func parseAppliedFixes(raw interface{}) []appliedFix {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]appliedFix, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		fix := appliedFix{}
		if s, ok := m["summary"].(string); ok {
			fix.Summary = s
		}
		if tags, ok := m["fixed_lintian_tags"].([]interface{}); ok {
			for _, t := range tags {
				if s, ok := t.(string); ok {
					fix.FixedTags = append(fix.FixedTags, s)
				}
			}
		}
		out = append(out, fix)
	}
	return out
}

// parseBulletLines splits an existing "* foo\n* bar" description back into
// its individual bullet lines, so new summaries can be appended alongside
// ones a previous run already recorded.
func parseBulletLines(description string) []string {
	var lines []string
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "* ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func renderBulletLines(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("* ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
