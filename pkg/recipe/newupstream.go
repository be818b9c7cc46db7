package recipe

import "fmt"

func init() {
	factory := func(command []string) Recipe { return &newUpstream{command: command} }
	Register("new-upstream", factory)
	Register("new-upstream-snapshot", factory)
}

// newUpstream mirrors NewUpstreamPublisher: the branch name depends on
// whether the run was invoked with --snapshot, and every successful run
// is considered substantial enough to justify a new proposal — there is
// no upstream release too small to merit one.
type newUpstream struct {
	command         []string
	upstreamVersion string
}

func (n *newUpstream) BranchName() string {
	for _, arg := range n.command {
		if arg == "--snapshot" {
			return "new-upstream-snapshot"
		}
	}
	return "new-upstream"
}

func (n *newUpstream) ReadWorkerResult(result map[string]interface{}) error {
	if v, ok := result["upstream_version"].(string); ok {
		n.upstreamVersion = v
	}
	return nil
}

func (n *newUpstream) GetProposalDescription(string) string {
	return fmt.Sprintf("New upstream version %s.\n", n.upstreamVersion)
}

func (n *newUpstream) GetProposalCommitMessage(string) string {
	return n.GetProposalDescription("")
}

func (n *newUpstream) AllowCreateProposal() bool { return true }
