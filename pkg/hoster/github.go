package hoster

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/threatcode/janitor/pkg/codes"
)

// GitHubClient implements Client against the GitHub pulls API.
type GitHubClient struct {
	client *github.Client
	config Config
}

// NewGitHubClient mirrors the teacher's NewGitHubClient: an oauth2 static
// token source when a token is configured, and Enterprise base URLs
// whenever BaseURL is set.
func NewGitHubClient(config Config) (*GitHubClient, error) {
	var client *github.Client

	ctx := context.Background()
	if config.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
		tc := oauth2.NewClient(ctx, ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	if config.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(config.BaseURL, config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set GitHub Enterprise URL: %w", err)
		}
	}

	return &GitHubClient{client: client, config: config}, nil
}

func (g *GitHubClient) SupportsLabels() bool { return true }

func (g *GitHubClient) FindExistingProposal(ctx context.Context, owner, repo, sourceBranch string) (*Proposal, error) {
	opts := &github.PullRequestListOptions{
		Head:  owner + ":" + sourceBranch,
		State: "open",
	}
	prs, _, err := g.client.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests from GitHub: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return fromGitHubPR(prs[0]), nil
}

func (g *GitHubClient) CreateProposal(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	newPR := &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.SourceBranch),
		Base:  github.String(req.TargetBranch),
		Body:  github.String(req.Description),
	}
	pr, resp, err := g.client.PullRequests.Create(ctx, req.Owner, req.Repo, newPR)
	if err != nil {
		if resp != nil && resp.StatusCode == 422 {
			return nil, codes.Wrap(codes.MergeProposalExists, "pull request already exists", err)
		}
		if resp != nil && resp.StatusCode == 403 {
			return nil, codes.Wrap(codes.PermissionDenied, "not permitted to open pull request", err)
		}
		if resp != nil && resp.StatusCode == 404 {
			return nil, codes.Wrap(codes.ProjectNotFound, req.Owner+"/"+req.Repo, err)
		}
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	proposal := fromGitHubPR(pr)

	if len(req.Labels) > 0 {
		if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, req.Owner, req.Repo, pr.GetNumber(), req.Labels); err != nil {
			return proposal, fmt.Errorf("failed to label pull request: %w", err)
		}
	}

	return proposal, nil
}

func (g *GitHubClient) UpdateProposal(ctx context.Context, proposalURL string, req ProposeRequest) (*Proposal, error) {
	owner, repo, number, err := parseGitHubPRURL(proposalURL)
	if err != nil {
		return nil, err
	}
	pr, _, err := g.client.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		Title: github.String(req.Title),
		Body:  github.String(req.Description),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update pull request: %w", err)
	}
	return fromGitHubPR(pr), nil
}

func (g *GitHubClient) MainBranchName(ctx context.Context, owner, repo string) (string, error) {
	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("failed to look up default branch for %s/%s: %w", owner, repo, err)
	}
	return r.GetDefaultBranch(), nil
}

func (g *GitHubClient) Push(ctx context.Context, owner, repo, targetBranch, sourceRevision string) error {
	ref := "heads/" + targetBranch
	_, resp, err := g.client.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/" + ref),
		Object: &github.GitObject{SHA: github.String(sourceRevision)},
	}, true)
	if err != nil {
		if resp != nil && resp.StatusCode == 403 {
			return codes.Wrap(codes.PermissionDenied, "not permitted to push to "+owner+"/"+repo, err)
		}
		return fmt.Errorf("failed to push to GitHub: %w", err)
	}
	return nil
}

func (g *GitHubClient) PushDerived(ctx context.Context, owner, repo, branchName, sourceRevision string) error {
	return g.Push(ctx, owner, repo, branchName, sourceRevision)
}

func (g *GitHubClient) ListMyProposals(ctx context.Context, status ProposalStatus) ([]Proposal, error) {
	ghState := "open"
	if status == StatusClosed || status == StatusMerged {
		ghState = "closed"
	}

	user, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to determine authenticated GitHub user: %w", err)
	}

	query := fmt.Sprintf("is:pr author:%s", user.GetLogin())
	result, _, err := g.client.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search GitHub pull requests: %w", err)
	}

	var out []Proposal
	for _, issue := range result.Issues {
		owner, repo, number, err := parseGitHubPRURL(issue.GetHTMLURL())
		if err != nil {
			continue
		}
		pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
		if err != nil {
			continue
		}
		p := fromGitHubPR(pr)
		if ghState == "open" && p.Status != StatusOpen {
			continue
		}
		if status == StatusMerged && p.Status != StatusMerged {
			continue
		}
		if status == StatusClosed && p.Status != StatusClosed {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func fromGitHubPR(pr *github.PullRequest) *Proposal {
	status := StatusOpen
	switch {
	case pr.GetMerged():
		status = StatusMerged
	case pr.GetState() == "closed":
		status = StatusClosed
	}
	return &Proposal{
		URL:             pr.GetHTMLURL(),
		SourceBranchURL: pr.GetHead().GetRef(),
		Status:          status,
		Description:     pr.GetBody(),
		Conflicted:      pr.GetMergeableState() == "dirty",
		CanBeMerged:     pr.GetMergeable(),
	}
}

func parseGitHubPRURL(url string) (owner, repo string, number int, err error) {
	// https://github.com/{owner}/{repo}/pull/{number}
	rest := strings.TrimPrefix(url, "https://github.com/")
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[2] != "pull" {
		return "", "", 0, fmt.Errorf("unrecognized GitHub pull request URL: %s", url)
	}
	n, convErr := strconv.Atoi(parts[3])
	if convErr != nil {
		return "", "", 0, fmt.Errorf("unrecognized GitHub pull request URL: %s", url)
	}
	return parts[0], parts[1], n, nil
}
