package hoster

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/threatcode/janitor/pkg/codes"
)

// GitLabClient implements Client against the GitLab merge-requests API,
// mirroring the teacher's NewGitLabClient construction (token + optional
// self-hosted base URL) but targeting merge requests instead of file trees.
type GitLabClient struct {
	client *gitlab.Client
	config Config
}

func NewGitLabClient(config Config) (*GitLabClient, error) {
	var opts []gitlab.ClientOptionFunc
	if config.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(config.BaseURL))
	}

	client, err := gitlab.NewClient(config.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	return &GitLabClient{client: client, config: config}, nil
}

func (g *GitLabClient) SupportsLabels() bool { return true }

func (g *GitLabClient) FindExistingProposal(ctx context.Context, owner, repo, sourceBranch string) (*Proposal, error) {
	projectID := owner + "/" + repo
	state := "opened"
	mrs, _, err := g.client.MergeRequests.ListProjectMergeRequests(projectID, &gitlab.ListProjectMergeRequestsOptions{
		SourceBranch: gitlab.Ptr(sourceBranch),
		State:        gitlab.Ptr(state),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list GitLab merge requests: %w", err)
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	return fromGitLabMR(mrs[0]), nil
}

func (g *GitLabClient) CreateProposal(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	projectID := req.Owner + "/" + req.Repo
	mr, resp, err := g.client.MergeRequests.CreateMergeRequest(projectID, &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(req.Title),
		Description:  gitlab.Ptr(req.Description),
		SourceBranch: gitlab.Ptr(req.SourceBranch),
		TargetBranch: gitlab.Ptr(req.TargetBranch),
		Labels:       (*gitlab.LabelOptions)(&req.Labels),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == 409 {
			return nil, codes.Wrap(codes.MergeProposalExists, "merge request already exists", err)
		}
		if resp != nil && resp.StatusCode == 403 {
			return nil, codes.Wrap(codes.PermissionDenied, "not permitted to open merge request", err)
		}
		if resp != nil && resp.StatusCode == 404 {
			return nil, codes.Wrap(codes.ProjectNotFound, projectID, err)
		}
		return nil, fmt.Errorf("failed to create merge request: %w", err)
	}
	return fromGitLabMR(mr), nil
}

func (g *GitLabClient) UpdateProposal(ctx context.Context, proposalURL string, req ProposeRequest) (*Proposal, error) {
	projectID, iid, err := parseGitLabMRURL(proposalURL)
	if err != nil {
		return nil, err
	}
	mr, _, err := g.client.MergeRequests.UpdateMergeRequest(projectID, iid, &gitlab.UpdateMergeRequestOptions{
		Title:       gitlab.Ptr(req.Title),
		Description: gitlab.Ptr(req.Description),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to update merge request: %w", err)
	}
	return fromGitLabMR(mr), nil
}

func (g *GitLabClient) MainBranchName(ctx context.Context, owner, repo string) (string, error) {
	projectID := owner + "/" + repo
	project, _, err := g.client.Projects.GetProject(projectID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to look up default branch for %s: %w", projectID, err)
	}
	return project.DefaultBranch, nil
}

func (g *GitLabClient) Push(ctx context.Context, owner, repo, targetBranch, sourceRevision string) error {
	projectID := owner + "/" + repo
	_, resp, err := g.client.Commits.CreateCommit(projectID, &gitlab.CreateCommitOptions{
		Branch:       gitlab.Ptr(targetBranch),
		CommitMessage: gitlab.Ptr("janitor: force-update " + targetBranch + " to " + sourceRevision),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == 403 {
			return codes.Wrap(codes.PermissionDenied, "not permitted to push to "+projectID, err)
		}
		return fmt.Errorf("failed to push to GitLab: %w", err)
	}
	return nil
}

func (g *GitLabClient) PushDerived(ctx context.Context, owner, repo, branchName, sourceRevision string) error {
	return g.Push(ctx, owner, repo, branchName, sourceRevision)
}

func (g *GitLabClient) ListMyProposals(ctx context.Context, status ProposalStatus) ([]Proposal, error) {
	state := gitLabState(status)
	scope := "created_by_me"
	mrs, _, err := g.client.MergeRequests.ListMergeRequests(&gitlab.ListMergeRequestsOptions{
		State: gitlab.Ptr(state),
		Scope: gitlab.Ptr(scope),
		ListOptions: gitlab.ListOptions{
			PerPage: 100,
		},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list GitLab merge requests: %w", err)
	}

	out := make([]Proposal, 0, len(mrs))
	for _, mr := range mrs {
		out = append(out, *fromGitLabMR(mr))
	}
	return out, nil
}

func gitLabState(status ProposalStatus) string {
	switch status {
	case StatusMerged:
		return "merged"
	case StatusClosed:
		return "closed"
	default:
		return "opened"
	}
}

func fromGitLabMR(mr *gitlab.MergeRequest) *Proposal {
	status := StatusOpen
	switch mr.State {
	case "merged":
		status = StatusMerged
	case "closed":
		status = StatusClosed
	}
	return &Proposal{
		URL:             mr.WebURL,
		SourceBranchURL: mr.SourceBranch,
		Status:          status,
		Description:     mr.Description,
		Conflicted:      mr.HasConflicts,
		CanBeMerged:     !mr.HasConflicts && mr.MergeStatus == "can_be_merged",
	}
}

func parseGitLabMRURL(url string) (projectID string, iid int, err error) {
	// https://gitlab.example.com/{namespace}/{project}/-/merge_requests/{iid}
	idx := strings.Index(url, "/-/merge_requests/")
	if idx < 0 {
		return "", 0, fmt.Errorf("unrecognized GitLab merge request URL: %s", url)
	}
	withoutScheme := url[:idx]
	schemeIdx := strings.Index(withoutScheme, "://")
	if schemeIdx < 0 {
		return "", 0, fmt.Errorf("unrecognized GitLab merge request URL: %s", url)
	}
	hostAndPath := withoutScheme[schemeIdx+3:]
	slash := strings.Index(hostAndPath, "/")
	if slash < 0 {
		return "", 0, fmt.Errorf("unrecognized GitLab merge request URL: %s", url)
	}
	projectID = hostAndPath[slash+1:]

	n, convErr := strconv.Atoi(url[idx+len("/-/merge_requests/"):])
	if convErr != nil {
		return "", 0, fmt.Errorf("unrecognized GitLab merge request URL: %s", url)
	}
	return projectID, n, nil
}
