package vcsstore

import (
	"context"
	"fmt"
)

// RemoteCacheStore is the HTTP-served cache back-end: a read-only mirror
// published at a fixed URL pattern per VCS family, matching
// get_cached_branch in original_source/janitor/vcs.py. ImportBranches is
// unsupported here — publication to the cache happens out of band, by the
// same process that writes a LocalDirStore and serves it over HTTP.
type RemoteCacheStore struct {
	GitBaseURL string // e.g. "https://janitor.debian.net/git/"
	BzrBaseURL string // e.g. "https://janitor.debian.net/bzr/"
}

func (s *RemoteCacheStore) BranchURL(pkg, branchName string, vcsKind Kind) string {
	switch vcsKind {
	case Git:
		return fmt.Sprintf("%s%s,branch=%s", s.GitBaseURL, pkg, branchName)
	case Bzr:
		return fmt.Sprintf("%s%s/%s", s.BzrBaseURL, pkg, branchName)
	default:
		return ""
	}
}

// OpenBranch probes the URL-addressed branch's tip over the network (git
// ls-remote / bzr info) and returns it; any probe failure is treated the
// same as "branch not found" per open_branch's `→ Branch | nil` contract.
func (s *RemoteCacheStore) OpenBranch(ctx context.Context, pkg, branchName string, vcsKind Kind) (*Branch, error) {
	url := s.BranchURL(pkg, branchName, vcsKind)
	if url == "" {
		return nil, nil
	}
	rev, err := probeRemoteTip(ctx, url, vcsKind)
	if err != nil {
		return nil, nil
	}
	return &Branch{Package: pkg, Name: branchName, VCS: vcsKind, URL: url, TipRevision: rev}, nil
}

func (s *RemoteCacheStore) GetRepository(pkg string, vcsKind Kind) (*Repo, error) {
	url := s.BranchURL(pkg, "", vcsKind)
	if url == "" {
		return nil, fmt.Errorf("unknown vcs kind %q", vcsKind)
	}
	return &Repo{Package: pkg, VCS: vcsKind, URL: url}, nil
}

func (s *RemoteCacheStore) ImportBranches(ctx context.Context, pkg string, vcsKind Kind, mainBranchURL string, branches []ColocatedBranch) error {
	return fmt.Errorf("RemoteCacheStore is read-only: import into the local-dir store that publishes this cache instead")
}

func (s *RemoteCacheStore) PushDirect(ctx context.Context, pkg string, vcsKind Kind, branchName, targetURL string) error {
	return fmt.Errorf("RemoteCacheStore is read-only: push from the local-dir store that publishes this cache instead")
}

func (s *RemoteCacheStore) MainBranchTip(ctx context.Context, url string, vcsKind Kind) (string, error) {
	return RemoteTip(ctx, url, vcsKind)
}

func (s *RemoteCacheStore) VCSType(ctx context.Context, mainBranchURL string) (Kind, bool) {
	if _, err := runGit(ctx, "", "ls-remote", mainBranchURL); err == nil {
		return Git, true
	}
	if _, err := runCmd(ctx, "", "bzr", "info", mainBranchURL); err == nil {
		return Bzr, true
	}
	return "", false
}

// RemoteTip returns the current tip revision of a branch at an arbitrary
// URL, probing with the given VCS family's plumbing. Used by the Publisher
// (§4.4 step 2) to open a package's main branch, which lives outside any
// Store back-end.
func RemoteTip(ctx context.Context, url string, vcsKind Kind) (string, error) {
	return probeRemoteTip(ctx, url, vcsKind)
}

func probeRemoteTip(ctx context.Context, url string, vcsKind Kind) (string, error) {
	switch vcsKind {
	case Git:
		out, err := runGit(ctx, "", "ls-remote", url, "HEAD")
		if err != nil {
			return "", err
		}
		for i, c := range out {
			if c == '\t' || c == ' ' {
				return out[:i], nil
			}
		}
		return out, nil
	case Bzr:
		_, err := runCmd(ctx, "", "bzr", "info", url)
		if err != nil {
			return "", err
		}
		return url, nil
	default:
		return "", fmt.Errorf("unknown vcs kind %q", vcsKind)
	}
}
