// Package vcsstore implements Component A of SPEC_FULL.md: a uniform
// abstraction over result-branch storage, presented over two back-ends
// (local filesystem directories and a remote HTTP-served cache) and over
// two VCS families — one that colocates many branches in a single
// repository (git) and one that stores each branch as its own directory and
// supports stacking one branch on another (bzr).
//
// The repository-handling code here follows the pattern the teacher copied
// from Masterminds/vcs for wrapping Git/Bzr repos with custom Get/Update
// behaviour; the colocated-vs-stacked branch semantics follow
// original_source/janitor/vcs.py's mirror_branches.
package vcsstore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/vcs"

	"github.com/threatcode/janitor/pkg/codes"
)

// Kind identifies one of the two supported VCS families.
type Kind string

const (
	Git Kind = "git"
	Bzr Kind = "bzr"
)

// Branch is an opened result branch.
type Branch struct {
	Package     string
	Name        string
	VCS         Kind
	URL         string
	TipRevision string
}

// Repo is a package's repository handle within a Store back-end.
type Repo struct {
	Package string
	VCS     Kind
	// Path is set for the local-dir back-end, URL for the remote-cache one.
	Path string
	URL  string
}

// ColocatedBranch pairs a target branch name with the local working copy it
// should be force-pushed from.
type ColocatedBranch struct {
	TargetName     string
	SourcePath     string
	SourceRevision string
}

// ErrMixedFamilies is returned when ImportBranches is asked to write a VCS
// family into a package directory that already holds a different one.
// Per spec.md §4.1 rule (iii) this is fatal, never retried.
var ErrMixedFamilies = fmt.Errorf("mixing VCS families within one package is fatal")

// Store is the uniform VCS Store abstraction (spec.md §4.1).
type Store interface {
	OpenBranch(ctx context.Context, pkg, branchName string, vcsKind Kind) (*Branch, error)
	BranchURL(pkg, branchName string, vcsKind Kind) string
	ImportBranches(ctx context.Context, pkg string, vcsKind Kind, mainBranchURL string, branches []ColocatedBranch) error
	GetRepository(pkg string, vcsKind Kind) (*Repo, error)
	VCSType(ctx context.Context, mainBranchURL string) (Kind, bool)
	// MainBranchTip returns the current tip revision of a package's main
	// branch, which lives outside any Store back-end (spec.md §4.4 step 2).
	MainBranchTip(ctx context.Context, url string, vcsKind Kind) (string, error)
	// PushDirect force-pushes branchName from this package's stored
	// repository straight to targetURL, bypassing any Hoster API. Used by
	// the Publisher when mode=push targets a remote with no configured
	// Hoster (spec.md §4.4 step 3 exempts push and build-only from requiring
	// one; build-only pushes nothing).
	PushDirect(ctx context.Context, pkg string, vcsKind Kind, branchName, targetURL string) error
}

// LocalDirStore is the local-filesystem back-end: a base directory holding
// a `git/<pkg>` bare repository per package and a `bzr/<pkg>/<branch>`
// directory tree per package, mirroring mirror_branches in
// original_source/janitor/vcs.py.
type LocalDirStore struct {
	BaseDir string

	mu      sync.Mutex
	vcsSeen map[string]Kind
}

func NewLocalDirStore(baseDir string) *LocalDirStore {
	return &LocalDirStore{BaseDir: baseDir, vcsSeen: make(map[string]Kind)}
}

func (s *LocalDirStore) gitPath(pkg string) string { return filepath.Join(s.BaseDir, "git", pkg) }
func (s *LocalDirStore) bzrPath(pkg string) string { return filepath.Join(s.BaseDir, "bzr", pkg) }

func (s *LocalDirStore) recordVCS(pkg string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.vcsSeen[pkg]; ok && prior != kind {
		return fmt.Errorf("%s: %w (have %s, asked for %s)", pkg, ErrMixedFamilies, prior, kind)
	}
	s.vcsSeen[pkg] = kind
	return nil
}

func (s *LocalDirStore) BranchURL(pkg, branchName string, vcsKind Kind) string {
	switch vcsKind {
	case Git:
		return fmt.Sprintf("%s,branch=%s", s.gitPath(pkg), branchName)
	case Bzr:
		return filepath.Join(s.bzrPath(pkg), branchName)
	default:
		return ""
	}
}

func (s *LocalDirStore) GetRepository(pkg string, vcsKind Kind) (*Repo, error) {
	switch vcsKind {
	case Git:
		path := s.gitPath(pkg)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
		return &Repo{Package: pkg, VCS: Git, Path: path}, nil
	case Bzr:
		path := s.bzrPath(pkg)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
		return &Repo{Package: pkg, VCS: Bzr, Path: path}, nil
	default:
		return nil, fmt.Errorf("unknown vcs kind %q", vcsKind)
	}
}

// OpenBranch opens a previously imported branch, returning nil (not an
// error) if it has never been imported, matching open_branch's
// `→ Branch | nil` contract.
func (s *LocalDirStore) OpenBranch(ctx context.Context, pkg, branchName string, vcsKind Kind) (*Branch, error) {
	switch vcsKind {
	case Git:
		path := s.gitPath(pkg)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
		rev, err := runGit(ctx, path, "rev-parse", "refs/heads/"+branchName)
		if err != nil {
			return nil, nil
		}
		return &Branch{Package: pkg, Name: branchName, VCS: Git, URL: s.BranchURL(pkg, branchName, Git), TipRevision: strings.TrimSpace(rev)}, nil
	case Bzr:
		path := filepath.Join(s.bzrPath(pkg), branchName)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
		rev, err := runCmd(ctx, path, "bzr", "revision-info")
		if err != nil {
			return nil, nil
		}
		fields := strings.Fields(strings.TrimSpace(rev))
		tip := ""
		if len(fields) == 2 {
			tip = fields[1]
		}
		return &Branch{Package: pkg, Name: branchName, VCS: Bzr, URL: s.BranchURL(pkg, branchName, Bzr), TipRevision: tip}, nil
	default:
		return nil, fmt.Errorf("unknown vcs kind %q", vcsKind)
	}
}

// ImportBranches creates the repository for pkg on first use, then
// force-pushes every (target, source) pair. An empty branch list is a
// no-op (rule ii). Mixing families for the same package is fatal (rule
// iii), and a push referencing an unknown revision fails with
// codes.MirrorFailure carrying the offending branch name (rule iv).
func (s *LocalDirStore) ImportBranches(ctx context.Context, pkg string, vcsKind Kind, mainBranchURL string, branches []ColocatedBranch) error {
	if len(branches) == 0 {
		return nil
	}
	if err := s.recordVCS(pkg, vcsKind); err != nil {
		return err
	}

	switch vcsKind {
	case Git:
		return s.importGit(ctx, pkg, branches)
	case Bzr:
		return s.importBzr(ctx, pkg, mainBranchURL, branches)
	default:
		return fmt.Errorf("unknown vcs kind %q", vcsKind)
	}
}

func (s *LocalDirStore) importGit(ctx context.Context, pkg string, branches []ColocatedBranch) error {
	path := s.gitPath(pkg)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating git store dir for %s: %w", pkg, err)
		}
		if _, err := runGit(ctx, "", "init", "--bare", path); err != nil {
			return fmt.Errorf("initializing bare git repo for %s: %w", pkg, err)
		}
	}

	for _, b := range branches {
		refspec := b.SourceRevision + ":refs/heads/" + b.TargetName
		if _, err := runGit(ctx, b.SourcePath, "push", "--force", path, refspec); err != nil {
			return codes.Wrap(codes.MirrorFailure, b.TargetName, err)
		}
	}
	return nil
}

func (s *LocalDirStore) importBzr(ctx context.Context, pkg, mainBranchURL string, branches []ColocatedBranch) error {
	base := s.bzrPath(pkg)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("creating bzr store dir for %s: %w", pkg, err)
	}

	for _, b := range branches {
		target := filepath.Join(base, b.TargetName)
		if _, err := os.Stat(target); os.IsNotExist(err) {
			if b.TargetName != "master" && mainBranchURL != "" {
				stackedArgs := []string{"branch", "--stacked", "--stacked-on=" + mainBranchURL, b.SourcePath, target}
				if _, err := runCmd(ctx, "", "bzr", stackedArgs...); err == nil {
					continue
				}
				// Incompatible stacking is silently skipped (spec.md §4.1).
			}
			if _, err := runCmd(ctx, "", "bzr", "branch", b.SourcePath, target); err != nil {
				return codes.Wrap(codes.MirrorFailure, b.TargetName, err)
			}
			continue
		}
		if _, err := runCmd(ctx, target, "bzr", "pull", "--overwrite", b.SourcePath); err != nil {
			return codes.Wrap(codes.MirrorFailure, b.TargetName, err)
		}
	}
	return nil
}

// PushDirect force-pushes the given branch straight from local storage to
// targetURL via raw VCS plumbing, with no Hoster API involved.
func (s *LocalDirStore) PushDirect(ctx context.Context, pkg string, vcsKind Kind, branchName, targetURL string) error {
	switch vcsKind {
	case Git:
		path := s.gitPath(pkg)
		if _, err := runGit(ctx, path, "push", "--force", targetURL, "refs/heads/"+branchName); err != nil {
			return codes.Wrap(codes.MirrorFailure, branchName, err)
		}
		return nil
	case Bzr:
		path := filepath.Join(s.bzrPath(pkg), branchName)
		if _, err := runCmd(ctx, path, "bzr", "push", "--overwrite", targetURL); err != nil {
			return codes.Wrap(codes.MirrorFailure, branchName, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown vcs kind %q", vcsKind)
	}
}

func (s *LocalDirStore) MainBranchTip(ctx context.Context, url string, vcsKind Kind) (string, error) {
	return RemoteTip(ctx, url, vcsKind)
}

// VCSType probes mainBranchURL to discover which VCS family serves it,
// rather than trusting a declared value (spec.md §4.1).
func (s *LocalDirStore) VCSType(ctx context.Context, mainBranchURL string) (Kind, bool) {
	if _, err := runGit(ctx, "", "ls-remote", mainBranchURL); err == nil {
		return Git, true
	}
	if _, err := runCmd(ctx, "", "bzr", "info", mainBranchURL); err == nil {
		return Bzr, true
	}
	return "", false
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	return runCmd(ctx, dir, "git", args...)
}

func runCmd(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), vcs.NewRemoteError("command failed", err, string(out))
	}
	return string(out), nil
}
