// Package codes carries the stable error-kind taxonomy of spec.md §7. These
// strings are stored verbatim in Run/Publication rows, so they must never be
// renamed once shipped.
package codes

import "strconv"

// Branch-open codes.
const (
	BranchUnavailable   = "branch-unavailable"
	BranchMissing       = "branch-missing"
	TooManyRequests     = "too-many-requests"
	HostedOnAlioth      = "hosted-on-alioth"
	Unauthorized401     = "401-unauthorized"
	BadGateway502       = "502-bad-gateway"
	UnsupportedVCSSvn   = "unsupported-vcs-svn"
	UnsupportedVCSHg    = "unsupported-vcs-hg"
	UnsupportedVCSDarcs = "unsupported-vcs-darcs"
	UnsupportedVCSCvs   = "unsupported-vcs-cvs"
	UnsupportedProtocol = "unsupported-vcs-protocol"
	UnsupportedVCS      = "unsupported-vcs-vcs"
)

// Clone codes.
const (
	WorkerCloneIncompleteRead     = "worker-clone-incomplete-read"
	WorkerCloneMalformedTransform = "worker-clone-malformed-transform"
	WorkerCloneBadGateway         = "worker-clone-bad-gateway"
	RequiresNestedTreeSupport     = "requires-nested-tree-support"
)

// WorkerCloneHTTP builds the worker-clone-http-{code} family.
func WorkerCloneHTTP(status int) string {
	return "worker-clone-http-" + strconv.Itoa(status)
}

// Recipe codes.
const (
	NothingToDo        = "nothing-to-do"
	NothingNewToDo      = "nothing-new-to-do"
	ResultFileFormat    = "result-file-format"
	MissingChangelog    = "missing-changelog"
	CommandFailed       = "command-failed"
	ConfigError         = "config-error"
)

// Build codes.
const (
	NotDebianPackage          = "not-debian-package"
	BuildMissingUpstreamSource = "build-missing-upstream-source"
	BuildMissingChanges        = "build-missing-changes"
	BuildFailed                = "build-failed"
	SessionSetupFailure        = "session-setup-failure"
	NoBuildToolsFound          = "no-build-tools-found"
	MemoryError                = "memory-error"
)

// BuildFailedStage builds the build-failed-stage-{stage} family.
func BuildFailedStage(stage string) string {
	return "build-failed-stage-" + stage
}

// StageKind builds the {stage}-{kind} family for a DetailedDebianBuildFailure
// whose error carries a known, non-global stage.
func StageKind(stage, kind string) string {
	return stage + "-" + kind
}

// Publication codes.
const (
	ResultBranchNotFound = "result-branch-not-found"
	HosterUnsupported    = "hoster-unsupported"
	ProjectNotFound      = "project-not-found"
	PermissionDenied     = "permission-denied"
	MergeProposalExists  = "merge-proposal-exists"
	RateLimited          = "rate-limited"
)

// Push-back codes.
const (
	MirrorFailure                         = "mirror-failure"
	ResultPushFailed                      = "result-push-failed"
	ResultPushBadGateway                   = "result-push-bad-gateway"
	ResultPushGitMissingNecessaryObjects   = "result-push-git-missing-necessary-objects"
	ResultPushGitRefUpdateFailed           = "result-push-git-ref-update-failed"
	ResultPushGitError                     = "result-push-git-error"
)

// Worker codes.
const (
	WorkerResumeBranchUnavailable = "worker-resume-branch-unavailable"
	WorkerResumeBranchMissing     = "worker-resume-branch-missing"
	WorkerFailure                 = "worker-failure"
	TargetUnsupported             = "target-unsupported"
	NoSpaceOnDevice               = "no-space-on-device"
	Aborted                       = "aborted"
)

// Error is a coded terminal result: a stable string identifier plus an
// optional human description, optional follow-up actions and an optional
// wrapped cause. It implements error and Unwrap so %w chains still work.
type Error struct {
	Code            string
	Description     string
	FollowupActions []string
	Cause           error
}

func (e *Error) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a coded error with no wrapped cause.
func New(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Wrap builds a coded error wrapping cause.
func Wrap(code, description string, cause error) *Error {
	return &Error{Code: code, Description: description, Cause: cause}
}
