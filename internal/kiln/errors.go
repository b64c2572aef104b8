package kiln

import (
	"errors"
	"fmt"
)

// Sentinels for the failure kinds of a run. Every typed error below matches its
// sentinel through errors.Is.
var (
	ErrPrefixCollision    = errors.New("prefix collision")
	ErrStagedBuildFailed  = errors.New("staged build failed")
	ErrPatchFailed        = errors.New("patch failed")
	ErrPrimaryBuildFailed = errors.New("primary build failed")
	ErrLinkTargetExists   = errors.New("link target exists")
	ErrDependencyMissing  = errors.New("dependency missing")
	ErrDuplicateDefine    = errors.New("duplicate define")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
)

// PrefixCollisionError reports an isolated prefix that is already populated,
// already claimed by this run or outside the run's work directory.
type PrefixCollisionError struct {
	Prefix string
	Reason string
}

func (e *PrefixCollisionError) Error() string {
	return fmt.Sprintf("prefix collision at %s: %s", e.Prefix, e.Reason)
}

func (e *PrefixCollisionError) Is(target error) bool { return target == ErrPrefixCollision }

// StagedBuildError names the staged dependency and the step that failed.
type StagedBuildError struct {
	Dependency string
	Step       string
	Err        error
}

func (e *StagedBuildError) Error() string {
	return fmt.Sprintf("staged dependency %s: %s step failed: %v", e.Dependency, e.Step, e.Err)
}

func (e *StagedBuildError) Is(target error) bool { return target == ErrStagedBuildFailed }

func (e *StagedBuildError) Unwrap() error { return e.Err }

// PatchError is returned when a configuration file cannot be read, patched or written back.
type PatchError struct {
	Path string
	Err  error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patching %s: %v", e.Path, e.Err)
}

func (e *PatchError) Is(target error) bool { return target == ErrPatchFailed }

func (e *PatchError) Unwrap() error { return e.Err }

// PrimaryBuildError carries the phase ("generate" or "build") of the primary build that failed.
type PrimaryBuildError struct {
	Phase string
	Err   error
}

func (e *PrimaryBuildError) Error() string {
	return fmt.Sprintf("primary build %s phase failed: %v", e.Phase, e.Err)
}

func (e *PrimaryBuildError) Is(target error) bool { return target == ErrPrimaryBuildFailed }

func (e *PrimaryBuildError) Unwrap() error { return e.Err }

// LinkTargetExistsError is returned when a post-install link destination holds unrelated content.
type LinkTargetExistsError struct {
	Path string
}

func (e *LinkTargetExistsError) Error() string {
	return fmt.Sprintf("link destination %s already exists", e.Path)
}

func (e *LinkTargetExistsError) Is(target error) bool { return target == ErrLinkTargetExists }
