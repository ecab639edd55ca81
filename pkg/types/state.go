package types

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a state change is not allowed by the
// state machine of the entity being changed.
var ErrInvalidTransition = errors.New("invalid state transition")

// CanTransitionSource reports whether a source may move from one status to another.
//
// Valid transitions:
//
//	pending    -> processing
//	processing -> live | failed
//	failed     -> processing   (re-extraction with the same source id)
//	live       -> processing   (re-ingestion supersedes the chunk set)
func CanTransitionSource(from, to SourceStatus) bool {
	switch from {
	case SourceStatusPending:
		return to == SourceStatusProcessing
	case SourceStatusProcessing:
		return to == SourceStatusLive || to == SourceStatusFailed
	case SourceStatusFailed:
		return to == SourceStatusProcessing
	case SourceStatusLive:
		return to == SourceStatusProcessing
	}
	return false
}

// CanTransitionStaging reports whether the owner review state may change.
//
//	""         -> processing
//	processing -> approved | rejected
//	approved, rejected: terminal
func CanTransitionStaging(from, to StagingStatus) bool {
	switch from {
	case StagingNone:
		return to == StagingProcessing
	case StagingProcessing:
		return to == StagingApproved || to == StagingRejected
	case StagingApproved, StagingRejected:
		return false
	}
	return false
}

// CanTransitionJob reports whether a training job may move between statuses.
//
//	queued          -> processing
//	processing      -> complete | failed | needs_attention
//	failed          -> queued   (explicit or automatic retry)
//	needs_attention -> queued   (explicit retry only)
//	complete: terminal
func CanTransitionJob(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusComplete || to == JobStatusFailed || to == JobStatusNeedsAttention
	case JobStatusFailed, JobStatusNeedsAttention:
		return to == JobStatusQueued
	case JobStatusComplete:
		return false
	}
	return false
}

// CanTransitionMemory reports whether an owner belief may change review state.
func CanTransitionMemory(from, to MemoryStatus) bool {
	switch from {
	case MemoryStatusProposed:
		return to == MemoryStatusConfirmed || to == MemoryStatusRejected
	case MemoryStatusConfirmed, MemoryStatusRejected:
		return false
	}
	return false
}

// CheckSourceTransition returns ErrInvalidTransition wrapped with context when
// the source transition is not allowed.
func CheckSourceTransition(from, to SourceStatus) error {
	if !CanTransitionSource(from, to) {
		return fmt.Errorf("%w: source %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CheckStagingTransition is the staging counterpart of CheckSourceTransition.
func CheckStagingTransition(from, to StagingStatus) error {
	if !CanTransitionStaging(from, to) {
		return fmt.Errorf("%w: staging %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// CheckJobTransition is the job counterpart of CheckSourceTransition.
func CheckJobTransition(from, to JobStatus) error {
	if !CanTransitionJob(from, to) {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
