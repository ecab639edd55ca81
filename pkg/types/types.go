// Package types defines the core data structures for twinrag: sources and
// their chunks, training jobs, concept graph elements, owner memory records
// and the publish allowlist that governs public retrieval.
//
// Every lifecycle field is a closed enumeration. Parse functions reject
// unknown values and transition checks live in state.go.
package types

import "fmt"

// SourceStatus is the ingestion status of a source.
type SourceStatus string

const (
	// SourceStatusPending indicates the source was created and awaits extraction.
	SourceStatusPending SourceStatus = "pending"

	// SourceStatusProcessing indicates extraction, chunking or indexing is running.
	SourceStatusProcessing SourceStatus = "processing"

	// SourceStatusLive indicates every chunk is indexed and the source is retrievable.
	SourceStatusLive SourceStatus = "live"

	// SourceStatusFailed indicates the pipeline failed; Source.Error holds the reason.
	SourceStatusFailed SourceStatus = "failed"
)

// StagingStatus is the owner review state of a live source.
type StagingStatus string

const (
	// StagingNone is the state before the source first goes live.
	StagingNone StagingStatus = ""

	// StagingProcessing indicates the source awaits owner review.
	StagingProcessing StagingStatus = "processing"

	// StagingApproved indicates the owner approved the source.
	StagingApproved StagingStatus = "approved"

	// StagingRejected indicates the owner rejected the source.
	StagingRejected StagingStatus = "rejected"
)

// HealthStatus tracks whether a concept graph was extracted for a source.
type HealthStatus string

const (
	HealthRaw       HealthStatus = "raw"
	HealthExtracted HealthStatus = "extracted"
)

// SourceLabel classifies what a source describes.
type SourceLabel string

const (
	LabelIdentity  SourceLabel = "identity"
	LabelKnowledge SourceLabel = "knowledge"
	LabelPolicy    SourceLabel = "policy"
)

// SourceKind is the shape of the raw input.
type SourceKind string

const (
	SourceKindFile       SourceKind = "file"
	SourceKindURL        SourceKind = "url"
	SourceKindTranscript SourceKind = "transcript"
)

// JobType selects the handler that processes a training job.
type JobType string

const (
	JobTypeIndexing         JobType = "indexing"
	JobTypeGraphExtraction  JobType = "graph_extraction"
	JobTypeFeedbackLearning JobType = "feedback_learning"
	JobTypeHealthCheck      JobType = "health_check"
)

// AllJobTypes lists every job type. Handler registries must cover all of them.
var AllJobTypes = []JobType{
	JobTypeIndexing,
	JobTypeGraphExtraction,
	JobTypeFeedbackLearning,
	JobTypeHealthCheck,
}

// JobStatus is the processing status of a training job.
type JobStatus string

const (
	// JobStatusQueued indicates the job waits to be claimed by a drain.
	JobStatusQueued JobStatus = "queued"

	// JobStatusProcessing indicates a drain claimed the job and is running it.
	JobStatusProcessing JobStatus = "processing"

	// JobStatusComplete is terminal; re-running a complete job is a no-op.
	JobStatusComplete JobStatus = "complete"

	// JobStatusFailed indicates a failure that may be retried.
	JobStatusFailed JobStatus = "failed"

	// JobStatusNeedsAttention indicates the retry budget is exhausted or the
	// job got stuck. Only an explicit retry moves it back to queued.
	JobStatusNeedsAttention JobStatus = "needs_attention"
)

// MemoryType classifies an owner belief.
type MemoryType string

const (
	MemoryTypeGoal       MemoryType = "goal"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeConstraint MemoryType = "constraint"
	MemoryTypeBoundary   MemoryType = "boundary"
	MemoryTypeIntent     MemoryType = "intent"
)

// MemoryStatus is the review state of an owner belief.
type MemoryStatus string

const (
	MemoryStatusProposed  MemoryStatus = "proposed"
	MemoryStatusConfirmed MemoryStatus = "confirmed"
	MemoryStatusRejected  MemoryStatus = "rejected"
)

// TrustLevel is the caller's trust regime for retrieval.
type TrustLevel string

const (
	TrustOwner  TrustLevel = "owner"
	TrustPublic TrustLevel = "public"
)

// ParseSourceStatus validates a stored or user-supplied source status.
func ParseSourceStatus(s string) (SourceStatus, error) {
	switch v := SourceStatus(s); v {
	case SourceStatusPending, SourceStatusProcessing, SourceStatusLive, SourceStatusFailed:
		return v, nil
	}
	return "", fmt.Errorf("unknown source status %q", s)
}

// ParseStagingStatus validates a staging status. The empty string is valid.
func ParseStagingStatus(s string) (StagingStatus, error) {
	switch v := StagingStatus(s); v {
	case StagingNone, StagingProcessing, StagingApproved, StagingRejected:
		return v, nil
	}
	return "", fmt.Errorf("unknown staging status %q", s)
}

// ParseHealthStatus validates a health status.
func ParseHealthStatus(s string) (HealthStatus, error) {
	switch v := HealthStatus(s); v {
	case HealthRaw, HealthExtracted:
		return v, nil
	}
	return "", fmt.Errorf("unknown health status %q", s)
}

// ParseSourceLabel validates a source label.
func ParseSourceLabel(s string) (SourceLabel, error) {
	switch v := SourceLabel(s); v {
	case LabelIdentity, LabelKnowledge, LabelPolicy:
		return v, nil
	}
	return "", fmt.Errorf("unknown source label %q", s)
}

// ParseSourceKind validates a source kind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch v := SourceKind(s); v {
	case SourceKindFile, SourceKindURL, SourceKindTranscript:
		return v, nil
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// ParseJobType validates a job type.
func ParseJobType(s string) (JobType, error) {
	switch v := JobType(s); v {
	case JobTypeIndexing, JobTypeGraphExtraction, JobTypeFeedbackLearning, JobTypeHealthCheck:
		return v, nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// ParseJobStatus validates a job status.
func ParseJobStatus(s string) (JobStatus, error) {
	switch v := JobStatus(s); v {
	case JobStatusQueued, JobStatusProcessing, JobStatusComplete, JobStatusFailed, JobStatusNeedsAttention:
		return v, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// ParseMemoryType validates a memory type.
func ParseMemoryType(s string) (MemoryType, error) {
	switch v := MemoryType(s); v {
	case MemoryTypeGoal, MemoryTypePreference, MemoryTypeConstraint, MemoryTypeBoundary, MemoryTypeIntent:
		return v, nil
	}
	return "", fmt.Errorf("unknown memory type %q", s)
}

// ParseMemoryStatus validates a memory status.
func ParseMemoryStatus(s string) (MemoryStatus, error) {
	switch v := MemoryStatus(s); v {
	case MemoryStatusProposed, MemoryStatusConfirmed, MemoryStatusRejected:
		return v, nil
	}
	return "", fmt.Errorf("unknown memory status %q", s)
}
