// Package engine runs deferred training jobs. Jobs are persisted rows; a
// drain claims queued jobs of one twin with a compare-and-swap and runs them
// on a bounded worker pool. A Scheduler drives drains, retries and stuck-job
// reaping on an interval, and manual drains share the same Queue.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/twinrag/pkg/types"
)

// Handler processes one claimed job. A nil error completes the job; any other
// error is classified with failure.ClassOf and recorded on the job.
type Handler func(ctx context.Context, job *types.TrainingJob) error

// Handlers maps every job type to its handler.
type Handlers map[types.JobType]Handler

// Config holds configuration for the job queue and scheduler.
type Config struct {
	// Workers is the size of the drain worker pool (default: 4).
	Workers int

	// BatchSize is the maximum number of jobs claimed by one drain (default: 20).
	BatchSize int

	// MaxRetries is the retry budget; a job failing with RetryCount >= MaxRetries
	// needs attention instead of failing (default: 3).
	MaxRetries int

	// BaseBackoff scales the automatic retry delay of transient failures:
	// attempt^2 * BaseBackoff (default: 5s).
	BaseBackoff time.Duration

	// JobTimeout bounds a single handler call (default: 5m).
	JobTimeout time.Duration

	// StuckAfter is how long a job may stay processing before it is reaped (default: 30m).
	StuckAfter time.Duration

	// TickInterval is the scheduler period (default: 30s).
	TickInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		BatchSize:    20,
		MaxRetries:   3,
		BaseBackoff:  5 * time.Second,
		JobTimeout:   5 * time.Minute,
		StuckAfter:   30 * time.Minute,
		TickInterval: 30 * time.Second,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("Workers must be >= 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BatchSize must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.BaseBackoff < 0 {
		return fmt.Errorf("BaseBackoff must be >= 0, got %v", c.BaseBackoff)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("JobTimeout must be > 0, got %v", c.JobTimeout)
	}
	if c.StuckAfter <= c.JobTimeout {
		return fmt.Errorf("StuckAfter (%v) must exceed JobTimeout (%v)", c.StuckAfter, c.JobTimeout)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TickInterval must be > 0, got %v", c.TickInterval)
	}
	return nil
}

// DrainResult summarizes one drain of a twin's queue.
type DrainResult struct {
	TwinID    string `json:"twin_id"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
	Message   string `json:"message"`
}

// FeedbackPayload is the payload of a feedback_learning job.
type FeedbackPayload struct {
	SessionID string       `json:"session_id"`
	Turns     []types.Turn `json:"turns"`
}
