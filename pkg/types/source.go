package types

import "time"

// Twin is a tenant-scoped knowledge instance and the unit of namespace isolation.
type Twin struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"` // resolved by the specialization registry
	CreatedAt      time.Time `json:"created_at"`
}

// Source is one ingested unit of content.
type Source struct {
	ID          string            `json:"id"`
	TwinID      string            `json:"twin_id"`
	Kind        SourceKind        `json:"kind"`
	Title       string            `json:"title"`
	Label       SourceLabel       `json:"label"`
	Status      SourceStatus      `json:"status"`
	Staging     StagingStatus     `json:"staging,omitempty"`
	Health      HealthStatus      `json:"health"`
	ChunkCount  int               `json:"chunk_count"`
	Content     string            `json:"content,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Error       string            `json:"error,omitempty"` // last pipeline error, visible to the owner

	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsRetrievable reports whether chunks of the source may appear in results.
func (s *Source) IsRetrievable() bool {
	return s.Status == SourceStatusLive && s.DeactivatedAt == nil
}

// Chunk is an immutable, ordered text segment of a source.
type Chunk struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TwinID    string    `json:"twin_id"`
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	VectorRef string    `json:"vector_ref,omitempty"` // empty until the chunk is indexed
	CreatedAt time.Time `json:"created_at"`
}

// Citation is one retrieved chunk with its provenance and score.
type Citation struct {
	ChunkID  string  `json:"chunk_id"`
	SourceID string  `json:"source_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// TrainingJob is a unit of deferred work tied to a source.
type TrainingJob struct {
	ID         string    `json:"id"`
	TwinID     string    `json:"twin_id"`
	SourceID   string    `json:"source_id,omitempty"`
	Type       JobType   `json:"type"`
	Status     JobStatus `json:"status"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
	ErrorClass string    `json:"error_class,omitempty"`
	Payload    string    `json:"payload,omitempty"` // JSON, shape depends on Type

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PublishAllowlist is the owner-curated set of sources and topics that may be
// exposed to public callers.
type PublishAllowlist struct {
	TwinID    string   `json:"twin_id"`
	SourceIDs []string `json:"source_ids"`
	Topics    []string `json:"topics"`
}

// Contains reports whether sourceID is published. Matching is by exact identifier.
func (a *PublishAllowlist) Contains(sourceID string) bool {
	if a == nil {
		return false
	}
	for _, id := range a.SourceIDs {
		if id == sourceID {
			return true
		}
	}
	return false
}

// ShareToken grants public retrieval access to one twin.
type ShareToken struct {
	Token     string     `json:"token"`
	TwinID    string     `json:"twin_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Valid reports whether the token can be used at time now.
func (t *ShareToken) Valid(now time.Time) bool {
	if t == nil || t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// VerificationRun records one batch of test queries executed against retrieval.
type VerificationRun struct {
	ID           string    `json:"id"`
	TwinID       string    `json:"twin_id"`
	Queries      []string  `json:"queries"`
	CitedQueries int       `json:"cited_queries"` // queries that returned at least one citation
	Passed       bool      `json:"passed"`
	RanAt        time.Time `json:"ran_at"`
}
