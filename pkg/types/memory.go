package types

import "time"

// MinMemoryConfidence is the lowest confidence an extracted owner belief may
// carry and still be persisted. Candidates below it are discarded and counted.
const MinMemoryConfidence = 0.6

// MemoryRecord is a stored belief about the twin owner. Records are created
// only by the extract-then-finalize flow or an explicit owner action, and they
// never enter retrieval.
type MemoryRecord struct {
	ID         string       `json:"id"`
	TwinID     string       `json:"twin_id"`
	Type       MemoryType   `json:"type"`
	Content    string       `json:"content"`
	Confidence float64      `json:"confidence"`
	SourceType string       `json:"source_type"`          // e.g. "interview", "feedback"
	SessionID  string       `json:"session_id,omitempty"` // interview session that produced it
	Status     MemoryStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// MemoryCandidate is an extracted, not yet finalized belief.
type MemoryCandidate struct {
	Type       MemoryType `json:"type"`
	Content    string     `json:"content"`
	Confidence float64    `json:"confidence"`
}

// Turn is one utterance of an interview transcript.
type Turn struct {
	Role string `json:"role"` // "user" for the owner, anything else for the interviewer
	Text string `json:"text"`
}
