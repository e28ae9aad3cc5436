package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Segment is one finished screen-recording file produced by the capture
// subsystem. The pipeline only ever flips Analyzed, bumps the failure
// counter, and back-fills ActivityID.
type Segment struct {
	ID               string
	Path             string
	StartedAt        time.Time
	EndedAt          time.Time // zero when the recording is still open
	Analyzed         bool
	AnalysisFailures int
	ActivityID       string // empty until claimed by an activity session
}

// Analysis is the structured AI interpretation of one segment.
// Immutable after insert.
type Analysis struct {
	ID              string
	SegmentID       string
	App             string
	Category        string
	Description     string
	Tags            string // JSON array stored as text
	Productivity    float64
	Focus           string
	Summary         string
	ProjectHint     string
	Accomplishments string // JSON array stored as text
	Continuation    bool
	CreatedAt       time.Time
}

// Activity is a contiguous block of semantically coherent work built
// from one or more analyzed segments.
type Activity struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	App       string
	Category  string
	Title     string
	Tags      string // JSON array stored as text
	ProjectID string
	CreatedAt time.Time
}

// Project is a recognized recurring body of work.
type Project struct {
	ID        string
	Name      string
	Signature string // JSON array of lowercase tokens
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Habit kinds.
const (
	HabitTime     = "time"
	HabitTrigger  = "trigger"
	HabitSequence = "sequence"
)

// Habit is a mined recurring behavioral pattern. Matched across detector
// runs by (Kind, Signature).
type Habit struct {
	ID         string
	Kind       string
	Signature  string
	Payload    string // JSON object stored as text
	Confidence float64
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Summary periods.
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// Summary is a narrative roll-up of one period. Unique per (Period, DateKey).
type Summary struct {
	ID                string
	Period            string
	DateKey           string
	Content           string
	SourceActivityIDs string // JSON array stored as text
	GeneratedAt       time.Time
}

// SearchFile tracks the last indexed content hash of one notes file.
type SearchFile struct {
	Path      string
	Hash      string
	IndexedAt time.Time
}

// SearchChunk is one indexed block of narrative text.
type SearchChunk struct {
	ID        string
	Path      string
	Seq       int
	StartLine int
	EndLine   int
	Content   string
	Embedding []byte // little-endian float32 blob; nil when not embedded
	CreatedAt time.Time
}
