package models

import "time"

// IssueStatus represents the state of an issue.
type IssueStatus string

const (
	IssueStatusOpen     IssueStatus = "open"
	IssueStatusActive   IssueStatus = "active"
	IssueStatusDone     IssueStatus = "done"
	IssueStatusArchived IssueStatus = "archived"
)

// ValidStatus reports whether s is one of the known issue statuses.
func ValidStatus(s IssueStatus) bool {
	switch s {
	case IssueStatusOpen, IssueStatusActive, IssueStatusDone, IssueStatusArchived:
		return true
	}
	return false
}

// IssueType represents the kind of work an issue tracks.
type IssueType string

const (
	IssueTypeBug     IssueType = "bug"
	IssueTypeFeature IssueType = "feature"
	IssueTypeTask    IssueType = "task"
)

// ValidType reports whether t is one of the known issue types.
func ValidType(t IssueType) bool {
	switch t {
	case IssueTypeBug, IssueTypeFeature, IssueTypeTask:
		return true
	}
	return false
}

// Priority bounds. 1 is critical, 5 is negligible.
const (
	PriorityCritical   = 1
	PriorityNegligible = 5
	PriorityDefault    = 3
)

// Role identifies who authored a thread message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Issue is a tracked work item. Structured fields (title, type, status,
// priority, labels, summary) are derived from the issue's thread by
// extraction and only ever replaced wholesale, never patched.
type Issue struct {
	ID            string
	Title         string
	Type          IssueType
	Status        IssueStatus
	Priority      int
	Labels        []string
	Summary       string
	HasEmbedding  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageBy Role // role of the most recent thread message, "" when no thread
}

// ThreadMessage is one entry in an issue's append-only conversation log.
// Messages are never edited or deleted; thread order is by timestamp.
type ThreadMessage struct {
	ID        int64
	IssueID   string
	Timestamp time.Time
	Role      Role
	Content   string
}

// ThreadStats summarizes a thread's size. Always computed, never stored.
type ThreadStats struct {
	MessageCount int
	TotalChars   int
}

// IssueFields is the output of field extraction over a thread. All six
// fields are always present together; persistence replaces the stored
// fields as a unit.
type IssueFields struct {
	Title    string      `json:"title"`
	Type     IssueType   `json:"type"`
	Status   IssueStatus `json:"status"`
	Priority int         `json:"priority"`
	Labels   []string    `json:"labels"`
	Summary  string      `json:"summary"`
}

// QueryFilters is the compound filter accepted by the store's issue query.
// Zero values mean "no constraint".
type QueryFilters struct {
	Statuses        []IssueStatus
	Types           []IssueType
	PriorityMax     int
	LastMessageBy   Role
	Labels          []string // any-match against the issue's label set
	MinMessages     int
	MaxMessages     int
	SearchEmbedding []float32
}

// QueryIssueResult is one row of the compound issue query: the issue,
// its thread stats, a preview of its last message, and an optional
// similarity score when the query carried a search embedding.
type QueryIssueResult struct {
	Issue
	Stats                ThreadStats
	LastMessageRole      Role
	LastMessageContent   string
	LastMessageTimestamp time.Time
	Similarity           float64 // cosine similarity in [0,1]; <0 when not applicable
}
