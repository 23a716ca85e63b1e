package models

import (
	"time"
)

// Severity is the ordinal risk classification for a message or rule.
// NONE < LOW < MEDIUM < HIGH.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	}
	return "unknown"
}

// Score returns the integer 0..3 value used for aggregation and queue rows.
func (s Severity) Score() int {
	return int(s)
}

func ParseSeverity(raw string) Severity {
	switch raw {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	}
	return SeverityNone
}

// Rule actions, matching the action column on KeywordRule.
const (
	ActionFlag     = "flag"
	ActionHide     = "hide"
	ActionEscalate = "escalate"
	ActionNotify   = "notify"
)

// KeywordRule is one row of the mutable moderation rule set. The registry
// serves a cached snapshot of the enabled subset; this table is the durable
// source of truth.
//
// Term is case-folded before storage and comparison.
type KeywordRule struct {
	ID        uint64 `gorm:"primaryKey"`
	Term      string `gorm:"not null;index:idx_rule_enabled_term"`
	IsPattern bool   `gorm:"not null;default:false"`
	Severity  Severity
	Action    string `gorm:"not null"`
	Enabled   bool   `gorm:"not null;default:true;index:idx_rule_enabled_term"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProcessedEvent records that an externally-identified message has been
// admitted into the pipeline. MessageID is the provider's message id; the
// unique index is the single serialization point for duplicate delivery.
//
// Committed is false while the admission is tentative (critical writes still
// in flight) and flipped true once they land. Rows expire after the retention
// window via a background sweep.
type ProcessedEvent struct {
	ID          uint64 `gorm:"primaryKey"`
	MessageID   string `gorm:"uniqueIndex;not null"`
	Committed   bool   `gorm:"not null;default:false"`
	ProcessedAt time.Time
}

// QueueItem is a unit of work awaiting human moderator review. Immutable once
// Processed is true.
type QueueItem struct {
	ID          uint64 `gorm:"primaryKey"`
	Payload     string `gorm:"not null"` // opaque event snapshot, JSON
	ReasonTags  string `gorm:"not null"` // comma-joined matched terms
	Severity    int    `gorm:"not null;index:idx_queue_severity_created"`
	Processed   bool   `gorm:"not null;default:false;index:idx_queue_processed_created"`
	ProcessedAt *time.Time
	CreatedAt   time.Time `gorm:"index:idx_queue_processed_created;index:idx_queue_severity_created"`
}

// Report statuses.
const (
	ReportStatusOpen        = "open"
	ReportStatusUnderReview = "under_review"
	ReportStatusResolved    = "resolved"
)

// Report target types.
const (
	TargetMessage = "message"
	TargetUser    = "user"
	TargetChannel = "channel"
)

// Report is a moderation report, either filed automatically by the event
// router (HIGH severity) or manually by a user. Resolution flips Status to
// resolved exactly once.
type Report struct {
	ID          uint64  `gorm:"primaryKey"`
	QueueItemID *uint64 `gorm:"index"`
	TargetType  string  `gorm:"not null"`
	TargetID    string  `gorm:"not null;index"`
	ReporterID  string  `gorm:"not null"`
	Reason      string  `gorm:"not null"`
	Status      string  `gorm:"not null;default:open;index"`
	Resolution  *string
	ResolvedAt  *time.Time
	ResolvedBy  *string
	CreatedAt   time.Time
}

// AuditRecord is an append-only entry capturing every automated or manual
// moderation action. Never updated or deleted.
type AuditRecord struct {
	ID         uint64    `gorm:"primaryKey"`
	Action     string    `gorm:"not null;index:idx_audit_action_time"`
	TargetType string    `gorm:"not null"`
	TargetID   string    `gorm:"not null;index"`
	ActorID    string    `gorm:"not null"`
	Meta       string    // JSON details, optional
	CreatedAt  time.Time `gorm:"index:idx_audit_action_time"`
}

// ChatUser mirrors the subset of provider user state the pipeline owns
// locally, primarily ban bookkeeping.
type ChatUser struct {
	ID          uint64 `gorm:"primaryKey"`
	UserID      string `gorm:"uniqueIndex;not null"`
	BannedUntil *time.Time
	BanReason   *string
	BannedBy    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Room mirrors per-channel bookkeeping: the flagged-message counter and
// last-activity timestamp the router maintains.
type Room struct {
	ID           uint64 `gorm:"primaryKey"`
	ChannelID    string `gorm:"uniqueIndex;not null"`
	FlaggedCount int64  `gorm:"not null;default:0"`
	Suspended    bool   `gorm:"not null;default:false"`
	LastActiveAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
