package engine

// Effects is the mutable container for all side effects a verdict dispatch
// can produce. Effects are collected during dispatch and applied afterwards:
// durable bookkeeping synchronously, provider calls and notifications on the
// async runner.
type Effects struct {
	// QueueSeverity, when non-nil, creates a review queue item with that
	// severity score.
	QueueSeverity *int
	// ReasonTags label the queue item with the matched terms.
	ReasonTags []string
	// FileReport writes an automated under-review report referencing the
	// queue item.
	FileReport bool
	// DeleteMessage issues a hard delete of the message to the provider.
	DeleteMessage bool
	// FlagMessage issues a soft flag of the message to the provider.
	FlagMessage bool
	// NotifyModerators pings the moderator notification sink.
	NotifyModerators bool
	// SendCrisisResources pushes support resources to the message author.
	SendCrisisResources bool
	// IncrementRoomFlagged bumps the containing room's flagged counter.
	IncrementRoomFlagged bool
	// AuditAction, when set, appends one decision audit record.
	AuditAction string
}

func (e *Effects) EnqueueForReview(severity int, reasonTags []string) {
	e.QueueSeverity = &severity
	e.ReasonTags = reasonTags
}
