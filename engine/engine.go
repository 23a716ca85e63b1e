// Package engine is the moderation pipeline's orchestration core: it admits
// inbound message events exactly once, classifies their text, and dispatches
// severity-driven actions to the review queue, the chat provider, and the
// audit trail.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/havenchat/warden/cachestore"
	"github.com/havenchat/warden/classifier"
	"github.com/havenchat/warden/countstore"
	"github.com/havenchat/warden/idempotency"
	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/modqueue"
	"github.com/havenchat/warden/provider"
)

// DefaultTakedownDailyQuota caps automated hard deletes per day, for all
// messages combined (circuit breaker). Past the cap, deletes downgrade to
// provider flags so a misfiring rule cannot mass-delete a room.
var DefaultTakedownDailyQuota = 200

const takedownCounterName = "automod-takedown"

// Engine executes the per-event severity state machine. All collaborators
// are injected; there is no hidden process-wide state, and fakes substitute
// for the provider and stores in tests.
//
// Several fields must not be nil: Classifier, Guard, Queue, Rooms, Provider,
// Counters, Async.
type Engine struct {
	Logger     *slog.Logger
	Classifier *classifier.Classifier
	Guard      idempotency.Guard
	Queue      *modqueue.Store
	Rooms      RoomStore
	Provider   provider.Client
	Notifier   Notifier
	Counters   countstore.CountStore
	Cache      cachestore.CacheStore
	Async      *AsyncRunner

	// ActorID identifies automated actions in reports and audit records.
	ActorID string
	// CrisisResources are pushed to authors of HIGH-severity messages.
	CrisisResources []string
	// TakedownDailyQuota overrides DefaultTakedownDailyQuota when > 0.
	TakedownDailyQuota int
}

// ProcessMessageEvent runs one authenticated inbound event through
// admission, classification, and action dispatch. Returns an error only when
// a durability-critical write failed; in that case the tentative idempotency
// admission has been abandoned so provider redelivery re-processes the
// event.
func (eng *Engine) ProcessMessageEvent(ctx context.Context, evt *MessageEvent) error {
	// similar to an HTTP server, we want to recover any panics from dispatch
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("moderation event execution exception", "err", r, "messageID", evt.Message.ID)
		}
	}()

	eventsReceived.Inc()
	logger := eng.Logger.With("messageID", evt.Message.ID, "channel", evt.Message.CID)

	id := evt.Message.ID
	if eng.Guard.IsProcessed(ctx, id) {
		// replays must be harmless: silent no-op
		eventsDuplicate.Inc()
		logger.Debug("skipping already-processed message")
		return nil
	}

	// mark-processed before any side-effecting work; this is the at-most-once
	// admission gate under concurrent delivery of the same id
	admitted, err := eng.Guard.Admit(ctx, id)
	if err != nil {
		eventsFailed.Inc()
		return fmt.Errorf("idempotency admission: %w", err)
	}
	if !admitted {
		eventsDuplicate.Inc()
		logger.Debug("lost admission race, skipping")
		return nil
	}

	verdict, err := eng.Classifier.Classify(ctx, evt.Message.Text)
	if err != nil {
		// rule source unavailable with no cached snapshot; the message is
		// treated as clean rather than blocking delivery
		logger.Error("classification unavailable", "err", err)
	}
	messagesClassified.WithLabelValues(verdict.Severity.String()).Inc()
	logger.Info("message classified", "severity", verdict.Severity.String(), "score", verdict.Score, "matches", len(verdict.Matches))

	eff := eng.dispatch(ctx, verdict)

	if err := eng.persistEffects(ctx, evt, verdict, eff); err != nil {
		eventsFailed.Inc()
		// compensate: without this, redelivery would see the admission record
		// and silently skip the lost queue/audit writes
		if aerr := eng.Guard.Abandon(ctx, id); aerr != nil {
			logger.Error("abandoning failed admission", "err", aerr)
		}
		return fmt.Errorf("persisting moderation effects: %w", err)
	}

	eng.launchAsyncEffects(evt, eff)
	eng.updateRoomMetrics(ctx, evt, eff)

	if err := eng.Guard.Commit(ctx, id); err != nil {
		// record stays tentative; the pending sweep reclaims it eventually
		logger.Error("committing admission", "err", err)
	}
	return nil
}

// dispatch maps a verdict onto effects, per the severity action table.
func (eng *Engine) dispatch(ctx context.Context, verdict classifier.ScanResult) *Effects {
	eff := &Effects{}
	tags := reasonTags(verdict)

	switch verdict.Severity {
	case models.SeverityHigh:
		eff.EnqueueForReview(models.SeverityHigh.Score(), tags)
		eff.FileReport = true
		eff.DeleteMessage = true
		eff.NotifyModerators = true
		eff.SendCrisisResources = true
		eff.IncrementRoomFlagged = true
		eff.AuditAction = "message_moderated_high"
		if !eng.allowTakedown(ctx) {
			takedownsBroken.Inc()
			eff.DeleteMessage = false
			eff.FlagMessage = true
		}
	case models.SeverityMedium:
		eff.EnqueueForReview(models.SeverityMedium.Score(), tags)
		eff.FlagMessage = true
		eff.IncrementRoomFlagged = true
		eff.AuditAction = "message_moderated_medium"
	case models.SeverityLow:
		// passive review only: no provider action, no room counters
		eff.EnqueueForReview(models.SeverityLow.Score(), tags)
		eff.AuditAction = "message_moderated_low"
	case models.SeverityNone:
		// no queue item, no provider action, no audit
	}
	return eff
}

// allowTakedown consults the daily takedown quota counter. Counter store
// failure fails open: a broken counter must not stop HIGH-severity removal.
func (eng *Engine) allowTakedown(ctx context.Context) bool {
	quota := eng.TakedownDailyQuota
	if quota <= 0 {
		quota = DefaultTakedownDailyQuota
	}
	count, err := eng.Counters.GetCount(ctx, takedownCounterName, "global", countstore.PeriodDay)
	if err != nil {
		eng.Logger.Error("takedown quota lookup failed", "err", err)
		return true
	}
	return count < quota
}

func reasonTags(verdict classifier.ScanResult) []string {
	seen := make(map[string]bool)
	tags := make([]string, 0, len(verdict.Matches))
	for _, m := range verdict.Matches {
		if seen[m.Term] {
			continue
		}
		seen[m.Term] = true
		tags = append(tags, m.Term)
	}
	return tags
}

func summarizeMatches(verdict classifier.ScanResult) string {
	return strings.Join(reasonTags(verdict), ", ")
}
