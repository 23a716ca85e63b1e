package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/havenchat/warden/classifier"
	"github.com/havenchat/warden/countstore"
	"github.com/havenchat/warden/models"
)

const crisisCacheName = "crisis-sent"

// persistEffects applies the durability-critical writes: the queue item, the
// automated report, and the decision audit record. These are awaited because
// losing them would mean an unsafe message leaves no trace; any failure
// propagates and the caller compensates the idempotency admission.
func (eng *Engine) persistEffects(ctx context.Context, evt *MessageEvent, verdict classifier.ScanResult, eff *Effects) error {
	if eff.QueueSeverity == nil {
		return nil
	}

	item, err := eng.Queue.CreateQueueItem(ctx, evt, eff.ReasonTags, *eff.QueueSeverity)
	if err != nil {
		return fmt.Errorf("creating queue item: %w", err)
	}

	if eff.FileReport {
		report := &models.Report{
			QueueItemID: &item.ID,
			TargetType:  models.TargetMessage,
			TargetID:    evt.Message.ID,
			ReporterID:  eng.ActorID,
			Reason:      summarizeMatches(verdict),
			Status:      models.ReportStatusUnderReview,
		}
		if err := eng.Queue.CreateReport(ctx, report); err != nil {
			return fmt.Errorf("creating automated report: %w", err)
		}
	}

	if eff.AuditAction != "" {
		meta := map[string]any{
			"severity":      verdict.Severity.String(),
			"score":         verdict.Score,
			"queue_item_id": item.ID,
			"channel":       evt.Message.CID,
			"author":        evt.Message.User.ID,
		}
		if err := eng.Queue.AppendAudit(ctx, eff.AuditAction, models.TargetMessage, evt.Message.ID, eng.ActorID, meta); err != nil {
			return fmt.Errorf("appending audit record: %w", err)
		}
	}
	return nil
}

// launchAsyncEffects hands the best-effort provider calls and notifications
// to the async runner. Their failures are logged by the runner, never
// surfaced to the provider acknowledgment: the review artifacts already
// persisted must survive even if every one of these calls fails.
func (eng *Engine) launchAsyncEffects(evt *MessageEvent, eff *Effects) {
	msgID := evt.Message.ID
	authorID := evt.Message.User.ID

	if eff.DeleteMessage {
		if err := eng.Counters.IncrementPeriod(context.Background(), takedownCounterName, "global", countstore.PeriodDay); err != nil {
			eng.Logger.Error("incrementing takedown counter", "err", err)
		}
		eng.Async.Submit("provider-delete", func(ctx context.Context) error {
			return eng.Provider.DeleteMessage(ctx, msgID, true)
		})
	}
	if eff.FlagMessage {
		reason := strings.Join(eff.ReasonTags, ", ")
		eng.Async.Submit("provider-flag", func(ctx context.Context) error {
			return eng.Provider.FlagMessage(ctx, msgID, eng.ActorID, reason)
		})
	}
	if eff.NotifyModerators && eng.Notifier != nil {
		text := fmt.Sprintf("⚠️ high-severity message removed ⚠️\nmessage `%s` in `%s` by `%s` (matched: %s)",
			msgID, evt.Message.CID, authorID, strings.Join(eff.ReasonTags, ", "))
		eng.Async.Submit("notify-moderators", func(ctx context.Context) error {
			return eng.Notifier.NotifyModerators(ctx, text)
		})
	}
	if eff.SendCrisisResources && len(eng.CrisisResources) > 0 {
		eng.Async.Submit("crisis-resources", func(ctx context.Context) error {
			return eng.sendCrisisResourcesOnce(ctx, authorID)
		})
	}
}

// sendCrisisResourcesOnce delivers support resources to a user at most once
// per cache TTL window, so repeated triggers don't spam the author.
func (eng *Engine) sendCrisisResourcesOnce(ctx context.Context, userID string) error {
	if eng.Cache != nil {
		sent, err := eng.Cache.Get(ctx, crisisCacheName, userID)
		if err != nil {
			eng.Logger.Error("crisis dedupe lookup failed", "err", err)
		} else if sent != "" {
			return nil
		}
	}
	if err := eng.Provider.SendCrisisResources(ctx, userID, eng.CrisisResources); err != nil {
		return err
	}
	if eng.Cache != nil {
		if err := eng.Cache.Set(ctx, crisisCacheName, userID, time.Now().Format(time.RFC3339)); err != nil {
			eng.Logger.Error("crisis dedupe store failed", "err", err)
		}
	}
	return nil
}

// updateRoomMetrics maintains the containing room's last-activity timestamp,
// per-day message counter, and flagged counter. Failures here are logged
// only; room bookkeeping never blocks the acknowledgment.
func (eng *Engine) updateRoomMetrics(ctx context.Context, evt *MessageEvent, eff *Effects) {
	cid := evt.Message.CID
	if err := eng.Rooms.TouchActivity(ctx, cid, time.Now()); err != nil {
		eng.Logger.Error("updating room activity", "err", err, "channel", cid)
	}
	if err := eng.Counters.IncrementPeriod(ctx, "room-messages", cid, countstore.PeriodDay); err != nil {
		eng.Logger.Error("incrementing room message counter", "err", err, "channel", cid)
	}
	if eff.IncrementRoomFlagged {
		if err := eng.Rooms.IncrementFlagged(ctx, cid); err != nil {
			eng.Logger.Error("incrementing room flagged counter", "err", err, "channel", cid)
		}
	}
}
