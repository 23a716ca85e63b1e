package modqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/provider"
)

// Resolution actions a moderator can apply. Each report gets exactly one.
const (
	ActionDismiss        = "dismiss"
	ActionRemove         = "remove"
	ActionBanUser        = "ban_user"
	ActionSuspendChannel = "suspend_channel"
)

// permanentBanUntil is the effectively-permanent ban expiry used when no
// timeout is given.
var permanentBanUntil = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// suspendFlagSentinel is added to a room's flagged counter when the channel
// is suspended, so downstream consumers keying off the counter see the jump.
const suspendFlagSentinel = 1000

// ResolutionRequest is a moderator's terminal decision on a report.
type ResolutionRequest struct {
	ReportID          uint64
	Action            string
	Comment           string
	ModeratorID       string
	BanTimeoutMinutes *int // nil means permanent, for ActionBanUser
}

// ActionDetails records what a resolution actually did, including
// provider-side failures, which are reported but never block the local
// durable writes.
type ActionDetails struct {
	Action       string     `json:"action"`
	TargetType   string     `json:"target_type"`
	TargetID     string     `json:"target_id"`
	BannedUserID string     `json:"banned_user_id,omitempty"`
	BanExpiresAt *time.Time `json:"ban_expires_at,omitempty"`
	ProviderOK   bool       `json:"provider_ok"`
	ProviderErr  string     `json:"provider_err,omitempty"`
	Comment      string     `json:"comment,omitempty"`
}

// Resolver applies moderator decisions: exactly one terminal action per
// report, one audit record per resolution.
type Resolver struct {
	Store    *Store
	Provider provider.Client
	Logger   *slog.Logger
}

func NewResolver(store *Store, client provider.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		Store:    store,
		Provider: client,
		Logger:   logger.With("subsystem", "resolver"),
	}
}

// Resolve closes a report with the given action. A report already resolved
// returns ErrAlreadyResolved and changes nothing; the first caller's
// resolution timestamp stands.
//
// The WHERE-guarded status flip claims the resolution before side effects
// run, so concurrent resolutions of the same report cannot both act.
// Fallible prerequisites (the ban author lookup) run before the flip, and a
// failed durable step after the flip reverts it, so a failed resolution
// always leaves the report open and retryable.
func (r *Resolver) Resolve(ctx context.Context, req ResolutionRequest) (*ActionDetails, error) {
	switch req.Action {
	case ActionDismiss, ActionRemove, ActionBanUser, ActionSuspendChannel:
	default:
		return nil, fmt.Errorf("unknown resolution action: %s", req.Action)
	}

	report, err := r.Store.GetReport(ctx, req.ReportID)
	if err != nil {
		return nil, err
	}
	if report.Status == models.ReportStatusResolved {
		return nil, ErrAlreadyResolved
	}

	// resolve the ban subject before claiming the resolution; banning the
	// reporting moderator by mistake is exactly the failure mode this lookup
	// prevents, and a lookup failure must leave the report open
	banUserID := ""
	if req.Action == ActionBanUser {
		banUserID = report.TargetID
		if report.TargetType == models.TargetMessage {
			msg, err := r.Provider.GetMessage(ctx, report.TargetID)
			if err != nil {
				return nil, fmt.Errorf("resolving message author: %w", err)
			}
			banUserID = msg.UserID
		}
	}

	now := time.Now()
	res := r.Store.DB.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status != ?", req.ReportID, models.ReportStatusResolved).
		Updates(map[string]any{
			"status":      models.ReportStatusResolved,
			"resolution":  req.Action,
			"resolved_at": now,
			"resolved_by": req.ModeratorID,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyResolved
	}

	details := &ActionDetails{
		Action:     req.Action,
		TargetType: report.TargetType,
		TargetID:   report.TargetID,
		ProviderOK: true,
		Comment:    req.Comment,
	}

	switch req.Action {
	case ActionDismiss:
		// closing the report is the whole action

	case ActionRemove:
		if err := r.Provider.DeleteMessage(ctx, report.TargetID, true); err != nil {
			// the removal decision is recorded even when the provider call fails
			r.Logger.Error("provider message delete failed", "err", err, "messageID", report.TargetID)
			details.ProviderOK = false
			details.ProviderErr = err.Error()
		}

	case ActionBanUser:
		if err := r.banUser(ctx, banUserID, req, details); err != nil {
			r.revertResolution(ctx, report)
			return nil, err
		}

	case ActionSuspendChannel:
		if err := r.suspendChannel(ctx, report.TargetID); err != nil {
			r.revertResolution(ctx, report)
			return nil, err
		}
	}

	// best-effort: close out the linked queue item as part of the resolution
	if report.QueueItemID != nil {
		if err := r.Store.ProcessQueueItem(ctx, *report.QueueItemID, req.ModeratorID); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
			r.Logger.Error("processing linked queue item failed", "err", err, "queueItemID", *report.QueueItemID)
		}
	}

	if err := r.Store.AppendAudit(ctx, "report_resolved", report.TargetType, report.TargetID, req.ModeratorID, details); err != nil {
		// without the audit record the resolution never happened; reopen so a
		// retry can re-run the whole decision
		r.revertResolution(ctx, report)
		return nil, err
	}
	return details, nil
}

// revertResolution compensates a claimed resolution whose durable steps
// failed, restoring the report's pre-flip status so it stays retryable.
func (r *Resolver) revertResolution(ctx context.Context, report *models.Report) {
	err := r.Store.DB.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status = ?", report.ID, models.ReportStatusResolved).
		Updates(map[string]any{
			"status":      report.Status,
			"resolution":  nil,
			"resolved_at": nil,
			"resolved_by": nil,
		}).Error
	if err != nil {
		r.Logger.Error("reverting failed resolution", "err", err, "reportID", report.ID)
	}
}

// banUser computes the ban expiry, persists it on the local user row, and
// attempts the provider-side ban. The subject was resolved by the caller; a
// provider-side ban failure is surfaced in the result, never fatal, but a
// failed local persist is.
func (r *Resolver) banUser(ctx context.Context, userID string, req ResolutionRequest, details *ActionDetails) error {
	until := permanentBanUntil
	if req.BanTimeoutMinutes != nil {
		until = time.Now().Add(time.Duration(*req.BanTimeoutMinutes) * time.Minute)
	}
	details.BannedUserID = userID
	details.BanExpiresAt = &until

	reason := req.Comment
	if reason == "" {
		reason = "moderation ban"
	}
	user := models.ChatUser{
		UserID:      userID,
		BannedUntil: &until,
		BanReason:   &reason,
		BannedBy:    &req.ModeratorID,
	}
	err := r.Store.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"banned_until", "ban_reason", "banned_by", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return fmt.Errorf("persisting ban: %w", err)
	}

	if err := r.Provider.BanUser(ctx, userID, provider.BanOpts{
		TimeoutMinutes: req.BanTimeoutMinutes,
		Reason:         reason,
		BannedBy:       req.ModeratorID,
	}); err != nil {
		// local ban stands regardless; the provider failure is surfaced in the result
		r.Logger.Error("provider ban failed", "err", err, "userID", userID)
		details.ProviderOK = false
		details.ProviderErr = err.Error()
	}
	return nil
}

func (r *Resolver) suspendChannel(ctx context.Context, channelID string) error {
	room := models.Room{
		ChannelID:    channelID,
		Suspended:    true,
		FlaggedCount: suspendFlagSentinel,
	}
	return r.Store.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"suspended":     true,
			"flagged_count": gorm.Expr("flagged_count + ?", suspendFlagSentinel),
			"updated_at":    time.Now(),
		}),
	}).Create(&room).Error
}
