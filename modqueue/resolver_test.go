package modqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/provider"
	"github.com/havenchat/warden/testutil"
)

func resolverFixture(t *testing.T) (*Resolver, *Store, *provider.MockClient) {
	t.Helper()
	store := NewStore(testutil.MustTestDB())
	mock := provider.NewMockClient()
	return NewResolver(store, mock, nil), store, mock
}

func openReport(t *testing.T, store *Store, targetType, targetID string) *models.Report {
	t.Helper()
	report := &models.Report{
		TargetType: targetType,
		TargetID:   targetID,
		ReporterID: "reporter-1",
		Reason:     "flagged content",
	}
	require.NoError(t, store.CreateReport(context.Background(), report))
	return report
}

func TestResolveDismiss(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, mock := resolverFixture(t)
	report := openReport(t, store, models.TargetMessage, "m-1")

	details, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID:    report.ID,
		Action:      ActionDismiss,
		Comment:     "false positive",
		ModeratorID: "mod-1",
	})
	require.NoError(err)
	assert.True(details.ProviderOK)
	assert.Equal(ActionDismiss, details.Action)
	assert.Zero(mock.DeletedCount())

	got, err := store.GetReport(ctx, report.ID)
	require.NoError(err)
	assert.Equal(models.ReportStatusResolved, got.Status)
	require.NotNil(got.Resolution)
	assert.Equal(ActionDismiss, *got.Resolution)
	require.NotNil(got.ResolvedBy)
	assert.Equal("mod-1", *got.ResolvedBy)

	count, err := store.CountAudit(ctx, "report_resolved", "m-1")
	require.NoError(err)
	assert.EqualValues(1, count)
}

func TestResolveExactlyOnce(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, _ := resolverFixture(t)
	report := openReport(t, store, models.TargetMessage, "m-2")

	_, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID: report.ID, Action: ActionDismiss, ModeratorID: "mod-1",
	})
	require.NoError(err)

	first, err := store.GetReport(ctx, report.ID)
	require.NoError(err)
	require.NotNil(first.ResolvedAt)

	// the second decision is rejected and the first resolution stands untouched
	_, err = resolver.Resolve(ctx, ResolutionRequest{
		ReportID: report.ID, Action: ActionRemove, ModeratorID: "mod-2",
	})
	assert.ErrorIs(err, ErrAlreadyResolved)

	second, err := store.GetReport(ctx, report.ID)
	require.NoError(err)
	assert.Equal(first.ResolvedAt.UnixNano(), second.ResolvedAt.UnixNano())
	assert.Equal("mod-1", *second.ResolvedBy)

	count, err := store.CountAudit(ctx, "report_resolved", "m-2")
	require.NoError(err)
	assert.EqualValues(1, count)
}

func TestResolveRemoveRecordsProviderFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, mock := resolverFixture(t)
	report := openReport(t, store, models.TargetMessage, "m-3")
	mock.DeleteErr = errors.New("provider down")

	// the decision is durable even when the provider call fails
	details, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID: report.ID, Action: ActionRemove, ModeratorID: "mod-1",
	})
	require.NoError(err)
	assert.False(details.ProviderOK)
	assert.Contains(details.ProviderErr, "provider down")

	got, err := store.GetReport(ctx, report.ID)
	require.NoError(err)
	assert.Equal(models.ReportStatusResolved, got.Status)
}

func TestResolveBanResolvesMessageAuthor(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, mock := resolverFixture(t)
	report := openReport(t, store, models.TargetMessage, "m-4")
	mock.Messages["m-4"] = &provider.Message{ID: "m-4", UserID: "author-77", ChannelID: "room-1"}

	timeout := 60
	details, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID:          report.ID,
		Action:            ActionBanUser,
		ModeratorID:       "mod-1",
		BanTimeoutMinutes: &timeout,
	})
	require.NoError(err)

	// the ban lands on the message author, not the report target id
	assert.Equal("author-77", details.BannedUserID)
	require.Equal([]string{"author-77"}, mock.Banned)
	require.NotNil(details.BanExpiresAt)
	assert.WithinDuration(time.Now().Add(time.Hour), *details.BanExpiresAt, 5*time.Second)

	var user models.ChatUser
	require.NoError(store.DB.Where("user_id = ?", "author-77").First(&user).Error)
	require.NotNil(user.BannedUntil)
}

func TestResolveBanUserTargetPermanent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, mock := resolverFixture(t)
	report := openReport(t, store, models.TargetUser, "user-5")

	details, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID:    report.ID,
		Action:      ActionBanUser,
		ModeratorID: "mod-1",
	})
	require.NoError(err)
	assert.Equal("user-5", details.BannedUserID)
	require.NotNil(details.BanExpiresAt)
	assert.Equal(9999, details.BanExpiresAt.Year())
	assert.Equal([]string{"user-5"}, mock.Banned)
}

func TestResolveSuspendChannel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, _ := resolverFixture(t)
	report := openReport(t, store, models.TargetChannel, "room-9")

	_, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID: report.ID, Action: ActionSuspendChannel, ModeratorID: "mod-1",
	})
	require.NoError(err)

	var room models.Room
	require.NoError(store.DB.Where("channel_id = ?", "room-9").First(&room).Error)
	assert.True(room.Suspended)
	assert.EqualValues(suspendFlagSentinel, room.FlaggedCount)
}

func TestResolveClosesLinkedQueueItem(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, _ := resolverFixture(t)

	item, err := store.CreateQueueItem(ctx, map[string]string{"message_id": "m-6"}, []string{"suicide"}, 3)
	require.NoError(err)
	report := &models.Report{
		QueueItemID: &item.ID,
		TargetType:  models.TargetMessage,
		TargetID:    "m-6",
		ReporterID:  "warden",
		Reason:      "suicide",
		Status:      models.ReportStatusUnderReview,
	}
	require.NoError(store.CreateReport(ctx, report))

	_, err = resolver.Resolve(ctx, ResolutionRequest{
		ReportID: report.ID, Action: ActionDismiss, ModeratorID: "mod-1",
	})
	require.NoError(err)

	got, err := store.GetQueueItem(ctx, item.ID)
	require.NoError(err)
	assert.True(got.Processed)
}

func TestResolveBanAuthorLookupFailureLeavesReportOpen(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, mock := resolverFixture(t)
	report := openReport(t, store, models.TargetMessage, "m-9")
	mock.GetErr = errors.New("provider down")

	_, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID: report.ID, Action: ActionBanUser, ModeratorID: "mod-1",
	})
	require.Error(err)
	assert.Empty(mock.Banned)

	// a failed lookup must not strand the report as resolved
	got, err := store.GetReport(ctx, report.ID)
	require.NoError(err)
	assert.Equal(models.ReportStatusOpen, got.Status)
	assert.Nil(got.ResolvedAt)

	count, err := store.CountAudit(ctx, "report_resolved", "m-9")
	require.NoError(err)
	assert.Zero(count)

	// once the provider recovers the same decision goes through
	mock.GetErr = nil
	mock.Messages["m-9"] = &provider.Message{ID: "m-9", UserID: "author-3", ChannelID: "room-1"}
	details, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID: report.ID, Action: ActionBanUser, ModeratorID: "mod-1",
	})
	require.NoError(err)
	assert.Equal("author-3", details.BannedUserID)
	assert.Equal([]string{"author-3"}, mock.Banned)

	count, err = store.CountAudit(ctx, "report_resolved", "m-9")
	require.NoError(err)
	assert.EqualValues(1, count)
}

func TestResolveAuditRecordsTargetType(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	resolver, store, _ := resolverFixture(t)
	report := openReport(t, store, models.TargetChannel, "room-11")

	_, err := resolver.Resolve(ctx, ResolutionRequest{
		ReportID: report.ID, Action: ActionSuspendChannel, ModeratorID: "mod-1",
	})
	require.NoError(err)

	var rec models.AuditRecord
	require.NoError(store.DB.Where("action = ? AND target_id = ?", "report_resolved", "room-11").First(&rec).Error)
	assert.Equal(models.TargetChannel, rec.TargetType)

	user := openReport(t, store, models.TargetUser, "user-12")
	_, err = resolver.Resolve(ctx, ResolutionRequest{
		ReportID: user.ID, Action: ActionBanUser, ModeratorID: "mod-1",
	})
	require.NoError(err)
	var userRec models.AuditRecord
	require.NoError(store.DB.Where("action = ? AND target_id = ?", "report_resolved", "user-12").First(&userRec).Error)
	assert.Equal(models.TargetUser, userRec.TargetType)
}

func TestResolveUnknownAction(t *testing.T) {
	resolver, store, _ := resolverFixture(t)
	report := openReport(t, store, models.TargetMessage, "m-8")

	_, err := resolver.Resolve(context.Background(), ResolutionRequest{
		ReportID: report.ID, Action: "obliterate", ModeratorID: "mod-1",
	})
	require.Error(t, err)

	got, err := store.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusOpen, got.Status)
}
