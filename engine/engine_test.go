package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/havenchat/warden/models"
)

func drainAsync(t *testing.T, eng *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, eng.Async.Shutdown(ctx))
}

func queueItems(t *testing.T, db *gorm.DB) []models.QueueItem {
	t.Helper()
	var items []models.QueueItem
	require.NoError(t, db.Order("id").Find(&items).Error)
	return items
}

func TestProcessHighSeverityMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, mock, db := EngineTestFixture()
	evt := NewTestMessageEvent("msg-1", "honestly thinking about suicide tonight", "user-1", "room-1")

	require.NoError(eng.ProcessMessageEvent(ctx, evt))
	drainAsync(t, eng)

	items := queueItems(t, db)
	require.Len(items, 1)
	assert.Equal(3, items[0].Severity)
	assert.Equal("suicide", items[0].ReasonTags)
	assert.False(items[0].Processed)

	var report models.Report
	require.NoError(db.Where("target_id = ?", "msg-1").First(&report).Error)
	assert.Equal(models.ReportStatusUnderReview, report.Status)
	assert.Equal("warden", report.ReporterID)
	require.NotNil(report.QueueItemID)
	assert.Equal(items[0].ID, *report.QueueItemID)

	count, err := eng.Queue.CountAudit(ctx, "message_moderated_high", "msg-1")
	require.NoError(err)
	assert.EqualValues(1, count)

	// hard delete, moderator ping, and crisis resources all went out
	assert.Equal([]string{"msg-1"}, mock.HardDeleted)
	assert.Equal([]string{"user-1"}, mock.CrisisSent)
	assert.Equal(1, eng.Notifier.(*CollectingNotifier).Count())

	rooms := eng.Rooms.(*MemRoomStore)
	assert.Equal(1, rooms.Flagged["room-1"])
	assert.False(rooms.Activity["room-1"].IsZero())
}

func TestProcessMediumSeverityMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, mock, db := EngineTestFixture()
	evt := NewTestMessageEvent("msg-2", "been really depressed lately", "user-2", "room-1")

	require.NoError(eng.ProcessMessageEvent(ctx, evt))
	drainAsync(t, eng)

	items := queueItems(t, db)
	require.Len(items, 1)
	assert.Equal(2, items[0].Severity)

	// flagged at the provider, but no removal, report, or crisis outreach
	assert.Equal([]string{"msg-2"}, mock.Flagged)
	assert.Empty(mock.Deleted)
	assert.Empty(mock.CrisisSent)
	assert.Equal(0, eng.Notifier.(*CollectingNotifier).Count())

	var reportCount int64
	require.NoError(db.Model(&models.Report{}).Count(&reportCount).Error)
	assert.Zero(reportCount)

	count, err := eng.Queue.CountAudit(ctx, "message_moderated_medium", "msg-2")
	require.NoError(err)
	assert.EqualValues(1, count)

	assert.Equal(1, eng.Rooms.(*MemRoomStore).Flagged["room-1"])
}

func TestProcessLowSeverityMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, mock, db := EngineTestFixture()
	evt := NewTestMessageEvent("msg-3", "so much stress this week", "user-3", "room-2")

	require.NoError(eng.ProcessMessageEvent(ctx, evt))
	drainAsync(t, eng)

	items := queueItems(t, db)
	require.Len(items, 1)
	assert.Equal(1, items[0].Severity)

	// passive review only: no provider calls, no flagged counter bump
	assert.Empty(mock.Deleted)
	assert.Empty(mock.Flagged)
	assert.Zero(eng.Rooms.(*MemRoomStore).Flagged["room-2"])

	count, err := eng.Queue.CountAudit(ctx, "message_moderated_low", "msg-3")
	require.NoError(err)
	assert.EqualValues(1, count)
}

func TestProcessCleanMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, mock, db := EngineTestFixture()
	evt := NewTestMessageEvent("msg-4", "see you at practice tomorrow", "user-4", "room-2")

	require.NoError(eng.ProcessMessageEvent(ctx, evt))
	drainAsync(t, eng)

	assert.Empty(queueItems(t, db))
	assert.Empty(mock.Deleted)
	assert.Empty(mock.Flagged)

	var auditCount int64
	require.NoError(db.Model(&models.AuditRecord{}).Count(&auditCount).Error)
	assert.Zero(auditCount)

	// room bookkeeping still runs for clean traffic
	rooms := eng.Rooms.(*MemRoomStore)
	assert.False(rooms.Activity["room-2"].IsZero())
	assert.Zero(rooms.Flagged["room-2"])
}

func TestProcessDuplicateDelivery(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, db := EngineTestFixture()
	evt := NewTestMessageEvent("msg-5", "honestly thinking about suicide tonight", "user-5", "room-1")

	require.NoError(eng.ProcessMessageEvent(ctx, evt))
	// redelivery of the same message id is a silent no-op
	require.NoError(eng.ProcessMessageEvent(ctx, evt))
	drainAsync(t, eng)

	assert.Len(queueItems(t, db), 1)

	count, err := eng.Queue.CountAudit(ctx, "message_moderated_high", "msg-5")
	require.NoError(err)
	assert.EqualValues(1, count)
}

func TestProcessConcurrentDelivery(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, db := EngineTestFixture()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt := NewTestMessageEvent("msg-6", "honestly thinking about suicide tonight", "user-6", "room-1")
			_ = eng.ProcessMessageEvent(ctx, evt)
		}()
	}
	wg.Wait()
	drainAsync(t, eng)

	// exactly one delivery wins admission; the rest decide nothing
	assert.Len(queueItems(t, db), 1)
	count, err := eng.Queue.CountAudit(ctx, "message_moderated_high", "msg-6")
	require.NoError(err)
	assert.EqualValues(1, count)
}

func TestTakedownCircuitBreaker(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, mock, db := EngineTestFixture()
	eng.TakedownDailyQuota = 1

	require.NoError(eng.ProcessMessageEvent(ctx, NewTestMessageEvent("msg-7", "i want to kill myself", "user-7", "room-1")))
	require.NoError(eng.ProcessMessageEvent(ctx, NewTestMessageEvent("msg-8", "i want to kill myself", "user-8", "room-1")))
	drainAsync(t, eng)

	// the quota allows one hard delete; the second takedown downgrades to a flag
	assert.Equal([]string{"msg-7"}, mock.HardDeleted)
	assert.Equal([]string{"msg-8"}, mock.Flagged)

	// both still produced review artifacts
	assert.Len(queueItems(t, db), 2)
	var reportCount int64
	require.NoError(db.Model(&models.Report{}).Count(&reportCount).Error)
	assert.EqualValues(2, reportCount)
}

func TestCrisisResourcesDeduped(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, mock, _ := EngineTestFixture()

	require.NoError(eng.ProcessMessageEvent(ctx, NewTestMessageEvent("msg-9", "thinking about suicide", "user-9", "room-1")))
	drainAsync(t, eng)

	// fresh runner so the second delivery's effects run after the first landed
	eng.Async = NewAsyncRunner(2, 64, nil)
	require.NoError(eng.ProcessMessageEvent(ctx, NewTestMessageEvent("msg-10", "thinking about suicide again", "user-9", "room-1")))
	drainAsync(t, eng)

	// same author twice inside the dedupe window gets resources once
	assert.Equal(1, mock.CrisisSentCount())
}

func TestPatternRuleTriggersQueue(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	eng, _, db := EngineTestFixture()
	evt := NewTestMessageEvent("msg-11", "FUUUCKKK this", "user-11", "room-3")

	require.NoError(eng.ProcessMessageEvent(ctx, evt))
	drainAsync(t, eng)

	items := queueItems(t, db)
	require.Len(items, 1)
	assert.Equal(1, items[0].Severity)
	assert.Equal("fuuuckkk", items[0].ReasonTags)
}
