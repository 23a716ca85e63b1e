package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/testutil"
)

func TestGormGuardBasics(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	guard := NewGormGuard(testutil.MustTestDB(), nil)

	assert.False(guard.IsProcessed(ctx, "msg-1"))

	admitted, err := guard.Admit(ctx, "msg-1")
	require.NoError(err)
	assert.True(admitted)

	// a second admit observes the conflict as not-admitted, without error
	admitted, err = guard.Admit(ctx, "msg-1")
	require.NoError(err)
	assert.False(admitted)

	// tentative admissions still count as processed for the explicit check
	assert.True(guard.IsProcessed(ctx, "msg-1"))

	require.NoError(guard.Commit(ctx, "msg-1"))
	assert.True(guard.IsProcessed(ctx, "msg-1"))
}

func TestGormGuardAbandon(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	guard := NewGormGuard(testutil.MustTestDB(), nil)

	admitted, err := guard.Admit(ctx, "msg-2")
	require.NoError(err)
	require.True(admitted)

	// compensating a failed attempt makes redelivery admissible again
	require.NoError(guard.Abandon(ctx, "msg-2"))
	assert.False(guard.IsProcessed(ctx, "msg-2"))

	admitted, err = guard.Admit(ctx, "msg-2")
	require.NoError(err)
	assert.True(admitted)

	// abandon is a no-op once committed
	require.NoError(guard.Commit(ctx, "msg-2"))
	require.NoError(guard.Abandon(ctx, "msg-2"))
	assert.True(guard.IsProcessed(ctx, "msg-2"))
}

func TestGormGuardConcurrentAdmission(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	guard := NewGormGuard(testutil.MustTestDB(), nil)

	var admittedCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted, err := guard.Admit(ctx, "contested-id")
			if err == nil && admitted {
				admittedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	// exactly one concurrent invocation proceeds past admission
	require.EqualValues(1, admittedCount.Load())
}

func TestGormGuardSweep(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	db := testutil.MustTestDB()
	guard := NewGormGuard(db, nil)

	for _, id := range []string{"old-committed", "old-pending", "fresh"} {
		admitted, err := guard.Admit(ctx, id)
		require.NoError(err)
		require.True(admitted)
	}
	require.NoError(guard.Commit(ctx, "old-committed"))
	require.NoError(guard.Commit(ctx, "fresh"))

	stale := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(db.Model(&models.ProcessedEvent{}).
		Where("message_id IN ?", []string{"old-committed", "old-pending"}).
		Update("processed_at", stale).Error)

	require.NoError(guard.SweepExpired(ctx, DefaultRetention, DefaultPendingTimeout))

	assert.False(guard.IsProcessed(ctx, "old-committed"))
	assert.False(guard.IsProcessed(ctx, "old-pending"))
	assert.True(guard.IsProcessed(ctx, "fresh"))
}

func TestMemGuard(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	guard := NewMemGuard()

	admitted, err := guard.Admit(ctx, "m1")
	require.NoError(err)
	assert.True(admitted)

	admitted, err = guard.Admit(ctx, "m1")
	require.NoError(err)
	assert.False(admitted)

	require.NoError(guard.Abandon(ctx, "m1"))
	admitted, err = guard.Admit(ctx, "m1")
	require.NoError(err)
	assert.True(admitted)

	require.NoError(guard.Commit(ctx, "m1"))
	require.NoError(guard.Abandon(ctx, "m1"))
	assert.True(guard.IsProcessed(ctx, "m1"))
}
