package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "chat-test", opts)
}

func testJobData() ChatJobData {
	return ChatJobData{
		ConversationID: 7,
		ThreadID:       "thread_abc",
		AssistantID:    "asst_123",
		Content:        "hello",
		MessageID:      "msg_1",
		LeadID:         42,
	}
}

func TestEnqueueAndStatus(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	job, err := q.Enqueue(ctx, "", testJobData())
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, DefaultBackoff, job.Backoff)

	status, err := q.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, status.State)
	assert.Equal(t, 0, status.Progress)
	assert.Equal(t, 0, status.Attempts)
	assert.Nil(t, status.Result)
}

func TestEnqueueValidatesData(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	data := testJobData()
	data.ThreadID = ""
	_, err := q.Enqueue(ctx, "", data)
	assert.Error(t, err)
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	_, err := q.Enqueue(ctx, "job-1", testJobData())
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "job-1", testJobData())
	assert.Error(t, err)
}

func TestReserveReturnsJobFIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	first, err := q.Enqueue(ctx, "", testJobData())
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "", testJobData())
	require.NoError(t, err)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, testJobData(), job.Data)

	status, err := q.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, status.State)

	job, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, second.ID, job.ID)
}

func TestReserveEmptyQueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestCompleteStoresResult(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	job, err := q.Enqueue(ctx, "", testJobData())
	require.NoError(t, err)
	_, err = q.Reserve(ctx)
	require.NoError(t, err)

	result := &JobResult{Success: true, ReplyUID: "reply-1", Content: "hi there"}
	require.NoError(t, q.Complete(ctx, job.ID, result))

	status, err := q.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Success)
	assert.Equal(t, "reply-1", status.Result.ReplyUID)
}

func TestFailReschedulesWithExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{MaxAttempts: 3, Backoff: 2 * time.Second})

	job, err := q.Enqueue(ctx, "", testJobData())
	require.NoError(t, err)

	before := time.Now()
	retryAt1, failed, err := q.Fail(ctx, job.ID, "network blip")
	require.NoError(t, err)
	assert.False(t, failed)
	delay1 := retryAt1.Sub(before)

	retryAt2, failed, err := q.Fail(ctx, job.ID, "network blip")
	require.NoError(t, err)
	assert.False(t, failed)
	delay2 := retryAt2.Sub(before)

	// Exponential policy: the second delay is at least the first.
	assert.GreaterOrEqual(t, delay2, delay1)
	assert.GreaterOrEqual(t, delay1, 1500*time.Millisecond)
	assert.GreaterOrEqual(t, delay2, 3500*time.Millisecond)

	status, err := q.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Attempts)
}

func TestFailIncrementsAttemptsByExactlyOne(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{MaxAttempts: 5})

	job, err := q.Enqueue(ctx, "", testJobData())
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, _, err := q.Fail(ctx, job.ID, "transient")
		require.NoError(t, err)

		status, err := q.Status(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, i, status.Attempts)
	}
}

func TestFailExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{MaxAttempts: 2})

	job, err := q.Enqueue(ctx, "", testJobData())
	require.NoError(t, err)

	_, failed, err := q.Fail(ctx, job.ID, "first failure")
	require.NoError(t, err)
	assert.False(t, failed)

	_, failed, err = q.Fail(ctx, job.ID, "last failure")
	require.NoError(t, err)
	assert.True(t, failed)

	status, err := q.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "last failure", status.FailedReason)
	assert.Nil(t, status.Result)
}

func TestPromoteDelayedMovesDueJobs(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{MaxAttempts: 3, Backoff: 2 * time.Second})

	job, err := q.Enqueue(ctx, "", testJobData())
	require.NoError(t, err)
	reserved, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, reserved.ID)

	retryAt, _, err := q.Fail(ctx, job.ID, "transient")
	require.NoError(t, err)

	// Not due yet.
	n, err := q.PromoteDelayed(ctx, retryAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	reserved, err = q.Reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, reserved)

	// Due now.
	n, err = q.PromoteDelayed(ctx, retryAt.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reserved, err = q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, reserved)
	assert.Equal(t, job.ID, reserved.ID)
	assert.Equal(t, 1, reserved.Attempts)
}

func TestStatusNotFound(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{})

	_, err := q.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRetentionEvictsOldestCompleted(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, Options{Retention: 2})

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		job, err := q.Enqueue(ctx, fmt.Sprintf("job-%d", i), testJobData())
		require.NoError(t, err)
		_, err = q.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job.ID, &JobResult{Success: true}))
		ids = append(ids, job.ID)
	}

	// Oldest terminal job is evicted; lookups report unknown.
	_, err := q.Status(ctx, ids[0])
	assert.ErrorIs(t, err, ErrJobNotFound)

	for _, id := range ids[1:] {
		status, err := q.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, status.State)
	}
}

func TestIsLastAttempt(t *testing.T) {
	job := &Job{Attempts: 3, MaxAttempts: 5}
	assert.False(t, job.IsLastAttempt())

	job.Attempts = 4
	assert.True(t, job.IsLastAttempt())
}
