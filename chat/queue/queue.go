// Package queue implements the durable, at-least-once Redis queue that
// feeds chat jobs to workers.
//
// Layout per queue q (anchor "chat:queue:q"):
//
//	{anchor}:waiting    list of job ids ready for reservation
//	{anchor}:delayed    zset of job ids scheduled for retry, scored by due time (ms)
//	{anchor}:job:{id}   hash holding payload, state, attempts and result
//	{anchor}:completed  bounded list of terminal successes (oldest evicted)
//	{anchor}:failed     bounded list of permanent failures (oldest evicted)
//
// All state transitions are single Lua scripts so concurrent workers
// never observe a half-moved job.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned for unknown ids and for terminal jobs
// already evicted by retention. Callers must treat it as "unknown", not
// as evidence the job succeeded or failed.
var ErrJobNotFound = errors.New("job not found")

const (
	// DefaultMaxAttempts is the retry ceiling per job.
	DefaultMaxAttempts = 5
	// DefaultBackoff is the first retry delay; it doubles per failure.
	DefaultBackoff = 2 * time.Second
	// DefaultRetention bounds how many terminal jobs stay inspectable.
	DefaultRetention = 200
)

var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return "DUP"
end
redis.call("HSET", KEYS[1],
	"id", ARGV[1],
	"data", ARGV[2],
	"state", "waiting",
	"attempts", 0,
	"max_attempts", ARGV[3],
	"backoff_ms", ARGV[4],
	"progress", 0,
	"created_ms", ARGV[5])
redis.call("LPUSH", KEYS[2], ARGV[1])
return "OK"
`)

var reserveScript = redis.NewScript(`
local id = redis.call("RPOP", KEYS[1])
if not id then
	return false
end
local job = ARGV[1] .. ":job:" .. id
redis.call("HSET", job, "state", "active", "started_ms", ARGV[2])
return {
	id,
	redis.call("HGET", job, "data"),
	redis.call("HGET", job, "attempts"),
	redis.call("HGET", job, "max_attempts"),
	redis.call("HGET", job, "backoff_ms"),
}
`)

var completeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return "GONE"
end
redis.call("HSET", KEYS[1],
	"state", "completed",
	"result", ARGV[2],
	"progress", ARGV[6],
	"finished_ms", ARGV[3])
redis.call("LPUSH", KEYS[2], ARGV[1])
local evicted = redis.call("LRANGE", KEYS[2], tonumber(ARGV[4]), -1)
redis.call("LTRIM", KEYS[2], 0, tonumber(ARGV[4]) - 1)
for _, old in ipairs(evicted) do
	redis.call("DEL", ARGV[5] .. ":job:" .. old)
end
return "OK"
`)

var failScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return {"GONE"}
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
local max = tonumber(redis.call("HGET", KEYS[1], "max_attempts"))
redis.call("HSET", KEYS[1], "failed_reason", ARGV[2])
if attempts < max then
	local backoff = tonumber(redis.call("HGET", KEYS[1], "backoff_ms"))
	local due = tonumber(ARGV[3]) + backoff * 2 ^ (attempts - 1)
	redis.call("HSET", KEYS[1], "state", "waiting")
	redis.call("ZADD", KEYS[2], due, ARGV[1])
	return {"RETRY", tostring(due)}
end
redis.call("HSET", KEYS[1], "state", "failed", "finished_ms", ARGV[3])
redis.call("LPUSH", KEYS[3], ARGV[1])
local evicted = redis.call("LRANGE", KEYS[3], tonumber(ARGV[4]), -1)
redis.call("LTRIM", KEYS[3], 0, tonumber(ARGV[4]) - 1)
for _, old in ipairs(evicted) do
	redis.call("DEL", ARGV[5] .. ":job:" .. old)
end
return {"FAILED"}
`)

var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return #due
`)

// Options tunes a queue. Zero values use the package defaults.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Retention   int
}

// Queue is a named, Redis-backed chat job queue.
type Queue struct {
	rdb         redis.UniversalClient
	anchor      string
	maxAttempts int
	backoff     time.Duration
	retention   int
}

func New(rdb redis.UniversalClient, name string, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Queue{
		rdb:         rdb,
		anchor:      "chat:queue:" + name,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		retention:   opts.Retention,
	}
}

func (q *Queue) key(suffix string) string {
	return q.anchor + ":" + suffix
}

func (q *Queue) jobKey(id string) string {
	return q.anchor + ":job:" + id
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Enqueue persists the job and makes it visible to workers. An empty id
// lets the queue generate one. Re-enqueueing an existing id is
// rejected.
func (q *Queue) Enqueue(ctx context.Context, id string, data ChatJobData) (*Job, error) {
	if err := data.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid job data")
	}
	if id == "" {
		id = uuid.NewString()
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal job data")
	}

	status, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("waiting")},
		id, payload, q.maxAttempts, q.backoff.Milliseconds(), nowMs(),
	).Text()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enqueue job")
	}
	if status == "DUP" {
		return nil, errors.Errorf("job %s already exists", id)
	}

	return &Job{
		ID:          id,
		Data:        data,
		MaxAttempts: q.maxAttempts,
		Backoff:     q.backoff,
	}, nil
}

// Reserve pops the next waiting job and marks it active. It returns
// (nil, nil) when the queue is empty.
func (q *Queue) Reserve(ctx context.Context) (*Job, error) {
	res, err := reserveScript.Run(ctx, q.rdb,
		[]string{q.key("waiting")},
		q.anchor, nowMs(),
	).Slice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to reserve job")
	}
	if len(res) < 5 {
		return nil, errors.Errorf("unexpected reserve response: %v", res)
	}

	job := &Job{ID: asString(res[0])}
	if err := json.Unmarshal([]byte(asString(res[1])), &job.Data); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal data of job %s", job.ID)
	}
	job.Attempts, _ = strconv.Atoi(asString(res[2]))
	job.MaxAttempts, _ = strconv.Atoi(asString(res[3]))
	backoffMs, _ := strconv.ParseInt(asString(res[4]), 10, 64)
	job.Backoff = time.Duration(backoffMs) * time.Millisecond

	return job, nil
}

// Complete marks the job terminal with the given result and moves it
// into the bounded completed window. The result may carry
// Success=false for terminal engine failures.
func (q *Queue) Complete(ctx context.Context, jobID string, result *JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job result")
	}

	status, err := completeScript.Run(ctx, q.rdb,
		[]string{q.jobKey(jobID), q.key("completed")},
		jobID, payload, nowMs(), q.retention, q.anchor, 100,
	).Text()
	if err != nil {
		return errors.Wrap(err, "failed to complete job")
	}
	if status == "GONE" {
		return ErrJobNotFound
	}
	return nil
}

// Fail records one failed attempt. While attempts remain the job is
// rescheduled after an exponentially growing delay; otherwise it is
// permanently failed with the last reason retained for inspection.
func (q *Queue) Fail(ctx context.Context, jobID, reason string) (retryAt time.Time, failed bool, err error) {
	res, err := failScript.Run(ctx, q.rdb,
		[]string{q.jobKey(jobID), q.key("delayed"), q.key("failed")},
		jobID, reason, nowMs(), q.retention, q.anchor,
	).Slice()
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "failed to record job failure")
	}
	if len(res) == 0 {
		return time.Time{}, false, errors.Errorf("unexpected fail response: %v", res)
	}

	switch asString(res[0]) {
	case "RETRY":
		dueMs, _ := strconv.ParseInt(asString(res[1]), 10, 64)
		return time.UnixMilli(dueMs), false, nil
	case "FAILED":
		return time.Time{}, true, nil
	case "GONE":
		return time.Time{}, false, ErrJobNotFound
	default:
		return time.Time{}, false, errors.Errorf("unexpected fail response: %v", res)
	}
}

// SetProgress reports percent completion for status polling.
func (q *Queue) SetProgress(ctx context.Context, jobID string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return q.rdb.HSet(ctx, q.jobKey(jobID), "progress", pct).Err()
}

// PromoteDelayed moves jobs whose retry delay has elapsed back to the
// waiting list. It returns how many were promoted.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.key("waiting")},
		now.UnixMilli(), 1000,
	).Int()
	if err != nil {
		return 0, errors.Wrap(err, "failed to promote delayed jobs")
	}
	return n, nil
}

// Status returns the poll-facing view of a job, or ErrJobNotFound for
// unknown and evicted ids.
func (q *Queue) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read job status")
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}

	status := &JobStatus{
		ID:           fields["id"],
		State:        JobState(fields["state"]),
		FailedReason: fields["failed_reason"],
	}
	status.Progress, _ = strconv.Atoi(fields["progress"])
	status.Attempts, _ = strconv.Atoi(fields["attempts"])
	status.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])

	if raw := fields["result"]; raw != "" {
		result := &JobResult{}
		if err := json.Unmarshal([]byte(raw), result); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal result of job %s", jobID)
		}
		status.Result = result
	}

	return status, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}
