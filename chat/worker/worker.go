// Package worker runs the chat processing loop: it drains the job
// queue, arbitrates thread ownership through the distributed lock, and
// drives the completion engine for each job.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leadpilot/leadpilot/chat/engine"
	"github.com/leadpilot/leadpilot/chat/lock"
	"github.com/leadpilot/leadpilot/chat/metrics"
	"github.com/leadpilot/leadpilot/chat/queue"
	"github.com/leadpilot/leadpilot/store"
)

const (
	// DefaultConcurrency is the number of consumer goroutines.
	DefaultConcurrency = 2
	// DefaultPollInterval is the idle sleep between empty reserves.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultSettleDelay follows a force-clear so the store's delete
	// propagates before the successor proceeds.
	DefaultSettleDelay = 100 * time.Millisecond
)

// Config assembles a Worker's collaborators.
type Config struct {
	Store   *store.Store
	Locker  *lock.ThreadLocker
	Queue   *queue.Queue
	Engine  engine.Engine
	Metrics *metrics.PipelineExporter

	Concurrency  int
	PollInterval time.Duration
	SettleDelay  time.Duration
}

// Worker consumes chat jobs from the queue and processes them to a
// terminal result. Instances coordinate only through the lock store;
// jobs for one thread may land on any worker process.
type Worker struct {
	store   *store.Store
	locker  *lock.ThreadLocker
	queue   *queue.Queue
	engine  engine.Engine
	metrics *metrics.PipelineExporter

	concurrency  int
	pollInterval time.Duration
	settleDelay  time.Duration
}

// New creates a Worker. Zero config fields fall back to defaults.
func New(cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Worker{
		store:        cfg.Store,
		locker:       cfg.Locker,
		queue:        cfg.Queue,
		engine:       cfg.Engine,
		metrics:      cfg.Metrics,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		settleDelay:  cfg.SettleDelay,
	}
}

// Run supervises the consumer goroutines until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.consume(ctx)
		})
	}
	return g.Wait()
}

// consume is one consumer loop: promote due retries, reserve, process.
func (w *Worker) consume(ctx context.Context) error {
	for {
		if _, err := w.queue.PromoteDelayed(ctx, time.Now()); err != nil {
			slog.Error("Failed to promote delayed jobs", "error", err)
		}

		job, err := w.queue.Reserve(ctx)
		if err != nil {
			slog.Error("Failed to reserve job", "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.handle(ctx, job)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// handle runs one reservation to a queue-side terminal or retry state.
func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	start := time.Now()
	if w.metrics != nil {
		w.metrics.JobStarted()
		defer w.metrics.JobFinished()
	}

	result, err := w.Process(ctx, job)
	if err != nil {
		retryAt, failed, failErr := w.queue.Fail(ctx, job.ID, err.Error())
		if failErr != nil {
			slog.Error("Failed to record job failure", "job", job.ID, "error", failErr)
			return
		}
		if failed {
			slog.Warn("Job exhausted its attempts",
				"job", job.ID,
				"thread", job.Data.ThreadID,
				"error", err)
			if w.metrics != nil {
				w.metrics.RecordJob("failed", time.Since(start))
			}
		} else {
			slog.Info("Job scheduled for retry",
				"job", job.ID,
				"thread", job.Data.ThreadID,
				"retryAt", retryAt,
				"error", err)
			if w.metrics != nil {
				w.metrics.RecordRetry()
			}
		}
		return
	}

	if err := w.queue.Complete(ctx, job.ID, result); err != nil {
		slog.Error("Failed to complete job", "job", job.ID, "error", err)
		return
	}
	outcome := "success"
	if !result.Success {
		outcome = "terminal_failure"
	}
	if w.metrics != nil {
		w.metrics.RecordJob(outcome, time.Since(start))
	}
}

// Process runs the per-job state machine. A nil error means the job is
// terminal: either a delivered reply or a classified failure that
// cannot self-heal, carried in the result. A non-nil error means the
// attempt should be retried by the queue.
func (w *Worker) Process(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
	threadID := job.Data.ThreadID
	token := job.ID

	// A reply for this user turn may already exist if a prior attempt
	// crashed between persisting and reporting. Never dispatch twice.
	if existing, err := w.existingReply(ctx, &job.Data); err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	} else if existing != nil {
		slog.Info("Reply already persisted, skipping dispatch",
			"job", job.ID, "reply", existing.UID)
		return &queue.JobResult{Success: true, ReplyUID: existing.UID, Content: existing.Content}, nil
	}

	acquired, err := w.locker.Acquire(ctx, threadID, token)
	if err != nil {
		return nil, fmt.Errorf("acquire thread lock: %w", err)
	}
	if w.metrics != nil {
		w.metrics.RecordLockAcquisition(acquired)
	}
	if !acquired {
		// A predecessor holds the thread. The newest message wins:
		// cancel its run, clear its lock, take over.
		if err := w.takeover(ctx, threadID); err != nil {
			return nil, err
		}
		acquired, err = w.locker.Acquire(ctx, threadID, token)
		if err != nil {
			return nil, fmt.Errorf("acquire thread lock after takeover: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("thread %s still locked after takeover", threadID)
		}
	}
	defer func() {
		if _, err := w.locker.Release(context.WithoutCancel(ctx), threadID, token); err != nil {
			slog.Error("Failed to release thread lock", "thread", threadID, "error", err)
		}
	}()

	result, err := w.dispatch(ctx, job)
	if err == nil {
		return result, nil
	}

	category := engine.Classify(err)
	if w.metrics != nil {
		w.metrics.RecordFailure(category.String())
	}
	if !category.IsTerminal() {
		return nil, err
	}

	slog.Warn("Terminal engine failure",
		"job", job.ID,
		"thread", threadID,
		"category", category.String(),
		"error", err)

	if reply := engine.SynthesizedReply(category); reply != "" {
		if _, perr := w.persistReply(ctx, &job.Data, reply, true); perr != nil {
			// The synthesized turn is best-effort; the structured
			// result still reaches the caller through job status.
			slog.Error("Failed to persist synthesized reply",
				"job", job.ID, "error", perr)
		}
		if aerr := w.recordActivity(ctx, &job.Data, store.ActivityAssistantFailed, category.String()); aerr != nil {
			slog.Error("Failed to record failure activity", "job", job.ID, "error", aerr)
		}
	}

	return &queue.JobResult{Success: false, Reason: category.String()}, nil
}

// takeover cancels the predecessor's remote run and clears its lock.
func (w *Worker) takeover(ctx context.Context, threadID string) error {
	runID, err := w.locker.ActiveRun(ctx, threadID)
	if err != nil {
		return fmt.Errorf("read active run: %w", err)
	}
	if runID != "" {
		if err := w.engine.CancelRun(ctx, threadID, runID); err != nil {
			slog.Warn("Failed to cancel predecessor run",
				"thread", threadID, "run", runID, "error", err)
		} else if w.metrics != nil {
			w.metrics.RecordRunCancelled()
		}
	}
	if err := w.locker.ForceClear(ctx, threadID); err != nil {
		return fmt.Errorf("force clear thread lock: %w", err)
	}
	if w.metrics != nil {
		w.metrics.RecordTakeover()
		w.metrics.RecordForceClear()
	}
	slog.Info("Took over thread from predecessor", "thread", threadID, "run", runID)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.settleDelay):
	}
	return nil
}

// dispatch runs the engine call chain and persists a delivered reply.
func (w *Worker) dispatch(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
	data := &job.Data

	var maxPrompt, maxCompletion int
	setting, err := w.store.GetAssistantSetting(ctx, data.AssistantID)
	if err != nil {
		return nil, fmt.Errorf("read assistant setting: %w", err)
	}
	if setting != nil {
		maxPrompt = int(setting.MaxPromptTokens)
		maxCompletion = int(setting.MaxCompletionTokens)
	}

	if err := w.queue.SetProgress(ctx, job.ID, 10); err != nil {
		slog.Error("Failed to report progress", "job", job.ID, "error", err)
	}

	if _, err := w.engine.AddMessage(ctx, data.ThreadID, data.Content); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	runStart := time.Now()
	runID, err := w.engine.StartRun(ctx, data.ThreadID, data.AssistantID, maxPrompt, maxCompletion)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	if err := w.locker.SetActiveRun(ctx, data.ThreadID, runID); err != nil {
		slog.Error("Failed to record active run", "thread", data.ThreadID, "run", runID, "error", err)
	}
	if err := w.queue.SetProgress(ctx, job.ID, 50); err != nil {
		slog.Error("Failed to report progress", "job", job.ID, "error", err)
	}

	waitErr := w.engine.WaitRun(ctx, data.ThreadID, runID)
	if _, cerr := w.locker.ClearActiveRun(context.WithoutCancel(ctx), data.ThreadID, runID); cerr != nil {
		slog.Error("Failed to clear active run", "thread", data.ThreadID, "run", runID, "error", cerr)
	}
	if w.metrics != nil {
		status := "completed"
		if waitErr != nil {
			status = "failed"
		}
		w.metrics.RecordEngineRun(status, time.Since(runStart))
	}
	if waitErr != nil {
		return nil, fmt.Errorf("wait run: %w", waitErr)
	}

	_, content, err := w.engine.LatestAssistantMessage(ctx, data.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("fetch assistant reply: %w", err)
	}

	reply, err := w.persistReply(ctx, data, content, false)
	if err != nil {
		return nil, fmt.Errorf("persist reply: %w", err)
	}
	if err := w.recordActivity(ctx, data, store.ActivityAssistantReplied, reply.UID); err != nil {
		slog.Error("Failed to record reply activity", "job", job.ID, "error", err)
	}
	if err := w.queue.SetProgress(ctx, job.ID, 100); err != nil {
		slog.Error("Failed to report progress", "job", job.ID, "error", err)
	}

	return &queue.JobResult{Success: true, ReplyUID: reply.UID, Content: reply.Content}, nil
}

// existingReply returns the assistant turn already answering this
// job's user message, if any.
func (w *Worker) existingReply(ctx context.Context, data *queue.ChatJobData) (*store.ChatMessage, error) {
	role := store.MessageRoleAssistant
	messages, err := w.store.ListChatMessages(ctx, &store.FindChatMessage{
		ConversationID: &data.ConversationID,
		Role:           &role,
		ReplyToUID:     &data.MessageID,
	})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return messages[0], nil
}

func (w *Worker) persistReply(ctx context.Context, data *queue.ChatJobData, content string, synthesized bool) (*store.ChatMessage, error) {
	return w.store.CreateChatMessage(ctx, &store.ChatMessage{
		ConversationID: data.ConversationID,
		Role:           store.MessageRoleAssistant,
		Content:        content,
		ReplyToUID:     data.MessageID,
		Synthesized:    synthesized,
	})
}

func (w *Worker) recordActivity(ctx context.Context, data *queue.ChatJobData, kind store.ActivityKind, payload string) error {
	if data.LeadID == 0 {
		return nil
	}
	_, err := w.store.CreateLeadActivity(ctx, &store.LeadActivity{
		LeadID:  data.LeadID,
		Kind:    kind,
		Payload: payload,
	})
	return err
}
