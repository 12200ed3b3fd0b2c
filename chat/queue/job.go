package queue

import (
	"time"

	"github.com/pkg/errors"
)

// JobState is the lifecycle state of a chat job.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// ChatJobData is the typed payload of a chat processing job. It is
// validated at enqueue time; a malformed payload never reaches a
// worker.
type ChatJobData struct {
	ConversationID int32  `json:"conversation_id"`
	ThreadID       string `json:"thread_id"`
	AssistantID    string `json:"assistant_id"`
	Content        string `json:"content"`
	// MessageID is the UID of the originating user turn.
	MessageID string `json:"message_id"`
	LeadID    int32  `json:"lead_id"`
}

func (d *ChatJobData) Validate() error {
	if d.ConversationID == 0 {
		return errors.New("conversation id required")
	}
	if d.ThreadID == "" {
		return errors.New("thread id required")
	}
	if d.AssistantID == "" {
		return errors.New("assistant id required")
	}
	if d.Content == "" {
		return errors.New("content required")
	}
	if d.MessageID == "" {
		return errors.New("message id required")
	}
	return nil
}

// JobResult is the structured outcome of a processed job. Terminal
// engine failures complete the job with Success=false instead of
// engaging the retry machinery.
type JobResult struct {
	Success  bool   `json:"success"`
	ReplyUID string `json:"reply_uid,omitempty"`
	Content  string `json:"content,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Job is one reserved unit of work.
type Job struct {
	ID          string
	Data        ChatJobData
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
}

// IsLastAttempt reports whether a retryable failure of this reservation
// would exhaust the job.
func (j *Job) IsLastAttempt() bool {
	return j.Attempts >= j.MaxAttempts-1
}

// JobStatus is the poll-facing view of a job.
type JobStatus struct {
	ID           string     `json:"id"`
	State        JobState   `json:"state"`
	Progress     int        `json:"progress"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	Result       *JobResult `json:"result,omitempty"`
	FailedReason string     `json:"failed_reason,omitempty"`
}
