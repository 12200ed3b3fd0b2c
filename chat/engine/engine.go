// Package engine wraps the external conversational-AI completion
// service behind a small interface and classifies its long tail of
// failures into retryable and terminal categories.
package engine

import (
	"context"
	"fmt"
)

// Engine is the surface of the remote completion service the pipeline
// depends on. A thread is the engine's persistent conversational
// context; a run is one invocation against a thread producing at most
// one assistant reply.
type Engine interface {
	// CreateThread allocates a new remote thread handle.
	CreateThread(ctx context.Context) (string, error)

	// AddMessage appends a user message to the thread and returns the
	// remote message id.
	AddMessage(ctx context.Context, threadID, content string) (string, error)

	// StartRun begins a run for the assistant on the thread. Token
	// limits of zero mean engine defaults.
	StartRun(ctx context.Context, threadID, assistantID string, maxPromptTokens, maxCompletionTokens int) (string, error)

	// WaitRun polls until the run reaches a terminal status. It returns
	// nil for a completed run and a *RunFailure for every other
	// terminal status.
	WaitRun(ctx context.Context, threadID, runID string) error

	// CancelRun requests cancellation of an in-flight run.
	CancelRun(ctx context.Context, threadID, runID string) error

	// LatestAssistantMessage returns the id and text of the newest
	// assistant message on the thread.
	LatestAssistantMessage(ctx context.Context, threadID string) (id, content string, err error)
}

// RunFailure is a run that ended in a non-completed terminal status.
type RunFailure struct {
	Status  string
	Code    string
	Message string
}

func (e *RunFailure) Error() string {
	return fmt.Sprintf("run ended %s (%s): %s", e.Status, e.Code, e.Message)
}
