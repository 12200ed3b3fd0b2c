package engine

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Category buckets an engine failure for the worker's terminal-versus-
// retryable decision. The classification order mirrors the priority the
// worker applies: quota, timeout, token limits, capability
// misconfiguration, missing assistant, then the retryable catch-all.
type Category int

const (
	// CategoryNone means no error.
	CategoryNone Category = iota
	// CategoryQuota is billing/quota exhaustion on the engine. Terminal.
	CategoryQuota
	// CategoryTimeout is a request or run deadline overrun. Terminal.
	CategoryTimeout
	// CategoryTokenLimitCompletion means the reply hit the completion
	// token ceiling. Terminal.
	CategoryTokenLimitCompletion
	// CategoryTokenLimitPrompt means the accumulated prompt hit the
	// prompt token ceiling. Terminal.
	CategoryTokenLimitPrompt
	// CategoryLegacyFunctions is a remote assistant still configured
	// with the deprecated function-calling capability. Terminal.
	CategoryLegacyFunctions
	// CategoryAssistantNotFound means the assistant was deleted
	// upstream. Terminal.
	CategoryAssistantNotFound
	// CategorySuperseded is a run cancelled by a successor's takeover.
	// Terminal, but silent: no synthesized reply.
	CategorySuperseded
	// CategoryBusy means the thread already has an active run.
	// Retryable.
	CategoryBusy
	// CategoryUnknown is everything else. Retryable.
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryQuota:
		return "quota"
	case CategoryTimeout:
		return "timeout"
	case CategoryTokenLimitCompletion:
		return "token_limit_completion"
	case CategoryTokenLimitPrompt:
		return "token_limit_prompt"
	case CategoryLegacyFunctions:
		return "legacy_functions"
	case CategoryAssistantNotFound:
		return "assistant_not_found"
	case CategorySuperseded:
		return "superseded"
	case CategoryBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the category must never re-enter the retry
// machinery.
func (c Category) IsTerminal() bool {
	switch c {
	case CategoryQuota, CategoryTimeout, CategoryTokenLimitCompletion,
		CategoryTokenLimitPrompt, CategoryLegacyFunctions,
		CategoryAssistantNotFound, CategorySuperseded:
		return true
	}
	return false
}

// Classify maps an engine error onto its failure category. Unclassified
// errors deliberately land in CategoryUnknown so the queue's backoff
// handles them.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	var runFailure *RunFailure
	if errors.As(err, &runFailure) {
		return classifyRunFailure(runFailure)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	return CategoryUnknown
}

func classifyRunFailure(failure *RunFailure) Category {
	msg := strings.ToLower(failure.Message)
	code := strings.ToLower(failure.Code)

	switch {
	case code == "rate_limit_exceeded" && strings.Contains(msg, "quota"),
		strings.Contains(msg, "billing"):
		return CategoryQuota
	case failure.Status == "expired":
		return CategoryTimeout
	case code == "max_prompt_tokens", strings.Contains(msg, "max_prompt_tokens"):
		return CategoryTokenLimitPrompt
	case code == "max_completion_tokens", strings.Contains(msg, "max_completion_tokens"),
		failure.Status == "incomplete":
		return CategoryTokenLimitCompletion
	case failure.Status == "requires_action":
		// The pipeline never submits tool outputs; an assistant pausing
		// for them is carrying a stale function-calling configuration.
		return CategoryLegacyFunctions
	case failure.Status == "cancelled", failure.Status == "cancelling":
		return CategorySuperseded
	default:
		return CategoryUnknown
	}
}

func classifyAPIError(apiErr *openai.APIError) Category {
	msg := strings.ToLower(apiErr.Message)
	code := ""
	if s, ok := apiErr.Code.(string); ok {
		code = strings.ToLower(s)
	}

	switch {
	case code == "insufficient_quota",
		apiErr.Type == "insufficient_quota",
		strings.Contains(msg, "exceeded your current quota"),
		strings.Contains(msg, "billing"):
		return CategoryQuota
	case strings.Contains(msg, "max_completion_tokens"):
		return CategoryTokenLimitCompletion
	case strings.Contains(msg, "max_prompt_tokens"):
		return CategoryTokenLimitPrompt
	case strings.Contains(msg, "function") &&
		(strings.Contains(msg, "deprecated") || strings.Contains(msg, "not supported")):
		return CategoryLegacyFunctions
	case apiErr.HTTPStatusCode == 404 && strings.Contains(msg, "assistant"):
		return CategoryAssistantNotFound
	case strings.Contains(msg, "while a run") && strings.Contains(msg, "is active"),
		strings.Contains(msg, "already has an active run"):
		return CategoryBusy
	default:
		return CategoryUnknown
	}
}
