package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, CategoryNone, Classify(nil))
}

func TestClassifyDeadline(t *testing.T) {
	assert.Equal(t, CategoryTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, CategoryTimeout, Classify(fmt.Errorf("retrieve run: %w", context.DeadlineExceeded)))
}

func TestClassifyAPIErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *openai.APIError
		want Category
	}{
		{
			name: "quota by code",
			err:  &openai.APIError{Code: "insufficient_quota", Message: "You exceeded your current quota"},
			want: CategoryQuota,
		},
		{
			name: "quota by message",
			err:  &openai.APIError{HTTPStatusCode: 429, Message: "Billing hard limit has been reached"},
			want: CategoryQuota,
		},
		{
			name: "completion token limit",
			err:  &openai.APIError{Message: "Run failed: max_completion_tokens reached"},
			want: CategoryTokenLimitCompletion,
		},
		{
			name: "prompt token limit",
			err:  &openai.APIError{Message: "Run failed: max_prompt_tokens reached"},
			want: CategoryTokenLimitPrompt,
		},
		{
			name: "legacy functions",
			err:  &openai.APIError{Message: "The 'function' tool type is deprecated for this assistant"},
			want: CategoryLegacyFunctions,
		},
		{
			name: "assistant deleted upstream",
			err:  &openai.APIError{HTTPStatusCode: 404, Message: "No assistant found with id 'asst_123'"},
			want: CategoryAssistantNotFound,
		},
		{
			name: "thread busy",
			err:  &openai.APIError{Message: "Can't add messages to thread while a run run_1 is active"},
			want: CategoryBusy,
		},
		{
			name: "unclassified server error",
			err:  &openai.APIError{HTTPStatusCode: 500, Message: "The server had an error"},
			want: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			// Wrapping must not change the classification.
			assert.Equal(t, tt.want, Classify(fmt.Errorf("dispatch: %w", tt.err)))
		})
	}
}

func TestClassifyRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		failure *RunFailure
		want    Category
	}{
		{
			name:    "quota exhausted run",
			failure: &RunFailure{Status: "failed", Code: "rate_limit_exceeded", Message: "You exceeded your current quota"},
			want:    CategoryQuota,
		},
		{
			name:    "expired run",
			failure: &RunFailure{Status: "expired"},
			want:    CategoryTimeout,
		},
		{
			name:    "incomplete run",
			failure: &RunFailure{Status: "incomplete"},
			want:    CategoryTokenLimitCompletion,
		},
		{
			name:    "prompt limit run",
			failure: &RunFailure{Status: "incomplete", Code: "max_prompt_tokens"},
			want:    CategoryTokenLimitPrompt,
		},
		{
			name:    "requires action means stale tooling",
			failure: &RunFailure{Status: "requires_action"},
			want:    CategoryLegacyFunctions,
		},
		{
			name:    "cancelled by takeover",
			failure: &RunFailure{Status: "cancelled"},
			want:    CategorySuperseded,
		},
		{
			name:    "failed without detail",
			failure: &RunFailure{Status: "failed", Code: "server_error"},
			want:    CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.failure))
		})
	}
}

func TestClassifyUnknownError(t *testing.T) {
	assert.Equal(t, CategoryUnknown, Classify(errors.New("connection reset by peer")))
}

func TestTerminalCategories(t *testing.T) {
	terminal := []Category{
		CategoryQuota, CategoryTimeout, CategoryTokenLimitCompletion,
		CategoryTokenLimitPrompt, CategoryLegacyFunctions,
		CategoryAssistantNotFound, CategorySuperseded,
	}
	for _, c := range terminal {
		assert.True(t, c.IsTerminal(), c.String())
	}

	for _, c := range []Category{CategoryNone, CategoryBusy, CategoryUnknown} {
		assert.False(t, c.IsTerminal(), c.String())
	}
}

func TestSynthesizedReplies(t *testing.T) {
	withReply := []Category{
		CategoryQuota, CategoryTimeout, CategoryTokenLimitCompletion,
		CategoryTokenLimitPrompt, CategoryLegacyFunctions, CategoryAssistantNotFound,
	}
	for _, c := range withReply {
		assert.NotEmpty(t, SynthesizedReply(c), c.String())
	}

	// Retryable categories and superseded runs stay silent.
	assert.Empty(t, SynthesizedReply(CategoryUnknown))
	assert.Empty(t, SynthesizedReply(CategoryBusy))
	assert.Empty(t, SynthesizedReply(CategorySuperseded))

	// The two token-limit replies must be distinguishable.
	assert.NotEqual(t,
		SynthesizedReply(CategoryTokenLimitCompletion),
		SynthesizedReply(CategoryTokenLimitPrompt),
	)
}
