package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Config configures the OpenAI-backed engine.
type Config struct {
	APIKey  string
	BaseURL string
	// CallTimeout bounds every engine call, run polling included. The
	// lock TTL is the recommended value so a stuck remote call can
	// never outlive its thread lock.
	CallTimeout time.Duration
	// RequestsPerSecond rate-limits run starts across workers of this
	// process. Zero disables limiting.
	RequestsPerSecond float64
}

// OpenAIEngine implements Engine over the OpenAI assistants API.
type OpenAIEngine struct {
	client  *openai.Client
	timeout time.Duration
	limiter *rate.Limiter
}

var _ Engine = (*OpenAIEngine)(nil)

func NewOpenAIEngine(cfg Config) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("engine api key required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 300 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAIEngine{
		client:  openai.NewClientWithConfig(clientConfig),
		timeout: cfg.CallTimeout,
		limiter: limiter,
	}, nil
}

func (e *OpenAIEngine) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

func (e *OpenAIEngine) CreateThread(ctx context.Context) (string, error) {
	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	thread, err := e.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (e *OpenAIEngine) AddMessage(ctx context.Context, threadID, content string) (string, error) {
	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	msg, err := e.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (e *OpenAIEngine) StartRun(ctx context.Context, threadID, assistantID string, maxPromptTokens, maxCompletionTokens int) (string, error) {
	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req := openai.RunRequest{AssistantID: assistantID}
	if maxPromptTokens > 0 {
		req.MaxPromptTokens = maxPromptTokens
	}
	if maxCompletionTokens > 0 {
		req.MaxCompletionTokens = maxCompletionTokens
	}

	run, err := e.client.CreateRun(ctx, threadID, req)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// WaitRun polls the run with a growing interval until it reaches a
// terminal status or the call deadline expires.
func (e *OpenAIEngine) WaitRun(ctx context.Context, threadID, runID string) error {
	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	interval := 500 * time.Millisecond
	for {
		run, err := e.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return err
		}

		switch run.Status {
		case openai.RunStatusCompleted:
			return nil
		case openai.RunStatusQueued, openai.RunStatusInProgress:
			// keep polling
		default:
			failure := &RunFailure{Status: string(run.Status)}
			if run.LastError != nil {
				failure.Code = string(run.LastError.Code)
				failure.Message = run.LastError.Message
			}
			return failure
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval += interval / 2
		if interval > 3*time.Second {
			interval = 3 * time.Second
		}
	}
}

func (e *OpenAIEngine) CancelRun(ctx context.Context, threadID, runID string) error {
	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	_, err := e.client.CancelRun(ctx, threadID, runID)
	return err
}

func (e *OpenAIEngine) LatestAssistantMessage(ctx context.Context, threadID string) (string, string, error) {
	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	limit := 1
	order := "desc"
	list, err := e.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", "", err
	}
	if len(list.Messages) == 0 {
		return "", "", errors.New("thread has no messages")
	}

	msg := list.Messages[0]
	if msg.Role != openai.ChatMessageRoleAssistant {
		return "", "", errors.Errorf("latest message on thread %s is %q, not assistant", threadID, msg.Role)
	}

	content := ""
	for _, part := range msg.Content {
		if part.Text != nil {
			content += part.Text.Value
		}
	}
	return msg.ID, content, nil
}
