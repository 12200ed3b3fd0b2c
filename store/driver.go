package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Conversation model related methods.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)

	// ChatMessage model related methods.
	CreateChatMessage(ctx context.Context, create *ChatMessage) (*ChatMessage, error)
	ListChatMessages(ctx context.Context, find *FindChatMessage) ([]*ChatMessage, error)

	// LeadActivity model related methods.
	CreateLeadActivity(ctx context.Context, create *LeadActivity) (*LeadActivity, error)
	ListLeadActivities(ctx context.Context, find *FindLeadActivity) ([]*LeadActivity, error)

	// AssistantSetting model related methods.
	GetAssistantSetting(ctx context.Context, assistantID string) (*AssistantSetting, error)
	UpsertAssistantSetting(ctx context.Context, upsert *AssistantSetting) (*AssistantSetting, error)
}
