package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// MessageRole indicates who authored a turn.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ChatMessage is one persisted turn of a conversation. Assistant turns
// carry the UID of the user turn they answer in ReplyToUID; synthesized
// turns are pipeline-authored explanations of terminal failures.
type ChatMessage struct {
	ID             int32
	UID            string
	ConversationID int32
	Role           MessageRole
	Content        string
	ReplyToUID     string
	Synthesized    bool
	CreatedTs      int64
}

type FindChatMessage struct {
	ID             *int32
	UID            *string
	ConversationID *int32
	Role           *MessageRole
	ReplyToUID     *string
}

func (s *Store) CreateChatMessage(ctx context.Context, create *ChatMessage) (*ChatMessage, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.CreateChatMessage(ctx, create)
}

func (s *Store) ListChatMessages(ctx context.Context, find *FindChatMessage) ([]*ChatMessage, error) {
	return s.driver.ListChatMessages(ctx, find)
}
