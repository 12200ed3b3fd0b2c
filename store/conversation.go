package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// Conversation is one ongoing exchange between a lead and an assistant.
// It owns exactly one remote thread handle; once set, the thread id is
// immutable.
type Conversation struct {
	ID          int32
	UID         string
	LeadID      int32
	AssistantID string
	ThreadID    string
	CreatedTs   int64
	UpdatedTs   int64
}

type FindConversation struct {
	ID       *int32
	UID      *string
	LeadID   *int32
	ThreadID *string
}

type UpdateConversation struct {
	ID        int32
	ThreadID  *string
	UpdatedTs *int64
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = create.CreatedTs
	}
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	conversation, err := s.driver.UpdateConversation(ctx, update)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update conversation")
	}
	return conversation, nil
}
