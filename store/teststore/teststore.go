// Package teststore provides an in-memory store.Driver for tests.
package teststore

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"

	"github.com/leadpilot/leadpilot/store"
)

// Driver keeps all rows in memory. Filtering mirrors the SQL drivers'
// find semantics closely enough for pipeline and façade tests.
type Driver struct {
	mu            sync.Mutex
	nextID        int32
	conversations []*store.Conversation
	messages      []*store.ChatMessage
	activities    []*store.LeadActivity
	settings      map[string]*store.AssistantSetting
}

func New() *Driver {
	return &Driver{settings: map[string]*store.AssistantSetting{}}
}

func (d *Driver) GetDB() *sql.DB                  { return nil }
func (d *Driver) Close() error                    { return nil }
func (d *Driver) Migrate(_ context.Context) error { return nil }

func (d *Driver) CreateConversation(_ context.Context, create *store.Conversation) (*store.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	create.ID = d.nextID
	d.conversations = append(d.conversations, create)
	return create, nil
}

func (d *Driver) ListConversations(_ context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*store.Conversation
	for _, c := range d.conversations {
		if find.ID != nil && c.ID != *find.ID {
			continue
		}
		if find.UID != nil && c.UID != *find.UID {
			continue
		}
		if find.LeadID != nil && c.LeadID != *find.LeadID {
			continue
		}
		if find.ThreadID != nil && c.ThreadID != *find.ThreadID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (d *Driver) UpdateConversation(_ context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conversations {
		if c.ID == update.ID {
			if update.ThreadID != nil {
				c.ThreadID = *update.ThreadID
			}
			if update.UpdatedTs != nil {
				c.UpdatedTs = *update.UpdatedTs
			}
			return c, nil
		}
	}
	return nil, errors.New("conversation not found")
}

func (d *Driver) CreateChatMessage(_ context.Context, create *store.ChatMessage) (*store.ChatMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	create.ID = d.nextID
	d.messages = append(d.messages, create)
	return create, nil
}

func (d *Driver) ListChatMessages(_ context.Context, find *store.FindChatMessage) ([]*store.ChatMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*store.ChatMessage
	for _, m := range d.messages {
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.UID != nil && m.UID != *find.UID {
			continue
		}
		if find.ConversationID != nil && m.ConversationID != *find.ConversationID {
			continue
		}
		if find.Role != nil && m.Role != *find.Role {
			continue
		}
		if find.ReplyToUID != nil && m.ReplyToUID != *find.ReplyToUID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *Driver) CreateLeadActivity(_ context.Context, create *store.LeadActivity) (*store.LeadActivity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	create.ID = d.nextID
	d.activities = append(d.activities, create)
	return create, nil
}

func (d *Driver) ListLeadActivities(_ context.Context, find *store.FindLeadActivity) ([]*store.LeadActivity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*store.LeadActivity
	for _, a := range d.activities {
		if find.LeadID != nil && a.LeadID != *find.LeadID {
			continue
		}
		if find.Kind != nil && a.Kind != *find.Kind {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (d *Driver) GetAssistantSetting(_ context.Context, assistantID string) (*store.AssistantSetting, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings[assistantID], nil
}

func (d *Driver) UpsertAssistantSetting(_ context.Context, upsert *store.AssistantSetting) (*store.AssistantSetting, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings[upsert.AssistantID] = upsert
	return upsert, nil
}

// Messages returns a snapshot of all persisted chat messages.
func (d *Driver) Messages() []*store.ChatMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*store.ChatMessage, len(d.messages))
	copy(out, d.messages)
	return out
}

// Activities returns a snapshot of all persisted lead activities.
func (d *Driver) Activities() []*store.LeadActivity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*store.LeadActivity, len(d.activities))
	copy(out, d.activities)
	return out
}
