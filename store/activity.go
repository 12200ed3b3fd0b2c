package store

import (
	"context"
	"time"
)

// ActivityKind classifies a lead timeline event.
type ActivityKind string

const (
	ActivityAssistantReplied ActivityKind = "assistant_replied"
	ActivityAssistantFailed  ActivityKind = "assistant_failed"
)

// LeadActivity is one timeline event on a lead record.
type LeadActivity struct {
	ID        int32
	LeadID    int32
	Kind      ActivityKind
	Payload   string
	CreatedTs int64
}

type FindLeadActivity struct {
	LeadID *int32
	Kind   *ActivityKind
}

func (s *Store) CreateLeadActivity(ctx context.Context, create *LeadActivity) (*LeadActivity, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	return s.driver.CreateLeadActivity(ctx, create)
}

func (s *Store) ListLeadActivities(ctx context.Context, find *FindLeadActivity) ([]*LeadActivity, error) {
	return s.driver.ListLeadActivities(ctx, find)
}
