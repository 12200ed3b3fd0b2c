package store

import (
	"context"
	"time"
)

// AssistantSetting holds per-assistant engine configuration. Token
// limits of zero mean "use the engine default".
type AssistantSetting struct {
	AssistantID         string
	MaxPromptTokens     int32
	MaxCompletionTokens int32
	UpdatedTs           int64
}

// GetAssistantSetting returns the setting for an assistant, or nil when
// none has been configured.
func (s *Store) GetAssistantSetting(ctx context.Context, assistantID string) (*AssistantSetting, error) {
	return s.driver.GetAssistantSetting(ctx, assistantID)
}

func (s *Store) UpsertAssistantSetting(ctx context.Context, upsert *AssistantSetting) (*AssistantSetting, error) {
	if upsert.UpdatedTs == 0 {
		upsert.UpdatedTs = time.Now().Unix()
	}
	return s.driver.UpsertAssistantSetting(ctx, upsert)
}
