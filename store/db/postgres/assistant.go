package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leadpilot/leadpilot/store"
)

func (d *DB) GetAssistantSetting(ctx context.Context, assistantID string) (*store.AssistantSetting, error) {
	query := `
		SELECT assistant_id, max_prompt_tokens, max_completion_tokens, updated_ts
		FROM assistant_setting
		WHERE assistant_id = $1`

	setting := &store.AssistantSetting{}
	err := d.db.QueryRowContext(ctx, query, assistantID).Scan(
		&setting.AssistantID, &setting.MaxPromptTokens, &setting.MaxCompletionTokens, &setting.UpdatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assistant_setting: %w", err)
	}

	return setting, nil
}

func (d *DB) UpsertAssistantSetting(ctx context.Context, upsert *store.AssistantSetting) (*store.AssistantSetting, error) {
	stmt := `
		INSERT INTO assistant_setting (assistant_id, max_prompt_tokens, max_completion_tokens, updated_ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (assistant_id) DO UPDATE SET
			max_prompt_tokens = EXCLUDED.max_prompt_tokens,
			max_completion_tokens = EXCLUDED.max_completion_tokens,
			updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.AssistantID, upsert.MaxPromptTokens, upsert.MaxCompletionTokens, upsert.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert assistant_setting: %w", err)
	}

	return upsert, nil
}
