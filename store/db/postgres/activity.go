package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadpilot/leadpilot/store"
)

func (d *DB) CreateLeadActivity(ctx context.Context, create *store.LeadActivity) (*store.LeadActivity, error) {
	fields := []string{"lead_id", "kind", "payload", "created_ts"}
	args := []any{create.LeadID, create.Kind, create.Payload, create.CreatedTs}

	stmt := `INSERT INTO lead_activity (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create lead_activity: %w", err)
	}

	return create, nil
}

func (d *DB) ListLeadActivities(ctx context.Context, find *store.FindLeadActivity) ([]*store.LeadActivity, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.LeadID != nil {
		where, args = append(where, "lead_id = "+placeholder(len(args)+1)), append(args, *find.LeadID)
	}
	if find.Kind != nil {
		where, args = append(where, "kind = "+placeholder(len(args)+1)), append(args, *find.Kind)
	}

	query := `
		SELECT id, lead_id, kind, payload, created_ts
		FROM lead_activity
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lead_activities: %w", err)
	}
	defer rows.Close()

	list := make([]*store.LeadActivity, 0)
	for rows.Next() {
		a := &store.LeadActivity{}
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Kind, &a.Payload, &a.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan lead_activity: %w", err)
		}
		list = append(list, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead_activities: %w", err)
	}

	return list, nil
}
