package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

// SavePending inserts or updates a pending action.
func (s *Store) SavePending(ctx context.Context, p *api.PendingAction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bot_pending_actions (
			token, chat_id, message_id, transaction_id, company, amount, card,
			required_step, chosen_multiplier, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (token) DO UPDATE SET
			message_id        = EXCLUDED.message_id,
			required_step     = EXCLUDED.required_step,
			chosen_multiplier = EXCLUDED.chosen_multiplier,
			expires_at        = EXCLUDED.expires_at`,
		p.Token, p.ChatID, p.MessageID, p.TransactionID, p.Company, p.Amount, p.Card,
		string(p.RequiredStep), p.Multiplier, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%w: saving pending action %s: %w", ErrPersistence, p.Token, err)
	}
	return nil
}

// DeletePending removes a pending action. Missing tokens are not an error.
func (s *Store) DeletePending(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bot_pending_actions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("%w: deleting pending action %s: %w", ErrPersistence, token, err)
	}
	return nil
}

// LoadPending returns every pending action still valid at now.
func (s *Store) LoadPending(ctx context.Context, now time.Time) ([]*api.PendingAction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token, chat_id, message_id, transaction_id, company, amount, card,
		       required_step, chosen_multiplier, created_at, expires_at
		  FROM bot_pending_actions
		 WHERE expires_at > $1
		 ORDER BY created_at`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: loading pending actions: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var pending []*api.PendingAction
	for rows.Next() {
		var (
			p    api.PendingAction
			step string
		)
		err := rows.Scan(
			&p.Token, &p.ChatID, &p.MessageID, &p.TransactionID, &p.Company, &p.Amount, &p.Card,
			&step, &p.Multiplier, &p.CreatedAt, &p.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning pending action: %w", ErrPersistence, err)
		}
		p.RequiredStep = api.Action(step)
		pending = append(pending, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading pending actions: %w", ErrPersistence, err)
	}

	return pending, nil
}

// DeleteExpiredPending removes pending actions that expired at or before now.
func (s *Store) DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bot_pending_actions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting expired pending actions: %w", ErrPersistence, err)
	}
	return tag.RowsAffected(), nil
}
