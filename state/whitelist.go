package state

import (
	"context"
	"time"
)

// LoadWhitelist returns every authorized requester id.
func (s *Store) LoadWhitelist(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM authorized_users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AuthorizeUser adds or updates a whitelist entry.
func (s *Store) AuthorizeUser(ctx context.Context, userID int64, note string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO authorized_users (user_id, note, created_at) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET note = excluded.note`), userID, note, time.Now().UTC())
	return err
}

// RevokeUser removes a whitelist entry; removing an absent user is not an error.
func (s *Store) RevokeUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM authorized_users WHERE user_id = ?`), userID)
	return err
}
