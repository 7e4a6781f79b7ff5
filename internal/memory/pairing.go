package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"deskpilot/internal/domain"
)

var _ domain.PairingStore = (*SQLiteStore)(nil)

// PairUser stores u, replacing an earlier pairing of the same user.
func (s *SQLiteStore) PairUser(ctx context.Context, u domain.PairedUser) error {
	var expires any
	if u.ExpiresAt != nil {
		expires = u.ExpiresAt.UTC()
	}
	if u.PairedAt.IsZero() {
		u.PairedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO paired_users (channel, user_id, paired_at, expires_at)
		 VALUES (?, ?, ?, ?)`,
		u.Channel, u.UserID, u.PairedAt.UTC(), expires,
	)
	if err != nil {
		return fmt.Errorf("pair %s:%s: %w", u.Channel, u.UserID, err)
	}
	return nil
}

// IsPaired reports whether the user holds a pairing that is unexpired at at.
func (s *SQLiteStore) IsPaired(ctx context.Context, channel, userID string, at time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM paired_users
		 WHERE channel = ? AND user_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		channel, userID, at.UTC(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pairing: %w", err)
	}
	return count > 0, nil
}

// Unpair removes the user's pairing and reports whether one existed.
func (s *SQLiteStore) Unpair(ctx context.Context, channel, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM paired_users WHERE channel = ? AND user_id = ?`, channel, userID)
	if err != nil {
		return false, fmt.Errorf("unpair %s:%s: %w", channel, userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PairedUsers lists every stored pairing, expired ones included, oldest first.
func (s *SQLiteStore) PairedUsers(ctx context.Context) ([]domain.PairedUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, user_id, paired_at, expires_at FROM paired_users ORDER BY paired_at, channel, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.PairedUser
	for rows.Next() {
		var u domain.PairedUser
		var expires sql.NullTime
		if err := rows.Scan(&u.Channel, &u.UserID, &u.PairedAt, &expires); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			u.ExpiresAt = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
