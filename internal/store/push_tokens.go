package store

import (
	"context"
	"time"
)

// DevicePushToken is a device registered to receive meeting notifications.
type DevicePushToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // "ios" or "android"
	CreatedAt time.Time `json:"created_at"`
}

// ValidPlatform reports whether p is a supported push platform.
func ValidPlatform(p string) bool {
	return p == "ios" || p == "android"
}

// RegisterPushToken registers or refreshes a device token for a user.
func (s *Store) RegisterPushToken(ctx context.Context, userID, token, platform string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_push_tokens (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token) DO UPDATE SET
			platform = EXCLUDED.platform,
			created_at = NOW()
	`, userID, token, platform)
	return err
}

// UnregisterPushToken removes one of the user's device tokens.
func (s *Store) UnregisterPushToken(ctx context.Context, userID, token string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM device_push_tokens WHERE user_id = $1 AND token = $2
	`, userID, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserPushTokens returns the user's tokens for platform, or for every
// platform when platform is empty.
func (s *Store) GetUserPushTokens(ctx context.Context, userID, platform string) ([]DevicePushToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, token, platform, created_at
		FROM device_push_tokens
		WHERE user_id = $1 AND ($2 = '' OR platform = $2)
		ORDER BY created_at DESC
	`, userID, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []DevicePushToken
	for rows.Next() {
		var t DevicePushToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
