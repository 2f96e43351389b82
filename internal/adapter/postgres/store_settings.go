package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keepup/cowork/internal/domain/settings"
)

// GetSetting returns a single setting by key.
func (s *Store) GetSetting(ctx context.Context, key string) (*settings.Setting, error) {
	var st settings.Setting
	err := s.pool.QueryRow(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = $1`,
		key).Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get setting %s", key)
	}
	return &st, nil
}

// UpsertSetting inserts or replaces a single setting.
func (s *Store) UpsertSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, []byte(value))
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
