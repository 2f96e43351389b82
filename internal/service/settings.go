package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/policy"
	"github.com/keepup/cowork/internal/port/database"
)

// SettingsService manages the settings-tier policy document.
type SettingsService struct {
	store database.SettingsStore
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(store database.SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// PutPolicy validates raw as a policy document and stores it under the
// policy settings key. Invalid documents are rejected and never stored, so
// the settings tier cannot be switched into deny-all through this call.
func (s *SettingsService) PutPolicy(ctx context.Context, raw json.RawMessage) (*policy.Config, error) {
	if len(raw) == 0 {
		return nil, domain.Invalidf("policy document is required")
	}
	cfg, err := policy.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	normalized, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal policy: %w", err)
	}
	if err := s.store.UpsertSetting(ctx, policy.SettingsKey, normalized); err != nil {
		return nil, fmt.Errorf("store policy setting: %w", err)
	}
	slog.InfoContext(ctx, "settings policy updated", "name", cfg.Name, "rules", len(cfg.Rules))
	return cfg, nil
}
