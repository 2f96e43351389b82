package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/keepup/cowork/internal/adapter/sqlite"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/port/database/databasetest"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStoreCompliance(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "cowork.db"))
	databasetest.RunComplianceTests(t, s)
}

func TestReopenKeepsDataAndSkipsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cowork.db")
	ctx := context.Background()

	first, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	e := &audit.Entry{ID: "e1", SessionID: "s1", Timestamp: time.Now(), Action: audit.ActionPolicyDecision, RiskTags: []string{}, Outcome: audit.OutcomeSuccess, SchemaVersion: audit.SchemaVersion}
	if err := first.AppendAudit(ctx, e); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := openStore(t, path)
	got, err := second.QueryAudit(ctx, audit.Filter{SessionID: "s1", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Errorf("entries after reopen = %+v", got)
	}
}
