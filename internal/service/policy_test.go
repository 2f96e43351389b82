package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/domain/policy"
	"github.com/keepup/cowork/internal/service"
)

const repoDoc = `{
  // checked in by the team
  "version": 1,
  "name": "repo",
  "defaults": {"file": "allow", "network": "deny", "connector": "allow"},
  "rules": [
    {"id": "confirm-delete", "match": {"kind": "file", "intents": ["delete"]}, "decision": "allow_with_confirm", "riskTags": ["delete"]}
  ]
}`

const settingsDoc = `{"version":1,"name":"org","defaults":{"file":"allow","network":"allow","connector":"allow"},"rules":[]}`

func writeRepoPolicy(t *testing.T, root, body string) {
	t.Helper()
	path := policy.RepoPolicyPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveDefault(t *testing.T) {
	r := service.NewPolicyResolver(newMemStore(), &syncAudit{}, nil, 0)

	res := r.Resolve(context.Background(), t.TempDir(), service.AuditContext{SessionID: "s1"})
	if res.Source != policy.SourceDefault {
		t.Fatalf("source = %q, want default", res.Source)
	}
	want, _ := policy.ContentHash(policy.Default())
	if res.ContentHash != want {
		t.Errorf("hash = %q, want %q", res.ContentHash, want)
	}
	if res.Reason != "" {
		t.Errorf("reason = %q, want empty", res.Reason)
	}
}

func TestResolveRepoWinsOverSettings(t *testing.T) {
	store := newMemStore()
	store.settings[policy.SettingsKey] = []byte(settingsDoc)
	root := t.TempDir()
	writeRepoPolicy(t, root, repoDoc)

	r := service.NewPolicyResolver(store, &syncAudit{}, nil, 0)
	res := r.Resolve(context.Background(), root, service.AuditContext{})
	if res.Source != policy.SourceRepo {
		t.Fatalf("source = %q, want repo", res.Source)
	}
	if res.Config.Name != "repo" {
		t.Errorf("name = %q", res.Config.Name)
	}
}

func TestResolveSettings(t *testing.T) {
	store := newMemStore()
	store.settings[policy.SettingsKey] = []byte(settingsDoc)

	r := service.NewPolicyResolver(store, &syncAudit{}, nil, 0)
	res := r.Resolve(context.Background(), t.TempDir(), service.AuditContext{})
	if res.Source != policy.SourceSettings {
		t.Fatalf("source = %q, want settings", res.Source)
	}
	if res.Config.Name != "org" {
		t.Errorf("name = %q", res.Config.Name)
	}
}

func TestResolveEmptyRootSkipsRepoTier(t *testing.T) {
	r := service.NewPolicyResolver(newMemStore(), &syncAudit{}, nil, 0)
	res := r.Resolve(context.Background(), "", service.AuditContext{})
	if res.Source != policy.SourceDefault {
		t.Fatalf("source = %q, want default", res.Source)
	}
}

func TestResolveFailClosed(t *testing.T) {
	denyHash, _ := policy.ContentHash(policy.DenyAll())

	tests := []struct {
		name       string
		repo       string
		settings   string
		settingErr error
		wantReason string
	}{
		{name: "repo syntax error", repo: `{"version": 1,`, wantReason: "repo policy"},
		{name: "repo schema error", repo: `{"version":1,"name":"x","defaults":{"file":"allow","network":"allow","connector":"allow"},"extra":true}`, wantReason: "repo policy"},
		{name: "repo unknown verdict", repo: `{"version":1,"name":"x","defaults":{"file":"maybe","network":"allow","connector":"allow"}}`, wantReason: "repo policy"},
		{name: "invalid repo does not fall through to valid settings", repo: `not json`, settings: settingsDoc, wantReason: "repo policy"},
		{name: "settings invalid", settings: `{"version":2}`, wantReason: "settings policy invalid"},
		{name: "settings store error", settingErr: errBoom, wantReason: "settings policy unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.settingsErr = tt.settingErr
			if tt.settings != "" {
				store.settings[policy.SettingsKey] = []byte(tt.settings)
			}
			root := t.TempDir()
			if tt.repo != "" {
				writeRepoPolicy(t, root, tt.repo)
			}
			al := &syncAudit{}

			r := service.NewPolicyResolver(store, al, nil, 0)
			res := r.Resolve(context.Background(), root, service.AuditContext{SessionID: "s1", TaskID: "t1"})

			if res.Source != policy.SourceDenyAll {
				t.Fatalf("source = %q, want deny_all", res.Source)
			}
			if !strings.Contains(res.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to mention %q", res.Reason, tt.wantReason)
			}
			if res.ContentHash != denyHash {
				t.Errorf("deny-all hash differs: %q", res.ContentHash)
			}
			if len(res.Config.Rules) != 0 {
				t.Errorf("deny-all has rules: %+v", res.Config.Rules)
			}

			entries := al.all()
			if len(entries) != 1 {
				t.Fatalf("audit entries = %d, want 1", len(entries))
			}
			e := entries[0]
			if e.Action != audit.ActionPolicyDecision || e.Outcome != audit.OutcomeDenied {
				t.Errorf("entry = %+v", e)
			}
			if e.SessionID != "s1" || e.TaskID != "t1" {
				t.Errorf("entry ids = %q/%q", e.SessionID, e.TaskID)
			}
			if e.Reason != res.Reason {
				t.Errorf("entry reason = %q, want %q", e.Reason, res.Reason)
			}
		})
	}
}

func TestResolveFailClosedWithoutSessionNotAudited(t *testing.T) {
	root := t.TempDir()
	writeRepoPolicy(t, root, `{`)
	al := &syncAudit{}

	r := service.NewPolicyResolver(newMemStore(), al, nil, 0)
	res := r.Resolve(context.Background(), root, service.AuditContext{})
	if res.Source != policy.SourceDenyAll {
		t.Fatalf("source = %q", res.Source)
	}
	if n := len(al.all()); n != 0 {
		t.Errorf("audit entries = %d, want 0", n)
	}
}

func TestResolveCachesParsedDocuments(t *testing.T) {
	store := newMemStore()
	store.settings[policy.SettingsKey] = []byte(settingsDoc)
	c := newMapCache()

	r := service.NewPolicyResolver(store, &syncAudit{}, c, time.Minute)
	for range 3 {
		res := r.Resolve(context.Background(), "", service.AuditContext{})
		if res.Source != policy.SourceSettings {
			t.Fatalf("source = %q", res.Source)
		}
	}
	if c.sets != 1 {
		t.Errorf("cache sets = %d, want 1", c.sets)
	}

	// A changed document is a different key and is picked up immediately.
	store.settings[policy.SettingsKey] = []byte(`{"version":1,"name":"changed","defaults":{"file":"deny","network":"deny","connector":"deny"}}`)
	res := r.Resolve(context.Background(), "", service.AuditContext{})
	if res.Config.Name != "changed" {
		t.Errorf("name = %q, want changed", res.Config.Name)
	}
}

func TestResolveCachesInvalidDocuments(t *testing.T) {
	store := newMemStore()
	store.settings[policy.SettingsKey] = []byte(`{"version":9}`)
	c := newMapCache()

	r := service.NewPolicyResolver(store, &syncAudit{}, c, time.Minute)
	for range 2 {
		res := r.Resolve(context.Background(), "", service.AuditContext{})
		if res.Source != policy.SourceDenyAll {
			t.Fatalf("source = %q", res.Source)
		}
	}
	if c.sets != 1 {
		t.Errorf("cache sets = %d, want 1", c.sets)
	}
}

func TestExportWritesEffectivePolicy(t *testing.T) {
	store := newMemStore()
	store.settings[policy.SettingsKey] = []byte(settingsDoc)
	root := t.TempDir()

	r := service.NewPolicyResolver(store, &syncAudit{}, nil, 0)
	out, err := r.Export(context.Background(), root, service.AuditContext{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if out.Source != policy.SourceSettings {
		t.Errorf("source = %q", out.Source)
	}
	if out.Path != policy.RepoPolicyPath(root) {
		t.Errorf("path = %q", out.Path)
	}

	res := r.Resolve(context.Background(), root, service.AuditContext{})
	if res.Source != policy.SourceRepo {
		t.Fatalf("after export source = %q, want repo", res.Source)
	}
	if res.Config.Name != "org" {
		t.Errorf("exported name = %q", res.Config.Name)
	}
}

func TestExportRefusesDenyAll(t *testing.T) {
	root := t.TempDir()
	broken := `{"version": 1, "name": `
	writeRepoPolicy(t, root, broken)

	r := service.NewPolicyResolver(newMemStore(), &syncAudit{}, nil, 0)
	_, err := r.Export(context.Background(), root, service.AuditContext{})
	if !errors.Is(err, service.ErrExportDenyAll) {
		t.Fatalf("err = %v, want ErrExportDenyAll", err)
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err should map to a validation error: %v", err)
	}

	data, rerr := os.ReadFile(policy.RepoPolicyPath(root))
	if rerr != nil {
		t.Fatal(rerr)
	}
	if string(data) != broken {
		t.Errorf("repo file was modified: %q", data)
	}
}

func TestExportRequiresRoot(t *testing.T) {
	r := service.NewPolicyResolver(newMemStore(), &syncAudit{}, nil, 0)
	if _, err := r.Export(context.Background(), "", service.AuditContext{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSettingsPutPolicy(t *testing.T) {
	store := newMemStore()
	svc := service.NewSettingsService(store)

	cfg, err := svc.PutPolicy(context.Background(), []byte(settingsDoc))
	if err != nil {
		t.Fatalf("PutPolicy: %v", err)
	}
	if cfg.Name != "org" {
		t.Errorf("name = %q", cfg.Name)
	}
	if _, ok := store.settings[policy.SettingsKey]; !ok {
		t.Fatal("setting not stored")
	}

	if _, err := svc.PutPolicy(context.Background(), []byte(`{"version":1}`)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("invalid doc err = %v, want ErrValidation", err)
	}
	if _, err := svc.PutPolicy(context.Background(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty doc err = %v, want ErrValidation", err)
	}

	r := service.NewPolicyResolver(store, &syncAudit{}, nil, 0)
	if res := r.Resolve(context.Background(), "", service.AuditContext{}); res.Source != policy.SourceSettings {
		t.Errorf("source after put = %q", res.Source)
	}
}
