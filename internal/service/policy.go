package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	cfotel "github.com/keepup/cowork/internal/adapter/otel"
	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/domain/policy"
	"github.com/keepup/cowork/internal/port/cache"
	"github.com/keepup/cowork/internal/port/database"
)

// ErrExportDenyAll is returned when an export is attempted while the
// workspace resolves to the fail-closed policy.
var ErrExportDenyAll = fmt.Errorf("%w: effective policy is deny-all, export refused", domain.ErrValidation)

// AuditLogger accepts ledger entries without blocking the caller.
type AuditLogger interface {
	Log(ctx context.Context, e *audit.Entry)
}

// AuditContext identifies who a resolution is performed for. When SessionID
// is empty fallbacks are logged but not written to the ledger.
type AuditContext struct {
	SessionID string
	TaskID    string
}

// resolveToolName is the audit toolName used for resolution fallbacks.
const resolveToolName = "policy.resolve"

// PolicyResolver determines the effective policy of a workspace:
// repo file, then settings, then the built-in default. Any invalid tier
// yields the deny-all policy rather than falling through to a more
// permissive one.
type PolicyResolver struct {
	settings database.SettingsStore
	audit    AuditLogger
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewPolicyResolver creates a PolicyResolver. parsed may be nil to disable
// the parsed-document cache.
func NewPolicyResolver(settings database.SettingsStore, auditLog AuditLogger, parsed cache.Cache, cacheTTL time.Duration) *PolicyResolver {
	return &PolicyResolver{
		settings: settings,
		audit:    auditLog,
		cache:    parsed,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Resolve returns the effective policy for workspaceRoot. It never fails:
// errors in any tier are absorbed into a deny-all resolution whose reason
// names the tier and the error.
func (r *PolicyResolver) Resolve(ctx context.Context, workspaceRoot string, actx AuditContext) *policy.Resolution {
	ctx, span := cfotel.StartResolveSpan(ctx, workspaceRoot)
	defer span.End()

	if workspaceRoot != "" {
		path := policy.RepoPolicyPath(workspaceRoot)
		data, err := os.ReadFile(path) //nolint:gosec // G304: path derives from the session's workspace root
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return r.failClosed(ctx, workspaceRoot, actx, fmt.Sprintf("repo policy %s unreadable: %v", path, err))
		default:
			cfg, perr := r.parse(ctx, data)
			if perr != nil {
				return r.failClosed(ctx, workspaceRoot, actx, fmt.Sprintf("repo policy %s invalid: %v", path, perr))
			}
			return r.resolution(ctx, workspaceRoot, actx, cfg, policy.SourceRepo)
		}
	}

	st, err := r.settings.GetSetting(ctx, policy.SettingsKey)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return r.failClosed(ctx, workspaceRoot, actx, fmt.Sprintf("settings policy unavailable: %v", err))
	default:
		cfg, perr := r.parse(ctx, st.Value)
		if perr != nil {
			return r.failClosed(ctx, workspaceRoot, actx, fmt.Sprintf("settings policy invalid: %v", perr))
		}
		return r.resolution(ctx, workspaceRoot, actx, cfg, policy.SourceSettings)
	}

	return r.resolution(ctx, workspaceRoot, actx, policy.Default(), policy.SourceDefault)
}

func (r *PolicyResolver) resolution(ctx context.Context, root string, actx AuditContext, cfg *policy.Config, src policy.Source) *policy.Resolution {
	hash, err := policy.ContentHash(cfg)
	if err != nil {
		return r.failClosed(ctx, root, actx, fmt.Sprintf("%s policy unhashable: %v", src, err))
	}
	return &policy.Resolution{Config: cfg, Source: src, ContentHash: hash}
}

func (r *PolicyResolver) failClosed(ctx context.Context, root string, actx AuditContext, reason string) *policy.Resolution {
	slog.WarnContext(ctx, "policy resolution failed closed",
		"workspace_root", root,
		"session_id", actx.SessionID,
		"reason", reason,
	)
	if actx.SessionID != "" && r.audit != nil {
		r.audit.Log(ctx, &audit.Entry{
			ID:             uuid.NewString(),
			SessionID:      actx.SessionID,
			TaskID:         actx.TaskID,
			Timestamp:      r.now().UTC(),
			Action:         audit.ActionPolicyDecision,
			ToolName:       resolveToolName,
			Input:          map[string]any{"workspaceRoot": root},
			PolicyDecision: string(policy.VerdictDeny),
			RiskTags:       []string{},
			Reason:         reason,
			Outcome:        audit.OutcomeDenied,
			SchemaVersion:  audit.SchemaVersion,
		})
	}
	cfg := policy.DenyAll()
	hash, _ := policy.ContentHash(cfg)
	return &policy.Resolution{Config: cfg, Source: policy.SourceDenyAll, Reason: reason, ContentHash: hash}
}

// cachedParse is the cache envelope for a parsed document. Invalid
// documents are cached too, so repeated checks against a broken file do not
// re-run schema validation.
type cachedParse struct {
	Config *policy.Config `json:"config,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// parse validates a raw document, consulting the content-addressed cache.
// A cache entry can only be hit by byte-identical input, so it cannot
// return a stale grant.
func (r *PolicyResolver) parse(ctx context.Context, data []byte) (*policy.Config, error) {
	if r.cache == nil {
		return policy.Parse(data)
	}
	key := "policy:" + policy.RawKey(data)
	if raw, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		var env cachedParse
		if json.Unmarshal(raw, &env) == nil {
			if env.Error != "" {
				return nil, errors.New(env.Error)
			}
			if env.Config != nil {
				return env.Config, nil
			}
		}
	} else if err != nil {
		slog.DebugContext(ctx, "policy cache get failed", "error", err)
	}

	cfg, perr := policy.Parse(data)
	env := cachedParse{Config: cfg}
	if perr != nil {
		env = cachedParse{Error: perr.Error()}
	}
	if raw, err := json.Marshal(env); err == nil {
		if err := r.cache.Set(ctx, key, raw, r.cacheTTL); err != nil {
			slog.DebugContext(ctx, "policy cache set failed", "error", err)
		}
	}
	return cfg, perr
}

// ExportResult describes a completed export.
type ExportResult struct {
	Source policy.Source `json:"source"`
	Path   string        `json:"path"`
}

// exportLockRetry is the polling interval while waiting for the export lock.
const exportLockRetry = 25 * time.Millisecond

// Export writes the effective policy of workspaceRoot to its repo policy
// file. The policy is resolved fresh, and a deny-all result is refused so a
// broken configuration never overwrites a working file.
func (r *PolicyResolver) Export(ctx context.Context, workspaceRoot string, actx AuditContext) (*ExportResult, error) {
	if workspaceRoot == "" {
		return nil, domain.Invalidf("policy export: workspace root is required")
	}
	res := r.Resolve(ctx, workspaceRoot, actx)
	if res.Source == policy.SourceDenyAll {
		return nil, fmt.Errorf("%w (%s)", ErrExportDenyAll, res.Reason)
	}

	data, err := policy.Marshal(res.Config)
	if err != nil {
		return nil, err
	}
	path := policy.RepoPolicyPath(workspaceRoot)
	if err := writeFileAtomic(ctx, path, data); err != nil {
		return nil, fmt.Errorf("policy export: %w", err)
	}
	slog.InfoContext(ctx, "policy exported", "path", path, "source", res.Source, "content_hash", res.ContentHash)
	return &ExportResult{Source: res.Source, Path: path}, nil
}

// writeFileAtomic replaces path with data via a temp file and rename while
// holding an exclusive lock on path+".lock".
func writeFileAtomic(ctx context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, exportLockRetry)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: %w", path, domain.ErrConflict)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, ".policy-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
