package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/approval"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/domain/session"
	"github.com/keepup/cowork/internal/domain/settings"
)

// Timestamps are stored as Unix nanoseconds in UTC.

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func decodeTags(s string) ([]string, error) {
	tags := []string{}
	if s == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, fmt.Errorf("decode risk tags: %w", err)
	}
	return tags, nil
}

// --- Sessions ---

type sessionRow struct {
	ID                   string       `db:"id"`
	WorkspaceRoot        string       `db:"workspace_root"`
	CaseInsensitivePaths sql.NullBool `db:"case_insensitive_paths"`
	CreatedAt            int64        `db:"created_at"`
}

// CreateSession inserts a session.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	var flag sql.NullBool
	if sess.CaseInsensitivePaths != nil {
		flag = sql.NullBool{Bool: *sess.CaseInsensitivePaths, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, workspace_root, case_insensitive_paths, created_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.WorkspaceRoot, flag, toNanos(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row,
		`SELECT id, workspace_root, case_insensitive_paths, created_at FROM sessions WHERE id = ?`, id); err != nil {
		return nil, notFoundWrap(err, "get session %s", id)
	}
	sess := &session.Session{ID: row.ID, WorkspaceRoot: row.WorkspaceRoot, CreatedAt: fromNanos(row.CreatedAt)}
	if row.CaseInsensitivePaths.Valid {
		v := row.CaseInsensitivePaths.Bool
		sess.CaseInsensitivePaths = &v
	}
	return sess, nil
}

// --- Settings ---

type settingRow struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// GetSetting returns a single setting by key.
func (s *Store) GetSetting(ctx context.Context, key string) (*settings.Setting, error) {
	var row settingRow
	if err := s.db.GetContext(ctx, &row, `SELECT key, value, updated_at FROM settings WHERE key = ?`, key); err != nil {
		return nil, notFoundWrap(err, "get setting %s", key)
	}
	return &settings.Setting{Key: row.Key, Value: json.RawMessage(row.Value), UpdatedAt: fromNanos(row.UpdatedAt)}, nil
}

// UpsertSetting inserts or replaces a single setting.
func (s *Store) UpsertSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// --- Approvals ---

type approvalRow struct {
	ID         string        `db:"id"`
	SessionID  string        `db:"session_id"`
	TaskID     string        `db:"task_id"`
	Action     string        `db:"action"`
	RiskTags   string        `db:"risk_tags"`
	Reason     string        `db:"reason"`
	Status     string        `db:"status"`
	CreatedAt  int64         `db:"created_at"`
	ResolvedAt sql.NullInt64 `db:"resolved_at"`
}

const approvalColumns = `id, session_id, task_id, action, risk_tags, reason, status, created_at, resolved_at`

func (r *approvalRow) toDomain() (approval.Approval, error) {
	tags, err := decodeTags(r.RiskTags)
	if err != nil {
		return approval.Approval{}, err
	}
	a := approval.Approval{
		ID:        r.ID,
		SessionID: r.SessionID,
		TaskID:    r.TaskID,
		Action:    r.Action,
		RiskTags:  tags,
		Reason:    r.Reason,
		Status:    approval.Status(r.Status),
		CreatedAt: fromNanos(r.CreatedAt),
	}
	if r.ResolvedAt.Valid {
		t := fromNanos(r.ResolvedAt.Int64)
		a.ResolvedAt = &t
	}
	return a, nil
}

// CreateApproval inserts a pending approval.
func (s *Store) CreateApproval(ctx context.Context, a *approval.Approval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, session_id, task_id, action, risk_tags, reason, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.TaskID, a.Action, encodeTags(a.RiskTags), a.Reason, string(a.Status), toNanos(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

// GetApproval returns an approval by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Approval, error) {
	var row approvalRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id); err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	a, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListApprovalsBySession returns a session's approvals, newest first.
func (s *Store) ListApprovalsBySession(ctx context.Context, sessionID string) ([]approval.Approval, error) {
	var rows []approvalRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+approvalColumns+` FROM approvals WHERE session_id = ? ORDER BY created_at DESC, id`, sessionID); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	out := make([]approval.Approval, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ResolveApproval transitions a pending approval. The status guard in the
// WHERE clause lets exactly one concurrent resolution change the row.
func (s *Store) ResolveApproval(ctx context.Context, id string, status approval.Status, resolvedAt time.Time) (*approval.Approval, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, resolved_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), toNanos(resolvedAt), id)
	if err != nil {
		return nil, fmt.Errorf("resolve approval %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve approval %s: %w", id, err)
	}

	current, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return current, fmt.Errorf("approval %s already %s: %w", id, current.Status, domain.ErrConflict)
	}
	return current, nil
}

// --- Audit ---

type auditRow struct {
	ID             string          `db:"id"`
	SessionID      string          `db:"session_id"`
	TaskID         string          `db:"task_id"`
	Timestamp      int64           `db:"ts"`
	Action         string          `db:"action"`
	ToolName       string          `db:"tool_name"`
	Input          sql.NullString  `db:"input"`
	Output         sql.NullString  `db:"output"`
	PolicyDecision string          `db:"policy_decision"`
	PolicyRuleID   string          `db:"policy_rule_id"`
	RiskTags       string          `db:"risk_tags"`
	RiskScore      sql.NullFloat64 `db:"risk_score"`
	Reason         string          `db:"reason"`
	DurationMs     sql.NullInt64   `db:"duration_ms"`
	Outcome        string          `db:"outcome"`
	SchemaVersion  int             `db:"schema_version"`
}

const auditColumns = `id, session_id, task_id, ts, action, tool_name, input, output,
	policy_decision, policy_rule_id, risk_tags, risk_score, reason, duration_ms, outcome, schema_version`

func (r *auditRow) toDomain() (audit.Entry, error) {
	tags, err := decodeTags(r.RiskTags)
	if err != nil {
		return audit.Entry{}, err
	}
	e := audit.Entry{
		ID:             r.ID,
		SessionID:      r.SessionID,
		TaskID:         r.TaskID,
		Timestamp:      fromNanos(r.Timestamp),
		Action:         audit.Action(r.Action),
		ToolName:       r.ToolName,
		PolicyDecision: r.PolicyDecision,
		PolicyRuleID:   r.PolicyRuleID,
		RiskTags:       tags,
		Reason:         r.Reason,
		Outcome:        audit.Outcome(r.Outcome),
		SchemaVersion:  r.SchemaVersion,
	}
	if r.Input.Valid && r.Input.String != "" {
		if err := json.Unmarshal([]byte(r.Input.String), &e.Input); err != nil {
			return audit.Entry{}, fmt.Errorf("decode audit input: %w", err)
		}
	}
	if r.Output.Valid && r.Output.String != "" {
		e.Output = json.RawMessage(r.Output.String)
	}
	if r.RiskScore.Valid {
		v := r.RiskScore.Float64
		e.RiskScore = &v
	}
	if r.DurationMs.Valid {
		v := r.DurationMs.Int64
		e.DurationMs = &v
	}
	return e, nil
}

// AppendAudit inserts a ledger entry. Re-inserting an existing id is a no-op.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	var input, output sql.NullString
	if e.Input != nil {
		b, err := json.Marshal(e.Input)
		if err != nil {
			return fmt.Errorf("encode audit input: %w", err)
		}
		input = sql.NullString{String: string(b), Valid: true}
	}
	if len(e.Output) > 0 {
		output = sql.NullString{String: string(e.Output), Valid: true}
	}
	var score sql.NullFloat64
	if e.RiskScore != nil {
		score = sql.NullFloat64{Float64: *e.RiskScore, Valid: true}
	}
	var dur sql.NullInt64
	if e.DurationMs != nil {
		dur = sql.NullInt64{Int64: *e.DurationMs, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (`+auditColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.SessionID, e.TaskID, toNanos(e.Timestamp), string(e.Action), e.ToolName, input, output,
		e.PolicyDecision, e.PolicyRuleID, encodeTags(e.RiskTags), score, e.Reason, dur, string(e.Outcome), e.SchemaVersion)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", e.ID, err)
	}
	return nil
}

// QueryAudit returns matching entries newest first.
func (s *Store) QueryAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.SessionID != "" {
		add("session_id = ?", f.SessionID)
	}
	if f.TaskID != "" {
		add("task_id = ?", f.TaskID)
	}
	if f.ToolName != "" {
		add("tool_name = ?", f.ToolName)
	}
	if f.Action != "" {
		add("action = ?", string(f.Action))
	}
	if f.Since != nil {
		add("ts >= ?", toNanos(*f.Since))
	}
	if f.Until != nil {
		add("ts <= ?", toNanos(*f.Until))
	}
	q := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	out := make([]audit.Entry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

type statRow struct {
	Dim   string `db:"dim"`
	Key   string `db:"k"`
	Count int    `db:"n"`
}

// AuditStats groups every entry of a session by action, tool and outcome.
func (s *Store) AuditStats(ctx context.Context, sessionID string) (audit.Stats, error) {
	st := audit.NewStats()
	var rows []statRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT 'action' AS dim, action AS k, COUNT(*) AS n FROM audit_log WHERE session_id = ? GROUP BY action
		 UNION ALL
		 SELECT 'tool', CASE WHEN tool_name = '' THEN ? ELSE tool_name END, COUNT(*) FROM audit_log WHERE session_id = ? GROUP BY 2
		 UNION ALL
		 SELECT 'outcome', outcome, COUNT(*) FROM audit_log WHERE session_id = ? GROUP BY outcome`,
		sessionID, audit.UnknownTool, sessionID, sessionID)
	if err != nil {
		return st, fmt.Errorf("audit stats: %w", err)
	}
	for _, r := range rows {
		switch r.Dim {
		case "action":
			st.ByAction[r.Key] = r.Count
			st.Total += r.Count
		case "tool":
			st.ByTool[r.Key] = r.Count
		case "outcome":
			st.ByOutcome[r.Key] = r.Count
		}
	}
	return st, nil
}
