package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keepup/cowork/internal/domain/audit"
)

const auditColumns = `id, session_id, task_id, ts, action, tool_name, input, output,
	policy_decision, policy_rule_id, risk_tags, risk_score, reason, duration_ms, outcome, schema_version`

func scanAudit(row scannable) (audit.Entry, error) {
	var (
		e      audit.Entry
		input  []byte
		output []byte
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.TaskID, &e.Timestamp, &e.Action, &e.ToolName, &input, &output,
		&e.PolicyDecision, &e.PolicyRuleID, &e.RiskTags, &e.RiskScore, &e.Reason, &e.DurationMs, &e.Outcome, &e.SchemaVersion)
	if err != nil {
		return e, err
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &e.Input); err != nil {
			return e, fmt.Errorf("decode audit input: %w", err)
		}
	}
	if len(output) > 0 {
		e.Output = output
	}
	e.RiskTags = orEmpty(e.RiskTags)
	return e, nil
}

// AppendAudit inserts a ledger entry. Re-inserting an existing id is a no-op
// so spool replays cannot duplicate entries.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	input, err := jsonOrNil(e.Input)
	if err != nil {
		return fmt.Errorf("encode audit input: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (`+auditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.SessionID, e.TaskID, e.Timestamp, e.Action, e.ToolName, input, rawOrNil(e.Output),
		e.PolicyDecision, e.PolicyRuleID, pgTextArray(e.RiskTags), e.RiskScore, e.Reason, e.DurationMs, e.Outcome, e.SchemaVersion)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", e.ID, err)
	}
	return nil
}

// auditWhere renders the filter's constraints as a WHERE clause.
func auditWhere(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if f.TaskID != "" {
		add("task_id = $%d", f.TaskID)
	}
	if f.ToolName != "" {
		add("tool_name = $%d", f.ToolName)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.Since != nil {
		add("ts >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("ts <= $%d", *f.Until)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryAudit returns matching entries newest first.
func (s *Store) QueryAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	where, args := auditWhere(f)
	args = append(args, f.Limit, f.Offset)
	q := fmt.Sprintf(`SELECT %s FROM audit_log%s ORDER BY ts DESC, id DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		result = append(result, e)
	}
	return orEmpty(result), rows.Err()
}

// AuditStats groups every entry of a session by action, tool and outcome.
func (s *Store) AuditStats(ctx context.Context, sessionID string) (audit.Stats, error) {
	st := audit.NewStats()
	rows, err := s.pool.Query(ctx,
		`SELECT 'action', action, COUNT(*) FROM audit_log WHERE session_id = $1 GROUP BY action
		 UNION ALL
		 SELECT 'tool', COALESCE(NULLIF(tool_name, ''), $2), COUNT(*) FROM audit_log WHERE session_id = $1 GROUP BY 2
		 UNION ALL
		 SELECT 'outcome', outcome, COUNT(*) FROM audit_log WHERE session_id = $1 GROUP BY outcome`,
		sessionID, audit.UnknownTool)
	if err != nil {
		return st, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dim, key string
			n        int
		)
		if err := rows.Scan(&dim, &key, &n); err != nil {
			return st, fmt.Errorf("scan audit stats: %w", err)
		}
		switch dim {
		case "action":
			st.ByAction[key] = n
			st.Total += n
		case "tool":
			st.ByTool[key] = n
		case "outcome":
			st.ByOutcome[key] = n
		}
	}
	return st, rows.Err()
}
