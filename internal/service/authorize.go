package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/keepup/cowork/internal/adapter/otel"
	"github.com/keepup/cowork/internal/domain/action"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/domain/policy"
	"github.com/keepup/cowork/internal/domain/risk"
	"github.com/keepup/cowork/internal/port/database"
	"github.com/keepup/cowork/internal/port/evaluator"
)

// AuthorizationService gates agent actions: it resolves the session's
// policy, evaluates the action, records the decision and opens an approval
// when the verdict asks for one.
type AuthorizationService struct {
	sessions  database.SessionStore
	resolver  *PolicyResolver
	evaluator evaluator.Evaluator
	scorer    evaluator.Scorer
	approvals *ApprovalService
	audit     AuditLogger
	metrics   *cfotel.Metrics
	now       func() time.Time
}

// NewAuthorizationService wires the pipeline. metrics may be nil.
func NewAuthorizationService(
	sessions database.SessionStore,
	resolver *PolicyResolver,
	eval evaluator.Evaluator,
	scorer evaluator.Scorer,
	approvals *ApprovalService,
	auditLog AuditLogger,
	metrics *cfotel.Metrics,
) *AuthorizationService {
	return &AuthorizationService{
		sessions:  sessions,
		resolver:  resolver,
		evaluator: eval,
		scorer:    scorer,
		approvals: approvals,
		audit:     auditLog,
		metrics:   metrics,
		now:       time.Now,
	}
}

// CheckAction authorizes one action for a session. Malformed requests are
// rejected with domain.ErrValidation before anything is resolved or
// audited; unknown sessions yield domain.ErrNotFound. A deny is a normal
// outcome, not an error.
func (s *AuthorizationService) CheckAction(ctx context.Context, sessionID, taskID string, req action.Request) (out *policy.Outcome, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ctx, span := cfotel.StartCheckSpan(ctx, sessionID, string(req.Kind))
	defer func() { cfotel.EndSpan(span, err) }()
	start := s.now()

	actx := AuditContext{SessionID: sessionID, TaskID: taskID}
	res := s.resolver.Resolve(ctx, sess.WorkspaceRoot, actx)
	opts := policy.EvalOptions{CaseInsensitivePaths: sess.PathsCaseInsensitive()}
	desc := req.Description()

	dec, err := s.evaluator.Evaluate(ctx, res.Config, req, opts)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", desc, err)
	}
	if !dec.Decision.Valid() {
		return nil, fmt.Errorf("evaluate %s: %w: %q", desc, policy.ErrUnknownVerdict, dec.Decision)
	}

	tags := risk.Filter(dec.RiskTags)
	dec.RiskTags = risk.Strings(tags)
	score := s.scorer.Score(tags)
	elapsed := s.now().Sub(start)
	durationMs := elapsed.Milliseconds()

	outcome := audit.OutcomeSuccess
	if dec.Decision == policy.VerdictDeny {
		outcome = audit.OutcomeDenied
	}
	s.audit.Log(ctx, &audit.Entry{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		TaskID:         taskID,
		Timestamp:      s.now().UTC(),
		Action:         audit.ActionPolicyDecision,
		ToolName:       desc,
		Input:          req.Fields(),
		PolicyDecision: string(dec.Decision),
		PolicyRuleID:   dec.RuleID,
		RiskTags:       dec.RiskTags,
		RiskScore:      &score,
		Reason:         dec.Reason,
		DurationMs:     &durationMs,
		Outcome:        outcome,
		SchemaVersion:  audit.SchemaVersion,
	})
	s.metrics.RecordDecision(ctx, string(dec.Decision), string(res.Source), float64(elapsed.Microseconds())/1000)

	slog.DebugContext(ctx, "action checked",
		"session_id", sessionID,
		"action", desc,
		"decision", dec.Decision,
		"rule_id", dec.RuleID,
		"policy_source", res.Source,
	)

	switch dec.Decision {
	case policy.VerdictDeny:
		return &policy.Outcome{Kind: policy.OutcomeDenied, Decision: dec}, nil
	case policy.VerdictAllowWithConfirm:
		reason := dec.Reason
		if reason == "" {
			reason = req.Reason
		}
		a, err := s.approvals.Request(ctx, sessionID, taskID, desc, dec.RiskTags, reason)
		if err != nil {
			return nil, err
		}
		return &policy.Outcome{Kind: policy.OutcomeApprovalRequired, Decision: dec, Approval: a}, nil
	case policy.VerdictAllow:
		return &policy.Outcome{Kind: policy.OutcomeAllowed, Decision: dec}, nil
	}
	return nil, fmt.Errorf("evaluate %s: %w: %q", desc, policy.ErrUnknownVerdict, dec.Decision)
}
