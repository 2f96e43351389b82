package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/keepup/cowork/internal/adapter/otel"
	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/approval"
	"github.com/keepup/cowork/internal/port/broadcast"
	"github.com/keepup/cowork/internal/port/database"
)

// ApprovalService owns the approval lifecycle: creation on
// allow_with_confirm, lookup and the single pending -> terminal transition.
type ApprovalService struct {
	store     database.ApprovalStore
	publisher broadcast.Publisher
	metrics   *cfotel.Metrics
	now       func() time.Time
}

// NewApprovalService creates a new ApprovalService. metrics may be nil.
func NewApprovalService(store database.ApprovalStore, publisher broadcast.Publisher, metrics *cfotel.Metrics) *ApprovalService {
	if publisher == nil {
		publisher = broadcast.Nop{}
	}
	return &ApprovalService{store: store, publisher: publisher, metrics: metrics, now: time.Now}
}

// Request creates a pending approval and announces it on the session's
// channel. Storage errors propagate; no notification is sent for an
// approval that was not stored.
func (s *ApprovalService) Request(ctx context.Context, sessionID, taskID, actionDesc string, riskTags []string, reason string) (*approval.Approval, error) {
	if riskTags == nil {
		riskTags = []string{}
	}
	a := &approval.Approval{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TaskID:    taskID,
		Action:    actionDesc,
		RiskTags:  riskTags,
		Reason:    reason,
		Status:    approval.StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateApproval(ctx, a); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}

	s.publisher.Publish(ctx, sessionID, approval.EventApprovalRequired, approval.RequiredEvent{
		ApprovalID: a.ID,
		Action:     a.Action,
		RiskTags:   a.RiskTags,
		Reason:     a.Reason,
	})
	slog.InfoContext(ctx, "approval requested", "approval_id", a.ID, "session_id", sessionID, "action", actionDesc)
	return a, nil
}

// Get returns an approval by ID.
func (s *ApprovalService) Get(ctx context.Context, id string) (*approval.Approval, error) {
	return s.store.GetApproval(ctx, id)
}

// ListBySession returns a session's approvals, newest first.
func (s *ApprovalService) ListBySession(ctx context.Context, sessionID string) ([]approval.Approval, error) {
	list, err := s.store.ListApprovalsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []approval.Approval{}
	}
	return list, nil
}

// Resolve moves a pending approval to approved or rejected.
//
// Repeating the resolution that already happened returns the stored record
// without error and without a second notification. Asking for the other
// terminal status returns the stored record with domain.ErrConflict.
func (s *ApprovalService) Resolve(ctx context.Context, id string, req approval.ResolveRequest) (*approval.Approval, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := cfotel.StartApprovalSpan(ctx, id, string(req.Status))

	a, err := s.store.ResolveApproval(ctx, id, req.Status, s.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) && a != nil && a.Status == req.Status {
			cfotel.EndSpan(span, nil)
			return a, nil
		}
		cfotel.EndSpan(span, err)
		if errors.Is(err, domain.ErrConflict) {
			return a, err
		}
		return nil, err
	}
	cfotel.EndSpan(span, nil)

	s.publisher.Publish(ctx, a.SessionID, approval.EventApprovalResolved, approval.ResolvedEvent{
		ApprovalID: a.ID,
		Status:     a.Status,
	})
	s.metrics.RecordApprovalResolved(ctx, string(a.Status))
	slog.InfoContext(ctx, "approval resolved", "approval_id", a.ID, "status", a.Status)
	return a, nil
}
