// Package databasetest holds the behavioral suite every database.Store
// adapter must pass.
package databasetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/approval"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/domain/session"
	"github.com/keepup/cowork/internal/port/database"
)

// base is truncated to microseconds, the coarsest precision any adapter
// stores.
var base = time.Now().UTC().Truncate(time.Microsecond)

// RunComplianceTests runs the store suite. Every test uses fresh random ids,
// so the suite is safe to run against a shared database.
func RunComplianceTests(t *testing.T, s database.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Sessions", func(t *testing.T) {
		yes := true
		sess := &session.Session{ID: uuid.NewString(), WorkspaceRoot: "/work/a", CaseInsensitivePaths: &yes, CreatedAt: base}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetSession(ctx, sess.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.WorkspaceRoot != "/work/a" || got.CaseInsensitivePaths == nil || !*got.CaseInsensitivePaths {
			t.Errorf("session = %+v", got)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("createdAt = %v, want %v", got.CreatedAt, base)
		}

		plain := &session.Session{ID: uuid.NewString(), WorkspaceRoot: "/work/b", CreatedAt: base}
		if err := s.CreateSession(ctx, plain); err != nil {
			t.Fatal(err)
		}
		got, err = s.GetSession(ctx, plain.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.CaseInsensitivePaths != nil {
			t.Errorf("unset flag read back as %v", *got.CaseInsensitivePaths)
		}

		if _, err := s.GetSession(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("missing session err = %v", err)
		}
	})

	t.Run("Settings", func(t *testing.T) {
		key := "compliance-" + uuid.NewString()
		if _, err := s.GetSetting(ctx, key); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("missing setting err = %v", err)
		}
		if err := s.UpsertSetting(ctx, key, json.RawMessage(`{"a":1}`)); err != nil {
			t.Fatal(err)
		}
		if err := s.UpsertSetting(ctx, key, json.RawMessage(`{"a":2}`)); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetSetting(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		var v struct{ A int }
		if err := json.Unmarshal(got.Value, &v); err != nil || v.A != 2 {
			t.Errorf("value = %s (%v)", got.Value, err)
		}
	})

	t.Run("Approvals", func(t *testing.T) {
		sid := uuid.NewString()
		older := newApproval(sid, base)
		newer := newApproval(sid, base.Add(time.Second))
		for _, a := range []*approval.Approval{older, newer} {
			if err := s.CreateApproval(ctx, a); err != nil {
				t.Fatal(err)
			}
		}

		got, err := s.GetApproval(ctx, older.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != approval.StatusPending || got.ResolvedAt != nil || len(got.RiskTags) != 2 {
			t.Errorf("approval = %+v", got)
		}

		list, err := s.ListApprovalsBySession(ctx, sid)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 || list[0].ID != newer.ID {
			t.Errorf("list order = %+v", list)
		}
		empty, err := s.ListApprovalsBySession(ctx, uuid.NewString())
		if err != nil || len(empty) != 0 {
			t.Errorf("empty list = %v, %v", empty, err)
		}

		at := base.Add(time.Minute)
		res, err := s.ResolveApproval(ctx, older.ID, approval.StatusApproved, at)
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != approval.StatusApproved || res.ResolvedAt == nil || !res.ResolvedAt.Equal(at) {
			t.Errorf("resolved = %+v", res)
		}

		again, err := s.ResolveApproval(ctx, older.ID, approval.StatusRejected, at.Add(time.Minute))
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("second resolve err = %v", err)
		}
		if again == nil || again.Status != approval.StatusApproved || !again.ResolvedAt.Equal(at) {
			t.Errorf("conflict record = %+v", again)
		}

		if _, err := s.ResolveApproval(ctx, uuid.NewString(), approval.StatusApproved, at); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("missing resolve err = %v", err)
		}
		if _, err := s.GetApproval(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("missing get err = %v", err)
		}
	})

	t.Run("ConcurrentResolve", func(t *testing.T) {
		a := newApproval(uuid.NewString(), base)
		if err := s.CreateApproval(ctx, a); err != nil {
			t.Fatal(err)
		}
		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
		)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				st := approval.StatusApproved
				if i%2 == 1 {
					st = approval.StatusRejected
				}
				_, err := s.ResolveApproval(ctx, a.ID, st, base)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, domain.ErrConflict):
					conflicts++
				default:
					t.Errorf("resolve: %v", err)
				}
			}(i)
		}
		wg.Wait()
		if winners != 1 || conflicts != n-1 {
			t.Errorf("winners = %d, conflicts = %d", winners, conflicts)
		}
	})

	t.Run("Audit", func(t *testing.T) {
		sid := uuid.NewString()
		tid := uuid.NewString()
		score := 0.4
		dur := int64(3)
		var ids []string
		for i := range 5 {
			e := &audit.Entry{
				ID:             uuid.NewString(),
				SessionID:      sid,
				TaskID:         tid,
				Timestamp:      base.Add(time.Duration(i) * time.Second),
				Action:         audit.ActionPolicyDecision,
				ToolName:       "file.write:a.txt",
				Input:          map[string]any{"kind": "file", "path": "a.txt"},
				PolicyDecision: "allow",
				PolicyRuleID:   "r1",
				RiskTags:       []string{"overwrite"},
				RiskScore:      &score,
				Reason:         "because",
				DurationMs:     &dur,
				Outcome:        audit.OutcomeSuccess,
				SchemaVersion:  audit.SchemaVersion,
			}
			if i == 4 {
				e.ToolName = ""
				e.Action = audit.ActionWorkflowRun
				e.Outcome = audit.OutcomeError
				e.Output = json.RawMessage(`{"exit":1}`)
			}
			if err := s.AppendAudit(ctx, e); err != nil {
				t.Fatal(err)
			}
			ids = append(ids, e.ID)
		}

		// Idempotent on id.
		dup := &audit.Entry{ID: ids[0], SessionID: sid, Timestamp: base, Action: audit.ActionPolicyDecision, RiskTags: []string{}, Outcome: audit.OutcomeDenied, SchemaVersion: 2}
		if err := s.AppendAudit(ctx, dup); err != nil {
			t.Fatalf("duplicate append: %v", err)
		}

		all, err := s.QueryAudit(ctx, audit.Filter{SessionID: sid, Limit: audit.MaxLimit})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 5 {
			t.Fatalf("len = %d, want 5", len(all))
		}
		if all[0].ID != ids[4] || all[4].ID != ids[0] {
			t.Error("entries not newest first")
		}
		last := all[4]
		if last.Outcome != audit.OutcomeSuccess || last.PolicyRuleID != "r1" || last.Input["path"] != "a.txt" {
			t.Errorf("stored entry = %+v", last)
		}
		if last.RiskScore == nil || *last.RiskScore != score || last.DurationMs == nil || *last.DurationMs != dur {
			t.Errorf("numeric fields = %v / %v", last.RiskScore, last.DurationMs)
		}
		if !last.Timestamp.Equal(base) {
			t.Errorf("timestamp = %v, want %v", last.Timestamp, base)
		}
		if string(all[0].Output) != `{"exit":1}` && string(all[0].Output) != `{"exit": 1}` {
			t.Errorf("output = %s", all[0].Output)
		}

		page, err := s.QueryAudit(ctx, audit.Filter{SessionID: sid, Limit: 2, Offset: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(page) != 2 || page[0].ID != ids[3] {
			t.Errorf("page = %+v", page)
		}

		since := base.Add(time.Second)
		until := base.Add(3 * time.Second)
		ranged, err := s.QueryAudit(ctx, audit.Filter{SessionID: sid, Since: &since, Until: &until, Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(ranged) != 3 {
			t.Errorf("ranged len = %d, want 3", len(ranged))
		}

		byTool, err := s.QueryAudit(ctx, audit.Filter{TaskID: tid, ToolName: "file.write:a.txt", Action: audit.ActionPolicyDecision, Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(byTool) != 4 {
			t.Errorf("byTool len = %d, want 4", len(byTool))
		}

		none, err := s.QueryAudit(ctx, audit.Filter{SessionID: uuid.NewString(), Limit: 10})
		if err != nil || none == nil || len(none) != 0 {
			t.Errorf("empty query = %#v, %v", none, err)
		}

		st, err := s.AuditStats(ctx, sid)
		if err != nil {
			t.Fatal(err)
		}
		if st.Total != 5 {
			t.Errorf("total = %d", st.Total)
		}
		if st.ByAction[string(audit.ActionPolicyDecision)] != 4 || st.ByAction[string(audit.ActionWorkflowRun)] != 1 {
			t.Errorf("byAction = %v", st.ByAction)
		}
		if st.ByTool["file.write:a.txt"] != 4 || st.ByTool[audit.UnknownTool] != 1 {
			t.Errorf("byTool = %v", st.ByTool)
		}
		if st.ByOutcome[string(audit.OutcomeSuccess)] != 4 || st.ByOutcome[string(audit.OutcomeError)] != 1 {
			t.Errorf("byOutcome = %v", st.ByOutcome)
		}
	})
}

func newApproval(sessionID string, at time.Time) *approval.Approval {
	return &approval.Approval{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Action:    "file.delete:x",
		RiskTags:  []string{"delete", "batch"},
		Reason:    "cleanup",
		Status:    approval.StatusPending,
		CreatedAt: at,
	}
}
