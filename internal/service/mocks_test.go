package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/keepup/cowork/internal/domain"
	"github.com/keepup/cowork/internal/domain/approval"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/domain/session"
	"github.com/keepup/cowork/internal/domain/settings"
)

// --- Mocks ---

var errMockNotFound = fmt.Errorf("mock: %w", domain.ErrNotFound)

// memStore is an in-memory database.Store.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]session.Session
	settings  map[string]json.RawMessage
	approvals map[string]approval.Approval
	entries   []audit.Entry

	settingsErr error
	approvalErr error
	resolveErr  error
	auditErr    error
	auditCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  map[string]session.Session{},
		settings:  map[string]json.RawMessage{},
		approvals: map[string]approval.Approval{},
	}
}

func (m *memStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errMockNotFound
	}
	return &s, nil
}

func (m *memStore) GetSetting(_ context.Context, key string) (*settings.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingsErr != nil {
		return nil, m.settingsErr
	}
	v, ok := m.settings[key]
	if !ok {
		return nil, errMockNotFound
	}
	return &settings.Setting{Key: key, Value: v}, nil
}

func (m *memStore) UpsertSetting(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *memStore) CreateApproval(_ context.Context, a *approval.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.approvalErr != nil {
		return m.approvalErr
	}
	m.approvals[a.ID] = *a
	return nil
}

func (m *memStore) GetApproval(_ context.Context, id string) (*approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, errMockNotFound
	}
	return &a, nil
}

func (m *memStore) ListApprovalsBySession(_ context.Context, sessionID string) ([]approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Approval
	for _, a := range m.approvals {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ResolveApproval(_ context.Context, id string, status approval.Status, resolvedAt time.Time) (*approval.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, errMockNotFound
	}
	if m.resolveErr != nil {
		return &a, m.resolveErr
	}
	if a.Status != approval.StatusPending {
		return &a, fmt.Errorf("approval %s already %s: %w", id, a.Status, domain.ErrConflict)
	}
	a.Status = status
	a.ResolvedAt = &resolvedAt
	m.approvals[id] = a
	return &a, nil
}

func (m *memStore) AppendAudit(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditCalls++
	if m.auditErr != nil {
		return m.auditErr
	}
	for i := range m.entries {
		if m.entries[i].ID == e.ID {
			return nil
		}
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStore) QueryAudit(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for i := range m.entries {
		if f.Matches(&m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) AuditStats(_ context.Context, sessionID string) (audit.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := audit.NewStats()
	for i := range m.entries {
		if m.entries[i].SessionID == sessionID {
			st.Add(&m.entries[i])
		}
	}
	return st, nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close()                     {}

func (m *memStore) auditEntries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

func (m *memStore) setAuditErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditErr = err
}

// syncAudit records entries synchronously.
type syncAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *syncAudit) Log(_ context.Context, e *audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
}

func (a *syncAudit) all() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

type publishedEvent struct {
	SessionID string
	Type      string
	Payload   any
}

type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *mockPublisher) Publish(_ context.Context, sessionID, eventType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{SessionID: sessionID, Type: eventType, Payload: payload})
}

func (p *mockPublisher) all() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

// mapCache is a trivial cache.Cache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var errBoom = errors.New("boom")
