// Package memory provides an in-process Store used by tests and by
// deployments that run without postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"minigate/gate-service/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	byID    map[string]*store.User
	byTG    map[string]string
	byEmail map[string]string
	rules   []store.IPRule
	audit   []store.AuditEntry

	nowFunc func() time.Time
}

func New() *Store {
	return &Store{
		byID:    make(map[string]*store.User),
		byTG:    make(map[string]string),
		byEmail: make(map[string]string),
		nowFunc: time.Now,
	}
}

func (s *Store) GetUserByTelegramID(_ context.Context, telegramID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTG[telegramID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.TelegramID != "" {
		if _, ok := s.byTG[u.TelegramID]; ok {
			return store.ErrDuplicate
		}
	}
	if u.Email != "" {
		if _, ok := s.byEmail[u.Email]; ok {
			return store.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.nowFunc()
	}
	cp := cloneUser(u)
	s.byID[cp.ID] = cp
	if cp.TelegramID != "" {
		s.byTG[cp.TelegramID] = cp.ID
	}
	if cp.Email != "" {
		s.byEmail[cp.Email] = cp.ID
	}
	return nil
}

func (s *Store) UpdateUserLogin(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[u.ID]
	if !ok {
		return store.ErrUserNotFound
	}
	if u.TelegramID != "" && u.TelegramID != cur.TelegramID {
		if other, dup := s.byTG[u.TelegramID]; dup && other != u.ID {
			return store.ErrDuplicate
		}
		delete(s.byTG, cur.TelegramID)
		s.byTG[u.TelegramID] = u.ID
	}
	cp := cloneUser(u)
	cp.Email = cur.Email
	cp.CreatedAt = cur.CreatedAt
	s.byID[u.ID] = cp
	return nil
}

// SetIPRules replaces the rule set. Tests and the memory driver seed rules
// through this instead of a write API.
func (s *Store) SetIPRules(rules []store.IPRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]store.IPRule(nil), rules...)
}

func (s *Store) ListActiveIPRules(_ context.Context) ([]store.IPRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.IPRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) AppendAudit(_ context.Context, e store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.nowFunc()
	}
	s.audit = append(s.audit, e)
	return nil
}

// AuditEntries returns a copy of everything appended so far.
func (s *Store) AuditEntries() []store.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.AuditEntry(nil), s.audit...)
}

func cloneUser(u *store.User) *store.User {
	cp := *u
	return &cp
}
