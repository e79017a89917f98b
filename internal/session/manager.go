package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/medai-portal/internal/auth"
	"github.com/hackgods/medai-portal/internal/logger"
	"github.com/hackgods/medai-portal/internal/metrics"
	"github.com/hackgods/medai-portal/internal/navigation"
)

// Entry is one live browser session.
type Entry struct {
	ID   string
	Auth *auth.Client
	Nav  *navigation.Controller

	mu       sync.Mutex
	lastSeen time.Time
}

func (e *Entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *Entry) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// Manager keeps the live sessions of this process. Signed-in identities are
// persisted by the auth session store, so a session dropped from memory is
// rebuilt on its next request.
type Manager struct {
	accounts  *auth.Service
	authStore auth.SessionStore
	profiles  navigation.ProfileStore
	log       *logger.Logger
	metrics   metrics.Recorder
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

func NewManager(accounts *auth.Service, authStore auth.SessionStore, profiles navigation.ProfileStore, log *logger.Logger, rec metrics.Recorder) *Manager {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Manager{
		accounts:  accounts,
		authStore: authStore,
		profiles:  profiles,
		log:       log,
		metrics:   rec,
		now:       time.Now,
		entries:   make(map[string]*Entry),
	}
}

// Open starts a brand new session.
func (m *Manager) Open(ctx context.Context) (*Entry, error) {
	return m.Resume(ctx, uuid.NewString())
}

// Resume returns the live session with id, rebuilding it from the persisted
// auth state when this process does not hold it.
func (m *Manager) Resume(ctx context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		// touched under m.mu so a concurrent Sweep cannot evict it first
		e.touch(m.now())
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	e, err := m.build(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.entries[id]; ok {
		// another request rebuilt it first
		existing.touch(m.now())
		m.mu.Unlock()
		e.Nav.Close()
		return existing, nil
	}
	m.entries[id] = e
	n := len(m.entries)
	m.mu.Unlock()

	m.metrics.SessionsActive(n)
	return e, nil
}

func (m *Manager) build(ctx context.Context, id string) (*Entry, error) {
	client, err := auth.NewClient(ctx, id, m.accounts, m.authStore)
	if err != nil {
		return nil, fmt.Errorf("restore auth session: %w", err)
	}

	nav := navigation.NewController(client, m.profiles, m.log.WithSession(id), m.metrics)
	if err := nav.Start(ctx); err != nil {
		return nil, fmt.Errorf("start navigation: %w", err)
	}

	return &Entry{ID: id, Auth: client, Nav: nav, lastSeen: m.now()}, nil
}

// Close drops a session from memory. Its persisted sign-in is left alone.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	delete(m.entries, id)
	n := len(m.entries)
	m.mu.Unlock()

	if ok {
		e.Nav.Close()
		m.metrics.SessionsActive(n)
	}
}

// Sweep closes sessions idle for longer than idle and returns how many.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var stale []*Entry
	for id, e := range m.entries {
		if e.idleSince().Before(cutoff) {
			stale = append(stale, e)
			delete(m.entries, id)
		}
	}
	n := len(m.entries)
	m.mu.Unlock()

	for _, e := range stale {
		e.Nav.Close()
	}
	m.metrics.SessionsActive(n)

	if len(stale) > 0 {
		m.log.WithComponent("session").WithFields(logrus.Fields{
			"closed": len(stale),
			"active": n,
		}).Info("swept idle sessions")
	}
	return len(stale)
}

// CloseAll tears down every session, used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.Nav.Close()
	}
	m.metrics.SessionsActive(0)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
