package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"amlwatch/internal/credential"
	"amlwatch/internal/metrics"
	"amlwatch/internal/model"
)

type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Authenticator exchanges credentials for a token with the identity service.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

type Observer func(ctx context.Context, to State)

type observer struct {
	id uint64
	fn Observer
}

// Manager is the single owner of the credential store. Every transition and
// its observers run under one lock, so observers have finished before Login
// or Logout returns.
type Manager struct {
	creds  *credential.Store
	auth   Authenticator
	logger *slog.Logger

	transMu sync.Mutex

	mu        sync.RWMutex
	state     State
	observers []observer
	nextID    uint64
}

func NewManager(creds *credential.Store, auth Authenticator, logger *slog.Logger) *Manager {
	m := &Manager{
		creds:  creds,
		auth:   auth,
		logger: logger,
	}
	if creds.Snapshot().Authenticated() {
		m.state = Authenticated
	}
	return m
}

// Login calls the identity service without holding the transition lock, so a
// concurrent Logout is never queued behind the network round trip.
func (m *Manager) Login(ctx context.Context, username, password string) (credential.Session, error) {
	token, err := m.auth.Login(ctx, username, password)
	if err != nil {
		if m.logger != nil {
			m.logger.Info("login failed", "username", username, "err", err)
		}
		return credential.Session{}, err
	}

	m.transMu.Lock()
	defer m.transMu.Unlock()

	sess, err := m.creds.Set(ctx, token)
	if errors.Is(err, credential.ErrMalformedToken) {
		return credential.Session{}, fmt.Errorf("%w: %v", model.ErrAuthentication, err)
	}
	if err != nil && m.logger != nil {
		m.logger.Warn("token kept in memory only", "err", err)
	}

	// A second login replaces the session, so anything scoped to the old one
	// is torn down first.
	if m.State() == Authenticated {
		m.transition(ctx, Unauthenticated)
	}
	m.transition(ctx, Authenticated)
	if m.logger != nil {
		m.logger.Info("logged in", "subject", sess.SubjectID)
	}
	return sess, nil
}

// Logout always clears stored credentials. Observers are only notified when
// the state actually changes.
func (m *Manager) Logout(ctx context.Context) {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	m.creds.Clear(ctx)
	if m.State() == Unauthenticated {
		return
	}
	m.transition(ctx, Unauthenticated)
	if m.logger != nil {
		m.logger.Info("logged out")
	}
}

func (m *Manager) transition(ctx context.Context, to State) {
	m.mu.Lock()
	m.state = to
	observers := make([]observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	metrics.SessionTransitions.WithLabelValues(to.String()).Inc()
	for _, o := range observers {
		o.fn(ctx, to)
	}
}

func (m *Manager) Current() credential.Session {
	return m.creds.Snapshot()
}

func (m *Manager) Token() string {
	return m.creds.Token()
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Authenticated() bool {
	return m.State() == Authenticated
}

// Subscribe registers fn for future transitions. Observers run in
// registration order and must not call Login or Logout.
func (m *Manager) Subscribe(fn Observer) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers = append(m.observers, observer{id: id, fn: fn})
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			for i, o := range m.observers {
				if o.id == id {
					m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
		})
	}
}
