package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"amlwatch/internal/storage"
)

var ErrMalformedToken = errors.New("credential: malformed token")

// Session is a point-in-time copy of the credential state. SubjectID is empty
// iff Token is empty.
type Session struct {
	Token     string
	SubjectID string
}

func (s Session) Authenticated() bool {
	return s.Token != ""
}

// SubjectFromToken decodes the "sub" claim of a three-part token without
// verifying its signature.
func SubjectFromToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return "", ErrMalformedToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	return sub, nil
}

type Store struct {
	backend storage.TokenStore
	key     string
	logger  *slog.Logger

	mu      sync.RWMutex
	session Session
}

// Open loads a previously persisted token. A token that cannot be decoded is
// removed and the store starts empty.
func Open(ctx context.Context, backend storage.TokenStore, key string, logger *slog.Logger) (*Store, error) {
	if backend == nil {
		backend = storage.NewMemory()
	}
	s := &Store{backend: backend, key: key, logger: logger}
	token, err := backend.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stored token: %w", err)
	}
	sub, err := SubjectFromToken(token)
	if err != nil {
		if logger != nil {
			logger.Warn("discarding stored token", "err", err)
		}
		if derr := backend.Delete(ctx, key); derr != nil && logger != nil {
			logger.Warn("delete stored token failed", "err", derr)
		}
		return s, nil
	}
	s.session = Session{Token: token, SubjectID: sub}
	return s, nil
}

func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Store) Token() string {
	return s.Snapshot().Token
}

// Set validates and persists token. The in-memory session is updated even when
// persistence fails; the error is returned so callers can report it.
func (s *Store) Set(ctx context.Context, token string) (Session, error) {
	sub, err := SubjectFromToken(token)
	if err != nil {
		return Session{}, err
	}
	sess := Session{Token: token, SubjectID: sub}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	if err := s.backend.Save(ctx, s.key, token); err != nil {
		return sess, fmt.Errorf("persist token: %w", err)
	}
	return sess, nil
}

// Clear drops the token from memory and storage. Storage failures are logged.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.session = Session{}
	s.mu.Unlock()
	if err := s.backend.Delete(ctx, s.key); err != nil && s.logger != nil {
		s.logger.Warn("delete stored token failed", "err", err)
	}
}
