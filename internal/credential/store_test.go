package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amlwatch/internal/storage"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func TestSubjectFromToken(t *testing.T) {
	sub, err := SubjectFromToken(signed(t, jwt.MapClaims{"sub": "bob"}))
	require.NoError(t, err)
	assert.Equal(t, "bob", sub)

	for _, bad := range []string{"", "abc", "a.b", "a.b.c", signed(t, jwt.MapClaims{"role": "x"})} {
		_, err := SubjectFromToken(bad)
		assert.ErrorIs(t, err, ErrMalformedToken, bad)
	}
}

func TestOpen_RestoresValidToken(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	token := signed(t, jwt.MapClaims{"sub": "alice"})
	require.NoError(t, backend.Save(ctx, "token", token))

	s, err := Open(ctx, backend, "token", nil)
	require.NoError(t, err)
	assert.Equal(t, Session{Token: token, SubjectID: "alice"}, s.Snapshot())
	assert.True(t, s.Snapshot().Authenticated())
}

func TestOpen_DiscardsMalformedToken(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	require.NoError(t, backend.Save(ctx, "token", "garbage"))

	s, err := Open(ctx, backend, "token", nil)
	require.NoError(t, err)
	assert.False(t, s.Snapshot().Authenticated())
	_, err = backend.Load(ctx, "token")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetAndClear(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	s, err := Open(ctx, backend, "token", nil)
	require.NoError(t, err)

	_, err = s.Set(ctx, "not-a-token")
	assert.True(t, errors.Is(err, ErrMalformedToken))
	assert.False(t, s.Snapshot().Authenticated())

	token := signed(t, jwt.MapClaims{"sub": "carol"})
	sess, err := s.Set(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "carol", sess.SubjectID)
	stored, err := backend.Load(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	s.Clear(ctx)
	s.Clear(ctx)
	assert.Equal(t, Session{}, s.Snapshot())
	_, err = backend.Load(ctx, "token")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
