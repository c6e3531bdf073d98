package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amlwatch/internal/credential"
	"amlwatch/internal/model"
	"amlwatch/internal/session"
	"amlwatch/internal/storage"
)

var fixedTime = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type staticAuth string

func (s staticAuth) Login(context.Context, string, string) (string, error) { return string(s), nil }

func loggedIn(t *testing.T) *session.Manager {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bob"}).SignedString([]byte("k"))
	require.NoError(t, err)
	creds, err := credential.Open(context.Background(), storage.NewMemory(), "token", nil)
	require.NoError(t, err)
	m := session.NewManager(creds, staticAuth(token), nil)
	_, err = m.Login(context.Background(), "bob", "pw")
	require.NoError(t, err)
	return m
}

type fakeConn struct {
	frames chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) Next(ctx context.Context) ([]byte, error) {
	select {
	case fr, ok := <-f.frames:
		if !ok {
			return nil, io.EOF
		}
		return fr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeSource struct {
	mu     sync.Mutex
	conns  []*fakeConn
	tokens []string
	err    error
}

func (s *fakeSource) Connect(_ context.Context, token string) (FrameReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.conns) == 0 {
		return nil, fmt.Errorf("no more connections")
	}
	c := s.conns[0]
	s.conns = s.conns[1:]
	return c, nil
}

func frame(id int, suspicious bool) []byte {
	return []byte(fmt.Sprintf(`{"id":%d,"accountNumber":"ACC-%d","amount":%d,"timestamp":"2025-05-01T10:00:%02d","suspicious":%t}`, id, id, id*100, id, suspicious))
}

func collect(c *Consumer) chan model.TransactionEvent {
	got := make(chan model.TransactionEvent, 64)
	c.Subscribe(func(ev model.TransactionEvent) { got <- ev })
	return got
}

func recv(t *testing.T, got chan model.TransactionEvent) model.TransactionEvent {
	t.Helper()
	select {
	case ev := <-got:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.TransactionEvent{}
	}
}

func TestOpen_RequiresSession(t *testing.T) {
	m := loggedIn(t)
	m.Logout(context.Background())
	c := NewConsumer(m, &fakeSource{}, nil, Options{}, nil)

	_, err := c.Open(context.Background())
	assert.ErrorIs(t, err, model.ErrNotAuthenticated)
}

func TestConsumer_DropsMalformedAndKeepsOrder(t *testing.T) {
	m := loggedIn(t)
	conn := newFakeConn()
	src := &fakeSource{conns: []*fakeConn{conn}}
	c := NewConsumer(m, src, nil, Options{}, nil)
	got := collect(c)

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(h.Close)

	conn.frames <- frame(1, false)
	conn.frames <- []byte(`not json`)
	conn.frames <- []byte(``)
	conn.frames <- frame(2, true)
	conn.frames <- []byte(`{"id":3}`)
	conn.frames <- frame(3, false)

	for _, want := range []int64{1, 2, 3} {
		assert.Equal(t, want, recv(t, got).ID)
	}
	feed := h.Feed()
	require.Len(t, feed, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{feed[0].ID, feed[1].ID, feed[2].ID})
	assert.Equal(t, []string{m.Token()}, src.tokens)

	since := h.FeedSince(time.Date(2025, 5, 1, 10, 0, 2, 0, time.UTC))
	assert.Len(t, since, 2)
}

func TestOpen_ReturnsLiveHandle(t *testing.T) {
	m := loggedIn(t)
	c := NewConsumer(m, &fakeSource{conns: []*fakeConn{newFakeConn()}}, nil, Options{}, nil)
	h1, err := c.Open(context.Background())
	require.NoError(t, err)
	h2, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	h1.Close()
}

func TestHandle_CloseStopsDelivery(t *testing.T) {
	m := loggedIn(t)
	conn := newFakeConn()
	c := NewConsumer(m, &fakeSource{conns: []*fakeConn{conn}}, nil, Options{}, nil)
	got := collect(c)

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	conn.frames <- frame(1, true)
	recv(t, got)

	h.Close()
	h.Close()
	conn.frames <- frame(2, true)
	<-h.Done()
	assert.NoError(t, h.Err())
	assert.Empty(t, got)
	assert.Empty(t, h.Feed())
	assert.Nil(t, c.Active())
}

func TestLogout_ClosesStreamBeforeReturning(t *testing.T) {
	m := loggedIn(t)
	conn := newFakeConn()
	c := NewConsumer(m, &fakeSource{conns: []*fakeConn{conn}}, nil, Options{}, nil)
	got := collect(c)

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	conn.frames <- frame(1, false)
	recv(t, got)

	m.Logout(context.Background())
	assert.True(t, h.Closed())
	conn.frames <- frame(2, false)
	<-h.Done()
	assert.Empty(t, got)
}

func TestConnectRejected_CascadesToLogout(t *testing.T) {
	m := loggedIn(t)
	var redirects []string
	coord := session.NewCoordinator(m, session.NavigatorFunc(func(_ context.Context, route string) {
		redirects = append(redirects, route)
	}), "/login", nil)
	src := &fakeSource{err: fmt.Errorf("connect stream: %w", model.ErrAuthorizationRejected)}
	c := NewConsumer(m, src, coord, Options{ReconnectDelay: time.Millisecond}, nil)

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	<-h.Done()

	assert.ErrorIs(t, h.Err(), model.ErrAuthorizationRejected)
	assert.Equal(t, session.Unauthenticated, m.State())
	assert.True(t, h.Closed())
	assert.Equal(t, []string{"/login"}, redirects)
	assert.Len(t, src.tokens, 1)
}

func TestTransportDrop_NoReconnectByDefault(t *testing.T) {
	m := loggedIn(t)
	conn := newFakeConn()
	src := &fakeSource{conns: []*fakeConn{conn, newFakeConn()}}
	c := NewConsumer(m, src, nil, Options{}, nil)
	got := collect(c)

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	conn.frames <- frame(1, false)
	recv(t, got)
	close(conn.frames)

	<-h.Done()
	assert.NoError(t, h.Err())
	assert.Len(t, src.tokens, 1)
	assert.Len(t, h.Feed(), 1)
	<-conn.closed
}

func TestTransportDrop_ReconnectAppendsInOrder(t *testing.T) {
	m := loggedIn(t)
	first, second := newFakeConn(), newFakeConn()
	src := &fakeSource{conns: []*fakeConn{first, second}}
	c := NewConsumer(m, src, nil, Options{ReconnectDelay: time.Millisecond}, nil)
	got := collect(c)

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(h.Close)

	first.frames <- frame(1, false)
	recv(t, got)
	close(first.frames)

	second.frames <- frame(2, false)
	assert.Equal(t, int64(2), recv(t, got).ID)

	feed := h.Feed()
	require.Len(t, feed, 2)
	assert.Equal(t, int64(2), feed[0].ID)
	assert.Equal(t, int64(1), feed[1].ID)
	assert.Len(t, src.tokens, 2)
}

func TestOpen_AfterEndedHandleStartsFresh(t *testing.T) {
	m := loggedIn(t)
	first := newFakeConn()
	src := &fakeSource{conns: []*fakeConn{first, newFakeConn()}}
	c := NewConsumer(m, src, nil, Options{}, nil)

	h1, err := c.Open(context.Background())
	require.NoError(t, err)
	close(first.frames)
	<-h1.Done()

	h2, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.True(t, h1.Closed())
	h2.Close()
}

func TestFeed_Limit(t *testing.T) {
	f := NewFeed(2)
	for i := 1; i <= 3; i++ {
		f.Add(model.TransactionEvent{ID: int64(i)})
	}
	list := f.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)
	assert.Len(t, f.List(1), 1)
}

func TestSubscribers_CalledInRegistrationOrder(t *testing.T) {
	m := loggedIn(t)
	conn := newFakeConn()
	c := NewConsumer(m, &fakeSource{conns: []*fakeConn{conn}}, nil, Options{}, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) Subscriber {
		return func(model.TransactionEvent) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	c.Subscribe(record("a"))
	unsubB := c.Subscribe(record("b"))
	c.Subscribe(record("c"))
	c.Subscribe(record("d"))
	got := collect(c)

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(h.Close)

	conn.frames <- frame(1, false)
	recv(t, got)
	unsubB()
	conn.frames <- frame(2, false)
	recv(t, got)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d", "a", "c", "d"}, order)
}
