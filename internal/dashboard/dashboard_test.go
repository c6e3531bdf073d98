package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amlwatch/internal/alerts"
	"amlwatch/internal/credential"
	"amlwatch/internal/gateway"
	"amlwatch/internal/model"
	"amlwatch/internal/session"
	"amlwatch/internal/storage"
	"amlwatch/internal/stream"
)

type backend struct {
	frames chan string
	mu     sync.Mutex
	reject bool
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /transactions/realtime", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for {
			select {
			case f := <-b.frames:
				fmt.Fprintf(w, "data: %s\n\n", f)
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("GET /transactions", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		reject := b.reject
		b.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	})
	return mux
}

type tokenAuth string

func (t tokenAuth) Login(context.Context, string, string) (string, error) { return string(t), nil }

type harness struct {
	sessions  *session.Manager
	consumer  *stream.Consumer
	scheduler *alerts.Scheduler
	gw        *gateway.Client
	dash      *Dashboard
	redirects chan string
	be        *backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	be := &backend{frames: make(chan string, 16)}
	srv := httptest.NewServer(be.handler())
	t.Cleanup(srv.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "analyst"}).SignedString([]byte("k"))
	require.NoError(t, err)
	creds, err := credential.Open(context.Background(), storage.NewMemory(), "token", nil)
	require.NoError(t, err)
	sessions := session.NewManager(creds, tokenAuth(token), nil)

	redirects := make(chan string, 4)
	coord := session.NewCoordinator(sessions, session.NavigatorFunc(func(_ context.Context, route string) {
		redirects <- route
	}), "/login", nil)

	consumer := stream.NewConsumer(sessions, stream.NewSSESource(srv.URL+"/transactions/realtime", srv.Client()), coord, stream.Options{}, nil)
	scheduler := alerts.NewScheduler(time.Minute, nil)
	h := &harness{
		sessions:  sessions,
		consumer:  consumer,
		scheduler: scheduler,
		gw:        gateway.New(srv.URL, sessions, coord, nil, gateway.WithHTTPClient(srv.Client())),
		dash:      New(sessions, consumer, scheduler, nil),
		redirects: redirects,
		be:        be,
	}
	t.Cleanup(h.dash.Unmount)
	return h
}

func suspiciousFrame(id int) string {
	return fmt.Sprintf(`{"id":%d,"accountNumber":"ACC","amount":20000,"timestamp":"2025-05-01T10:00:00","suspicious":true,"suspiciousReason":"Large transaction"}`, id)
}

func (h *harness) alertID() int64 {
	a, ok := h.dash.CurrentAlert()
	if !ok {
		return 0
	}
	return a.Event.ID
}

func TestMount_WhileLoggedOutWaitsForLogin(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dash.Mount(context.Background()))
	assert.Nil(t, h.consumer.Active())

	_, err := h.sessions.Login(context.Background(), "analyst", "pw")
	require.NoError(t, err)
	require.NotNil(t, h.consumer.Active())

	h.be.frames <- suspiciousFrame(1)
	require.Eventually(t, func() bool { return h.alertID() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.dash.Feed(), 1)

	assert.True(t, h.dash.Dismiss())
	_, ok := h.dash.CurrentAlert()
	assert.False(t, ok)
}

func TestRejectedCall_TearsDownBeforeReturning(t *testing.T) {
	h := newHarness(t)
	_, err := h.sessions.Login(context.Background(), "analyst", "pw")
	require.NoError(t, err)
	require.NoError(t, h.dash.Mount(context.Background()))

	h.be.frames <- suspiciousFrame(1)
	require.Eventually(t, func() bool { return h.alertID() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.be.mu.Lock()
	h.be.reject = true
	h.be.mu.Unlock()
	_, err = h.gw.Transactions(context.Background())
	require.ErrorIs(t, err, model.ErrAuthorizationRejected)

	assert.Equal(t, session.Unauthenticated, h.sessions.State())
	assert.Nil(t, h.consumer.Active())
	assert.Zero(t, h.alertID())
	assert.Empty(t, h.dash.Feed())
	assert.Equal(t, "/login", <-h.redirects)

	h.be.frames <- suspiciousFrame(2)
	assert.Never(t, func() bool { return h.alertID() != 0 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestUnmount_ClosesStream(t *testing.T) {
	h := newHarness(t)
	_, err := h.sessions.Login(context.Background(), "analyst", "pw")
	require.NoError(t, err)
	require.NoError(t, h.dash.Mount(context.Background()))
	handle := h.consumer.Active()
	require.NotNil(t, handle)

	h.dash.Unmount()
	assert.True(t, handle.Closed())
	assert.Equal(t, session.Authenticated, h.sessions.State())

	_, err = h.sessions.Login(context.Background(), "analyst", "pw")
	require.NoError(t, err)
	assert.Nil(t, h.consumer.Active())
}
