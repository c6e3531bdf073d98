package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSessions bool

func (f *fakeSessions) Authenticated() bool { return bool(*f) }

func TestAdmit(t *testing.T) {
	state := fakeSessions(false)
	g := New(&state, "/login", "/status")

	assert.Equal(t, Decision{Allowed: true}, g.Admit("/login"))
	assert.Equal(t, Decision{Allowed: true}, g.Admit("/status/"))
	assert.Equal(t, Decision{Redirect: "/login"}, g.Admit("/feed"))
	assert.Equal(t, Decision{Redirect: "/login"}, g.Admit("/"))

	state = true
	assert.Equal(t, Decision{Allowed: true}, g.Admit("/feed"))
	assert.Equal(t, Decision{Allowed: true}, g.Admit("/admin/users"))
}

func TestMiddleware(t *testing.T) {
	state := fakeSessions(false)
	h := New(&state, "/login").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	state = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
