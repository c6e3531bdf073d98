package guard

import (
	"net/http"
	"strings"
)

// SessionState is the only thing the guard needs to know about sessions.
type SessionState interface {
	Authenticated() bool
}

type Decision struct {
	Allowed  bool
	Redirect string
}

type Guard struct {
	sessions   SessionState
	loginRoute string
	public     map[string]struct{}
}

// New admits public paths unconditionally and every other path only while a
// session is authenticated. The login route is always public.
func New(sessions SessionState, loginRoute string, public ...string) *Guard {
	if loginRoute == "" {
		loginRoute = "/login"
	}
	g := &Guard{sessions: sessions, loginRoute: loginRoute, public: make(map[string]struct{}, len(public)+1)}
	g.public[normalizePath(loginRoute)] = struct{}{}
	for _, p := range public {
		if p = normalizePath(p); p != "" {
			g.public[p] = struct{}{}
		}
	}
	return g
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func (g *Guard) Admit(path string) Decision {
	if _, ok := g.public[normalizePath(path)]; ok {
		return Decision{Allowed: true}
	}
	if g.sessions.Authenticated() {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: g.loginRoute}
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Admit(r.URL.Path)
		if !d.Allowed {
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
