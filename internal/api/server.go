package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"amlwatch/internal/config"
	"amlwatch/internal/gateway"
	"amlwatch/internal/guard"
	"amlwatch/internal/model"
	"amlwatch/internal/session"
)

type Gateway interface {
	Transactions(ctx context.Context) ([]model.TransactionEvent, error)
	SuspiciousTransactions(ctx context.Context) ([]model.TransactionEvent, error)
	CreateTransaction(ctx context.Context, tx model.NewTransaction) (model.TransactionEvent, error)
	Users(ctx context.Context) ([]model.User, error)
	ToggleUser(ctx context.Context, id int64) error
}

type View interface {
	Feed() []model.TransactionEvent
	CurrentAlert() (model.CurrentAlert, bool)
	Dismiss() bool
}

type Server struct {
	cfg      *config.Manager
	sessions *session.Manager
	gateway  Gateway
	view     View
	nav      *Navigator
	logger   *slog.Logger
	version  string

	// login is fixed at construction; the coordinator redirects to the same
	// route for the life of the process.
	login string
}

type statusResponse struct {
	Status        string    `json:"status"`
	Time          string    `json:"time"`
	Version       string    `json:"version"`
	ConfigPath    string    `json:"config_path"`
	Authenticated bool      `json:"authenticated"`
	Subject       string    `json:"subject,omitempty"`
	Transport     string    `json:"transport"`
	LastRedirect  *Redirect `json:"last_redirect,omitempty"`
}

type alertResponse struct {
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Event       model.TransactionEvent `json:"event"`
	SetAt       time.Time              `json:"set_at"`
	ExpiresAt   time.Time              `json:"expires_at"`
	RemainingMS int64                  `json:"remaining_ms"`
}

func NewServer(cfg *config.Manager, sessions *session.Manager, gw Gateway, view View, nav *Navigator, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		gateway:  gw,
		view:     view,
		nav:      nav,
		logger:   logger,
		version:  version,
		login:    cfg.Get().Session.LoginRoute,
	}
}

// Handler serves the local navigation surface. Everything except login,
// logout, status and metrics sits behind the route guard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.loginRoute(), s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /feed", s.handleFeed)
	mux.HandleFunc("GET /alert", s.handleAlert)
	mux.HandleFunc("POST /alert/dismiss", s.handleDismiss)
	mux.HandleFunc("GET /transactions", s.handleTransactions)
	mux.HandleFunc("POST /transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /transactions/suspicious", s.handleSuspicious)
	mux.HandleFunc("GET /admin/users", s.handleUsers)
	mux.HandleFunc("PUT /admin/users/{id}/toggle", s.handleToggleUser)

	g := guard.New(s.sessions, s.loginRoute(), "/logout", "/status", "/metrics")
	return otelhttp.NewHandler(g.Middleware(mux), "amlwatch-api")
}

func (s *Server) loginRoute() string {
	if s.login == "" {
		return "/login"
	}
	return s.login
}

func Start(ctx context.Context, s *Server, logger *slog.Logger) *http.Server {
	current := s.cfg.Get().Server
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil || json.Unmarshal(body, &req) != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.sessions.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, model.ErrAuthentication) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "identity service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "subject": sess.SubjectID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "redirect": s.loginRoute()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:        "ok",
		Time:          time.Now().UTC().Format(time.RFC3339Nano),
		Version:       s.version,
		ConfigPath:    s.cfg.Path(),
		Authenticated: s.sessions.Authenticated(),
		Subject:       s.sessions.Current().SubjectID,
		Transport:     cfg.Stream.Transport,
	}
	if s.nav != nil {
		if last, ok := s.nav.Last(); ok {
			resp.LastRedirect = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list := s.view.Feed()
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filtered := list[:0:0]
		for _, ev := range list {
			if !ev.Timestamp.Before(ts) {
				filtered = append(filtered, ev)
			}
		}
		list = filtered
	}
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := s.view.CurrentAlert()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"alert": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert": alertResponse{
		Title:       a.Title(),
		Message:     a.Message(),
		Event:       a.Event,
		SetAt:       a.SetAt,
		ExpiresAt:   a.ExpiresAt,
		RemainingMS: a.Remaining(time.Now()).Milliseconds(),
	}})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"dismissed": s.view.Dismiss()})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	list, err := s.gateway.Transactions(r.Context())
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSuspicious(w http.ResponseWriter, r *http.Request) {
	list, err := s.gateway.SuspiciousTransactions(r.Context())
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var tx model.NewTransaction
	if err := json.Unmarshal(body, &tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.gateway.CreateTransaction(r.Context(), tx)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.gateway.Users(r.Context())
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.gateway.ToggleUser(r.Context(), id); err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeGatewayError maps the gateway error taxonomy onto responses. A
// rejection has already ended the session, so the caller is sent to login.
func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *model.ValidationError
	var se *gateway.StatusError
	switch {
	case errors.Is(err, model.ErrAuthorizationRejected):
		http.Redirect(w, r, s.loginRoute(), http.StatusSeeOther)
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Message, "field": ve.Field})
	case errors.As(err, &se):
		writeError(w, se.StatusCode, se.Error())
	default:
		if s.logger != nil {
			s.logger.Warn("gateway call failed", "path", r.URL.Path, "err", err)
		}
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
