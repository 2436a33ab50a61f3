package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/21chrisab/mailbrief/internal/auth"
	"github.com/21chrisab/mailbrief/internal/enrich"
	"github.com/21chrisab/mailbrief/internal/instrumentation"
	"github.com/21chrisab/mailbrief/internal/logging"
	"github.com/21chrisab/mailbrief/internal/session"
)

const (
	// DefaultCookieName carries the signed session id.
	DefaultCookieName = "mailbrief_session"

	// fetchTimeout caps one enrichment request end to end.
	fetchTimeout = 90 * time.Second

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Broker is the slice of the token broker the HTTP layer needs.
type Broker interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (auth.Identity, error)
	Revoke(identity auth.Identity)
}

// Enricher runs the fetch-and-analyze pipeline for one request.
type Enricher interface {
	FetchAndEnrich(ctx context.Context, identity auth.Identity, limit int64, query string) ([]enrich.Enriched, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Addr          string
	CookieName    string
	CookieSecure  bool
	SessionSecret string
	Origins       []string
	PageSize      int64
}

// Server is the browser-facing HTTP surface: login, OAuth redirect, logout,
// session introspection and the enriched mail fetch.
type Server struct {
	cfg        Config
	broker     Broker
	sessions   *session.Store
	enricher   Enricher
	health     *HealthChecker
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	httpServer *http.Server
}

// New creates the API server.
func New(cfg Config, broker Broker, sessions *session.Store, enricher Enricher, logger *slog.Logger, metrics *instrumentation.Metrics) *Server {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		broker:   broker,
		sessions: sessions,
		enricher: enricher,
		logger:   logging.WithComponent(logger, "server"),
		metrics:  metrics,
	}
	s.health = NewHealthChecker()
	return s
}

// Handler builds the route table with CORS and metrics middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET /redirect", s.handleRedirect)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("GET /me", s.handleMe)
	mux.HandleFunc("POST /fetch-emails", s.handleFetchEmails)

	mux.HandleFunc("GET /healthz", s.health.HandleLiveness)
	mux.HandleFunc("GET /readyz", s.health.HandleReadiness)

	return s.corsMiddleware(s.metricsMiddleware(mux))
}

// Start runs the server until the context is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// handleLogin redirects the browser to the provider consent URL. The
// session id doubles as the OAuth state parameter, binding the redirect
// back to this browser.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sid := s.ensureSession(w, r)

	url, err := s.broker.AuthCodeURL(sid)
	if err != nil {
		s.logger.Error("failed to build consent URL", logging.Err(err))
		s.writeError(w, http.StatusInternalServerError, "Login is not available.")
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// handleRedirect finishes the authorization-code flow: exchange the code,
// store the identity in the session and close the popup.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		s.logger.Warn("provider returned authorization error", "provider_error", errParam)
		s.writePopupPage(w, http.StatusInternalServerError, "Sign-in failed. You can close this window and try again.")
		return
	}

	code := q.Get("code")
	if code == "" {
		s.writePopupPage(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	sid, ok := s.sessionID(r)
	if !ok || q.Get("state") != sid {
		s.writePopupPage(w, http.StatusBadRequest, "Sign-in state mismatch. Please try again.")
		return
	}

	identity, err := s.broker.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("code exchange failed", logging.SessionHash(sid), logging.Err(err))
		s.writePopupPage(w, http.StatusInternalServerError, "Sign-in failed. You can close this window and try again.")
		return
	}

	if _, had := s.sessions.Get(sid); !had {
		s.metrics.IncrementActiveSessions(r.Context())
	}
	s.sessions.Set(sid, identity)
	s.logger.Info("user signed in",
		logging.SessionHash(sid), logging.UserHash(identity.Email))

	s.writePopupPage(w, http.StatusOK, "Signed in. This window will close itself.")
}

// handleLogout clears the session and drops the cached provider token.
// Idempotent: logging out twice is a no-op the second time.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid, ok := s.sessionID(r); ok {
		if identity, had := s.sessions.Get(sid); had {
			s.broker.Revoke(identity)
			s.metrics.DecrementActiveSessions(r.Context())
		}
		s.sessions.Clear(sid)
	}
	s.expireCookie(w)

	s.writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
}

// meResponse is the session introspection payload.
type meResponse struct {
	LoggedIn bool           `json:"loggedIn"`
	Account  *auth.Identity `json:"account,omitempty"`
}

// handleMe reports whether the browser is signed in, and as whom.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(r)
	if !ok {
		s.writeJSON(w, http.StatusOK, meResponse{LoggedIn: false})
		return
	}

	identity, ok := s.sessions.Get(sid)
	if !ok {
		s.writeJSON(w, http.StatusOK, meResponse{LoggedIn: false})
		return
	}

	s.writeJSON(w, http.StatusOK, meResponse{LoggedIn: true, Account: &identity})
}

// fetchRequest is the enriched-fetch request body.
type fetchRequest struct {
	SearchQuery string `json:"searchQuery"`
}

// handleFetchEmails runs the enrichment pipeline for the signed-in user.
// Re-authentication problems answer 401 with a distinct message so the
// client can prompt for login instead of showing a server fault.
func (s *Server) handleFetchEmails(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.sessionID(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "User not authenticated.")
		return
	}
	identity, ok := s.sessions.Get(sid)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "User not authenticated.")
		return
	}

	// An empty body means "no filter"; a malformed one is a client error.
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
	defer cancel()

	enriched, err := s.enricher.FetchAndEnrich(ctx, identity, s.cfg.PageSize, req.SearchQuery)
	if err != nil {
		if errors.Is(err, auth.ErrReauthRequired) {
			s.logger.Info("session needs re-login", logging.SessionHash(sid))
			s.writeError(w, http.StatusUnauthorized, "Session expired. Please log in again.")
			return
		}
		s.logger.Error("mail fetch failed",
			logging.SessionHash(sid), logging.UserHash(identity.Email), logging.Err(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch emails.")
		return
	}

	s.writeJSON(w, http.StatusOK, enriched)
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", logging.Err(err))
	}
}

// writeError writes a JSON error body. The message is client-facing;
// upstream detail stays in the log.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writePopupPage writes a minimal HTML page for the OAuth popup window.
func (s *Server) writePopupPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	script := ""
	if status == http.StatusOK {
		script = "<script>window.close();</script>"
	}
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><p>%s</p>%s</body></html>", message, script)
}
