package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
)

// signSessionID returns "id.sig" where sig is HMAC-SHA256 over the id
// keyed with the session secret. A forged or truncated cookie fails
// verification and is treated as anonymous.
func (s *Server) signSessionID(id string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.SessionSecret))
	mac.Write([]byte(id))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return id + "." + sig
}

// verifySessionCookie splits and checks a signed cookie value, returning
// the embedded session id.
func (s *Server) verifySessionCookie(value string) (string, bool) {
	id, got, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	want := s.signSessionID(id)
	_, wantSig, _ := strings.Cut(want, ".")
	if !hmac.Equal([]byte(got), []byte(wantSig)) {
		return "", false
	}
	return id, true
}

// sessionID extracts a verified session id from the request cookie. It
// does not consult the store; callers decide whether an unknown id counts.
func (s *Server) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return "", false
	}
	return s.verifySessionCookie(c.Value)
}

// ensureSession returns the request's session id, minting a new session
// and setting the cookie when the browser has none.
func (s *Server) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if sid, ok := s.sessionID(r); ok && s.sessions.Exists(sid) {
		return sid
	}
	sid := s.sessions.Create()
	s.setCookie(w, sid)
	return sid
}

func (s *Server) setCookie(w http.ResponseWriter, sid string) {
	sameSite := http.SameSiteLaxMode
	if s.cfg.CookieSecure {
		// Cross-site popups need SameSite=None, which requires Secure.
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    s.signSessionID(sid),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: sameSite,
	})
}

func (s *Server) expireCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		MaxAge:   -1,
	})
}
