package server

import (
	"log"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName        = "ergot_session"
	sessionLanguageKey = "language"
	sessionResultKey   = "result"
)

// NewSessionStore returns the cookie store used for visitor sessions.
func NewSessionStore(secret string) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// session never fails: an unreadable cookie yields a fresh session.
func (s *Server) session(r *http.Request) *sessions.Session {
	sess, err := s.sessions.Get(r, sessionName)
	if err != nil {
		log.Printf("Discarding unreadable session: %v", err)
	}
	return sess
}

func (s *Server) saveSession(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	if err := sess.Save(r, w); err != nil {
		log.Printf("Failed to save session: %v", err)
	}
}

// language is the session language, unvalidated, or the first configured one.
func (s *Server) language(r *http.Request) string {
	if lang, ok := s.session(r).Values[sessionLanguageKey].(string); ok && lang != "" {
		return lang
	}
	return s.languages[0].Code
}
