package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	cookieName = "appview_session"
	sidKey     = "sid"

	// minCookieSecretLength keeps weak deployment secrets from
	// silently weakening the cookie MAC.
	minCookieSecretLength = 32
)

// Cookies issues and reads the opaque session-ID cookie. The cookie
// value is authenticated by gorilla/sessions; the ID it carries is
// meaningless without the server-side store.
type Cookies struct {
	store *sessions.CookieStore
}

// NewCookies builds the cookie codec. secure controls the Secure
// attribute and should be true everywhere except local development.
func NewCookies(secret []byte, secure bool) (*Cookies, error) {
	if len(secret) < minCookieSecretLength {
		return nil, fmt.Errorf("cookie secret must be at least %d bytes", minCookieSecretLength)
	}
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(DefaultTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Cookies{store: store}, nil
}

// Write sets the session-ID cookie on the response.
func (c *Cookies) Write(w http.ResponseWriter, r *http.Request, sessionID string) error {
	// Get returns a fresh session when the inbound cookie is absent
	// or fails authentication, which is the behavior we want here.
	sess, _ := c.store.Get(r, cookieName)
	sess.Values[sidKey] = sessionID
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("writing session cookie: %w", err)
	}
	return nil
}

// Read returns the session ID from the request cookie, or "" when the
// cookie is missing or fails authentication.
func (c *Cookies) Read(r *http.Request) string {
	sess, err := c.store.Get(r, cookieName)
	if err != nil {
		return ""
	}
	id, _ := sess.Values[sidKey].(string)
	return id
}

// Clear expires the cookie.
func (c *Cookies) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := c.store.Get(r, cookieName)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("clearing session cookie: %w", err)
	}
	return nil
}
