package sessions

import (
	"fmt"
	"net/http"
	"time"

	gsessions "github.com/gorilla/sessions"
)

const (
	// CookieName is the browser cookie carrying the signed session id
	CookieName   = "ts_session"
	sessionIDKey = "sid"
)

// CookieBinder ties a browser to a session record. The cookie holds only the signed and
// encrypted session id; everything else lives in the Store.
type CookieBinder struct {
	store  *gsessions.CookieStore
	maxAge int
}

// NewCookieBinder takes a 32 or 64 byte hash key and a 16, 24 or 32 byte block key.
func NewCookieBinder(hashKey, blockKey []byte, maxAge time.Duration) *CookieBinder {
	store := gsessions.NewCookieStore(hashKey, blockKey)
	seconds := int(maxAge.Seconds())
	store.MaxAge(seconds)
	return &CookieBinder{store: store, maxAge: seconds}
}

// SessionID returns the id bound to this browser, or "" when there is none or the cookie
// fails verification.
func (b *CookieBinder) SessionID(r *http.Request) string {
	s, err := b.store.Get(r, CookieName)
	if err != nil || s.IsNew {
		return ""
	}
	id, _ := s.Values[sessionIDKey].(string)
	return id
}

// Bind writes the session cookie. SameSite=Lax so the cookie survives the provider's
// top-level redirect back to the callback.
func (b *CookieBinder) Bind(w http.ResponseWriter, r *http.Request, id string) error {
	s, _ := b.store.New(r, CookieName)
	s.Values[sessionIDKey] = id
	s.Options = b.options(r, b.maxAge)
	if err := s.Save(r, w); err != nil {
		return fmt.Errorf("[sessions Bind] %w", err)
	}
	return nil
}

func (b *CookieBinder) Clear(w http.ResponseWriter, r *http.Request) error {
	s, _ := b.store.New(r, CookieName)
	s.Options = b.options(r, -1)
	if err := s.Save(r, w); err != nil {
		return fmt.Errorf("[sessions Clear] %w", err)
	}
	return nil
}

func (b *CookieBinder) options(r *http.Request, maxAge int) *gsessions.Options {
	return &gsessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	}
}

// IsSecureRequest reports whether the request arrived over TLS, directly or via a proxy.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}
