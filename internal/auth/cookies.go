package auth

import (
	"net/http"
	"time"
)

// Cookie names shared with the frontend.
const (
	AccessCookie       = "access_token"
	RefreshCookie      = "refresh_token"
	ContinuationCookie = "s3_continuation_token"
)

// CookieWriter sets the session cookies.
//
// All of them are HttpOnly, path "/" and SameSite=None: the SPA is served
// from a different origin than the API, so the browser only attaches the
// cookies to cross-site fetches when SameSite=None, which in turn requires
// Secure. Secure is switchable only so plain-HTTP local development works.
type CookieWriter struct {
	Secure bool
}

// SetPair writes both session cookies.
func (c CookieWriter) SetPair(w http.ResponseWriter, pair *TokenPair) {
	c.set(w, AccessCookie, pair.AccessToken, pair.AccessExpiresAt)
	c.set(w, RefreshCookie, pair.RefreshToken, pair.RefreshExpiresAt)
}

// SetAccess rewrites only the access cookie, after a silent refresh.
func (c CookieWriter) SetAccess(w http.ResponseWriter, token string, expires time.Time) {
	c.set(w, AccessCookie, token, expires)
}

// SetContinuation stores the gallery pagination cursor.
func (c CookieWriter) SetContinuation(w http.ResponseWriter, cursor string, expires time.Time) {
	c.set(w, ContinuationCookie, cursor, expires)
}

// ClearAll expires every cookie this API sets.
func (c CookieWriter) ClearAll(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie, ContinuationCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1, // tells the browser to delete the cookie immediately
			HttpOnly: true,
			Secure:   c.Secure,
			SameSite: c.sameSite(),
		})
	}
}

func (c CookieWriter) set(w http.ResponseWriter, name, value string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	})
}

// Browsers drop SameSite=None cookies that are not Secure, so fall back to
// Lax on insecure development setups.
func (c CookieWriter) sameSite() http.SameSite {
	if c.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
