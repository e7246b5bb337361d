package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ErrOAuthRejected means Google refused the authorization code or the access
// token it issued for it. It is a credential failure, not an outage.
var ErrOAuthRejected = errors.New("auth: oauth provider rejected the credentials")

// GoogleProfile is the portion of the userinfo response we care about.
//
// ID is Google's stable subject identifier. We never store it in clear: it
// is hashed with the user's salt and used as that account's password digest.
type GoogleProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GoogleConfig holds the OAuth2 client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string        // "postmessage" for the Google Identity popup code flow
	Timeout      time.Duration // bound on each outbound call

	// Overrides for tests; empty means the real Google endpoints.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// GoogleProvider wraps golang.org/x/oauth2 for the Google Authorization Code
// flow. The browser obtains a one-time code from Google's popup and posts it
// to us; the code-for-token exchange and the profile lookup both happen
// server-to-server, so Google's tokens never reach the browser.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleProvider creates a GoogleProvider.
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Exchange trades an authorization code for the caller's Google profile.
//
// A code Google refuses, or a profile request Google answers with 401/403,
// yields ErrOAuthRejected. Transport failures are returned as-is so the
// caller can report them as an upstream outage.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*GoogleProfile, error) {
	// oauth2 picks the HTTP client out of the context; this is how the
	// timeout reaches the token endpoint call.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return nil, fmt.Errorf("%w: exchanging code: %s", ErrOAuthRejected, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building userinfo request: %w", err)
	}

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling Google userinfo: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: userinfo returned status %d", ErrOAuthRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth: Google userinfo returned status %d", resp.StatusCode)
	}

	var profile GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("auth: decoding Google userinfo: %w", err)
	}
	if profile.ID == "" || profile.Email == "" {
		return nil, fmt.Errorf("%w: userinfo is missing id or email", ErrOAuthRejected)
	}

	return &profile, nil
}
