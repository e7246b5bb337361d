package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/model"
	"github.com/pikoshi/pikoshi/internal/service"
)

// AuthHandler serves the /auth routes.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGoogleSignup / HandleGoogleLogin → popup code flow
//   - HandleEmailSignup / HandleEmailOnboarding → emailed onboarding link
//   - HandleEmailLogin → password login
//   - HandleAuthContext → "am I logged in?" check, with silent refresh
//   - HandleLogout → end the session, clear cookies
//   - HandleForgotPassword / HandleChangePassword → emailed reset link
//   - HandleCheckToken → is an emailed link still valid?
//   - HandleMe → the current user's profile
//
// Every route that establishes a session sets both token cookies and
// returns the public user profile.
type AuthHandler struct {
	identity Identity
	accounts Accounts
	cookies  auth.CookieWriter
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(
	identity Identity,
	accounts Accounts,
	cookies auth.CookieWriter,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		identity: identity,
		accounts: accounts,
		cookies:  cookies,
		logger:   logger,
	}
}

// AuthResponse is returned by every route that establishes a session.
type AuthResponse struct {
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

// AuthContextResponse is returned by the auth-context endpoint.
type AuthContextResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *model.User `json:"user"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type onboardingRequest struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type checkTokenRequest struct {
	Token string `json:"token"`
	Kind  string `json:"kind"`
}

type changePasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// =========================================================================
// GOOGLE
// =========================================================================

// HandleGoogleSignup creates an account from a Google authorization code.
//
// HTTP: POST /auth/google-signup/   {"code": "..."}
func (h *AuthHandler) HandleGoogleSignup(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.identity.SignupOAuth(r.Context(), req.Code)
	h.finishLogin(w, res, err, "Signed up with Google")
}

// HandleGoogleLogin logs in with a Google authorization code. An unknown
// account is a 404 so the frontend can offer signup instead.
//
// HTTP: POST /auth/google-login/   {"code": "..."}
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.identity.LoginOAuth(r.Context(), req.Code)
	h.finishLogin(w, res, err, "Logged in with Google")
}

// =========================================================================
// EMAIL
// =========================================================================

// HandleEmailSignup emails an onboarding link.
//
// HTTP: POST /auth/email-signup/   {"email": "..."}
func (h *AuthHandler) HandleEmailSignup(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.accounts.RequestSignup(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Check your inbox to finish signing up"})
}

// HandleCheckToken tells the onboarding and reset pages whether their link
// is still usable, before the user fills in the form.
//
// HTTP: POST /auth/check-token/   {"token": "...", "kind": "signup" | "change-password"}
func (h *AuthHandler) HandleCheckToken(w http.ResponseWriter, r *http.Request) {
	var req checkTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.accounts.CheckToken(r.Context(), req.Token, service.TokenKind(req.Kind)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Link is valid"})
}

// HandleEmailOnboarding redeems an onboarding link and logs the new user in.
//
// HTTP: POST /auth/email-onboarding/   {"token", "username", "password"}
func (h *AuthHandler) HandleEmailOnboarding(w http.ResponseWriter, r *http.Request) {
	var req onboardingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.accounts.CompleteOnboarding(r.Context(), req.Token, req.Username, req.Password)
	h.finishLogin(w, res, err, "Account created")
}

// HandleEmailLogin logs in with email and password.
//
// HTTP: POST /auth/email-login/   {"email", "password"}
func (h *AuthHandler) HandleEmailLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.identity.LoginEmail(r.Context(), req.Email, req.Password)
	h.finishLogin(w, res, err, "Logged in")
}

// HandleForgotPassword emails a reset link. The answer is the same whether
// or not the address belongs to an account.
//
// HTTP: POST /auth/forgot-password/   {"email"}
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "If that address has an account, a reset link is on its way"})
}

// HandleChangePassword redeems a reset link. Every session of the account
// ends, so the cookies of this browser are cleared too.
//
// HTTP: POST /auth/change-password/   {"token", "password"}
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cookies.ClearAll(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password changed, please log in again"})
}

// =========================================================================
// SESSION
// =========================================================================

// HandleAuthContext reports whether the cookies carry a live session. A
// silent refresh rewrites the access cookie.
//
// HTTP: POST /auth/auth-context/
func (h *AuthHandler) HandleAuthContext(w http.ResponseWriter, r *http.Request) {
	session, err := h.identity.Authenticate(r.Context(), cookieValue(r, auth.AccessCookie), cookieValue(r, auth.RefreshCookie))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if session.Refreshed() {
		h.cookies.SetAccess(w, session.RefreshedAccess, session.AccessExpiresAt)
	}
	writeJSON(w, http.StatusOK, AuthContextResponse{Authenticated: true, User: session.User})
}

// HandleLogout ends the session and clears every cookie.
//
// HTTP: POST /auth/auth-logout/
//
// Cookies are cleared even when the tokens are already invalid, so the
// browser always ends up logged out.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	err := h.identity.Logout(r.Context(), cookieValue(r, auth.AccessCookie), cookieValue(r, auth.RefreshCookie))
	h.cookies.ClearAll(w)

	if err != nil && !errors.Is(err, apperror.ErrUnauthorized) {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// HandleMe returns the current user's profile. Runs behind RequireAuth.
//
// HTTP: GET /auth/me/
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized())
		return
	}

	user, err := h.identity.CurrentUser(r.Context(), u.UUID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// finishLogin writes the outcome of any session-establishing call.
func (h *AuthHandler) finishLogin(w http.ResponseWriter, res *service.AuthResult, err error, message string) {
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cookies.SetPair(w, res.Tokens)
	writeJSON(w, http.StatusOK, AuthResponse{Message: message, User: res.User})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
