/*Package login verifies primary credentials against the external identity
store and turns them into API access tokens.

The package does not verify passwords itself; it delegates to a Verifier and
classifies its failures into the API error taxonomy. On success it reuses an
existing valid token for the principal or issues a fresh one, so repeated
logins within a token's lifetime are idempotent.
*/
package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/ormgate-tech/ormgate/core/access"
	"github.com/ormgate-tech/ormgate/core/envelope"
	"github.com/ormgate-tech/ormgate/core/logger"
)

// typed verifier failures
var (
	// ErrUnknownDatabase is returned when the requested database does not exist.
	ErrUnknownDatabase = errors.New("database does not exist")
	// ErrInvalidCredentials is returned when login or password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBackendUnavailable is returned when the identity store cannot be reached.
	ErrBackendUnavailable = errors.New("authentication backend unavailable")
)

// Session is the result of a successful credential verification. The session
// identifier is produced by the external session layer and passed through
// to the client unmodified.
type Session struct {
	UserID    int64
	Login     string
	SessionID string
}

// Verifier is the external identity store collaborator.
type Verifier interface {
	Authenticate(ctx context.Context, db, login, password string) (Session, error)
}

// TokenSource is the part of the token store the login service needs.
type TokenSource interface {
	FindValidForUser(ctx context.Context, userID int64) (access.Token, error)
	Issue(ctx context.Context, principal access.Principal, ttl time.Duration) (access.Token, error)
}

// Service is the login side path which produces the tokens the
// authenticator later consumes.
type Service struct {
	verifier Verifier
	tokens   TokenSource
}

// NewService creates a login service.
func NewService(verifier Verifier, tokens TokenSource) *Service {
	return &Service{verifier: verifier, tokens: tokens}
}

type loginRequest struct {
	DB       string `json:"db"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AddRoutes adds the login route to the router.
func (s *Service) AddRoutes(router *mux.Router) {
	logger.Default().Debugln("login service")
	logger.Default().Debugln("  handle route: /api/login POST")
	router.HandleFunc("/api/login", s.login).Methods(http.MethodOptions, http.MethodPost)
}

func (s *Service) login(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)

	var request loginRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		envelope.Write(w, envelope.Error("Invalid JSON: "+err.Error(), http.StatusBadRequest))
		return
	}
	if request.DB == "" || request.Email == "" || request.Password == "" {
		envelope.Write(w, envelope.Error("Missing db, email or password", http.StatusBadRequest))
		return
	}

	session, err := s.verifier.Authenticate(r.Context(), request.DB, request.Email, request.Password)
	if err != nil {
		env := classifyAuthError(request.DB, err)
		rlog.Errorln("authentication error:", env.Error.Message)
		envelope.Write(w, env)
		return
	}

	principal := access.Principal{ID: session.UserID, Login: session.Login}
	token, err := s.tokens.FindValidForUser(r.Context(), principal.ID)
	if errors.Is(err, access.ErrNoToken) {
		token, err = s.tokens.Issue(r.Context(), principal, access.DefaultTokenTTL)
	}
	if err != nil {
		rlog.WithError(err).Errorln("cannot issue token")
		envelope.Write(w, envelope.Error("Internal server error: "+err.Error(), http.StatusInternalServerError))
		return
	}

	envelope.Write(w, envelope.Success(map[string]interface{}{
		"token":      token.Secret,
		"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
		"user":       map[string]interface{}{"email": session.Login},
		"session_id": session.SessionID,
	}, "Login successful", http.StatusOK))
}

// classifyAuthError maps a verifier failure to the API error taxonomy. For
// untyped errors it falls back to matching the known backend error phrases,
// the same classification the login path has always done.
func classifyAuthError(db string, err error) envelope.Envelope {
	switch {
	case errors.Is(err, ErrUnknownDatabase):
		return envelope.Error(fmt.Sprintf("Database '%s' does not exist", db), http.StatusBadRequest)
	case errors.Is(err, ErrInvalidCredentials):
		return envelope.Error("Invalid email or password", http.StatusUnauthorized)
	case errors.Is(err, ErrBackendUnavailable):
		return envelope.Error("Authentication backend unavailable: "+err.Error(), http.StatusBadGateway)
	}

	message := err.Error()
	switch {
	case strings.Contains(message, "database") && strings.Contains(message, "does not exist"):
		return envelope.Error(fmt.Sprintf("Database '%s' does not exist", db), http.StatusBadRequest)
	case strings.Contains(message, "password authentication failed"):
		return envelope.Error("Database connection failed - invalid credentials", http.StatusUnauthorized)
	case strings.Contains(strings.ToLower(message), "invalid credentials"):
		return envelope.Error("Invalid email or password", http.StatusUnauthorized)
	}
	return envelope.Error(message, http.StatusInternalServerError)
}
