package access

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/ormgate-tech/ormgate/core/csql"
	"github.com/ormgate-tech/ormgate/core/logger"
)

// DefaultTokenTTL is the lifetime of a freshly issued token.
const DefaultTokenTTL = 7 * 24 * time.Hour

// secretLength is the number of random bytes in a token secret
const secretLength = 32

// ErrNoToken is returned when no active, unexpired token matches a lookup.
var ErrNoToken = errors.New("no valid token")

// Token is one persisted access token. Tokens are soft-expired: the sweep
// flips Active to false but never deletes the row, preserving audit history.
type Token struct {
	Secret    string    `json:"token"`
	UserID    int64     `json:"user_id"`
	UserLogin string    `json:"user_login"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenStore manages the persisted token table. One principal may hold
// multiple tokens, one per login session; lookups only ever match tokens
// that are active and not yet expired.
type TokenStore struct {
	db *csql.DB
}

// NewTokenStore creates the token table (if it does not exist yet) and
// returns the store. The time columns are timestamptz so that comparisons
// against now() hold regardless of the session time zone.
func NewTokenStore(db *csql.DB) *TokenStore {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `."api_token"
(token varchar NOT NULL PRIMARY KEY,
user_id bigint NOT NULL,
user_login varchar NOT NULL DEFAULT '',
active boolean NOT NULL DEFAULT true,
expires_at timestamptz NOT NULL,
created_at timestamptz NOT NULL DEFAULT now()
);
CREATE index IF NOT EXISTS api_token_user_index ON ` + db.Schema + `."api_token"(user_id, created_at);
`)
	if err != nil {
		panic(err)
	}
	return &TokenStore{db: db}
}

// newSecret returns a url-safe token secret with 32 bytes of entropy.
func newSecret() (string, error) {
	raw := make([]byte, secretLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("cannot generate token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Issue creates and persists a new token for the principal. The secret is
// unique across all tokens; the primary key enforces what the entropy size
// already practically guarantees.
func (t *TokenStore) Issue(ctx context.Context, principal Principal, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	secret, err := newSecret()
	if err != nil {
		return Token{}, err
	}
	token := Token{
		Secret:    secret,
		UserID:    principal.ID,
		UserLogin: principal.Login,
		Active:    true,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	err = t.db.QueryRowContext(ctx, `INSERT INTO `+t.db.Schema+`."api_token"
(token, user_id, user_login, expires_at)
VALUES($1,$2,$3,$4) RETURNING created_at;`,
		token.Secret, token.UserID, token.UserLogin, token.ExpiresAt,
	).Scan(&token.CreatedAt)
	if err != nil {
		return Token{}, err
	}
	return token, nil
}

// FindValidForUser returns the most recently created active, unexpired token
// for a principal, or ErrNoToken.
func (t *TokenStore) FindValidForUser(ctx context.Context, userID int64) (Token, error) {
	var token Token
	err := t.db.QueryRowContext(ctx, `SELECT token, user_id, user_login, active, expires_at, created_at
FROM `+t.db.Schema+`."api_token"
WHERE user_id = $1 AND active AND expires_at > now()
ORDER BY created_at DESC LIMIT 1;`, userID,
	).Scan(&token.Secret, &token.UserID, &token.UserLogin, &token.Active, &token.ExpiresAt, &token.CreatedAt)
	if err == csql.ErrNoRows {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, err
	}
	return token, nil
}

// FindValidBySecret is the per-request lookup. It only ever matches tokens
// that are active and not yet expired; the expiry condition is part of the
// query itself, an expired token can never authenticate even before the
// sweep has deactivated it.
func (t *TokenStore) FindValidBySecret(ctx context.Context, secret string) (Token, Principal, error) {
	var token Token
	err := t.db.QueryRowContext(ctx, `SELECT token, user_id, user_login, active, expires_at, created_at
FROM `+t.db.Schema+`."api_token"
WHERE token = $1 AND active AND expires_at > now()
LIMIT 1;`, secret,
	).Scan(&token.Secret, &token.UserID, &token.UserLogin, &token.Active, &token.ExpiresAt, &token.CreatedAt)
	if err == csql.ErrNoRows {
		return Token{}, Principal{}, ErrNoToken
	}
	if err != nil {
		return Token{}, Principal{}, err
	}
	return token, Principal{ID: token.UserID, Login: token.UserLogin}, nil
}

// SweepExpired deactivates all active tokens whose expiry has passed and
// returns how many were deactivated. The operation is idempotent and safe
// to run concurrently with issuance and per-request validation.
func (t *TokenStore) SweepExpired(ctx context.Context) (int64, error) {
	result, err := t.db.ExecContext(ctx, `UPDATE `+t.db.Schema+`."api_token"
SET active = false WHERE active AND expires_at <= now();`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunExpirySweeper runs SweepExpired on the given interval until the context
// is cancelled. It is meant to be started once as a goroutine at process
// start. The optional report callback receives the outcome of every
// successful sweep.
func (t *TokenStore) RunExpirySweeper(ctx context.Context, interval time.Duration, report func(deactivated int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := t.SweepExpired(ctx)
			if err != nil {
				logger.Default().WithError(err).Errorln("token expiry sweep failed")
				continue
			}
			if count > 0 {
				logger.Default().Infoln("token expiry sweep deactivated", count, "tokens")
			}
			if report != nil {
				report(count)
			}
		}
	}
}
