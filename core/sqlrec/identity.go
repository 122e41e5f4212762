package sqlrec

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ormgate-tech/ormgate/core/csql"
	"github.com/ormgate-tech/ormgate/core/login"
)

// Directory is the identity store side of sqlrec: a users table with bcrypt
// password hashes. It implements the login.Verifier contract.
//
// The directory serves exactly one database name; a login request for any
// other name fails the same way an unknown tenant does.
type Directory struct {
	db       *csql.DB
	database string
}

// NewDirectory creates the user table (if it does not exist yet) and
// returns the directory.
func NewDirectory(db *csql.DB, database string) *Directory {
	if database == "" {
		panic("database name is missing")
	}
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `."api_user"
(id bigserial PRIMARY KEY,
login varchar NOT NULL UNIQUE,
password_hash varchar NOT NULL,
created_at timestamp NOT NULL DEFAULT now()
);`)
	if err != nil {
		panic(err)
	}
	return &Directory{db: db, database: database}
}

// EnsureUser creates a user or resets an existing user's password. Meant
// for bootstrapping; the gateway has no user-management surface.
func (d *Directory) EnsureUser(ctx context.Context, loginName, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	var id int64
	err = d.db.QueryRowContext(ctx, `INSERT INTO `+d.db.Schema+`."api_user" (login, password_hash)
VALUES($1,$2) ON CONFLICT (login) DO UPDATE SET password_hash = $2 RETURNING id;`,
		loginName, string(hash)).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Authenticate verifies primary credentials and returns the session of the
// verified principal. The session identifier is minted per login.
func (d *Directory) Authenticate(ctx context.Context, db, loginName, password string) (login.Session, error) {
	if db != d.database {
		return login.Session{}, fmt.Errorf("%w: %s", login.ErrUnknownDatabase, db)
	}

	var id int64
	var hash string
	err := d.db.QueryRowContext(ctx, `SELECT id, password_hash FROM `+d.db.Schema+`."api_user"
WHERE login = $1;`, loginName).Scan(&id, &hash)
	if err == csql.ErrNoRows {
		return login.Session{}, login.ErrInvalidCredentials
	}
	if err != nil {
		return login.Session{}, fmt.Errorf("%w: %s", login.ErrBackendUnavailable, err.Error())
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return login.Session{}, login.ErrInvalidCredentials
	}

	return login.Session{
		UserID:    id,
		Login:     loginName,
		SessionID: uuid.NewString(),
	}, nil
}
