// Package auth implements the credential store (C1) and token service
// (C2): user lookup/verification backed by SQL, and signed bearer
// tokens.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
)

// CredentialStore looks up and verifies User rows. It never mutates or
// deletes rows; that is the admin CLI's job.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore wraps an already-open database handle. Use
// OpenDatabase to build one from a driver name and DSN.
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// EnsureSchema creates the users table if it does not exist. Safe to call
// on every startup.
func (s *CredentialStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			username      TEXT PRIMARY KEY,
			password_hash BLOB NOT NULL
		)`)
	return err
}

// Lookup returns the user row for username, or (nil, nil) if absent.
func (s *CredentialStore) Lookup(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT username, password_hash FROM users WHERE username = $1`, username)
	var u model.User
	if err := row.Scan(&u.Username, &u.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Internal, "credential lookup failed", err)
	}
	return &u, nil
}

// Verify checks password against user's stored hash in constant time
// (bcrypt.CompareHashAndPassword is itself constant-time over the hash
// comparison). Callers must still call Verify with a dummy hash when
// the user is absent so failure latency does not distinguish
// "no such user" from "wrong password".
func Verify(u *model.User, password string) bool {
	if u == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}

// dummyHash is compared against on an absent-user lookup so the
// verify path runs the same bcrypt cost regardless of whether the
// username exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("placeholder-password-for-timing"), bcrypt.DefaultCost)

// Authenticate resolves a login attempt to a username or an
// Unauthorized error, taking the same latency class whether the
// username is absent or the password is wrong.
func (s *CredentialStore) Authenticate(ctx context.Context, username, password string) (string, error) {
	u, err := s.Lookup(ctx, username)
	if err != nil {
		return "", err
	}
	if u == nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", errs.New(errs.Unauthorized, "invalid username or password")
	}
	if !Verify(u, password) {
		return "", errs.New(errs.Unauthorized, "invalid username or password")
	}
	return u.Username, nil
}

// HashPassword derives a password_hash for the admin CLI to insert.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// OpenDatabase opens a *sql.DB for the given driver ("postgres" or
// "sqlite") and DSN. PostgreSQL is served by pgx's database/sql driver;
// sqlite by the pure-Go modernc.org/sqlite driver, so local/dev/test
// runs need no external database.
func OpenDatabase(driver, dsn string) (*sql.DB, error) {
	var sqlDriver string
	switch driver {
	case "postgres":
		sqlDriver = "pgx"
	case "sqlite":
		sqlDriver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
