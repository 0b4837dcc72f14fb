// Package users implements the local SQLite-backed user store: accounts,
// Argon2 password hashing, and role assignment.
package users

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/vortexdb/vortex/internal/access"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// User is a single account record.
type User struct {
	ID        int64
	Username  string
	Role      access.Role
	IsActive  bool
	CreatedAt time.Time
	LastLogin *time.Time
}

// Store manages accounts in a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens a Store against an already-connected database, creating the
// users table if absent.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("users: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_login DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	`
	_, err := s.db.Exec(schema)
	return err
}

// hashPassword derives an Argon2id hash and returns an encoded
// salt$hash string suitable for storage.
func hashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("users: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" + base64.RawStdEncoding.EncodeToString(hash), nil
}

func verifyPassword(password, encoded string) bool {
	sep := -1
	for i := range encoded {
		if encoded[i] == '$' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return false
	}
	saltB64 := encoded[:sep]
	hashB64 := encoded[sep+1:]

	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Create inserts a new active user with a hashed password.
func (s *Store) Create(username, password string, role access.Role) (*User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	res, err := s.db.Exec(
		"INSERT INTO users (username, password_hash, role, is_active, created_at) VALUES (?, ?, ?, TRUE, ?)",
		username, hash, string(role), time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("users: create %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// Authenticate validates a username/password pair, returning the user on
// success. Inactive accounts are always rejected.
func (s *Store) Authenticate(username, password string) (*User, error) {
	var u User
	var roleStr string
	var hash string
	var lastLogin sql.NullTime
	err := s.db.QueryRow(
		"SELECT id, username, password_hash, role, is_active, created_at, last_login FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &hash, &roleStr, &u.IsActive, &u.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("users: authenticate %q: %w", username, err)
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}
	if !verifyPassword(password, hash) {
		return nil, ErrInvalidCredentials
	}
	u.Role = access.Role(roleStr)
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}

	if _, err := s.db.Exec("UPDATE users SET last_login = ? WHERE id = ?", time.Now(), u.ID); err != nil {
		return nil, fmt.Errorf("users: update last_login: %w", err)
	}
	return &u, nil
}

// GetByID fetches a user by primary key.
func (s *Store) GetByID(id int64) (*User, error) {
	var u User
	var roleStr string
	var lastLogin sql.NullTime
	err := s.db.QueryRow(
		"SELECT id, username, role, is_active, created_at, last_login FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Username, &roleStr, &u.IsActive, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil, fmt.Errorf("users: get %d: %w", id, err)
	}
	u.Role = access.Role(roleStr)
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}

// Deactivate flips is_active off without deleting the account.
func (s *Store) Deactivate(username string) error {
	_, err := s.db.Exec("UPDATE users SET is_active = FALSE WHERE username = ?", username)
	return err
}

// List returns all accounts ordered by creation time.
func (s *Store) List() ([]User, error) {
	rows, err := s.db.Query("SELECT id, username, role, is_active, created_at, last_login FROM users ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var roleStr string
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &roleStr, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
			return nil, err
		}
		u.Role = access.Role(roleStr)
		if lastLogin.Valid {
			u.LastLogin = &lastLogin.Time
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
