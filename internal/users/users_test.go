package users

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vortexdb/vortex/internal/access"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestCreateAndAuthenticate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("alice", "correct-horse", access.RoleEngineer); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, err := s.Authenticate("alice", "correct-horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if u.Role != access.RoleEngineer {
		t.Fatalf("expected role engineer, got %v", u.Role)
	}
}

func TestAuthenticateWrongPasswordFails(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("alice", "correct-horse", access.RoleViewer); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Authenticate("alice", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateInactiveAccountFails(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("alice", "correct-horse", access.RoleViewer); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Deactivate("alice"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := s.Authenticate("alice", "correct-horse"); err != ErrAccountInactive {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestListReturnsAllAccounts(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("alice", "pw1", access.RoleViewer); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create("bob", "pw2", access.RoleAnalyst); err != nil {
		t.Fatalf("create: %v", err)
	}
	list, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 users, got %d", len(list))
	}
}
