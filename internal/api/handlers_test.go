package api

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/vortexdb/vortex/internal/access"
	"github.com/vortexdb/vortex/internal/encoders"
	"github.com/vortexdb/vortex/internal/hybrid"
	"github.com/vortexdb/vortex/internal/idservice"
	"github.com/vortexdb/vortex/internal/ingest"
	"github.com/vortexdb/vortex/internal/security"
	"github.com/vortexdb/vortex/internal/users"
	"github.com/vortexdb/vortex/internal/vectorstore"
)

type fakeStore struct {
	vectorstore.Client
	collections map[string]bool
}

func (f *fakeStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.collections[name], nil
}

func (f *fakeStore) CreateCollection(ctx context.Context, spec vectorstore.CollectionSpec) error {
	if f.collections == nil {
		f.collections = map[string]bool{}
	}
	f.collections[spec.Name] = true
	return nil
}

func (f *fakeStore) ListCollections(ctx context.Context) ([]vectorstore.CollectionInfo, error) {
	var out []vectorstore.CollectionInfo
	for name := range f.collections {
		out = append(out, vectorstore.CollectionInfo{Name: name})
	}
	return out, nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	userStore, err := users.New(db)
	if err != nil {
		t.Fatalf("new user store: %v", err)
	}
	if _, err := userStore.Create("alice", "correct horse battery staple", access.RoleAdmin); err != nil {
		t.Fatalf("create user: %v", err)
	}

	store := &fakeStore{collections: map[string]bool{}}
	ids := idservice.New()
	log := zap.NewNop()
	ingestSvc := ingest.New(store, encoders.Set{}, ids, nil, log, ingest.Config{}, func(text string, size, overlap int) []string {
		if text == "" {
			return nil
		}
		return []string{text}
	})
	pipeline := hybrid.New(store, encoders.Set{}, log, nil)

	secMW := security.New(security.Config{
		APIKeys: map[string]access.User{
			"test-admin-key": {UserID: "admin-1", Role: access.RoleAdmin},
		},
		Log: log,
	})

	s := New(Config{
		Store:     store,
		Encoders:  encoders.Set{},
		Hybrid:    pipeline,
		Ingest:    ingestSvc,
		Users:     userStore,
		JWTSecret: []byte("test-secret"),
		Security:  secMW,
		Log:       log,
	})
	return s, store
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoginReturnsTokenForValidCredentials(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"username":"alice","password":"correct horse battery staple"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "token") {
		t.Fatalf("expected a token field in response, got %s", rec.Body.String())
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"username":"alice","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminCollectionCreateRequiresAdminRole(t *testing.T) {
	s, _ := newTestServer(t)
	// The request carries no credentials, so the security middleware
	// authenticates it as the guest principal, which must be rejected.
	body := `{"name":"docs","dense_size":768}`
	req := httptest.NewRequest(http.MethodPost, "/admin/collections/create", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCrudUpsertCreatesCollectionAndPoint(t *testing.T) {
	s, store := newTestServer(t)
	body := `{"collection":"notes","document":{"title":"hello"},"tenant_id":"public","access_level":1}`
	req := httptest.NewRequest(http.MethodPost, "/crud/upsert", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "test-admin-key")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !store.collections["notes"] {
		t.Fatal("expected collection notes to be created")
	}
}
