package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/authz"
	authzcache "github.com/velro-ai/velro/internal/authz/cache"
	"github.com/velro-ai/velro/internal/models"
)

// fakeAuthzStore serves fixed entity state to the resolver and counts reads,
// so tests can assert that cached denials stop hitting it.
type fakeAuthzStore struct {
	mu          sync.Mutex
	projects    map[uuid.UUID]*authz.ProjectAccess
	generations map[uuid.UUID]*authz.GenerationAccess
	err         error
	calls       int
}

func newFakeAuthzStore() *fakeAuthzStore {
	return &fakeAuthzStore{
		projects:    make(map[uuid.UUID]*authz.ProjectAccess),
		generations: make(map[uuid.UUID]*authz.GenerationAccess),
	}
}

func (s *fakeAuthzStore) ProjectAccess(_ context.Context, id uuid.UUID) (*authz.ProjectAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.projects[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return p, nil
}

func (s *fakeAuthzStore) GenerationAccess(_ context.Context, id uuid.UUID) (*authz.GenerationAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	g, ok := s.generations[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	return g, nil
}

func (s *fakeAuthzStore) TeamRole(context.Context, uuid.UUID, uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "", s.err
}

func (s *fakeAuthzStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// newGenerationsRouter mounts the generation routes the way the real router
// does, over a real chain (memory tier only) and resolver. The generations
// service is nil: these tests stop at the authorization boundary.
func newGenerationsRouter(store *fakeAuthzStore) http.Handler {
	chain := authzcache.NewChain(nil, authzcache.NewMemoryTier(64, time.Minute))
	svc := authz.NewService(authz.NewResolver(store), chain, nil, nil)
	h := NewGenerationsHandler(nil, svc)

	r := chi.NewRouter()
	r.Get("/generations/{id}", h.Get)
	r.Post("/generations/{id}/authorize", h.Authorize)
	return r
}

func doAs(t *testing.T, h http.Handler, userID uuid.UUID, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(authctx.WithIdentity(req.Context(), &authctx.Identity{UserID: userID}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestGetGenerationStrangerIsDenied(t *testing.T) {
	store := newFakeAuthzStore()
	owner := uuid.New()
	projID, genID := uuid.New(), uuid.New()
	store.projects[projID] = &authz.ProjectAccess{ID: projID, OwnerID: owner, Visibility: models.VisibilityPrivate}
	store.generations[genID] = &authz.GenerationAccess{ID: genID, OwnerID: owner, ProjectID: projID}

	router := newGenerationsRouter(store)
	stranger := uuid.New()

	rec := doAs(t, router, stranger, http.MethodGet, "/generations/"+genID.String())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "denied", errorCode(t, rec))

	// The deny is a decision and is cached: the second request must not
	// touch entity state again.
	afterFirst := store.callCount()
	rec = doAs(t, router, stranger, http.MethodGet, "/generations/"+genID.String())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, afterFirst, store.callCount())
}

func TestGetGenerationStoreOutageIs503Not403(t *testing.T) {
	store := newFakeAuthzStore()
	store.err = context.DeadlineExceeded

	rec := doAs(t, newGenerationsRouter(store), uuid.New(),
		http.MethodGet, "/generations/"+uuid.New().String())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "resolution_unavailable", errorCode(t, rec))
}

func TestGetGenerationUnknownIs404(t *testing.T) {
	rec := doAs(t, newGenerationsRouter(newFakeAuthzStore()), uuid.New(),
		http.MethodGet, "/generations/"+uuid.New().String())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestGetGenerationRejectsMalformedID(t *testing.T) {
	rec := doAs(t, newGenerationsRouter(newFakeAuthzStore()), uuid.New(),
		http.MethodGet, "/generations/not-a-uuid")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_failed", errorCode(t, rec))
}

func TestAuthorizeReportsDecisionWithoutEnforcing(t *testing.T) {
	store := newFakeAuthzStore()
	owner := uuid.New()
	projID, genID := uuid.New(), uuid.New()
	store.projects[projID] = &authz.ProjectAccess{ID: projID, OwnerID: owner, Visibility: models.VisibilityPrivate}
	store.generations[genID] = &authz.GenerationAccess{ID: genID, OwnerID: owner, ProjectID: projID}

	router := newGenerationsRouter(store)
	path := "/generations/" + genID.String() + "/authorize"

	var doc struct {
		Decision authz.Decision  `json:"decision"`
		Actions  map[string]bool `json:"actions"`
	}

	rec := doAs(t, router, owner, http.MethodPost, path)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.True(t, doc.Decision.Permitted)
	assert.Equal(t, authz.RoleOwner, doc.Decision.Role)
	assert.True(t, doc.Actions["delete"])

	// A stranger still gets 200: the endpoint reports the deny, it does
	// not answer with one.
	rec = doAs(t, router, uuid.New(), http.MethodPost, path)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.False(t, doc.Decision.Permitted)
	assert.False(t, doc.Actions["read"])
}
