package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velro-ai/velro/internal/models"
)

// fakeStore serves entity state from maps and can be forced to fail.
type fakeStore struct {
	projects    map[uuid.UUID]*ProjectAccess
	generations map[uuid.UUID]*GenerationAccess
	teamRoles   map[uuid.UUID]map[uuid.UUID]string // team -> user -> role
	err         error
	calls       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:    make(map[uuid.UUID]*ProjectAccess),
		generations: make(map[uuid.UUID]*GenerationAccess),
		teamRoles:   make(map[uuid.UUID]map[uuid.UUID]string),
	}
}

func (s *fakeStore) ProjectAccess(_ context.Context, id uuid.UUID) (*ProjectAccess, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) GenerationAccess(_ context.Context, id uuid.UUID) (*GenerationAccess, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	g, ok := s.generations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (s *fakeStore) TeamRole(_ context.Context, teamID, userID uuid.UUID) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.teamRoles[teamID][userID], nil
}

func (s *fakeStore) addProject(owner uuid.UUID, visibility string, teamID *uuid.UUID) uuid.UUID {
	id := uuid.New()
	s.projects[id] = &ProjectAccess{ID: id, OwnerID: owner, Visibility: visibility, TeamID: teamID}
	return id
}

func (s *fakeStore) addGeneration(owner, projectID uuid.UUID) uuid.UUID {
	id := uuid.New()
	s.generations[id] = &GenerationAccess{ID: id, OwnerID: owner, ProjectID: projectID}
	return id
}

func (s *fakeStore) addMember(teamID, userID uuid.UUID, role string) {
	if s.teamRoles[teamID] == nil {
		s.teamRoles[teamID] = make(map[uuid.UUID]string)
	}
	s.teamRoles[teamID][userID] = role
}

func TestResolveOwnerAlwaysPermitted(t *testing.T) {
	store := newFakeStore()
	owner := uuid.New()

	// Ownership wins regardless of visibility or team state.
	for _, vis := range []string{models.VisibilityPrivate, models.VisibilityTeam, models.VisibilityPublic} {
		teamID := uuid.New()
		projID := store.addProject(owner, vis, &teamID)
		store.addMember(teamID, owner, models.TeamRoleViewer)

		d, err := NewResolver(store).Resolve(context.Background(), owner, Resource{Kind: KindProject, ID: projID})
		require.NoError(t, err, "visibility %s", vis)
		assert.True(t, d.Permitted)
		assert.Equal(t, RoleOwner, d.Role)
		assert.Equal(t, SourceOwnership, d.Source)
	}
}

func TestResolveStrangerOnPrivateIsDenied(t *testing.T) {
	store := newFakeStore()
	projID := store.addProject(uuid.New(), models.VisibilityPrivate, nil)

	d, err := NewResolver(store).Resolve(context.Background(), uuid.New(), Resource{Kind: KindProject, ID: projID})
	require.NoError(t, err, "a deny is a decision, not an error")
	assert.False(t, d.Permitted)
	assert.Equal(t, RoleNone, d.Role)
	assert.Equal(t, SourceNone, d.Source)
}

func TestResolveTeamRoleMapping(t *testing.T) {
	cases := []struct {
		teamRole  string
		permitted bool
		role      Role
		canWrite  bool
	}{
		{models.TeamRoleOwner, true, RoleOwner, true},
		{models.TeamRoleAdmin, true, RoleAdmin, true},
		{models.TeamRoleContributor, true, RoleContributor, true},
		{models.TeamRoleViewer, true, RoleViewer, false},
	}

	for _, tc := range cases {
		t.Run(tc.teamRole, func(t *testing.T) {
			store := newFakeStore()
			user := uuid.New()
			teamID := uuid.New()
			projID := store.addProject(uuid.New(), models.VisibilityTeam, &teamID)
			store.addMember(teamID, user, tc.teamRole)

			d, err := NewResolver(store).Resolve(context.Background(), user, Resource{Kind: KindProject, ID: projID})
			require.NoError(t, err)
			assert.Equal(t, tc.permitted, d.Permitted)
			assert.Equal(t, tc.role, d.Role)
			assert.Equal(t, SourceTeam, d.Source)
			assert.Equal(t, tc.canWrite, d.Allows(ActionWrite))
			assert.True(t, d.Allows(ActionRead))
		})
	}
}

func TestResolvePublicVisibilityGrantsReadOnly(t *testing.T) {
	store := newFakeStore()
	user := uuid.New()
	projID := store.addProject(uuid.New(), models.VisibilityPublic, nil)

	d, err := NewResolver(store).Resolve(context.Background(), user, Resource{Kind: KindProject, ID: projID})
	require.NoError(t, err)
	assert.True(t, d.Permitted)
	assert.Equal(t, RoleViewer, d.Role)
	assert.Equal(t, SourceVisibility, d.Source)
	assert.True(t, d.Allows(ActionRead))
	assert.False(t, d.Allows(ActionWrite))
}

func TestResolveHighestPrivilegeWins(t *testing.T) {
	// Team admin on a public project: the team path (admin) must beat the
	// visibility path (viewer).
	store := newFakeStore()
	user := uuid.New()
	teamID := uuid.New()
	projID := store.addProject(uuid.New(), models.VisibilityPublic, &teamID)
	store.addMember(teamID, user, models.TeamRoleAdmin)

	d, err := NewResolver(store).Resolve(context.Background(), user, Resource{Kind: KindProject, ID: projID})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, d.Role)
	assert.Equal(t, SourceTeam, d.Source)

	// Owner who is also a team viewer: ownership must win.
	store2 := newFakeStore()
	owner := uuid.New()
	team2 := uuid.New()
	proj2 := store2.addProject(owner, models.VisibilityTeam, &team2)
	store2.addMember(team2, owner, models.TeamRoleViewer)

	d2, err := NewResolver(store2).Resolve(context.Background(), owner, Resource{Kind: KindProject, ID: proj2})
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, d2.Role)
	assert.Equal(t, SourceOwnership, d2.Source)
}

func TestResolveGenerationInheritsProjectAccess(t *testing.T) {
	store := newFakeStore()
	projOwner := uuid.New()
	genOwner := uuid.New()
	teamID := uuid.New()
	viewer := uuid.New()
	stranger := uuid.New()

	projID := store.addProject(projOwner, models.VisibilityTeam, &teamID)
	genID := store.addGeneration(genOwner, projID)
	store.addMember(teamID, viewer, models.TeamRoleViewer)

	r := NewResolver(store)
	res := Resource{Kind: KindGeneration, ID: genID}

	// The generation's creator owns it outright.
	d, err := r.Resolve(context.Background(), genOwner, res)
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, d.Role)

	// The project owner sees everything inside the project.
	d, err = r.Resolve(context.Background(), projOwner, res)
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, d.Role)
	assert.Equal(t, SourceOwnership, d.Source)

	// A team viewer reads through the project's team.
	d, err = r.Resolve(context.Background(), viewer, res)
	require.NoError(t, err)
	assert.True(t, d.Permitted)
	assert.Equal(t, RoleViewer, d.Role)

	// A stranger is denied.
	d, err = r.Resolve(context.Background(), stranger, res)
	require.NoError(t, err)
	assert.False(t, d.Permitted)
}

func TestResolveUnknownResource(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	_, err := r.Resolve(context.Background(), uuid.New(), Resource{Kind: KindProject, ID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(context.Background(), uuid.New(), Resource{Kind: KindGeneration, ID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveStoreFailureIsUnavailableNotDenied(t *testing.T) {
	store := newFakeStore()
	projID := store.addProject(uuid.New(), models.VisibilityPrivate, nil)
	store.err = errors.New("connection refused")

	_, err := NewResolver(store).Resolve(context.Background(), uuid.New(), Resource{Kind: KindProject, ID: projID})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolutionUnavailable)
	assert.NotErrorIs(t, err, ErrDenied)
}

func TestResolveIsIdempotent(t *testing.T) {
	store := newFakeStore()
	user := uuid.New()
	teamID := uuid.New()
	projID := store.addProject(uuid.New(), models.VisibilityTeam, &teamID)
	store.addMember(teamID, user, models.TeamRoleContributor)

	r := NewResolver(store)
	res := Resource{Kind: KindProject, ID: projID}

	first, err := r.Resolve(context.Background(), user, res)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), user, res)
	require.NoError(t, err)

	assert.Equal(t, first.Permitted, second.Permitted)
	assert.Equal(t, first.Role, second.Role)
	assert.Equal(t, first.Source, second.Source)
}
