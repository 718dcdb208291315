package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/newsgraph/internal/domain"
)

type fakeRegistry struct {
	revoked  map[string]bool
	inactive map[string]bool
}

func (f *fakeRegistry) IsTokenRevoked(_ context.Context, tokenID string) (bool, error) {
	return f.revoked[tokenID], nil
}

func (f *fakeRegistry) ActiveGroups(_ context.Context, groupIDs []string) ([]string, error) {
	var active []string
	for _, g := range groupIDs {
		if !f.inactive[g] {
			active = append(active, g)
		}
	}
	return active, nil
}

func newTestService(reg TokenRegistry) *Service {
	return NewService("test-secret", reg, zerolog.Nop())
}

func TestResolveAnonymous(t *testing.T) {
	svc := newTestService(nil)

	ac, err := svc.Resolve(context.Background(), "")
	require.NoError(t, err)

	assert.True(t, ac.Anonymous)
	assert.True(t, ac.CanRead(domain.GroupPublic))
	assert.False(t, ac.IsAdmin)
	assert.Empty(t, ac.WriteGroup)
	assert.Error(t, ac.RequireWrite("anything"))
}

func TestResolveValidToken(t *testing.T) {
	svc := newTestService(&fakeRegistry{})

	_, signed, err := svc.Mint([]string{"group_alpha", "group_beta"}, time.Hour)
	require.NoError(t, err)

	ac, err := svc.Resolve(context.Background(), "Bearer "+signed)
	require.NoError(t, err)

	assert.False(t, ac.Anonymous)
	assert.Equal(t, "group_alpha", ac.WriteGroup)
	assert.True(t, ac.CanRead("group_alpha"))
	assert.True(t, ac.CanRead("group_beta"))
	// public is implicit for reads
	assert.True(t, ac.CanRead(domain.GroupPublic))
	assert.False(t, ac.IsAdmin)
	assert.True(t, ac.CanWrite("group_alpha"))
	assert.False(t, ac.CanWrite("group_beta"))
}

func TestResolveAdminToken(t *testing.T) {
	svc := newTestService(&fakeRegistry{})

	_, signed, err := svc.Mint([]string{domain.GroupAdmin}, time.Hour)
	require.NoError(t, err)

	ac, err := svc.Resolve(context.Background(), signed)
	require.NoError(t, err)

	assert.True(t, ac.IsAdmin)
	assert.NoError(t, ac.RequireAdmin())
}

func TestResolveExpiredToken(t *testing.T) {
	svc := newTestService(&fakeRegistry{})

	_, signed, err := svc.Mint([]string{"group_alpha"}, -time.Minute)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), signed)
	assert.True(t, domain.IsCode(err, domain.ErrAuthInvalidToken))
}

func TestResolveRevokedToken(t *testing.T) {
	reg := &fakeRegistry{revoked: map[string]bool{}}
	svc := newTestService(reg)

	tokenID, signed, err := svc.Mint([]string{"group_alpha"}, time.Hour)
	require.NoError(t, err)
	reg.revoked[tokenID] = true

	_, err = svc.Resolve(context.Background(), signed)
	assert.True(t, domain.IsCode(err, domain.ErrAuthInvalidToken))
}

func TestResolveWrongSecret(t *testing.T) {
	other := NewService("other-secret", nil, zerolog.Nop())
	_, signed, err := other.Mint([]string{"group_alpha"}, time.Hour)
	require.NoError(t, err)

	svc := newTestService(nil)
	_, err = svc.Resolve(context.Background(), signed)
	assert.True(t, domain.IsCode(err, domain.ErrAuthInvalidToken))
}

func TestRequireWriteNamedForeignGroup(t *testing.T) {
	svc := newTestService(&fakeRegistry{})

	_, signed, err := svc.Mint([]string{"group_alpha"}, time.Hour)
	require.NoError(t, err)

	ac, err := svc.Resolve(context.Background(), signed)
	require.NoError(t, err)

	err = ac.RequireWrite("group_beta")
	assert.True(t, domain.IsCode(err, domain.ErrAccessDenied))

	// Unnamed target defaults to the write group
	assert.NoError(t, ac.RequireWrite(""))
}

func TestRequireReadNamedForeignGroup(t *testing.T) {
	svc := newTestService(&fakeRegistry{})

	_, signed, err := svc.Mint([]string{"group_alpha"}, time.Hour)
	require.NoError(t, err)

	ac, err := svc.Resolve(context.Background(), signed)
	require.NoError(t, err)

	err = ac.RequireRead("group_beta")
	assert.True(t, domain.IsCode(err, domain.ErrAccessDenied))
}

func TestInactiveGroupsDropped(t *testing.T) {
	reg := &fakeRegistry{inactive: map[string]bool{"group_beta": true}}
	svc := newTestService(reg)

	_, signed, err := svc.Mint([]string{"group_alpha", "group_beta"}, time.Hour)
	require.NoError(t, err)

	ac, err := svc.Resolve(context.Background(), signed)
	require.NoError(t, err)

	assert.True(t, ac.CanRead("group_alpha"))
	assert.False(t, ac.CanRead("group_beta"))
}

func TestGroupListDeterministic(t *testing.T) {
	ac := &AccessContext{PermittedGroups: map[string]bool{"b": true, "a": true, "c": true}}
	assert.Equal(t, []string{"a", "b", "c"}, ac.GroupList())
}
