package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKeyRepo struct {
	byHash map[string]*APIKeyInfo
}

func (m *mockKeyRepo) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return info, nil
}

var pepper = []byte("test-pepper")

func newRepo(infos ...APIKeyInfo) *mockKeyRepo {
	m := &mockKeyRepo{byHash: make(map[string]*APIKeyInfo)}
	for i := range infos {
		m.byHash[infos[i].KeyHash] = &infos[i]
	}
	return m
}

func TestAuthenticate_Customer(t *testing.T) {
	a := NewAuthenticator(newRepo(APIKeyInfo{
		ID: "c1", KeyHash: HashKey("secret", pepper), CustomerID: 7, Email: "c@example.com", Role: RoleCustomer,
	}), pepper)

	p, err := a.Authenticate(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, Principal{CustomerID: 7, Email: "c@example.com", Role: RoleCustomer}, p)
	assert.False(t, p.IsAdmin())
}

func TestAuthenticate_Admin(t *testing.T) {
	a := NewAuthenticator(newRepo(APIKeyInfo{
		ID: "a1", KeyHash: HashKey("root", pepper), Role: RoleAdmin,
	}), pepper)

	p, err := a.Authenticate(context.Background(), "root")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestAuthenticate_Rejects(t *testing.T) {
	a := NewAuthenticator(newRepo(
		APIKeyInfo{ID: "x", KeyHash: HashKey("orphan", pepper), Role: RoleCustomer},
		APIKeyInfo{ID: "y", KeyHash: HashKey("weird", pepper), Role: Role("root"), CustomerID: 1},
	), pepper)

	for _, key := range []string{"", "unknown", "orphan", "weird"} {
		_, err := a.Authenticate(context.Background(), key)
		assert.ErrorIs(t, err, ErrUnauthorized, "key %q", key)
	}
}

func TestAuthenticate_WrongPepper(t *testing.T) {
	a := NewAuthenticator(newRepo(APIKeyInfo{
		ID: "c1", KeyHash: HashKey("secret", []byte("other")), CustomerID: 1, Role: RoleCustomer,
	}), pepper)

	_, err := a.Authenticate(context.Background(), "secret")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
