package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	provider := &fakeIdentity{}
	m := NewSessionManager(provider, newFakeBlobStore(), NewAllowList([]string{"owner@example.com"}), testResumeKey, time.Hour)

	id, sess, err := m.SignIn(ctx, "owner@example.com|Owner")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, SignedInAdmin, sess.State())

	assert.Same(t, sess, m.Get(id))
	assert.Nil(t, m.Get("unknown"))
	assert.Nil(t, m.Get(""))

	require.NoError(t, m.SignOut(ctx, id))
	assert.Nil(t, m.Get(id))
	assert.Equal(t, SignedOut, sess.State())
	assert.Equal(t, 1, provider.signOuts)

	// Signing out twice is harmless.
	require.NoError(t, m.SignOut(ctx, id))
	assert.Equal(t, 1, provider.signOuts)
}

func TestSessionManager_DistinctSessions(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(&fakeIdentity{}, newFakeBlobStore(), NewAllowList([]string{"owner@example.com"}), testResumeKey, time.Hour)

	adminID, _, err := m.SignIn(ctx, "owner@example.com|Owner")
	require.NoError(t, err)
	userID, _, err := m.SignIn(ctx, "visitor@example.com|Visitor")
	require.NoError(t, err)

	assert.NotEqual(t, adminID, userID)
	assert.True(t, m.Get(adminID).IsAdmin())
	assert.False(t, m.Get(userID).IsAdmin())
}

func TestSessionManager_SignInFailure(t *testing.T) {
	m := NewSessionManager(&fakeIdentity{}, newFakeBlobStore(), NewAllowList(nil), testResumeKey, time.Hour)

	id, sess, err := m.SignIn(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, id)
	assert.Nil(t, sess)
	assert.Empty(t, m.sessions)
}

func TestSessionManager_IdleExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewSessionManager(&fakeIdentity{}, newFakeBlobStore(), NewAllowList(nil), testResumeKey, 30*time.Minute)
	m.now = func() time.Time { return now }

	id, _, err := m.SignIn(context.Background(), "visitor@example.com|Visitor")
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	require.NotNil(t, m.Get(id), "activity refreshes the session")

	now = now.Add(20 * time.Minute)
	require.NotNil(t, m.Get(id))

	now = now.Add(31 * time.Minute)
	assert.Nil(t, m.Get(id))
	assert.NotContains(t, m.sessions, id)
}

func TestSessionManager_SignInSweepsIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewSessionManager(&fakeIdentity{}, newFakeBlobStore(), NewAllowList(nil), testResumeKey, time.Minute)
	m.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		_, _, err := m.SignIn(ctx, "visitor@example.com|Visitor")
		require.NoError(t, err)
	}
	require.Len(t, m.sessions, 100)

	now = now.Add(24 * time.Hour)
	id, _, err := m.SignIn(ctx, "visitor@example.com|Visitor")
	require.NoError(t, err)

	assert.Len(t, m.sessions, 1)
	assert.Contains(t, m.sessions, id)
}

func TestSessionManager_ResumeURL(t *testing.T) {
	blobs := newFakeBlobStore()
	m := NewSessionManager(&fakeIdentity{}, blobs, NewAllowList(nil), testResumeKey, time.Hour)

	_, err := m.ResumeURL(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	want := blobs.seed(testResumeKey)
	got, err := m.ResumeURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
