package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-aggregator/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return NewTracker(st), st
}

func seedAccount(t *testing.T, st *store.Store, email string) int64 {
	t.Helper()
	a := &store.Account{
		Email:        email,
		Provider:     "custom",
		EncryptedPwd: "sealed",
		Host:         "imap.example.com",
		Port:         993,
		IsActive:     true,
		PushTemplate: "short",
	}
	require.NoError(t, st.CreateAccount(context.Background(), a))
	return a.ID
}

func TestMarkStartedAndFinished(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)
	id := seedAccount(t, st, "one@example.com")

	require.NoError(t, tr.MarkStarted(ctx, id))

	row, ok := tr.Get(id)
	require.True(t, ok)
	require.NotNil(t, row.LastStartedAt)
	assert.Nil(t, row.LastFinishedAt)

	require.NoError(t, tr.MarkFinished(ctx, id, nil))

	row, _ = tr.Get(id)
	require.NotNil(t, row.LastFinishedAt)
	require.NotNil(t, row.LastSuccessAt)
	assert.Nil(t, row.LastError)

	// Write-through: the persisted row matches the snapshot.
	persisted, err := st.GetPollStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, row.LastSuccessAt.Unix(), persisted.LastSuccessAt.Unix())
}

func TestLastSuccessIsMonotonic(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)
	id := seedAccount(t, st, "flaky@example.com")

	require.NoError(t, tr.MarkStarted(ctx, id))
	require.NoError(t, tr.MarkFinished(ctx, id, nil))

	row, _ := tr.Get(id)
	firstSuccess := *row.LastSuccessAt

	// A failed pass keeps the old success timestamp.
	msg := "imap dial: connection refused"
	require.NoError(t, tr.MarkStarted(ctx, id))
	require.NoError(t, tr.MarkFinished(ctx, id, &msg))

	row, _ = tr.Get(id)
	require.NotNil(t, row.LastSuccessAt)
	assert.Equal(t, firstSuccess, *row.LastSuccessAt)
	require.NotNil(t, row.LastError)
	assert.Equal(t, msg, *row.LastError)

	// The next clean pass advances it and clears the error.
	require.NoError(t, tr.MarkStarted(ctx, id))
	require.NoError(t, tr.MarkFinished(ctx, id, nil))

	row, _ = tr.Get(id)
	assert.False(t, row.LastSuccessAt.Before(firstSuccess))
	assert.Nil(t, row.LastError)
}

func TestLoadPrimesSnapshot(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)
	id := seedAccount(t, st, "persisted@example.com")

	require.NoError(t, tr.MarkStarted(ctx, id))
	msg := "auth rejected"
	require.NoError(t, tr.MarkFinished(ctx, id, &msg))

	fresh := NewTracker(st)
	require.NoError(t, fresh.Load(ctx))

	row, ok := fresh.Get(id)
	require.True(t, ok)
	require.NotNil(t, row.LastError)
	assert.Equal(t, msg, *row.LastError)

	health := fresh.Health()
	assert.NotNil(t, health.LastStartedAt)
	assert.NotNil(t, health.LastFinishedAt)
	require.NotNil(t, health.LastError)
	assert.Equal(t, msg, *health.LastError)
}

func TestSnapshotOrderAndForget(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)
	a := seedAccount(t, st, "a@example.com")
	b := seedAccount(t, st, "b@example.com")

	require.NoError(t, tr.MarkStarted(ctx, b))
	require.NoError(t, tr.MarkStarted(ctx, a))

	rows := tr.Snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, a, rows[0].AccountID)
	assert.Equal(t, b, rows[1].AccountID)

	tr.Forget(a)
	rows = tr.Snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, b, rows[0].AccountID)

	_, ok := tr.Get(a)
	assert.False(t, ok)
}

func TestHealthEmpty(t *testing.T) {
	tr, _ := newTestTracker(t)
	health := tr.Health()
	assert.Nil(t, health.LastStartedAt)
	assert.Nil(t, health.LastFinishedAt)
	assert.Nil(t, health.LastError)
}

func TestHealthClearsErrorOnCleanPass(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)
	id := seedAccount(t, st, "flaky@example.com")

	msg := "connection reset"
	require.NoError(t, tr.MarkStarted(ctx, id))
	require.NoError(t, tr.MarkFinished(ctx, id, &msg))
	require.NotNil(t, tr.Health().LastError)

	require.NoError(t, tr.MarkStarted(ctx, id))
	require.NoError(t, tr.MarkFinished(ctx, id, nil))
	assert.Nil(t, tr.Health().LastError)
}
