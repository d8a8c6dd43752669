package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetSetting(ctx, "poll_interval_seconds")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, "poll_interval_seconds", "120"))
	require.NoError(t, s.SetSetting(ctx, "poll_interval_seconds", "60"))

	v, ok, err := s.GetSetting(ctx, "poll_interval_seconds")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "60", v)

	require.NoError(t, s.SetSettings(ctx, map[string]string{
		"telegram_chat_id": "-100123",
		"webhook_url":      "https://hooks.example.com/mail",
	}))

	all, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "-100123", all["telegram_chat_id"])

	require.NoError(t, s.DeleteSetting(ctx, "webhook_url"))
	_, ok, err = s.GetSetting(ctx, "webhook_url")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPollStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "status@example.com")

	start := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkPollStarted(ctx, a.ID, start))

	ps, err := s.GetPollStatus(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, ps.LastStartedAt)
	assert.Nil(t, ps.LastFinishedAt)
	assert.Nil(t, ps.LastSuccessAt)

	finish := start.Add(10 * time.Second)
	require.NoError(t, s.MarkPollFinished(ctx, a.ID, finish, nil))

	ps, err = s.GetPollStatus(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, ps.LastSuccessAt)
	assert.WithinDuration(t, finish, *ps.LastSuccessAt, time.Second)
	assert.Nil(t, ps.LastError)

	failAt := finish.Add(time.Minute)
	errMsg := "imap login failed"
	require.NoError(t, s.MarkPollFinished(ctx, a.ID, failAt, &errMsg))

	ps, err = s.GetPollStatus(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, ps.LastError)
	assert.Equal(t, "imap login failed", *ps.LastError)
	assert.WithinDuration(t, failAt, *ps.LastFinishedAt, time.Second)
	// A failed pass never advances the success timestamp.
	assert.WithinDuration(t, finish, *ps.LastSuccessAt, time.Second)

	okAt := failAt.Add(time.Minute)
	require.NoError(t, s.MarkPollFinished(ctx, a.ID, okAt, nil))
	ps, err = s.GetPollStatus(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, ps.LastError, "clean pass clears the stored error")
	assert.WithinDuration(t, okAt, *ps.LastSuccessAt, time.Second)

	statuses, err := s.ListPollStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	_, err = s.GetPollStatus(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountsAndBounds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emails, unread, accounts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, emails)
	assert.Zero(t, unread)
	assert.Zero(t, accounts)

	oldest, newest, err := s.ReceivedBounds(ctx)
	require.NoError(t, err)
	assert.Nil(t, oldest)
	assert.Nil(t, newest)

	a := seedAccount(t, s, "stats-a@example.com")
	seedAccount(t, s, "stats-empty@example.com")

	t1 := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 12, 8, 0, 0, 0, time.UTC)
	seedMessage(t, s, a.ID, "<s1@x>", t1)
	m2 := seedMessage(t, s, a.ID, "<s2@x>", t2)
	require.NoError(t, s.SetMessageRead(ctx, m2.ID, true))

	emails, unread, accounts, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, emails)
	assert.Equal(t, 1, unread)
	assert.Equal(t, 2, accounts)

	oldest, newest, err = s.ReceivedBounds(ctx)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	require.NotNil(t, newest)
	assert.WithinDuration(t, t1, *oldest, time.Second)
	assert.WithinDuration(t, t2, *newest, time.Second)

	times, err := s.ReceivedSince(ctx, time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.WithinDuration(t, t2, times[0], time.Second)

	stats, err := s.AccountMessageStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "stats-a@example.com", stats[0].AccountEmail)
	assert.Equal(t, 2, stats[0].Total)
	assert.Equal(t, 1, stats[0].Unread)
	assert.Equal(t, "stats-empty@example.com", stats[1].AccountEmail)
	assert.Zero(t, stats[1].Total)
}
