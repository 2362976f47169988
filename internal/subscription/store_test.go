package subscription

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/db/dbtest"
)

func TestMain(m *testing.M) {
	os.Exit(dbtest.Main(m))
}

func newStore(t *testing.T) *Store {
	return NewStore(dbtest.Pool(t).Pool)
}

func stored(email string, threshold int, verified bool, created time.Time) *Subscription {
	lat, lon := 39.74, -104.99
	return &Subscription{
		ID:    uuid.New(),
		Email: email,
		Location: Location{
			Name: "Denver, CO", Latitude: &lat, Longitude: &lon, Timezone: "America/Denver",
		},
		Preferences: Preferences{
			AQIThreshold:     threshold,
			Notifications:    Channels{Email: true},
			NotificationTime: Window{Start: "08:00", End: "22:00"},
			Language:         DefaultLanguage,
		},
		Status:            Status{IsVerified: verified},
		VerificationToken: uuid.NewString(),
		Source:            "web",
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func TestStoreSubscribeUpsertsByEmail(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, created, err := s.Subscribe(ctx, stored("ana@example.com", 100, false, time.Now()))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.Status.IsActive)

	_, err = s.Unsubscribe(ctx, first.ID)
	require.NoError(t, err)

	again, created, err := s.Subscribe(ctx, stored("ana@example.com", 150, false, time.Now()))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 150, again.Preferences.AQIThreshold)
	assert.True(t, again.Status.IsActive)
	assert.Nil(t, again.Status.UnsubscribedAt)
}

func TestStoreVerifyClearsToken(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	sub := stored("ben@example.com", 100, false, time.Now())
	_, _, err := s.Subscribe(ctx, sub)
	require.NoError(t, err)

	verified, err := s.Verify(ctx, sub.VerificationToken)
	require.NoError(t, err)
	assert.True(t, verified.Status.IsVerified)
	assert.NotNil(t, verified.Status.VerifiedAt)
	assert.Empty(t, verified.VerificationToken)

	_, err = s.Verify(ctx, sub.VerificationToken)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStoreAlertableAndMarkNotified(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	ok, _, err := s.Subscribe(ctx, stored("ok@example.com", 100, true, now))
	require.NoError(t, err)
	_, _, err = s.Subscribe(ctx, stored("unverified@example.com", 100, false, now))
	require.NoError(t, err)
	inactive, _, err := s.Subscribe(ctx, stored("inactive@example.com", 100, true, now))
	require.NoError(t, err)
	_, err = s.Unsubscribe(ctx, inactive.ID)
	require.NoError(t, err)

	list, err := s.ListAlertable(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ok.ID, list[0].ID)

	at := now.Truncate(time.Microsecond)
	require.NoError(t, s.MarkNotified(ctx, ok.ID, at))
	require.NoError(t, s.MarkNotified(ctx, ok.ID, at.Add(time.Minute)))

	got, err := s.Get(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Status.NotificationCount)
	require.NotNil(t, got.Status.LastNotified)
	assert.WithinDuration(t, at.Add(time.Minute), *got.Status.LastNotified, time.Millisecond)

	assert.ErrorIs(t, s.MarkNotified(ctx, uuid.New(), at), apperr.ErrNotFound)
}

func TestStoreRetentionDeletes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	_, _, err := s.Subscribe(ctx, stored("stale@example.com", 100, false, now.Add(-10*24*time.Hour)))
	require.NoError(t, err)
	_, _, err = s.Subscribe(ctx, stored("fresh@example.com", 100, false, now))
	require.NoError(t, err)
	_, _, err = s.Subscribe(ctx, stored("old-verified@example.com", 100, true, now.Add(-10*24*time.Hour)))
	require.NoError(t, err)

	n, err := s.DeleteUnverifiedBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetByEmail(ctx, "stale@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.UnsubscribeByEmail(ctx, "old-verified@example.com")
	require.NoError(t, err)

	n, err = s.DeleteInactiveBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "unsubscribed just now")

	n, err = s.DeleteInactiveBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetByEmail(ctx, "fresh@example.com")
	assert.NoError(t, err, "active subscriptions are never purged")
}

func TestStoreListAndStats(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	for i, threshold := range []int{50, 100, 150} {
		sub := stored(string(rune('a'+i))+"@example.com", threshold, i > 0, now.Add(time.Duration(i)*time.Second))
		_, _, err := s.Subscribe(ctx, sub)
		require.NoError(t, err)
	}

	verified := true
	page, total, err := s.List(ctx, ListFilter{Verified: &verified, MinThreshold: 100, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "c@example.com", page[0].Email, "newest first")

	page, _, err = s.List(ctx, ListFilter{Location: "denver"})
	require.NoError(t, err)
	assert.Len(t, page, 3)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Active)
	assert.Equal(t, 2, st.Verified)
	assert.InDelta(t, 100, st.AverageThreshold, 0.001)
}
