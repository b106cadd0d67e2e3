package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyncupValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      NewSyncup
		wantErr bool
	}{
		{"valid", NewSyncup{Title: "Morning Sync", Duration: 5 * time.Minute, Attendees: []string{"Blob"}}, false},
		{"no title", NewSyncup{Title: " ", Duration: time.Minute, Attendees: []string{"Blob"}}, true},
		{"no attendees", NewSyncup{Title: "x", Duration: time.Minute}, true},
		{"blank attendee", NewSyncup{Title: "x", Duration: time.Minute, Attendees: []string{"Blob", ""}}, true},
		{"short duration", NewSyncup{Title: "x", Duration: time.Millisecond, Attendees: []string{"Blob"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateSyncupRejectsInvalidInput(t *testing.T) {
	s := New(nil)
	_, err := s.CreateSyncup(context.Background(), NewSyncup{Title: "x", Duration: time.Minute})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSyncupHelpers(t *testing.T) {
	su := Syncup{
		DurationSeconds: 90,
		Attendees:       []Attendee{{Name: "Blob", Position: 0}, {Name: "Blob Jr", Position: 1}},
	}
	assert.Equal(t, 90*time.Second, su.Duration())
	assert.Equal(t, []string{"Blob", "Blob Jr"}, su.AttendeeNames())
	assert.True(t, ValidPlatform("ios"))
	assert.False(t, ValidPlatform("windows"))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return New(db)
}

func TestSyncupLifecycleIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	owner := "store-test-" + time.Now().Format("150405.000000")

	su, err := s.CreateSyncup(ctx, NewSyncup{
		OwnerID:   owner,
		Title:     "Design review",
		Duration:  10 * time.Minute,
		Attendees: []string{"Blob", "Blob Jr", "Blob Sr"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bubblegum", su.Theme)
	assert.Len(t, su.Attendees, 3)

	got, err := s.GetSyncup(ctx, su.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"Blob", "Blob Jr", "Blob Sr"}, got.AttendeeNames())
	assert.Equal(t, 600, got.DurationSeconds)

	_, err = s.GetSyncup(ctx, su.ID, "someone-else")
	assert.True(t, errors.Is(err, ErrNotFound))

	list, err := s.ListSyncups(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Attendees, 3)

	start := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Second)
	older, err := s.InsertMeeting(ctx, Meeting{SyncupID: su.ID, Transcript: "first", StartedAt: start, EndedAt: start.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.InsertMeeting(ctx, Meeting{SyncupID: su.ID, SessionID: "sess-2", Transcript: "second", StartedAt: start.Add(5 * time.Minute), EndedAt: start.Add(6 * time.Minute)})
	require.NoError(t, err)

	meetings, err := s.ListMeetings(ctx, su.ID, 0)
	require.NoError(t, err)
	require.Len(t, meetings, 2)
	assert.Equal(t, "second", meetings[0].Transcript, "newest meeting first")
	assert.Equal(t, "sess-2", meetings[0].SessionID)

	limited, err := s.ListMeetings(ctx, su.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, s.DeleteMeeting(ctx, su.ID, older.ID))
	assert.ErrorIs(t, s.DeleteMeeting(ctx, su.ID, older.ID), ErrNotFound)

	require.NoError(t, s.DeleteSyncup(ctx, su.ID, owner))
	assert.ErrorIs(t, s.DeleteSyncup(ctx, su.ID, owner), ErrNotFound)
}

func TestPushTokensIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user := "push-test-" + time.Now().Format("150405.000000")

	require.NoError(t, s.RegisterPushToken(ctx, user, "tok-ios", "ios"))
	require.NoError(t, s.RegisterPushToken(ctx, user, "tok-android", "android"))
	require.NoError(t, s.RegisterPushToken(ctx, user, "tok-ios", "ios"))

	all, err := s.GetUserPushTokens(ctx, user, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ios, err := s.GetUserPushTokens(ctx, user, "ios")
	require.NoError(t, err)
	require.Len(t, ios, 1)
	assert.Equal(t, "tok-ios", ios[0].Token)

	require.NoError(t, s.UnregisterPushToken(ctx, user, "tok-ios"))
	require.NoError(t, s.UnregisterPushToken(ctx, user, "tok-android"))
	assert.ErrorIs(t, s.UnregisterPushToken(ctx, user, "tok-ios"), ErrNotFound)
}
