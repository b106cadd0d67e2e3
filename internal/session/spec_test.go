package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpec(t *testing.T) {
	tests := []struct {
		name      string
		attendees []string
		duration  time.Duration
		wantErr   bool
	}{
		{"valid", []string{"Blob", "Blob Jr"}, 10 * time.Minute, false},
		{"no attendees", nil, time.Minute, true},
		{"blank attendee", []string{"Blob", "  "}, time.Minute, true},
		{"zero duration", []string{"Blob"}, 0, true},
		{"sub-second duration", []string{"Blob"}, 900 * time.Millisecond, true},
		{"one second", []string{"Blob"}, time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpec(tt.attendees, tt.duration)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSpec)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSpecDerivedValues(t *testing.T) {
	tests := []struct {
		attendees   int
		duration    time.Duration
		wantSeconds int
		wantPer     int
	}{
		{3, 3 * time.Second, 3, 1},
		{1, 6 * time.Second, 6, 6},
		{4, 10 * time.Second, 10, 2},
		{3, 2 * time.Second, 2, 0},
		{2, 61500 * time.Millisecond, 61, 30},
	}
	for _, tt := range tests {
		names := make([]string, tt.attendees)
		for i := range names {
			names[i] = string(rune('A' + i))
		}
		spec, err := NewSpec(names, tt.duration)
		require.NoError(t, err)
		assert.Equal(t, tt.wantSeconds, spec.Seconds())
		assert.Equal(t, tt.wantPer, spec.PerAttendee())
	}
}

func TestSpecCopiesAttendees(t *testing.T) {
	names := []string{" Blob ", "Blob Jr"}
	spec, err := NewSpec(names, time.Minute)
	require.NoError(t, err)

	names[1] = "changed"
	got := spec.Attendees()
	got[0] = "changed"

	assert.Equal(t, []string{"Blob", "Blob Jr"}, spec.Attendees())
	assert.Equal(t, "Blob Jr", spec.Speaker(1))
	assert.Equal(t, "", spec.Speaker(2))
	assert.Equal(t, time.Minute, spec.Duration())
}
