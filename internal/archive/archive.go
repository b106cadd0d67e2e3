// Package archive stores finished meetings and announces them.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/lukasbauer/syncup/internal/eventlog"
	"github.com/lukasbauer/syncup/internal/notifications"
	"github.com/lukasbauer/syncup/internal/store"
)

// ErrNoStore is returned by Save when the archiver has nowhere to write.
var ErrNoStore = errors.New("archive: no meeting store configured")

// MeetingStore is the part of the store the archiver writes to.
type MeetingStore interface {
	InsertMeeting(ctx context.Context, m store.Meeting) (*store.Meeting, error)
}

// Notifier announces saved meetings.
type Notifier interface {
	MeetingSaved(ctx context.Context, m notifications.MeetingSaved) error
}

// Record is a finished session that should become part of a syncup's history.
type Record struct {
	Syncup     store.Syncup
	SessionID  string
	StartedAt  time.Time
	EndedAt    time.Time
	Transcript string
}

// Archiver writes meetings, then logs and notifies. Notification failures
// are logged but do not fail Save.
type Archiver struct {
	store    MeetingStore
	events   *eventlog.Logger
	notifier Notifier
	logger   zerolog.Logger
	timeout  time.Duration
}

// New creates an archiver. events and notifier may be nil.
func New(s MeetingStore, events *eventlog.Logger, n Notifier, logger zerolog.Logger) *Archiver {
	return &Archiver{
		store:    s,
		events:   events,
		notifier: n,
		logger:   logger.With().Str("component", "archive").Logger(),
		timeout:  15 * time.Second,
	}
}

// Save stores the record. It runs on its own deadline so a session whose
// host context is already gone can still be archived.
func (a *Archiver) Save(ctx context.Context, r Record) (*store.Meeting, error) {
	if a == nil || a.store == nil {
		return nil, ErrNoStore
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	log := a.logger.With().Str("session_id", r.SessionID).Str("syncup_id", r.Syncup.ID).Logger()

	m, err := a.store.InsertMeeting(ctx, store.Meeting{
		SyncupID:   r.Syncup.ID,
		SessionID:  r.SessionID,
		Transcript: r.Transcript,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to store meeting")
		a.events.LogAsync(r.SessionID, eventlog.EventMeetingSaveFailed, map[string]any{"error": err.Error()})
		return nil, err
	}

	log.Info().Str("meeting_id", m.ID).Int("transcript_chars", len(r.Transcript)).Msg("meeting saved")
	a.events.LogAsync(r.SessionID, eventlog.EventMeetingSaved, map[string]any{
		"meeting_id":       m.ID,
		"transcript_chars": len(r.Transcript),
	})

	if a.notifier != nil {
		err := a.notifier.MeetingSaved(ctx, notifications.MeetingSaved{
			SyncupID:    r.Syncup.ID,
			SyncupTitle: r.Syncup.Title,
			MeetingID:   m.ID,
			OwnerID:     r.Syncup.OwnerID,
			Attendees:   len(r.Syncup.Attendees),
			Duration:    r.EndedAt.Sub(r.StartedAt),
			Transcript:  r.Transcript,
			EndedAt:     r.EndedAt,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to send meeting notifications")
			a.events.LogAsync(r.SessionID, eventlog.EventNotificationFailed, map[string]any{"error": err.Error()})
		}
	}
	return m, nil
}
