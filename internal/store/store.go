package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row does not exist or belongs to another owner.
var ErrNotFound = errors.New("store: not found")

// ErrInvalid wraps validation failures of caller input.
var ErrInvalid = errors.New("store: invalid input")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Attendee is one participant of a syncup, in speaking order.
type Attendee struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Syncup is a recurring meeting definition.
type Syncup struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration_seconds"`
	Theme           string     `json:"theme"`
	Attendees       []Attendee `json:"attendees"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (s Syncup) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

// AttendeeNames returns the names in speaking order.
func (s Syncup) AttendeeNames() []string {
	names := make([]string, len(s.Attendees))
	for i, a := range s.Attendees {
		names[i] = a.Name
	}
	return names
}

// NewSyncup is the input to CreateSyncup.
type NewSyncup struct {
	OwnerID   string
	Title     string
	Duration  time.Duration
	Theme     string
	Attendees []string
}

func (n NewSyncup) validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return errors.New("title is required")
	}
	if n.Duration < time.Second {
		return errors.New("duration must be at least one second")
	}
	if len(n.Attendees) == 0 {
		return errors.New("at least one attendee is required")
	}
	for i, a := range n.Attendees {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("attendee %d has no name", i+1)
		}
	}
	return nil
}

// Meeting is one recorded run of a syncup.
type Meeting struct {
	ID         string    `json:"id"`
	SyncupID   string    `json:"syncup_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Transcript string    `json:"transcript"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// ============================================================================
// Syncup operations
// ============================================================================

// CreateSyncup inserts a syncup and its attendees in one transaction.
func (s *Store) CreateSyncup(ctx context.Context, n NewSyncup) (*Syncup, error) {
	if err := n.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	theme := n.Theme
	if theme == "" {
		theme = "bubblegum"
	}

	var out Syncup
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO syncups (owner_id, title, duration_seconds, theme)
			VALUES ($1, $2, $3, $4)
			RETURNING id, owner_id, title, duration_seconds, theme, created_at
		`, n.OwnerID, strings.TrimSpace(n.Title), int(n.Duration/time.Second), theme).Scan(
			&out.ID, &out.OwnerID, &out.Title, &out.DurationSeconds, &out.Theme, &out.CreatedAt,
		)
		if err != nil {
			return err
		}

		for i, name := range n.Attendees {
			a := Attendee{Name: strings.TrimSpace(name), Position: i}
			if err := tx.QueryRow(ctx, `
				INSERT INTO attendees (syncup_id, name, position)
				VALUES ($1, $2, $3)
				RETURNING id
			`, out.ID, a.Name, a.Position).Scan(&a.ID); err != nil {
				return err
			}
			out.Attendees = append(out.Attendees, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSyncup returns a syncup with its attendees. An empty ownerID skips the
// ownership check.
func (s *Store) GetSyncup(ctx context.Context, id, ownerID string) (*Syncup, error) {
	var out Syncup
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, title, duration_seconds, theme, created_at
		FROM syncups
		WHERE id = $1 AND ($2 = '' OR owner_id = $2)
	`, id, ownerID).Scan(&out.ID, &out.OwnerID, &out.Title, &out.DurationSeconds, &out.Theme, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	attendees, err := s.listAttendees(ctx, []string{out.ID})
	if err != nil {
		return nil, err
	}
	out.Attendees = attendees[out.ID]
	return &out, nil
}

// ListSyncups returns the owner's syncups, newest first.
func (s *Store) ListSyncups(ctx context.Context, ownerID string) ([]Syncup, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, title, duration_seconds, theme, created_at
		FROM syncups
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var syncups []Syncup
	var ids []string
	for rows.Next() {
		var su Syncup
		if err := rows.Scan(&su.ID, &su.OwnerID, &su.Title, &su.DurationSeconds, &su.Theme, &su.CreatedAt); err != nil {
			return nil, err
		}
		syncups = append(syncups, su)
		ids = append(ids, su.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return syncups, nil
	}

	attendees, err := s.listAttendees(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range syncups {
		syncups[i].Attendees = attendees[syncups[i].ID]
	}
	return syncups, nil
}

func (s *Store) listAttendees(ctx context.Context, syncupIDs []string) (map[string][]Attendee, error) {
	rows, err := s.db.Query(ctx, `
		SELECT syncup_id, id, name, position
		FROM attendees
		WHERE syncup_id = ANY($1)
		ORDER BY syncup_id, position
	`, syncupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Attendee, len(syncupIDs))
	for rows.Next() {
		var syncupID string
		var a Attendee
		if err := rows.Scan(&syncupID, &a.ID, &a.Name, &a.Position); err != nil {
			return nil, err
		}
		out[syncupID] = append(out[syncupID], a)
	}
	return out, rows.Err()
}

// DeleteSyncup removes a syncup with its attendees and meetings.
func (s *Store) DeleteSyncup(ctx context.Context, id, ownerID string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM syncups WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Meeting operations
// ============================================================================

// InsertMeeting stores a finished meeting.
func (s *Store) InsertMeeting(ctx context.Context, m Meeting) (*Meeting, error) {
	var sessionID *string
	if m.SessionID != "" {
		sessionID = &m.SessionID
	}
	out := m
	err := s.db.QueryRow(ctx, `
		INSERT INTO meetings (syncup_id, session_id, transcript, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, m.SyncupID, sessionID, m.Transcript, m.StartedAt, m.EndedAt).Scan(&out.ID)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMeetings returns meetings of a syncup, newest first. A non-positive
// limit returns all of them.
func (s *Store) ListMeetings(ctx context.Context, syncupID string, limit int) ([]Meeting, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, syncup_id, COALESCE(session_id, ''), transcript, started_at, ended_at
		FROM meetings
		WHERE syncup_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, syncupID, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meetings []Meeting
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.SyncupID, &m.SessionID, &m.Transcript, &m.StartedAt, &m.EndedAt); err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// DeleteMeeting removes one meeting from a syncup's history.
func (s *Store) DeleteMeeting(ctx context.Context, syncupID, meetingID string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM meetings WHERE id = $1 AND syncup_id = $2
	`, meetingID, syncupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
