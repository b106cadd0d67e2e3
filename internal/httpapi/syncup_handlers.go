package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lukasbauer/syncup/internal/store"
)

// validID reports whether s can name a stored row. Malformed ids are
// answered with 404 without touching the database.
func validID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// loadSyncup fetches the syncup in the {id} path segment for the current
// user, writing the error response itself when it fails.
func (r *Router) loadSyncup(w http.ResponseWriter, req *http.Request) (*store.Syncup, bool) {
	user := getAuthUser(req.Context())
	id := req.PathValue("id")
	if !validID(id) {
		writeError(w, http.StatusNotFound, "syncup not found")
		return nil, false
	}

	su, err := r.store.GetSyncup(req.Context(), id, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "syncup not found")
		return nil, false
	}
	if err != nil {
		r.logger.Error().Err(err).Str("syncup_id", id).Msg("failed to load syncup")
		captureError(req, err, "syncups: load")
		writeError(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	return su, true
}

func (r *Router) handleListSyncups(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())

	syncups, err := r.store.ListSyncups(req.Context(), user.ID)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to list syncups")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if syncups == nil {
		syncups = []store.Syncup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"syncups": syncups})
}

func (r *Router) handleCreateSyncup(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())

	var body struct {
		Title           string   `json:"title"`
		DurationSeconds int      `json:"duration_seconds"`
		Theme           string   `json:"theme"`
		Attendees       []string `json:"attendees"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	su, err := r.store.CreateSyncup(req.Context(), store.NewSyncup{
		OwnerID:   user.ID,
		Title:     body.Title,
		Duration:  time.Duration(body.DurationSeconds) * time.Second,
		Theme:     body.Theme,
		Attendees: body.Attendees,
	})
	if errors.Is(err, store.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to create syncup")
		captureError(req, err, "syncups: create")
		writeError(w, http.StatusInternalServerError, "failed to create syncup")
		return
	}

	r.logger.Info().Str("syncup_id", su.ID).Int("attendees", len(su.Attendees)).Msg("syncup created")
	writeJSON(w, http.StatusCreated, su)
}

func (r *Router) handleGetSyncup(w http.ResponseWriter, req *http.Request) {
	su, ok := r.loadSyncup(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, su)
}

func (r *Router) handleDeleteSyncup(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	id := req.PathValue("id")
	if !validID(id) {
		writeError(w, http.StatusNotFound, "syncup not found")
		return
	}

	err := r.store.DeleteSyncup(req.Context(), id, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "syncup not found")
		return
	}
	if err != nil {
		r.logger.Error().Err(err).Str("syncup_id", id).Msg("failed to delete syncup")
		writeError(w, http.StatusInternalServerError, "failed to delete syncup")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleListMeetings(w http.ResponseWriter, req *http.Request) {
	su, ok := r.loadSyncup(w, req)
	if !ok {
		return
	}

	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	meetings, err := r.store.ListMeetings(req.Context(), su.ID, limit)
	if err != nil {
		r.logger.Error().Err(err).Str("syncup_id", su.ID).Msg("failed to list meetings")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if meetings == nil {
		meetings = []store.Meeting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"meetings": meetings})
}

func (r *Router) handleDeleteMeeting(w http.ResponseWriter, req *http.Request) {
	su, ok := r.loadSyncup(w, req)
	if !ok {
		return
	}
	meetingID := req.PathValue("meetingId")
	if !validID(meetingID) {
		writeError(w, http.StatusNotFound, "meeting not found")
		return
	}

	err := r.store.DeleteMeeting(req.Context(), su.ID, meetingID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "meeting not found")
		return
	}
	if err != nil {
		r.logger.Error().Err(err).Str("meeting_id", meetingID).Msg("failed to delete meeting")
		writeError(w, http.StatusInternalServerError, "failed to delete meeting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
