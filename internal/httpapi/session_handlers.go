package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/lukasbauer/syncup/internal/archive"
	"github.com/lukasbauer/syncup/internal/gate"
	"github.com/lukasbauer/syncup/internal/session"
	"github.com/lukasbauer/syncup/internal/transcription"
)

// sessionView is the JSON shape of a live session.
type sessionView struct {
	ID        string           `json:"id"`
	SyncupID  string           `json:"syncup_id"`
	StartedAt time.Time        `json:"started_at"`
	Progress  session.Progress `json:"progress"`
	Choices   []gate.Choice    `json:"choices,omitempty"`
	Outcome   *session.Outcome `json:"outcome,omitempty"`
}

func viewOf(ls *liveSession) sessionView {
	p := ls.ctrl.Progress()
	v := sessionView{
		ID:        ls.ctrl.ID(),
		SyncupID:  ls.syncup.ID,
		StartedAt: ls.startedAt,
		Progress:  p,
		Choices:   p.Dialog.Choices(),
	}
	if o, ended := ls.ctrl.Outcome(); ended {
		v.Outcome = &o
	}
	return v
}

func nowUTC() time.Time { return time.Now().UTC() }

// handleStartSession starts a live session for a syncup. The session outlives
// the request and runs until it is saved, discarded or the server drains.
func (r *Router) handleStartSession(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	su, ok := r.loadSyncup(w, req)
	if !ok {
		return
	}
	if r.sessions.IsDraining() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	spec, err := session.NewSpec(su.AttendeeNames(), su.Duration())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var source transcription.Source
	if r.cfg.NewSource != nil {
		source = r.cfg.NewSource()
	}

	id := uuid.NewString()
	ls := &liveSession{syncup: *su, ownerID: user.ID, startedAt: nowUTC()}
	ctrl, err := session.New(session.Config{
		ID:       id,
		Spec:     spec,
		Clock:    r.cfg.Clock,
		Source:   source,
		Observer: r.sessionObserver(),
		OnFinish: func(o session.Outcome) { r.sessionFinished(ls, o) },
		Logger:   r.logger.With().Str("session_id", id).Str("syncup_id", su.ID).Logger(),
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ls.ctrl = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	ls.cancel = cancel
	if !r.sessions.Add(ls) {
		cancel()
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	if err := ctrl.Start(ctx); err != nil {
		cancel()
		r.sessions.Remove(id)
		r.logger.Error().Err(err).Str("session_id", id).Msg("failed to start session")
		captureError(req, err, "sessions: start")
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	go r.reap(ls)

	writeJSON(w, http.StatusCreated, viewOf(ls))
}

// reap waits for a session to release its resources and forgets it.
func (r *Router) reap(ls *liveSession) {
	id := ls.ctrl.ID()
	if err := ls.ctrl.Wait(); err != nil {
		r.logger.Warn().Err(err).Str("session_id", id).Msg("session teardown failed")
	}
	ls.cancel()
	r.sessions.Remove(id)
}

// sessionObserver logs session events and reports faults to Sentry.
func (r *Router) sessionObserver() session.Observer {
	logEvent := r.eventLog.Observer()
	return func(e session.Event) {
		logEvent(e)
		if e.Type != session.EventSessionFault {
			return
		}
		msg, _ := e.Data["error"].(string)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("session_id", e.SessionID)
			scope.SetExtra("elapsed_s", e.Progress.ElapsedSeconds)
			sentry.CaptureException(fmt.Errorf("session fault: %s", msg))
		})
	}
}

// sessionFinished archives a saved session. It runs on the session's
// coordinator before Done is closed.
func (r *Router) sessionFinished(ls *liveSession, o session.Outcome) {
	log := r.logger.With().Str("session_id", ls.ctrl.ID()).Logger()
	if !o.Finished() {
		log.Info().Str("outcome", o.Kind.String()).Msg("session not saved")
		return
	}

	_, err := r.archiver.Save(context.Background(), archive.Record{
		Syncup:     ls.syncup,
		SessionID:  ls.ctrl.ID(),
		StartedAt:  ls.startedAt,
		EndedAt:    nowUTC(),
		Transcript: o.Transcript,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to archive meeting")
		if !errors.Is(err, archive.ErrNoStore) {
			sentry.CaptureException(err)
		}
	}
}

// loadSession looks up the {id} session owned by the current user.
func (r *Router) loadSession(w http.ResponseWriter, req *http.Request) (*liveSession, bool) {
	user := getAuthUser(req.Context())
	ls, ok := r.sessions.Get(req.PathValue("id"))
	if !ok || ls.ownerID != user.ID {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return ls, true
}

func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	ls, ok := r.loadSession(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(ls))
}

func (r *Router) handleNextSpeaker(w http.ResponseWriter, req *http.Request) {
	ls, ok := r.loadSession(w, req)
	if !ok {
		return
	}
	ls.ctrl.AdvanceSpeaker()
	writeJSON(w, http.StatusOK, viewOf(ls))
}

func (r *Router) handleEndMeeting(w http.ResponseWriter, req *http.Request) {
	ls, ok := r.loadSession(w, req)
	if !ok {
		return
	}
	ls.ctrl.RequestEndMeeting()
	writeJSON(w, http.StatusOK, viewOf(ls))
}

func (r *Router) handleResolveDialog(w http.ResponseWriter, req *http.Request) {
	ls, ok := r.loadSession(w, req)
	if !ok {
		return
	}

	var body struct {
		Choice gate.Choice `json:"choice"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "choice must be one of save, discard, resume, dismiss")
		return
	}

	res := ls.ctrl.ResolveDialog(body.Choice)
	if res == gate.Ignored {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "choice is not offered by the current dialog",
			"session": viewOf(ls),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resolution": res.String(),
		"session":    viewOf(ls),
	})
}
