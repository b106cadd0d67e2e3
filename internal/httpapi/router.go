package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/lukasbauer/syncup/internal/archive"
	"github.com/lukasbauer/syncup/internal/clock"
	"github.com/lukasbauer/syncup/internal/eventlog"
	"github.com/lukasbauer/syncup/internal/store"
	"github.com/lukasbauer/syncup/internal/transcription"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// NewSource builds the transcription source for a new session. Nil means
	// sessions run without transcription.
	NewSource func() transcription.Source

	// Clock drives session timers. Defaults to the system clock.
	Clock clock.Clock
}

// Store is the persistence the API needs.
type Store interface {
	CreateSyncup(ctx context.Context, n store.NewSyncup) (*store.Syncup, error)
	GetSyncup(ctx context.Context, id, ownerID string) (*store.Syncup, error)
	ListSyncups(ctx context.Context, ownerID string) ([]store.Syncup, error)
	DeleteSyncup(ctx context.Context, id, ownerID string) error
	ListMeetings(ctx context.Context, syncupID string, limit int) ([]store.Meeting, error)
	DeleteMeeting(ctx context.Context, syncupID, meetingID string) error
	RegisterPushToken(ctx context.Context, userID, token, platform string) error
	UnregisterPushToken(ctx context.Context, userID, token string) error
}

type Router struct {
	cfg      RouterConfig
	logger   zerolog.Logger
	store    Store
	eventLog *eventlog.Logger
	archiver *archive.Archiver
	sessions *SessionRegistry
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger zerolog.Logger, s Store, eventLog *eventlog.Logger, archiver *archive.Archiver, sessions *SessionRegistry) http.Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	r := &Router{
		cfg:      cfg,
		logger:   logger.With().Str("component", "httpapi").Logger(),
		store:    s,
		eventLog: eventLog,
		archiver: archiver,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Syncups (protected)
	r.mux.HandleFunc("GET /api/syncups", r.withAuth(r.handleListSyncups))
	r.mux.HandleFunc("POST /api/syncups", r.withAuth(r.handleCreateSyncup))
	r.mux.HandleFunc("GET /api/syncups/{id}", r.withAuth(r.handleGetSyncup))
	r.mux.HandleFunc("DELETE /api/syncups/{id}", r.withAuth(r.handleDeleteSyncup))
	r.mux.HandleFunc("GET /api/syncups/{id}/meetings", r.withAuth(r.handleListMeetings))
	r.mux.HandleFunc("DELETE /api/syncups/{id}/meetings/{meetingId}", r.withAuth(r.handleDeleteMeeting))

	// Live sessions (protected)
	r.mux.HandleFunc("POST /api/syncups/{id}/sessions", r.withAuth(r.handleStartSession))
	r.mux.HandleFunc("GET /api/sessions/{id}", r.withAuth(r.handleGetSession))
	r.mux.HandleFunc("POST /api/sessions/{id}/next", r.withAuth(r.handleNextSpeaker))
	r.mux.HandleFunc("POST /api/sessions/{id}/end", r.withAuth(r.handleEndMeeting))
	r.mux.HandleFunc("POST /api/sessions/{id}/resolve", r.withAuth(r.handleResolveDialog))
	r.mux.HandleFunc("GET /api/sessions/{id}/ws", r.withAuth(r.handleSessionWS))

	// Push notifications (protected)
	r.mux.HandleFunc("POST /api/push/register", r.withAuth(r.handlePushRegister))
	r.mux.HandleFunc("POST /api/push/unregister", r.withAuth(r.handlePushUnregister))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
