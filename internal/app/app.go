package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lukasbauer/syncup/internal/archive"
	"github.com/lukasbauer/syncup/internal/eventlog"
	"github.com/lukasbauer/syncup/internal/httpapi"
	"github.com/lukasbauer/syncup/internal/jobs"
	"github.com/lukasbauer/syncup/internal/notifications"
	"github.com/lukasbauer/syncup/internal/store"
	"github.com/lukasbauer/syncup/internal/transcription"
)

type App struct {
	cfg      Config
	logger   zerolog.Logger
	db       *pgxpool.Pool
	store    *store.Store
	eventLog *eventlog.Logger
	archiver *archive.Archiver
}

func New(cfg Config, logger zerolog.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db, logger)

	// Migrations are applied externally (psql -f migrations/*.sql).
	// No automatic migration runner at startup.

	apnsClient, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("APNs client initialization failed, push notifications disabled")
	}
	notifier := &notifications.Notifier{
		Discord: notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
		APNs:    apnsClient,
		Tokens:  s,
		Logger:  logger,
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    s,
		eventLog: el,
		archiver: archive.New(s, el, notifier, logger),
	}, nil
}

// Store returns the database store.
func (a *App) Store() *store.Store { return a.store }

// Archiver returns the meeting archiver.
func (a *App) Archiver() *archive.Archiver { return a.archiver }

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret: a.cfg.JWTSecret,
		JWTExpiry: a.cfg.JWTExpiry,
		NewSource: func() transcription.Source { return NewTranscriptionSource(a.cfg, a.logger) },
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, a.archiver, sessions)
}

// RetentionJob returns the job that prunes old session events.
func (a *App) RetentionJob() *jobs.EventRetentionJob {
	return jobs.NewEventRetentionJob(a.eventLog, a.cfg.EventRetention, time.Hour, a.logger)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}

// NewTranscriptionSource builds the live transcription source: microphone
// capture through ffmpeg streamed to Deepgram.
func NewTranscriptionSource(cfg Config, logger zerolog.Logger) *transcription.DeepgramSource {
	capture := transcription.FFmpegCapture{
		Format:     cfg.AudioInputFormat,
		Device:     cfg.AudioDevice,
		SampleRate: cfg.AudioSampleRate,
	}
	return transcription.NewDeepgramSource(transcription.DeepgramConfig{
		APIKey:         cfg.DeepgramAPIKey,
		Language:       cfg.STTLanguage,
		Model:          cfg.STTModel,
		SampleRate:     cfg.AudioSampleRate,
		Channels:       1,
		Punctuate:      true,
		Endpointing:    cfg.STTEndpointingMs,
		UtteranceEndMs: cfg.STTUtteranceEndMs,
	}, capture, logger)
}
