package cli

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lukasbauer/syncup/internal/app"
	"github.com/lukasbauer/syncup/internal/archive"
	"github.com/lukasbauer/syncup/internal/store"
)

// SyncupStore is the part of the store the commands use.
type SyncupStore interface {
	GetSyncup(ctx context.Context, id, ownerID string) (*store.Syncup, error)
	CreateSyncup(ctx context.Context, n store.NewSyncup) (*store.Syncup, error)
	ListMeetings(ctx context.Context, syncupID string, limit int) ([]store.Meeting, error)
}

// Backend is the database-backed side of the CLI.
type Backend interface {
	Syncups() SyncupStore
	Archiver() *archive.Archiver
	Close() error
}

type appBackend struct {
	app *app.App
}

func (b appBackend) Syncups() SyncupStore        { return b.app.Store() }
func (b appBackend) Archiver() *archive.Archiver { return b.app.Archiver() }
func (b appBackend) Close() error                { return b.app.Close() }

func openAppBackend(cfg app.Config, logger zerolog.Logger) (Backend, error) {
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return appBackend{app: a}, nil
}
