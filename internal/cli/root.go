package cli

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lukasbauer/syncup/internal/app"
	"github.com/lukasbauer/syncup/internal/clock"
	"github.com/lukasbauer/syncup/internal/transcription"
	"github.com/lukasbauer/syncup/internal/version"
)

type Dependencies struct {
	Config app.Config
	Logger zerolog.Logger

	// Clock drives session timers. Defaults to the system clock.
	Clock clock.Clock

	// NewSource overrides the live transcription source.
	NewSource func() transcription.Source

	// OpenBackend connects to the database on first use.
	OpenBackend func() (Backend, error)

	once    sync.Once
	backend Backend
	err     error
}

func (d *Dependencies) clock() clock.Clock {
	if d.Clock == nil {
		return clock.System{}
	}
	return d.Clock
}

// Backend returns the database-backed side of the CLI, opening it once.
func (d *Dependencies) Backend() (Backend, error) {
	d.once.Do(func() {
		open := d.OpenBackend
		if open == nil {
			open = func() (Backend, error) { return openAppBackend(d.Config, d.Logger) }
		}
		d.backend, d.err = open()
	})
	return d.backend, d.err
}

// Close releases the backend if it was opened.
func (d *Dependencies) Close() {
	if d.backend != nil {
		_ = d.backend.Close()
	}
}

func (d *Dependencies) source(offline bool, script []string) transcription.Source {
	if d.NewSource != nil {
		return d.NewSource()
	}
	if offline {
		if len(script) == 0 {
			script = defaultScript
		}
		return &transcription.Stub{Clock: d.clock(), Lines: script, Interval: 3 * time.Second}
	}
	return app.NewTranscriptionSource(d.Config, d.Logger)
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "syncup",
		Short:         "Run timed stand-up meetings with live transcription",
		Long:          "Syncup runs a stand-up: every attendee gets an equal share of the meeting, the meeting is transcribed while it runs, and the transcript can be saved to the syncup's history.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewHistoryCmd(deps))
	rootCmd.AddCommand(NewTokenCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}
