package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lukasbauer/syncup/internal/output"
	"github.com/lukasbauer/syncup/internal/transcription"
)

var errChecksFailed = errors.New("some checks failed")

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer deps.Close()
			f := newFormatter(cmd)
			cfg := deps.Config
			ok := true

			check := func(name string, err error, detail string) {
				if err != nil {
					ok = false
					f.SetupCheck(name, false, err.Error())
					return
				}
				f.SetupCheck(name, true, detail)
			}

			f.Info("Checking setup")

			if cfg.ConfigFile != "" {
				f.SetupCheck("config", true, cfg.ConfigFile)
			} else {
				f.SetupCheck("config", true, "no config file, using environment")
			}

			capture := transcription.FFmpegCapture{Format: cfg.AudioInputFormat, Device: cfg.AudioDevice}
			check("ffmpeg", capture.Available(), "found")

			if cfg.DeepgramAPIKey == "" {
				check("deepgram", errors.New("DEEPGRAM_API_KEY is not set, use --offline"), "")
			} else {
				check("deepgram", nil, "API key set")
			}

			if cfg.JWTSecret == "" {
				check("jwt", errors.New("JWT_SECRET is not set, API tokens cannot be issued"), "")
			} else {
				check("jwt", nil, "secret set")
			}

			if cfg.DatabaseURL == "" {
				check("database", errors.New("DATABASE_URL is not set, --save and history are unavailable"), "")
			} else {
				_, err := deps.Backend()
				check("database", err, "connected")
			}

			if !ok {
				return errChecksFailed
			}
			f.Success("All checks passed")
			return nil
		},
	}
}

func newFormatter(cmd *cobra.Command) *output.Formatter {
	return output.NewFormatter(cmd.OutOrStdout())
}
