package main

import (
	"context"
	"os"

	"github.com/lukasbauer/syncup/internal/app"
	"github.com/lukasbauer/syncup/internal/cli"
	"github.com/lukasbauer/syncup/internal/output"
)

func main() {
	f := output.NewFormatter(os.Stderr)

	cfg, err := app.LoadConfig()
	if err != nil {
		f.Error(err.Error())
		os.Exit(1)
	}

	// Logs go to stderr at warn level unless LOG_LEVEL is set.
	logCfg := cfg
	logCfg.LogFormat = "console"
	if os.Getenv("LOG_LEVEL") == "" {
		logCfg.LogLevel = "warn"
	}
	logger := app.NewLogger(logCfg, os.Stderr)

	deps := &cli.Dependencies{Config: cfg, Logger: logger}
	if err := cli.NewRootCmd(deps).ExecuteContext(context.Background()); err != nil {
		f.Error(err.Error())
		os.Exit(1)
	}
}
