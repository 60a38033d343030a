package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/wayfareapp/wayfare-go/cmd"
	"github.com/wayfareapp/wayfare-go/internal/conf"
	"github.com/wayfareapp/wayfare-go/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		os.Exit(1)
	}
}
