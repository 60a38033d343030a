// Package serve implements the HTTP API server command.
package serve

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	api "github.com/wayfareapp/wayfare-go/internal/api/v2"
	"github.com/wayfareapp/wayfare-go/internal/conf"
	"github.com/wayfareapp/wayfare-go/internal/datastore"
	"github.com/wayfareapp/wayfare-go/internal/observability"
	"github.com/wayfareapp/wayfare-go/internal/safety"
)

// Command returns the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the safety index HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}
}

func runServer(settings *conf.Settings) error {
	ds, err := datastore.New(settings)
	if err != nil {
		return fmt.Errorf("creating datastore: %w", err)
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			log.Printf("Warning: failed to close datastore: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics, err := observability.NewSafetyMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	calculator := safety.New(ds, &settings.Safety, metrics)

	e := echo.New()
	e.HideBanner = true

	controller := api.InitializeAPI(e, ds, settings, calculator, log.Default(), registry)
	defer controller.Shutdown()

	errChan := make(chan error, 1)
	go func() {
		addr := ":" + settings.WebServer.Port
		log.Printf("Starting HTTP server on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		log.Printf("Received signal %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
