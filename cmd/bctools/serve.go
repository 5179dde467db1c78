package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/SzilBalazs/bctools/internal/api"
	"github.com/SzilBalazs/bctools/internal/runner"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the run queue",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	appCtx, cleanup, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer cleanup()

	log := appCtx.Logger
	ctx := cmd.Context()

	if cmd.Flags().Changed("port") {
		appCtx.Config.Port = servePort
	}

	// A missing engine only disables datagen runs
	if dispatcher, err := newDispatcher(appCtx); err != nil {
		log.Warn("Datagen disabled: %v", err)
	} else {
		appCtx.Dispatcher = dispatcher
	}

	syncer, sink, err := newSyncer(ctx, appCtx)
	if err != nil {
		return err
	}
	defer sink.Close()
	appCtx.Synchronizer = syncer

	runs := runner.NewManager(appCtx)
	stopRuns := runs.Serve(ctx)
	defer stopRuns()

	e := echo.New()
	api.RegisterRoutes(e, appCtx, runs)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", appCtx.Config.Port),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
