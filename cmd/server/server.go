package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// serve runs server until ctx is done or it fails, then shuts down the
// background components and the server within the configured timeout.
func (app *application) serve(ctx context.Context, server *http.Server) error {
	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	case err := <-serverErr:
		app.logger.Error("server failed", "error", err)
		runErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout())
	defer cancel()

	app.stop(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	app.logger.Info("server shutdown completed")
	return runErr
}
