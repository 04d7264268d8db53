package broker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the broker on addr until ctx is cancelled, then shuts the HTTP
// server down and stops the hub.
func Serve(ctx context.Context, addr string, dir Directory, log zerolog.Logger) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	hub := NewHub(dir, log)
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting broker")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down broker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("broker forced to shutdown")
	}

	stopHub()
	<-hub.Done()
	log.Info().Msg("broker exited")
	return nil
}
