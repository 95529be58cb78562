package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/cache"
	"github.com/example/availability-engine/internal/config"
	"github.com/example/availability-engine/internal/events"
	httptransport "github.com/example/availability-engine/internal/http"
	"github.com/example/availability-engine/internal/persistence/sqlite"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := sqlite.Open(ctx, cfg.SQLite(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	var slotCache application.SlotCache = cache.Noop[string, application.SlotResult]{}
	if cfg.CacheSize > 0 {
		slotCache = cache.NewLRU[string, application.SlotResult](cfg.CacheSize, cfg.CacheTTL, cache.WithClone(application.CloneSlotResult))
	}

	availabilityService := application.NewAvailabilityService(store, application.AvailabilityOptions{
		Cache:       slotCache,
		FanoutLimit: cfg.FanoutLimit,
		Logger:      logger,
	})
	bookingService := application.NewBookingService(store, application.BookingOptions{
		Publisher: publisher,
		Cache:     slotCache,
		Logger:    logger,
	})

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Slots:    httptransport.NewSlotHandler(availabilityService, logger),
		Bookings: httptransport.NewBookingHandler(bookingService, logger),
		Health:   store,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.Recoverer(logger),
		},
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("slot engine listening", "addr", server.Addr, "database", cfg.DatabasePath)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}

// newPublisher connects to NATS when configured and falls back to a no-op
// publisher otherwise.
func newPublisher(cfg config.Config, logger *slog.Logger) (events.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return events.Noop{}, func() {}, nil
	}
	publisher, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return publisher, publisher.Close, nil
}
