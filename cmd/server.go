package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brk3/habitd/internal/clock"
	"github.com/brk3/habitd/internal/config"
	"github.com/brk3/habitd/internal/dispatch"
	"github.com/brk3/habitd/internal/dispatch/local"
	"github.com/brk3/habitd/internal/dispatch/redisq"
	"github.com/brk3/habitd/internal/engine"
	"github.com/brk3/habitd/internal/logger"
	"github.com/brk3/habitd/internal/nudge"
	"github.com/brk3/habitd/internal/nudge/resend"
	"github.com/brk3/habitd/internal/server"
	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/internal/storage/bolt"
	"github.com/brk3/habitd/internal/storage/sqlite"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the scheduling engine and HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Store {
	case "sqlite":
		s, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "bolt", "":
		s, err := bolt.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func newNotifier(cfg *config.Config) nudge.Notifier {
	n := nudge.Multi{nudge.LogNotifier{}}
	if cfg.Notify.ResendAPIKey != "" && cfg.Notify.Email != "" {
		n = append(n, &resend.ResendNotifier{
			ApiKey: cfg.Notify.ResendAPIKey,
			Email:  cfg.Notify.Email,
			From:   cfg.Notify.From,
		})
	}
	return n
}

// newDispatcher builds the configured dispatcher. The returned func stops
// it and releases its resources.
func newDispatcher(ctx context.Context, cfg *config.Config, n nudge.Notifier, c clock.Clock) (dispatch.Dispatcher, func(), error) {
	switch cfg.Dispatcher.Kind {
	case "redis":
		rc := cfg.Dispatcher.Redis
		client, err := redisq.Connect(ctx, redisq.ConnectOptions{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		d := redisq.New(client, rc.Prefix)
		w := redisq.NewWorker(d, n, rc.PollInterval, c.Now)
		w.Start(ctx)
		return d, func() {
			w.Stop()
			_ = client.Close()
		}, nil
	case "local", "":
		d := local.New(n, local.WithNow(c.Now))
		return d, d.Stop, nil
	}
	return nil, nil, fmt.Errorf("unknown dispatcher %q", cfg.Dispatcher.Kind)
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store %s: %w", cfg.Store, cfg.DBPath, err)
	}
	defer store.Close()

	c, err := clock.NewSystem(cfg.Timezone)
	if err != nil {
		return err
	}

	d, stopDispatcher, err := newDispatcher(ctx, cfg, newNotifier(cfg), c)
	if err != nil {
		return err
	}
	defer stopDispatcher()

	e := engine.New(store, d, c, engine.Options{
		HorizonDays:         cfg.Engine.HorizonDays,
		AllowBackfill:       cfg.Engine.AllowBackfill,
		DispatchConcurrency: cfg.Engine.DispatchConcurrency,
		RolloverConcurrency: cfg.Engine.RolloverConcurrency,
		RolloverInterval:    cfg.Engine.RolloverInterval,
	})

	if _, err := e.Recover(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(e, cfg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", cfg.ListenAddr, "store", cfg.Store, "dispatcher", cfg.Dispatcher.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
