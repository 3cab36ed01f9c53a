package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"branchdown/internal/api"
	"branchdown/internal/config"
	"branchdown/internal/engine"
	"branchdown/internal/metrics"
	"branchdown/internal/storage"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// App groups the engine, its journal and the HTTP surface of one server.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	Engine  *engine.Engine
	Metrics *metrics.Collector
	handler http.Handler
	cancel  context.CancelFunc
	closers []func() error
}

// New opens the configured journal, replays it into a fresh engine and
// builds the router. Cancelling ctx does not stop the journal; only Close
// does, so requests drained by Serve can still persist.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{cfg: cfg, log: log, Metrics: metrics.NewCollector("branchdown"), cancel: cancel}

	journal, err := a.openJournal(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	a.Engine = engine.New(engine.Options{
		Journal:  journal,
		Logger:   log.Named("engine"),
		Observer: a.Metrics,
	})
	if journal != nil {
		start := time.Now()
		muts, err := journal.Load()
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("load journal: %w", err)
		}
		if err := a.Engine.Restore(muts); err != nil {
			_ = a.Close()
			return nil, err
		}
		stats := a.Engine.Stats()
		log.Info("journal replayed",
			zap.String("backend", cfg.Storage.Backend),
			zap.String("mutations", humanize.Comma(int64(len(muts)))),
			zap.Int("streams", stats.Streams),
			zap.Int("points", stats.Points),
			zap.Duration("took", time.Since(start)))
	}

	a.handler = api.NewServer(a.Engine, api.Options{
		Logger:         log.Named("http"),
		Metrics:        a.Metrics,
		RateLimitRPS:   cfg.Limits.RPS,
		RateLimitBurst: cfg.Limits.Burst,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Context:        ctx,
	})
	return a, nil
}

func (a *App) openJournal(ctx context.Context) (engine.Journal, error) {
	sc := a.cfg.Storage
	if sc.Backend == config.BackendMemory {
		a.log.Warn("memory backend selected, nothing will survive a restart")
		return nil, nil
	}
	if err := os.MkdirAll(sc.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	switch sc.Backend {
	case config.BackendCommitLog:
		mgr, _, err := engine.NewCommitLogManager(ctx, engine.CommitLogCfg{
			Path:                 a.cfg.CommitLogPath(),
			EnqueueTimeout:       sc.CommitLog.EnqueueTimeout.Duration(),
			FlushInterval:        sc.CommitLog.FlushInterval.Duration(),
			MaxEnqueuingMutation: sc.CommitLog.MaxEnqueuing,
			BufferBytes:          sc.CommitLog.Buffer.Int(),
			SyncOnAppend:         sc.CommitLog.SyncOnAppend,
			Logger:               a.log.Named("commitlog"),
		})
		if err != nil {
			return nil, fmt.Errorf("open commit log: %w", err)
		}
		a.log.Info("commit log opened",
			zap.String("path", a.cfg.CommitLogPath()),
			zap.String("buffer", sc.CommitLog.Buffer.String()),
			zap.Bool("sync_on_append", sc.CommitLog.SyncOnAppend))
		a.closers = append(a.closers, mgr.Close)
		return mgr, nil
	case config.BackendPebble:
		store, err := storage.OpenPebbleStore(storage.PebbleStoreCfg{
			Path:   a.cfg.PebblePath(),
			NoSync: sc.Pebble.NoSync,
			Logger: a.log.Named("pebble"),
		})
		if err != nil {
			return nil, fmt.Errorf("open pebble: %w", err)
		}
		a.log.Info("pebble store opened", zap.String("path", a.cfg.PebblePath()))
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Close stops background work and closes the journal, flushing what it
// still buffers.
func (a *App) Close() error {
	a.cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Serve runs the HTTP server on l until ctx is cancelled, then drains
// in-flight requests for up to the configured shutdown timeout.
func (a *App) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout.Duration(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", l.Addr().String()))
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
