package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChartFeed/pkg/config"
	xhttp "ChartFeed/pkg/http"
	pkgkafka "ChartFeed/pkg/kafka"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/queue"
)

// Sweeper is run periodically until shutdown.
type Sweeper struct {
	Name     string
	Interval time.Duration
	Run      func()
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	handlers   []pkgkafka.MessageHandler
	warmQueue  *queue.RedisQueue
	sweepers   []Sweeper
	closers    map[string]io.Closer
}

type Option func(*App)

// WithConsumer starts c with handlers when the app runs.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = handlers
	}
}

func WithQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.warmQueue = q }
}

func WithSweeper(s Sweeper) Option {
	return func(a *App) { a.sweepers = append(a.sweepers, s) }
}

// WithCloser registers c to be closed, in no particular order, on shutdown.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers[name] = c
		}
	}
}

func New(cfg *config.Config, l *applogger.Logger, httpServer *xhttp.Server, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, l: l, httpServer: httpServer, closers: make(map[string]io.Closer)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if a.warmQueue != nil {
		if err := a.warmQueue.Start(ctx); err != nil {
			return err
		}
		a.l.Info("warm queue started")
	}

	if a.consumer != nil && len(a.handlers) > 0 {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			a.shutdown()
			return err
		}
		for _, h := range a.handlers {
			a.l.Info("kafka handler registered", applogger.String("topic", h.Topic()))
		}
	}

	for _, s := range a.sweepers {
		go a.sweep(ctx, s)
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) sweep(ctx context.Context, s Sweeper) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Run()
		}
	}
}

// shutdown gracefully stops all services, HTTP first so no new work arrives.
func (a *App) shutdown() error {
	a.l.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.warmQueue != nil {
		if err := a.warmQueue.Stop(ctx); err != nil {
			a.l.Warn("warm queue stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	for name, c := range a.closers {
		if err := c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("component", name), applogger.Error(err))
			errs = append(errs, err)
		}
	}
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
