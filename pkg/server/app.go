package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	applogger "FinFusion/pkg/logger"
)

type step struct {
	name string
	fn   func(ctx context.Context) error
}

type closer struct {
	name string
	fn   func() error
}

// App runs the process: setup steps in order, then every component
// concurrently until a signal arrives or one of them fails, then the
// closers in reverse registration order.
type App struct {
	logger          *applogger.Logger
	setup           []step
	components      []step
	closers         []closer
	shutdownTimeout time.Duration
	signals         []os.Signal
}

type Option func(*App)

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// WithSignals replaces the default SIGINT and SIGTERM.
func WithSignals(sig ...os.Signal) Option {
	return func(a *App) { a.signals = sig }
}

func New(l *applogger.Logger, opts ...Option) *App {
	a := &App{
		logger:          l,
		shutdownTimeout: 15 * time.Second,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Setup registers a step that must finish before components start. A
// failing step aborts Run.
func (a *App) Setup(name string, fn func(ctx context.Context) error) {
	a.setup = append(a.setup, step{name: name, fn: fn})
}

// Go registers a component. Run returns when every component has returned.
func (a *App) Go(name string, fn func(ctx context.Context) error) {
	a.components = append(a.components, step{name: name, fn: fn})
}

// OnShutdown registers fn to run after all components stopped.
func (a *App) OnShutdown(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run blocks until ctx is done, a registered signal arrives or a component
// fails. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, a.signals...)
	defer stop()
	defer a.close()

	for _, s := range a.setup {
		start := time.Now()
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		a.logger.Info("setup done", applogger.String("step", s.name), applogger.Duration("took_ms", time.Since(start)))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range a.components {
		c := c
		g.Go(func() error {
			a.logger.Debug("component started", applogger.String("component", c.name))
			err := c.fn(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("component failed", applogger.String("component", c.name), applogger.Error(err))
				return fmt.Errorf("%s: %w", c.name, err)
			}
			a.logger.Debug("component stopped", applogger.String("component", c.name))
			return nil
		})
	}
	a.logger.Info("app started", applogger.Int("components", len(a.components)))

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
	}
	a.logger.Info("shutdown signal received")

	select {
	case err := <-done:
		return err
	case <-time.After(a.shutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", a.shutdownTimeout)
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", applogger.String("resource", c.name), applogger.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
