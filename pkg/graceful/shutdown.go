package graceful

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rail-service/invest_bot/pkg/logger"
)

// Shutdowner is a component stopped on SIGINT/SIGTERM
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ShutdownFunc adapts a function to Shutdowner
type ShutdownFunc func(ctx context.Context) error

func (f ShutdownFunc) Shutdown(ctx context.Context) error { return f(ctx) }

type namedShutdowner struct {
	name string
	s    Shutdowner
}

// ShutdownManager stops registered components in registration order
type ShutdownManager struct {
	server      *http.Server
	shutdowners []namedShutdowner
	timeout     time.Duration
	logger      *logger.Logger
}

// NewShutdownManager creates a manager; server may be nil when no HTTP server runs
func NewShutdownManager(server *http.Server, timeout time.Duration, logger *logger.Logger) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		server:  server,
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a component to stop on shutdown
func (sm *ShutdownManager) Register(name string, s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, namedShutdowner{name: name, s: s})
}

// WaitForShutdown blocks until a signal arrives or ctx is cancelled, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		sm.logger.Info("Shutting down gracefully...", "signal", sig.String())
	case <-ctx.Done():
		sm.logger.Info("Shutting down gracefully...", "reason", ctx.Err())
	}

	sm.Shutdown()
}

// Shutdown stops every registered component and then the HTTP server
func (sm *ShutdownManager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	for _, n := range sm.shutdowners {
		if err := n.s.Shutdown(ctx); err != nil {
			sm.logger.Warn("Component shutdown error", "component", n.name, "error", err)
		}
	}

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
		}
	}

	sm.logger.Info("Shutdown complete")
}
