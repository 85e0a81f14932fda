package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// Listener serves one http.Handler on a TCP address.
type Listener struct {
	cfg     config.ServerConfig
	handler http.Handler
	logger  observability.Logger
	server  *http.Server
	addr    atomic.Value
	running atomic.Bool
	done    chan struct{}
}

// NewListener creates a Listener.
func NewListener(cfg config.ServerConfig, handler http.Handler, logger observability.Logger) *Listener {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Listener{cfg: cfg, handler: handler, logger: logger}
}

// Start binds the address and serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("listener %s is already running", l.cfg.Address)
	}

	l.server = &http.Server{
		Handler:           l.handler,
		ReadTimeout:       l.cfg.ReadTimeout.Duration(),
		ReadHeaderTimeout: l.cfg.ReadTimeout.Duration(),
		WriteTimeout:      l.cfg.WriteTimeout.Duration(),
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Address)
	if err != nil {
		l.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", l.cfg.Address, err)
	}
	l.addr.Store(ln.Addr().String())
	l.done = make(chan struct{})

	l.logger.Info("listener started", observability.String("address", l.Addr()))

	go l.serve(ln)
	return nil
}

func (l *Listener) serve(ln net.Listener) {
	defer close(l.done)
	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("address", l.Addr()),
			observability.Error(err),
		)
	}
}

// Addr returns the bound address, or "" before Start.
func (l *Listener) Addr() string {
	addr, _ := l.addr.Load().(string)
	return addr
}

// Stop drains in-flight requests until ctx ends.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.running.CompareAndSwap(true, false) {
		return nil
	}

	l.logger.Info("stopping listener", observability.String("address", l.Addr()))
	err := l.server.Shutdown(ctx)
	<-l.done
	if err != nil {
		return fmt.Errorf("failed to shutdown listener %s: %w", l.Addr(), err)
	}
	return nil
}
