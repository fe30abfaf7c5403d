// Package daemon wires the gateway together and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/browserbridge/bridge/internal/auth"
	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/executor"
	"github.com/browserbridge/bridge/internal/keystore"
	"github.com/browserbridge/bridge/internal/plugins"
	"github.com/browserbridge/bridge/internal/ratelimit"
	"github.com/browserbridge/bridge/internal/registry"
	"github.com/browserbridge/bridge/internal/server"
)

const (
	flushInterval    = 30 * time.Second
	sweepInterval    = time.Minute
	shutdownDeadline = 5 * time.Second
)

// Daemon is the assembled gateway process.
type Daemon struct {
	cfg      config.Config
	paths    config.Paths
	store    *keystore.Store
	auth     *auth.Service
	limiter  *ratelimit.Limiter
	executor *executor.Manager
	registry *registry.Registry
	plugins  *plugins.Set
	httpSrv  *http.Server

	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	ready     chan struct{}
	boundAddr string
}

// New loads plugins, opens the key store, and assembles the daemon. The
// process is not listening until Start.
func New(cfg config.Config) (*Daemon, error) {
	paths := config.GetPaths(cfg.ConfigDir)
	if err := config.EnsureDirs(paths); err != nil {
		return nil, err
	}

	store, err := keystore.Open(paths.KeysDB)
	if err != nil {
		return nil, fmt.Errorf("daemon: open key store: %w", err)
	}

	authSvc := auth.NewService(store)
	exec := executor.New(authSvc.ValidateExecutorToken, cfg.CommandTimeout)
	limiter := ratelimit.New(cfg.RateLimit, cfg.RateWindow)

	reg := registry.New()
	registry.Builtin(reg)
	set := plugins.NewSet(reg)

	for _, p := range plugins.Builtin() {
		if err := set.Register(p); err != nil {
			store.Close()
			return nil, err
		}
	}
	scripted, err := plugins.LoadScripts(paths.PluginsDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	for _, p := range scripted {
		if err := set.Register(p); err != nil {
			store.Close()
			return nil, err
		}
	}

	api := server.NewAPIServer(cfg, authSvc, limiter, exec, reg, set)
	httpSrv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler: api.Handler(),
	}

	return &Daemon{
		cfg:      cfg,
		paths:    paths,
		store:    store,
		auth:     authSvc,
		limiter:  limiter,
		executor: exec,
		registry: reg,
		plugins:  set,
		httpSrv:  httpSrv,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}, nil
}

// ExecutorToken returns the process-lifetime executor auth token. The
// daemon logs it at startup so the extension can be configured.
func (d *Daemon) ExecutorToken() string {
	return d.auth.ExecutorToken()
}

// Addr returns the bound listen address once Start has opened the
// listener, and the configured address before that.
func (d *Daemon) Addr() string {
	select {
	case <-d.ready:
		return d.boundAddr
	default:
		return d.httpSrv.Addr
	}
}

// WaitReady blocks until the listener is bound.
func (d *Daemon) WaitReady() {
	<-d.ready
}

// Start serves until Shutdown is called or the listener fails.
func (d *Daemon) Start() error {
	defer close(d.done)

	ln, err := net.Listen("tcp", d.httpSrv.Addr)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("daemon: listen on %s: %w", d.httpSrv.Addr, err)
	}
	d.boundAddr = ln.Addr().String()
	close(d.ready)

	go d.auth.FlushLoop(flushInterval, d.stop)
	go d.limiter.SweepLoop(sweepInterval, d.stop)

	if d.auth.OpenAccess() {
		log.Printf("[Daemon] no API keys configured, running in open-access mode")
	}
	log.Printf("[Daemon] listening on %s (ws: /ws, mcp: %v, rest: %v)", d.boundAddr, d.cfg.MCPEnabled, d.cfg.RESTEnabled)
	log.Printf("[Daemon] executor token: %s", d.auth.ExecutorToken())

	serveErr := d.httpSrv.Serve(ln)
	d.cleanup()
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("daemon: serve on %s: %w", d.boundAddr, serveErr)
	}
	return nil
}

// Shutdown stops the listener and releases resources. Safe to call more
// than once.
func (d *Daemon) Shutdown() {
	d.stopOnce.Do(func() {
		close(d.stop)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if err := d.httpSrv.Shutdown(ctx); err != nil {
			log.Printf("[Daemon] http shutdown: %v", err)
		}
	})
	<-d.done
}

// cleanup fails in-flight executor commands, flushes the key store, and
// closes it.
func (d *Daemon) cleanup() {
	d.executor.Shutdown()
	if err := d.auth.Flush(); err != nil {
		log.Printf("[Daemon] final key flush: %v", err)
	}
	if err := d.store.Close(); err != nil {
		log.Printf("[Daemon] store close: %v", err)
	}
	log.Printf("[Daemon] stopped")
}
