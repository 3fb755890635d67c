// Package server is the daemon's composition root: it resolves the
// workspace store, wires config, storage, the event broker, the log
// store, and the dispatch manager together, and drives the IPC accept
// loop. Grounded on the teacher's manager-as-top-level-owner shape
// (cuemby-warren/pkg/manager), narrowed from a raft-clustered gRPC/mTLS
// server to the single-process framed-JSON-over-Unix-socket daemon this
// spec describes — pkg/api/server.go's mTLS/gRPC machinery has no
// counterpart here (there is exactly one daemon per workspace, reached
// over a local transport only, so there's no cluster membership or
// certificate exchange to do).
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cuemby/granary/pkg/auth"
	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/dispatch"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/ipc"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/logstore"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/storage"
)

// Server owns every long-lived daemon component for one workspace.
type Server struct {
	cfg     *config.GlobalConfig
	store   storage.Store
	broker  *events.Broker
	logs    *logstore.Store
	manager *dispatch.Manager
	metrics *metrics.Registry
	checker *auth.Checker

	transport *ipc.Transport
	lock      *InstanceLock

	shutdownGrace time.Duration
}

// Options configures New.
type Options struct {
	DatabasePath  string
	SocketPath    string
	PIDPath       string
	AuthTokenPath string
	LogsRoot      string
	ShutdownGrace time.Duration
}

// New resolves cfg and opens the workspace store, but does not yet bind
// the socket or start dispatch — call Run for that.
func New(opts Options) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("server: load config: %w", err)
	}

	store, err := storage.NewBoltStore(opts.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("server: open store: %w", err)
	}

	token, err := auth.GetOrCreateToken(opts.AuthTokenPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("server: auth token: %w", err)
	}

	broker := events.NewBroker()
	logs := logstore.New(opts.LogsRoot)
	reg := metrics.NewRegistry()
	mgr := dispatch.NewManager(store, broker, logs, cfg, reg)

	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	return &Server{
		cfg:           cfg,
		store:         store,
		broker:        broker,
		logs:          logs,
		manager:       mgr,
		metrics:       reg,
		checker:       auth.NewChecker(token),
		shutdownGrace: grace,
	}, nil
}

// Run acquires the single-instance lock, restores persisted state,
// starts the background retention sweep, binds the IPC transport, and
// serves until ctx is cancelled. It always releases the instance lock
// and closes the store before returning.
func (s *Server) Run(ctx context.Context, socketPath, pidPath string) error {
	lock, ok, err := Acquire(pidPath)
	if err != nil {
		return fmt.Errorf("server: acquire instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("server: another daemon instance is already running (pid file %s locked)", pidPath)
	}
	s.lock = lock
	defer s.lock.Release()
	defer s.store.Close()

	if err := s.manager.Restore(); err != nil {
		log.WithComponent("server").Error().Err(err).Msg("restore failed")
	}

	gcCtx, cancelGC := context.WithCancel(ctx)
	defer cancelGC()
	go s.runRetentionLoop(gcCtx)

	collector := metrics.NewCollector(s.metrics, s.store)
	collector.Start()
	defer collector.Stop()

	listener, err := ipc.Listen(socketPath)
	if err != nil {
		return fmt.Errorf("server: bind socket: %w", err)
	}

	shutdown := make(chan struct{})
	s.transport = ipc.NewTransport(listener, func(conn net.Conn) {
		s.serveConn(ctx, conn, shutdown)
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.transport.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case <-shutdown:
	case err := <-serveErr:
		if err != nil {
			log.WithComponent("server").Error().Err(err).Msg("accept loop")
		}
	}

	s.transport.Stop(s.shutdownGrace)
	s.manager.Shutdown(s.shutdownGrace)
	return nil
}

// serveConn adapts ipc.ServeConn's Handler signature to dispatch and
// closes shutdown once an Operation Shutdown request is served.
func (s *Server) serveConn(ctx context.Context, conn net.Conn, shutdown chan struct{}) {
	err := ipc.ServeConn(ctx, conn, s.checker.Check, func(ctx context.Context, req ipc.Request) (ipc.Response, bool) {
		resp, isShutdown := s.handle(ctx, req)
		if isShutdown {
			select {
			case <-shutdown:
			default:
				close(shutdown)
			}
		}
		return resp, isShutdown
	})
	if err != nil {
		log.WithComponent("server").Debug().Err(err).Msg("connection closed")
	}
}

// runRetentionLoop runs the log GC sweep once at startup and then
// hourly, per §4.8.
func (s *Server) runRetentionLoop(ctx context.Context) {
	sweep := func() {
		s.logs.GC(s.cfg.Retention.MaxAge, s.cfg.Retention.MinKeep, log.WithComponent("retention"))
	}
	sweep()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// EnsureDirs creates the directories New's callers resolved paths into,
// mirroring auto_start.rs's spawn_daemon ensuring the daemon directory
// exists before the daemon itself opens any file in it.
func EnsureDirs(paths ...string) error {
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("server: create %s: %w", p, err)
		}
	}
	return nil
}
