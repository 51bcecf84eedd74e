package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/control"
	"github.com/zsiec/moqrelay/forward"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
	"github.com/zsiec/moqrelay/transport"
)

// Config bundles the process-wide settings every session's control.Handler
// and the shared object cache need.
type Config struct {
	// DefaultMaxSubscribeID is used for SETUP when the client omits its own
	// MaxSubscribeID parameter (spec §6).
	DefaultMaxSubscribeID uint64
	// MaxConcurrentFetches bounds per-session concurrent FETCH processing
	// (control.Config.MaxConcurrentFetches).
	MaxConcurrentFetches int64
	// CacheTTL bounds how long an object survives in the object cache
	// before it is no longer visible to readers (spec §4.4).
	CacheTTL time.Duration
}

// Listener is satisfied by both transport.QUICListener and
// transport.WebTransportServer: a pull-based Accept loop over incoming
// transport.Connections, letting Relay.Serve treat either transport
// binding identically (spec §6: "the core never assumes" a specific
// transport).
type Listener interface {
	Accept(ctx context.Context) (transport.Connection, error)
}

// Relay owns the process-wide registries and drives session lifecycles
// over one or more Listeners. One Relay typically backs an entire relay
// process; cmd/moqrelayd constructs exactly one.
type Relay struct {
	log    *slog.Logger
	config Config

	Relation   *relation.Manager
	Cache      *cache.Registry
	Dispatcher *session.Dispatcher
	Signals    *session.SignalDispatcher
	Sessions   *session.Registry
	Teardown   *session.Handler
	Pipeline   *forward.Pipeline

	nextSessionID atomic.Uint64

	connsMu sync.RWMutex
	conns   map[relation.SessionID]transport.Connection
}

// New constructs a Relay and every registry it owns, wiring forward.Pipeline
// to look up live connections through the Relay's own connection table.
// Call Run to start the registries' actor loops before calling Serve.
func New(ctx context.Context, log *slog.Logger, cfg Config) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.DefaultMaxSubscribeID == 0 {
		cfg.DefaultMaxSubscribeID = 100
	}

	r := &Relay{
		log:    log.With("component", "relay"),
		config: cfg,
		conns:  make(map[relation.SessionID]transport.Connection),
	}

	r.Relation = relation.NewManager(log)
	r.Cache = cache.NewRegistry(ctx, log, cfg.CacheTTL)
	r.Dispatcher = session.NewDispatcher(log)
	r.Signals = session.NewSignalDispatcher(log)
	r.Sessions = session.NewRegistry(log)
	r.Teardown = session.NewHandler(log, r.Relation, r.Cache, r.Dispatcher, r.Signals, r.Sessions)
	r.Pipeline = forward.NewPipeline(log, r.Relation, r.Cache, r.Signals, r.lookupConn)

	return r
}

// Run starts every registry's actor loop and blocks until ctx is canceled
// or one of them fails.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Relation.Run(ctx) })
	g.Go(func() error { return r.Cache.Run(ctx) })
	g.Go(func() error { return r.Dispatcher.Run(ctx) })
	g.Go(func() error { return r.Signals.Run(ctx) })
	g.Go(func() error { return r.Sessions.Run(ctx) })
	return g.Wait()
}

// Serve accepts connections from ln until ctx is canceled, handling each on
// its own goroutine. It returns the listener's terminal Accept error (nil on
// clean context cancellation).
func (r *Relay) Serve(ctx context.Context, ln Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go r.handleConnection(ctx, conn)
	}
}

func (r *Relay) lookupConn(_ context.Context, id relation.SessionID) (transport.Connection, bool) {
	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

func (r *Relay) registerConn(id relation.SessionID, conn transport.Connection) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	r.conns[id] = conn
}

func (r *Relay) unregisterConn(id relation.SessionID) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	delete(r.conns, id)
}

// handlerConfig adapts Relay's Config to control.Config.
func (r *Relay) handlerConfig() control.Config {
	return control.Config{
		DefaultMaxSubscribeID: r.config.DefaultMaxSubscribeID,
		MaxConcurrentFetches:  r.config.MaxConcurrentFetches,
	}
}
