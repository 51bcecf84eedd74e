package forward

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/moqrelay/cache"
	"github.com/zsiec/moqrelay/relation"
	"github.com/zsiec/moqrelay/session"
	"github.com/zsiec/moqrelay/transport"
)

// ConnLookup resolves a session id to its transport.Connection, so the
// forwarder can open an outbound stream or send a datagram on a downstream
// subscriber's connection regardless of which upstream's receiver is
// driving the forward. The relay wiring layer supplies this; forward/ never
// holds connections itself.
type ConnLookup func(ctx context.Context, session relation.SessionID) (transport.Connection, bool)

// pollInterval is how often a subgroup forwarder rechecks an exhausted
// cache for a new object, rather than blocking on a condition variable —
// matching the teacher's stream-writer loop shape, which favors a short
// sleep-and-retry over a dedicated wakeup channel per cache.
const pollInterval = 10 * time.Millisecond

// Pipeline bundles the registries the receiver and forwarder need. One
// Pipeline is shared process-wide, the same way relation.Manager and
// cache.Registry are.
type Pipeline struct {
	log      *slog.Logger
	relation *relation.Manager
	cache    *cache.Registry
	signals  *session.SignalDispatcher
	conns    ConnLookup

	// nextStreamID is a process-local counter recorded via
	// relation.Set{Upstream,Downstream}StreamID for bookkeeping; the actual
	// QUIC/WebTransport stream id is not exposed through transport.SendStream,
	// and nothing currently reads this value back, so an opaque counter
	// serves the same "did we already record a stream here" purpose.
	nextStreamID atomic.Uint64

	// running dedups forwarder spawns: the receiver spawns a forwarder for
	// every downstream attached when a subgroup's header first arrives, and
	// a subscription attaching to an already-active upstream spawns one for
	// every subgroup already cached — both paths can race for the same
	// (downstream, group, subgroup), and SignalDispatcher.Register has no
	// "already registered" signal of its own.
	runningMu sync.Mutex
	running   map[session.TaskKey]struct{}
}

// NewPipeline constructs a Pipeline bound to the process-wide registries and
// a connection lookup supplied by the relay wiring layer.
func NewPipeline(log *slog.Logger, rel *relation.Manager, cacheRegistry *cache.Registry, signals *session.SignalDispatcher, conns ConnLookup) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:      log.With("component", "forward-pipeline"),
		relation: rel,
		cache:    cacheRegistry,
		signals:  signals,
		conns:    conns,
		running:  make(map[session.TaskKey]struct{}),
	}
}

// claim reserves key for a forwarder task, reporting whether this call won
// the race to start it.
func (p *Pipeline) claim(key session.TaskKey) bool {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()
	if _, ok := p.running[key]; ok {
		return false
	}
	p.running[key] = struct{}{}
	return true
}

func (p *Pipeline) release(key session.TaskKey) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()
	delete(p.running, key)
}
