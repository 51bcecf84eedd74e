package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zsiec/moqrelay/relation"
)

// Shape records which wire framing a (session, subscribe_id) cache has
// committed to, once its first object has arrived. A cache starts Unset
// and locks to Datagram or Subgroup on first use.
type Shape int

const (
	ShapeUnset Shape = iota
	ShapeDatagram
	ShapeSubgroup
)

// ErrShapeMismatch is returned when a (session, subscribe_id) cache is
// asked for the shape it did not lock to on first use.
var ErrShapeMismatch = errors.New("cache: shape mismatch for subscribe id")

// Key identifies one upstream subscription's cache.
type Key struct {
	Session     relation.SessionID
	SubscribeID uint64
}

type entry struct {
	shape    Shape
	datagram *DatagramCache
	subgroup *SubgroupCache
	cancel   context.CancelFunc
}

// Registry is the process-wide Object Cache actor (spec §4.4/§5): it owns
// the lifecycle of every per-(session, subscribe_id) cache, lazily
// spawning a DatagramCache or SubgroupCache actor goroutine the first time
// a key is used and tearing all of a session's caches down together on
// session close. Like relation.Manager, it serializes every lookup/create/
// delete through one command channel.
type Registry struct {
	log *slog.Logger
	ttl time.Duration
	ctx context.Context

	cmds    chan func()
	entries map[Key]*entry
}

// NewRegistry constructs an Object Cache registry. ctx is used as the
// parent for every per-key cache actor it spawns; canceling it tears down
// every cache. ttl bounds how long an object stays live once inserted.
func NewRegistry(ctx context.Context, log *slog.Logger, ttl time.Duration) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log.With("component", "cache-registry"),
		ttl:     ttl,
		ctx:     ctx,
		cmds:    make(chan func()),
		entries: make(map[Key]*entry),
	}
}

// Run serves commands until ctx is canceled.
func (r *Registry) Run(ctx context.Context) error {
	r.log.Debug("cache registry started")
	defer r.log.Debug("cache registry stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-r.cmds:
			cmd()
		}
	}
}

func (r *Registry) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.cmds <- wrapped:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// GetOrCreateDatagram returns the datagram cache for key, creating and
// starting it if this is the first use of key. Fails with
// ErrShapeMismatch if key was already locked to Subgroup shape.
func (r *Registry) GetOrCreateDatagram(ctx context.Context, key Key) (*DatagramCache, error) {
	var (
		out *DatagramCache
		err error
	)
	runErr := r.do(ctx, func() {
		e, ok := r.entries[key]
		if !ok {
			cacheCtx, cancel := context.WithCancel(r.ctx)
			dc := NewDatagramCache(r.log, r.ttl)
			go dc.Run(cacheCtx)
			e = &entry{shape: ShapeDatagram, datagram: dc, cancel: cancel}
			r.entries[key] = e
			out = dc
			return
		}
		if e.shape != ShapeDatagram {
			err = ErrShapeMismatch
			return
		}
		out = e.datagram
	})
	if runErr != nil {
		return nil, runErr
	}
	return out, err
}

// GetOrCreateSubgroup returns the subgroup cache for key, creating and
// starting it if this is the first use of key. Fails with
// ErrShapeMismatch if key was already locked to Datagram shape.
func (r *Registry) GetOrCreateSubgroup(ctx context.Context, key Key) (*SubgroupCache, error) {
	var (
		out *SubgroupCache
		err error
	)
	runErr := r.do(ctx, func() {
		e, ok := r.entries[key]
		if !ok {
			cacheCtx, cancel := context.WithCancel(r.ctx)
			sc := NewSubgroupCache(r.log, r.ttl)
			go sc.Run(cacheCtx)
			e = &entry{shape: ShapeSubgroup, subgroup: sc, cancel: cancel}
			r.entries[key] = e
			out = sc
			return
		}
		if e.shape != ShapeSubgroup {
			err = ErrShapeMismatch
			return
		}
		out = e.subgroup
	})
	if runErr != nil {
		return nil, runErr
	}
	return out, err
}

// GetShape reports the shape a key has committed to, if any.
func (r *Registry) GetShape(ctx context.Context, key Key) (Shape, error) {
	var shape Shape
	runErr := r.do(ctx, func() {
		if e, ok := r.entries[key]; ok {
			shape = e.shape
		}
	})
	return shape, runErr
}

// Delete tears down a single key's cache.
func (r *Registry) Delete(ctx context.Context, key Key) error {
	return r.do(ctx, func() {
		e, ok := r.entries[key]
		if !ok {
			return
		}
		e.cancel()
		delete(r.entries, key)
	})
}

// DeleteSession tears down every cache belonging to a session, used during
// session teardown (spec §4.9).
func (r *Registry) DeleteSession(ctx context.Context, session relation.SessionID) error {
	return r.do(ctx, func() {
		for key, e := range r.entries {
			if key.Session != session {
				continue
			}
			e.cancel()
			delete(r.entries, key)
		}
	})
}
