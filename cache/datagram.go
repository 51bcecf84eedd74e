package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/moqrelay/moq"
)

type datagramKey struct {
	groupID  uint64
	objectID uint64
}

type datagramEntry struct {
	cacheID   uint64
	groupID   uint64
	object    Object
	expiresAt time.Time
}

// DatagramCache is the object cache for one upstream subscription whose
// forwarding preference is Datagram. It is a single-threaded actor, the
// same shape as relation.Manager: every method enqueues a closure on cmds
// and blocks for the result.
type DatagramCache struct {
	log  *slog.Logger
	ttl  time.Duration
	cmds chan func(now time.Time)

	byKey       map[datagramKey]uint64
	byCacheID   map[uint64]*datagramEntry
	nextCacheID uint64
}

// NewDatagramCache constructs a datagram cache with the given TTL. Call Run
// in its own goroutine before issuing any other calls.
func NewDatagramCache(log *slog.Logger, ttl time.Duration) *DatagramCache {
	if log == nil {
		log = slog.Default()
	}
	return &DatagramCache{
		log:         log.With("component", "datagram-cache"),
		ttl:         ttl,
		cmds:        make(chan func(now time.Time)),
		byKey:       make(map[datagramKey]uint64),
		byCacheID:   make(map[uint64]*datagramEntry),
		nextCacheID: 1,
	}
}

// Run serves commands until ctx is canceled.
func (c *DatagramCache) Run(ctx context.Context) error {
	c.log.Debug("datagram cache started")
	defer c.log.Debug("datagram cache stopped")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.cmds:
			cmd(time.Now())
		case now := <-ticker.C:
			c.evictExpired(now)
		}
	}
}

func (c *DatagramCache) do(ctx context.Context, fn func(now time.Time)) error {
	done := make(chan struct{})
	wrapped := func(now time.Time) {
		fn(now)
		close(done)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.cmds <- wrapped:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *DatagramCache) evictExpired(now time.Time) {
	for key, cacheID := range c.byKey {
		entry := c.byCacheID[cacheID]
		if entry == nil || isExpired(entry.expiresAt, now) {
			delete(c.byKey, key)
			delete(c.byCacheID, cacheID)
		}
	}
}

// Insert adds or replaces the object at (groupID, obj.ObjectID).
func (c *DatagramCache) Insert(ctx context.Context, groupID uint64, obj Object) error {
	return c.do(ctx, func(now time.Time) {
		key := datagramKey{groupID: groupID, objectID: obj.ObjectID}
		cacheID := c.nextCacheID
		c.nextCacheID++

		var expiresAt time.Time
		if c.ttl > 0 {
			expiresAt = now.Add(c.ttl)
		}

		if old, ok := c.byKey[key]; ok {
			delete(c.byCacheID, old)
		}
		c.byKey[key] = cacheID
		c.byCacheID[cacheID] = &datagramEntry{
			cacheID: cacheID, groupID: groupID, object: obj, expiresAt: expiresAt,
		}
	})
}

// GetAbsolute returns the object at the exact (group, object) address, if
// live.
func (c *DatagramCache) GetAbsolute(ctx context.Context, group, object uint64) (Object, bool, error) {
	var (
		out   Object
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		cacheID, ok := c.byKey[datagramKey{groupID: group, objectID: object}]
		if !ok {
			return
		}
		entry := c.byCacheID[cacheID]
		if entry == nil || isExpired(entry.expiresAt, now) {
			return
		}
		out, found = entry.object, true
	})
	return out, found, runErr
}

// GetNext returns the live entry with the smallest cache_id greater than
// afterCacheID, plus its cache_id (the cursor to pass on the following
// call).
func (c *DatagramCache) GetNext(ctx context.Context, afterCacheID uint64) (Object, uint64, bool, error) {
	var (
		out     Object
		cacheID uint64
		found   bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		var best *datagramEntry
		for id, entry := range c.byCacheID {
			if id <= afterCacheID || isExpired(entry.expiresAt, now) {
				continue
			}
			if best == nil || id < best.cacheID {
				best = entry
			}
		}
		if best == nil {
			return
		}
		out, cacheID, found = best.object, best.cacheID, true
	})
	return out, cacheID, found, runErr
}

// GetLatestGroup returns the largest live group_id.
func (c *DatagramCache) GetLatestGroup(ctx context.Context) (uint64, bool, error) {
	var (
		group uint64
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		for _, entry := range c.byCacheID {
			if isExpired(entry.expiresAt, now) {
				continue
			}
			if !found || entry.groupID > group {
				group, found = entry.groupID, true
			}
		}
	})
	return group, found, runErr
}

// GetLatestObject returns the most recently inserted live object (by
// cache_id, i.e. insertion order), plus its group_id and cache_id.
func (c *DatagramCache) GetLatestObject(ctx context.Context) (Object, uint64, uint64, bool, error) {
	var (
		out        Object
		groupID    uint64
		cacheID    uint64
		found      bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		var best *datagramEntry
		for _, entry := range c.byCacheID {
			if isExpired(entry.expiresAt, now) {
				continue
			}
			if best == nil || entry.cacheID > best.cacheID {
				best = entry
			}
		}
		if best == nil {
			return
		}
		out, groupID, cacheID, found = best.object, best.groupID, best.cacheID, true
	})
	return out, groupID, cacheID, found, runErr
}

// GetLargestGroupID and GetLargestObjectID report the largest live
// group/object id seen, independent of each other's coordinate.
func (c *DatagramCache) GetLargestGroupID(ctx context.Context) (uint64, bool, error) {
	return c.GetLatestGroup(ctx)
}

func (c *DatagramCache) GetLargestObjectID(ctx context.Context) (uint64, bool, error) {
	var (
		id    uint64
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		for _, entry := range c.byCacheID {
			if isExpired(entry.expiresAt, now) {
				continue
			}
			if !found || entry.object.ObjectID > id {
				id, found = entry.object.ObjectID, true
			}
		}
	})
	return id, found, runErr
}

// SelectInitial picks the first object a new subscriber attaching with
// filter f should receive, per spec §4.4's selection table. cacheID is the
// cursor to resume from via GetNext.
func (c *DatagramCache) SelectInitial(ctx context.Context, f Filter) (Object, uint64, bool, error) {
	var (
		out     Object
		cacheID uint64
		found   bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		switch f.Type {
		case moq.FilterLatestGroup:
			out, cacheID, found = c.selectFirstOfLatestGroup(now)
		case moq.FilterLatestObject:
			out, cacheID, found = c.selectLatestObject(now)
		case moq.FilterAbsoluteStart, moq.FilterAbsoluteRange:
			out, cacheID, found = c.selectAbsoluteOrNext(f.StartGroup, f.StartObject, now)
		}
	})
	return out, cacheID, found, runErr
}

func (c *DatagramCache) selectFirstOfLatestGroup(now time.Time) (Object, uint64, bool) {
	var (
		latestGroup uint64
		haveGroup   bool
	)
	for _, entry := range c.byCacheID {
		if isExpired(entry.expiresAt, now) {
			continue
		}
		if !haveGroup || entry.groupID > latestGroup {
			latestGroup, haveGroup = entry.groupID, true
		}
	}
	if !haveGroup {
		return Object{}, 0, false
	}

	var best *datagramEntry
	for _, entry := range c.byCacheID {
		if isExpired(entry.expiresAt, now) || entry.groupID != latestGroup {
			continue
		}
		if best == nil || entry.object.ObjectID < best.object.ObjectID {
			best = entry
		}
	}
	if best == nil {
		return Object{}, 0, false
	}
	return best.object, best.cacheID, true
}

func (c *DatagramCache) selectLatestObject(now time.Time) (Object, uint64, bool) {
	var best *datagramEntry
	for _, entry := range c.byCacheID {
		if isExpired(entry.expiresAt, now) {
			continue
		}
		if best == nil || entry.cacheID > best.cacheID {
			best = entry
		}
	}
	if best == nil {
		return Object{}, 0, false
	}
	return best.object, best.cacheID, true
}

func (c *DatagramCache) selectAbsoluteOrNext(group, object uint64, now time.Time) (Object, uint64, bool) {
	if cacheID, ok := c.byKey[datagramKey{groupID: group, objectID: object}]; ok {
		if entry := c.byCacheID[cacheID]; entry != nil && !isExpired(entry.expiresAt, now) {
			return entry.object, entry.cacheID, true
		}
	}

	var best *datagramEntry
	for _, entry := range c.byCacheID {
		if isExpired(entry.expiresAt, now) || entry.groupID != group || entry.object.ObjectID <= object {
			continue
		}
		if best == nil || entry.object.ObjectID < best.object.ObjectID {
			best = entry
		}
	}
	if best == nil {
		return Object{}, 0, false
	}
	return best.object, best.cacheID, true
}
