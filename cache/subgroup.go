package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/moqrelay/moq"
)

type subgroupKey struct {
	groupID    uint64
	subgroupID uint64
}

type objectEntry struct {
	seq       uint64
	object    Object
	expiresAt time.Time
}

type subgroupEntry struct {
	header  moq.SubgroupHeader
	objects map[uint64]*objectEntry // keyed by ObjectID
	nextSeq uint64
}

// SubgroupCache is the object cache for one upstream subscription whose
// forwarding preference is Subgroup: one logical cache per (group_id,
// subgroup_id), each holding the subgroup's header plus its objects in
// arrival order. Same single-threaded-actor shape as DatagramCache.
type SubgroupCache struct {
	log  *slog.Logger
	ttl  time.Duration
	cmds chan func(now time.Time)

	subgroups map[subgroupKey]*subgroupEntry
}

// NewSubgroupCache constructs a subgroup cache with the given TTL. Call Run
// in its own goroutine before issuing any other calls.
func NewSubgroupCache(log *slog.Logger, ttl time.Duration) *SubgroupCache {
	if log == nil {
		log = slog.Default()
	}
	return &SubgroupCache{
		log:       log.With("component", "subgroup-cache"),
		ttl:       ttl,
		cmds:      make(chan func(now time.Time)),
		subgroups: make(map[subgroupKey]*subgroupEntry),
	}
}

// Run serves commands until ctx is canceled.
func (c *SubgroupCache) Run(ctx context.Context) error {
	c.log.Debug("subgroup cache started")
	defer c.log.Debug("subgroup cache stopped")

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

func (c *SubgroupCache) do(ctx context.Context, fn func(now time.Time)) error {
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

func (c *SubgroupCache) evictExpired(now time.Time) {
	for sgKey, sg := range c.subgroups {
		allExpired := true
		for objID, entry := range sg.objects {
			if isExpired(entry.expiresAt, now) {
				delete(sg.objects, objID)
				continue
			}
			allExpired = false
		}
		if allExpired {
			delete(c.subgroups, sgKey)
		}
	}
}

// CreateSubgroup registers a subgroup stream's header, creating the
// subgroup entry if it doesn't already exist. Calling it again for a
// (group, subgroup) pair already present is a no-op.
func (c *SubgroupCache) CreateSubgroup(ctx context.Context, header moq.SubgroupHeader) error {
	return c.do(ctx, func(now time.Time) {
		key := subgroupKey{groupID: header.GroupID, subgroupID: header.SubgroupID}
		if _, ok := c.subgroups[key]; ok {
			return
		}
		c.subgroups[key] = &subgroupEntry{header: header, objects: make(map[uint64]*objectEntry)}
	})
}

// InsertObject adds obj to the (group, subgroup) cache, creating the
// subgroup if it has not been seen yet (forwarders that observe the header
// and first object in one read path may skip the separate CreateSubgroup
// call).
func (c *SubgroupCache) InsertObject(ctx context.Context, header moq.SubgroupHeader, obj Object) error {
	return c.do(ctx, func(now time.Time) {
		key := subgroupKey{groupID: header.GroupID, subgroupID: header.SubgroupID}
		sg, ok := c.subgroups[key]
		if !ok {
			sg = &subgroupEntry{header: header, objects: make(map[uint64]*objectEntry)}
			c.subgroups[key] = sg
		}

		var expiresAt time.Time
		if c.ttl > 0 {
			expiresAt = now.Add(c.ttl)
		}

		seq := sg.nextSeq
		sg.nextSeq++
		sg.objects[obj.ObjectID] = &objectEntry{seq: seq, object: obj, expiresAt: expiresAt}
	})
}

// GetHeader returns the header for a known subgroup.
func (c *SubgroupCache) GetHeader(ctx context.Context, group, subgroup uint64) (moq.SubgroupHeader, bool, error) {
	var (
		out   moq.SubgroupHeader
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		sg, ok := c.subgroups[subgroupKey{groupID: group, subgroupID: subgroup}]
		if !ok {
			return
		}
		out, found = sg.header, true
	})
	return out, found, runErr
}

// GetFirstObject returns the earliest-inserted live object in the subgroup,
// plus the sequence cursor to pass to GetNextObject.
func (c *SubgroupCache) GetFirstObject(ctx context.Context, group, subgroup uint64) (Object, uint64, bool, error) {
	var (
		out   Object
		seq   uint64
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		sg, ok := c.subgroups[subgroupKey{groupID: group, subgroupID: subgroup}]
		if !ok {
			return
		}
		var best *objectEntry
		for _, entry := range sg.objects {
			if isExpired(entry.expiresAt, now) {
				continue
			}
			if best == nil || entry.seq < best.seq {
				best = entry
			}
		}
		if best == nil {
			return
		}
		out, seq, found = best.object, best.seq, true
	})
	return out, seq, found, runErr
}

// GetNextObject returns the live object with the smallest sequence number
// greater than afterSeq within the subgroup.
func (c *SubgroupCache) GetNextObject(ctx context.Context, group, subgroup uint64, afterSeq uint64) (Object, uint64, bool, error) {
	var (
		out   Object
		seq   uint64
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		sg, ok := c.subgroups[subgroupKey{groupID: group, subgroupID: subgroup}]
		if !ok {
			return
		}
		var best *objectEntry
		for _, entry := range sg.objects {
			if entry.seq <= afterSeq || isExpired(entry.expiresAt, now) {
				continue
			}
			if best == nil || entry.seq < best.seq {
				best = entry
			}
		}
		if best == nil {
			return
		}
		out, seq, found = best.object, best.seq, true
	})
	return out, seq, found, runErr
}

// GetAbsoluteOrNextObject returns the object at exactly objectID if live,
// otherwise the next live object with a larger ObjectID in the same
// subgroup (used for ABSOLUTE_START/ABSOLUTE_RANGE initial selection when
// the exact start object has already expired).
func (c *SubgroupCache) GetAbsoluteOrNextObject(ctx context.Context, group, subgroup, objectID uint64) (Object, uint64, bool, error) {
	var (
		out   Object
		seq   uint64
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		sg, ok := c.subgroups[subgroupKey{groupID: group, subgroupID: subgroup}]
		if !ok {
			return
		}
		if entry, ok := sg.objects[objectID]; ok && !isExpired(entry.expiresAt, now) {
			out, seq, found = entry.object, entry.seq, true
			return
		}
		var best *objectEntry
		for _, entry := range sg.objects {
			if isExpired(entry.expiresAt, now) || entry.object.ObjectID <= objectID {
				continue
			}
			if best == nil || entry.object.ObjectID < best.object.ObjectID {
				best = entry
			}
		}
		if best == nil {
			return
		}
		out, seq, found = best.object, best.seq, true
	})
	return out, seq, found, runErr
}

// GetLatestObject returns the most recently inserted live object across all
// subgroups of the given group, plus the subgroup it arrived on and its
// sequence cursor.
func (c *SubgroupCache) GetLatestObject(ctx context.Context, group uint64) (Object, uint64, uint64, bool, error) {
	var (
		out        Object
		subgroupID uint64
		seq        uint64
		found      bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		var (
			bestEntry      *objectEntry
			bestSubgroupID uint64
		)
		for key, sg := range c.subgroups {
			if key.groupID != group {
				continue
			}
			for _, entry := range sg.objects {
				if isExpired(entry.expiresAt, now) {
					continue
				}
				if bestEntry == nil || entry.seq > bestEntry.seq {
					bestEntry, bestSubgroupID = entry, key.subgroupID
				}
			}
		}
		if bestEntry == nil {
			return
		}
		out, subgroupID, seq, found = bestEntry.object, bestSubgroupID, bestEntry.seq, true
	})
	return out, subgroupID, seq, found, runErr
}

// GetLargestGroupID reports the largest live group_id across all subgroups.
func (c *SubgroupCache) GetLargestGroupID(ctx context.Context) (uint64, bool, error) {
	var (
		group uint64
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		for key, sg := range c.subgroups {
			if !c.hasLiveObject(sg, now) {
				continue
			}
			if !found || key.groupID > group {
				group, found = key.groupID, true
			}
		}
	})
	return group, found, runErr
}

// GetLargestObjectID reports the largest live object_id within the given
// group, across all its subgroups.
func (c *SubgroupCache) GetLargestObjectID(ctx context.Context, group uint64) (uint64, bool, error) {
	var (
		id    uint64
		found bool
	)
	runErr := c.do(ctx, func(now time.Time) {
		for key, sg := range c.subgroups {
			if key.groupID != group {
				continue
			}
			for _, entry := range sg.objects {
				if isExpired(entry.expiresAt, now) {
					continue
				}
				if !found || entry.object.ObjectID > id {
					id, found = entry.object.ObjectID, true
				}
			}
		}
	})
	return id, found, runErr
}

// GetAllSubgroupIDs returns the subgroup_ids with at least one live object
// in the given group, used to attach an initial selection across multiple
// subgroups of the same group.
func (c *SubgroupCache) GetAllSubgroupIDs(ctx context.Context, group uint64) ([]uint64, error) {
	var out []uint64
	runErr := c.do(ctx, func(now time.Time) {
		for key, sg := range c.subgroups {
			if key.groupID != group || !c.hasLiveObject(sg, now) {
				continue
			}
			out = append(out, key.subgroupID)
		}
	})
	return out, runErr
}

func (c *SubgroupCache) hasLiveObject(sg *subgroupEntry, now time.Time) bool {
	for _, entry := range sg.objects {
		if !isExpired(entry.expiresAt, now) {
			return true
		}
	}
	return false
}

// SelectInitial picks the (group, subgroup, object) a new subscriber
// attaching with filter f should start from. For LatestGroup/LatestObject
// it resolves to the current latest group and the first or latest object
// within it; for AbsoluteStart/AbsoluteRange it resolves the exact or next
// object at the requested coordinates across every subgroup of that group.
func (c *SubgroupCache) SelectInitial(ctx context.Context, f Filter) (group, subgroup uint64, obj Object, seq uint64, found bool, runErr error) {
	runErr = c.do(ctx, func(now time.Time) {
		switch f.Type {
		case moq.FilterLatestGroup:
			group, subgroup, obj, seq, found = c.selectFirstOfLatestGroup(now)
		case moq.FilterLatestObject:
			group, subgroup, obj, seq, found = c.selectLatestAcrossGroups(now)
		case moq.FilterAbsoluteStart, moq.FilterAbsoluteRange:
			group = f.StartGroup
			subgroup, obj, seq, found = c.selectAbsoluteOrNextInGroup(f.StartGroup, f.StartObject, now)
		}
	})
	return
}

func (c *SubgroupCache) selectFirstOfLatestGroup(now time.Time) (group, subgroup uint64, obj Object, seq uint64, found bool) {
	var haveGroup bool
	for key, sg := range c.subgroups {
		if !c.hasLiveObject(sg, now) {
			continue
		}
		if !haveGroup || key.groupID > group {
			group, haveGroup = key.groupID, true
		}
	}
	if !haveGroup {
		return 0, 0, Object{}, 0, false
	}

	var best *objectEntry
	for key, sg := range c.subgroups {
		if key.groupID != group {
			continue
		}
		for _, entry := range sg.objects {
			if isExpired(entry.expiresAt, now) {
				continue
			}
			if best == nil || entry.object.ObjectID < best.object.ObjectID {
				best, subgroup = entry, key.subgroupID
			}
		}
	}
	if best == nil {
		return 0, 0, Object{}, 0, false
	}
	return group, subgroup, best.object, best.seq, true
}

func (c *SubgroupCache) selectLatestAcrossGroups(now time.Time) (group, subgroup uint64, obj Object, seq uint64, found bool) {
	var best *objectEntry
	for key, sg := range c.subgroups {
		for _, entry := range sg.objects {
			if isExpired(entry.expiresAt, now) {
				continue
			}
			if best == nil || key.groupID > group || (key.groupID == group && entry.object.ObjectID > best.object.ObjectID) {
				best, group, subgroup = entry, key.groupID, key.subgroupID
			}
		}
	}
	if best == nil {
		return 0, 0, Object{}, 0, false
	}
	return group, subgroup, best.object, best.seq, true
}

func (c *SubgroupCache) selectAbsoluteOrNextInGroup(group, object uint64, now time.Time) (subgroup uint64, obj Object, seq uint64, found bool) {
	var best *objectEntry
	for key, sg := range c.subgroups {
		if key.groupID != group {
			continue
		}
		for _, entry := range sg.objects {
			if isExpired(entry.expiresAt, now) || entry.object.ObjectID < object {
				continue
			}
			if best == nil || entry.object.ObjectID < best.object.ObjectID {
				best, subgroup = entry, key.subgroupID
			}
		}
	}
	if best == nil {
		return 0, Object{}, 0, false
	}
	return subgroup, best.object, best.seq, true
}
