package cache

import (
	"errors"
	"time"

	"github.com/zsiec/moqrelay/moq"
)

// ErrSubgroupMissing names the case of a (group_id, subgroup_id) pair that
// has no entry yet. No cache method returns it: lookups of a missing
// subgroup report found=false instead.
var ErrSubgroupMissing = errors.New("cache: subgroup not found")

// Object is a cached object, independent of which wire framing (datagram or
// subgroup stream) it arrived on.
type Object struct {
	ObjectID   uint64
	Extensions []byte
	Status     moq.ObjectStatus
	Payload    []byte
}

// Filter mirrors a subscription's filter_type and range fields (spec §3),
// used by SelectInitial to choose the first object a new subscriber sees.
type Filter struct {
	Type        uint64
	StartGroup  uint64
	StartObject uint64
	EndGroup    uint64
}

func isExpired(expiresAt time.Time, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}
