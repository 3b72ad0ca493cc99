package blockstore

import (
	"time"

	"github.com/ipfs/go-cid"
)

// youngBlocks is the in-memory table of recently-written blocks that are
// still protected from garbage collection. It is only ever touched from the
// serializer goroutine, so it needs no locking of its own.
type youngBlocks struct {
	duration time.Duration
	expiry   map[cid.Cid]time.Time
}

func newYoungBlocks(duration time.Duration) *youngBlocks {
	return &youngBlocks{
		duration: duration,
		expiry:   make(map[cid.Cid]time.Time),
	}
}

// protect marks c as freshly written, immune to cleanup until the young
// window elapses. A zero duration disables the grace period: the entry is
// never added, so cleanup is free to consider c immediately.
func (y *youngBlocks) protect(c cid.Cid) {
	if y.duration <= 0 {
		return
	}
	y.expiry[c] = time.Now().Add(y.duration)
}

// evictExpired drops entries whose grace period has elapsed. Called from
// the serializer's maintenance tick.
func (y *youngBlocks) evictExpired(now time.Time) {
	for c, exp := range y.expiry {
		if !now.Before(exp) {
			delete(y.expiry, c)
		}
	}
}

// cids returns every CID still within its grace period as of now. Expired
// entries are excluded even if the maintenance tick has not yet pruned them
// from the table: protection ends exactly at young_duration, never up to
// maintenanceInterval later, so cleanup's view of "protected" always matches
// the wall clock rather than the tick schedule.
func (y *youngBlocks) cids(now time.Time) []cid.Cid {
	out := make([]cid.Cid, 0, len(y.expiry))
	for c, exp := range y.expiry {
		if exp.After(now) {
			out = append(out, c)
		}
	}
	return out
}
