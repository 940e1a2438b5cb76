package bitmex

import (
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// orderIDMultiplier shifts the connect epoch left of the sequence digits.
	orderIDMultiplier = 1_000_000
	// orderSeqFloor is where the sequence starts; ids stay wide enough to
	// never be mistaken for bare epochs.
	orderSeqFloor = 1_000_000
)

// orderIDSource mints client order ids of the form epoch*1e6 + seq, where
// epoch is yymmddHHMMSS captured at connect time. Ids are all-numeric,
// strictly increasing within a connection, and sort roughly by wall clock
// across reconnects. The sequence survives rebinding so ids never repeat
// inside one process.
type orderIDSource struct {
	epoch atomic.Int64
	seq   atomic.Int64
}

func newOrderIDSource() *orderIDSource {
	s := new(orderIDSource)
	s.seq.Store(orderSeqFloor)
	return s
}

// bind captures the connect-time epoch the ids are salted with.
func (s *orderIDSource) bind(now time.Time) {
	epoch, err := strconv.ParseInt(now.Format("060102150405"), 10, 64)
	if err != nil {
		return
	}
	s.epoch.Store(epoch * orderIDMultiplier)
}

// nextID mints the next client order id.
func (s *orderIDSource) nextID() string {
	return strconv.FormatInt(s.epoch.Load()+s.seq.Add(1), 10)
}

// isClientOrderID reports whether the id looks locally minted: non-empty and
// all decimal digits. Venue-assigned ids are UUIDs, so digits-only implies
// ours. This is a naming convention, not a guarantee; a venue that ever
// issues a purely numeric id would defeat it, and this predicate is the one
// place that convention lives.
func isClientOrderID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}
