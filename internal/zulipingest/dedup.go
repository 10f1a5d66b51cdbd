package zulipingest

import "sync"

const dedupCapacity = 10000

// dedupSet is a bounded set of already-processed Zulip event IDs. It clears
// itself wholesale on overflow rather than evicting individual entries,
// which is safe because the event queue's last_event_id monotonicity
// already prevents the server from redelivering anything this set would
// otherwise need to remember.
type dedupSet struct {
	mu   sync.Mutex
	seen map[int64]struct{}
}

func newDedupSet() *dedupSet {
	return &dedupSet{seen: make(map[int64]struct{}, dedupCapacity)}
}

// seenBefore reports whether id was already recorded, recording it if not.
func (d *dedupSet) seenBefore(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if len(d.seen) >= dedupCapacity {
		d.seen = make(map[int64]struct{}, dedupCapacity)
	}
	d.seen[id] = struct{}{}
	return false
}
