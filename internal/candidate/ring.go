package candidate

// dedupRing remembers the most recent decision ids applied to a candidate
// so re-delivered feedback has no effect. Oldest ids are evicted once the
// ring is full.
type dedupRing struct {
	capacity int
	ids      []string
	next     int
	seen     map[string]struct{}
}

func newDedupRing(capacity int) *dedupRing {
	if capacity < 1 {
		capacity = 1
	}
	return &dedupRing{
		capacity: capacity,
		ids:      make([]string, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen reports whether the id is still within the ring.
func (r *dedupRing) Seen(id string) bool {
	_, ok := r.seen[id]
	return ok
}

// Add records an id, evicting the oldest entry when the ring is full.
func (r *dedupRing) Add(id string) {
	if r.Seen(id) {
		return
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.ids[r.next] = id
	r.seen[id] = struct{}{}
	r.next = (r.next + 1) % r.capacity
}
