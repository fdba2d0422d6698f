package status

import "time"

// Dispatch records one triggered action for display.
type Dispatch struct {
	Identity string
	Action   string
	At       time.Time
}

// history is a fixed-capacity ring of the most recent dispatches.
// Not safe for concurrent use; Tracker holds the lock.
type history struct {
	buf      []Dispatch
	capacity int
	head     int // next write position
	count    int
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{
		buf:      make([]Dispatch, capacity),
		capacity: capacity,
	}
}

// push appends d, overwriting the oldest entry when full.
func (h *history) push(d Dispatch) {
	h.buf[h.head] = d
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
}

// newestFirst copies the entries out, most recent first.
func (h *history) newestFirst() []Dispatch {
	if h.count == 0 {
		return nil
	}
	out := make([]Dispatch, h.count)
	for i := 0; i < h.count; i++ {
		idx := (h.head - 1 - i + h.capacity) % h.capacity
		out[i] = h.buf[idx]
	}
	return out
}

func (h *history) len() int {
	return h.count
}
