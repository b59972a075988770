package chat

import "sync"

// DirectLog retains the most recent direct messages for moderator review.
// It is a fixed-size ring: once full, each new message overwrites the oldest.
type DirectLog struct {
	mu    sync.RWMutex
	items []DirectMessage
	pos   int
	count int
	total int
}

// NewDirectLog creates a ring holding up to size messages.
func NewDirectLog(size int) *DirectLog {
	if size <= 0 {
		size = 1
	}
	return &DirectLog{items: make([]DirectMessage, size)}
}

// Add records a direct message.
func (d *DirectLog) Add(msg DirectMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.items[d.pos] = msg
	d.pos = (d.pos + 1) % len(d.items)
	if d.count < len(d.items) {
		d.count++
	}
	d.total++
}

// Recent returns up to n retained messages in chronological order. A negative
// n returns everything retained.
func (d *DirectLog) Recent(n int) []DirectMessage {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n < 0 || n > d.count {
		n = d.count
	}
	size := len(d.items)
	result := make([]DirectMessage, n)
	// The oldest of the last n entries sits n slots behind the write position.
	start := (d.pos - n + size) % size
	for i := 0; i < n; i++ {
		result[i] = d.items[(start+i)%size]
	}
	return result
}

// Total returns how many direct messages were ever recorded, including those
// already overwritten.
func (d *DirectLog) Total() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.total
}
