package gateway

import (
	"sort"
	"sync"
)

type replayEntry struct {
	Seq  int64
	Data []byte // envelope JSON
}

// ReplayBuffer keeps the most recent envelopes of one channel so a client
// that notices a channel_seq gap can fetch what it missed. Entries are pushed
// with increasing seq; the oldest is evicted beyond capacity.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	limit   int
}

// NewReplayBuffer creates a replay buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayDepth
	}
	return &ReplayBuffer{
		entries: make([]replayEntry, 0, capacity),
		limit:   capacity,
	}
}

// Push appends an envelope, evicting the oldest when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.entries) == rb.limit {
		// Shift in place so the backing array does not grow.
		copy(rb.entries, rb.entries[1:])
		rb.entries = rb.entries[:len(rb.entries)-1]
	}
	rb.entries = append(rb.entries, replayEntry{Seq: seq, Data: append([]byte(nil), data...)})
}

// Range returns entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	lo := sort.Search(len(rb.entries), func(i int) bool { return rb.entries[i].Seq >= fromSeq })
	hi := sort.Search(len(rb.entries), func(i int) bool { return rb.entries[i].Seq > toSeq })
	if lo >= hi {
		return nil
	}
	return append([]replayEntry(nil), rb.entries[lo:hi]...)
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}
