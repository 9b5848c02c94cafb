package retention

import (
	"sync"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// DefaultCapacity is the retention bound used by the daemon.
const DefaultCapacity = 1000

// Message is a snapshot of an inbound message kept for possible
// delete-recovery. The original waE2E payload is retained whole so a
// recovery can resend it (media messages keep their key and path).
type Message struct {
	ID         string
	Chat       types.JID
	Sender     types.JID
	SenderName string
	Payload    *waE2E.Message
	SentAt     time.Time
	StoredAt   time.Time
}

// Cache is a bounded message store keyed by message ID. When a put
// pushes the size over capacity, the single oldest-by-insertion entry is
// evicted. Safe for concurrent use by the event stream.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*Message
	seq      map[string]uint64
	nextSeq  uint64
}

// NewCache creates a cache bounded to capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*Message),
		seq:      make(map[string]uint64),
	}
}

// Put stores a message snapshot, stamping its insertion time. If the
// cache exceeds capacity afterwards, the oldest-inserted entry is
// evicted (exactly one per overflowing put).
func (c *Cache) Put(msg *Message) {
	if msg == nil || msg.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	msg.StoredAt = time.Now()
	if _, exists := c.entries[msg.ID]; !exists {
		c.seq[msg.ID] = c.nextSeq
		c.nextSeq++
	}
	c.entries[msg.ID] = msg

	if len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

// Get returns the retained message for id, or nil.
func (c *Cache) Get(id string) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id]
}

// Delete removes the entry for id, if present.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	delete(c.seq, id)
}

// Len returns the current number of retained messages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked removes the entry with the smallest insertion
// sequence. Sequence numbers make the tie-break deterministic even when
// many entries share an insertion timestamp.
func (c *Cache) evictOldestLocked() {
	var (
		oldestID  string
		oldestSeq uint64
		found     bool
	)
	for id, s := range c.seq {
		if !found || s < oldestSeq {
			oldestID = id
			oldestSeq = s
			found = true
		}
	}
	if found {
		delete(c.entries, oldestID)
		delete(c.seq, oldestID)
	}
}
