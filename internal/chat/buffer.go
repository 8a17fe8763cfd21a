package chat

import "sync"

// DefaultRecentMessages is the number of accepted messages kept per
// conversation for history requests.
const DefaultRecentMessages = 20

// RecentBuffer keeps the last N accepted messages of each conversation in
// memory, so a client joining a conversation on this gateway gets context
// without a database round trip. It is goroutine-safe.
type RecentBuffer struct {
	size int

	mu    sync.RWMutex
	rings map[string]*ring // conversation ID -> ring
}

type ring struct {
	items []Message
	pos   int
	count int
}

// NewRecentBuffer creates a buffer holding size messages per conversation.
// A non-positive size selects DefaultRecentMessages.
func NewRecentBuffer(size int) *RecentBuffer {
	if size <= 0 {
		size = DefaultRecentMessages
	}
	return &RecentBuffer{size: size, rings: make(map[string]*ring)}
}

// Add appends msg to its conversation, overwriting the oldest entry when
// full.
func (b *RecentBuffer) Add(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[msg.ConversationID]
	if !ok {
		r = &ring{items: make([]Message, b.size)}
		b.rings[msg.ConversationID] = r
	}

	r.items[r.pos] = msg
	r.pos = (r.pos + 1) % b.size
	if r.count < b.size {
		r.count++
	}
}

// Get returns a conversation's messages oldest first. Unknown conversations
// yield an empty, non-nil slice.
func (b *RecentBuffer) Get(conversationID string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[conversationID]
	if !ok {
		return []Message{}
	}

	out := make([]Message, r.count)
	start := (r.pos - r.count + b.size) % b.size
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%b.size]
	}
	return out
}

// Remove drops a conversation's buffer.
func (b *RecentBuffer) Remove(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.rings, conversationID)
}
