package session

import (
	"sort"
	"sync"

	"github.com/jkaninda/ongea/internal/domain"
)

// Cache is the volatile per-connection conversation list. It is rebuilt by
// the sync pipeline on every connection and cleared on teardown; nothing in
// it is ever persisted.
//
// The source system relied on a single-threaded runtime to keep reads from
// observing a half-applied update; here that invariant is made explicit with
// a mutex. All mutations re-sort, so every Snapshot observes the ordering
// invariant: unread conversations strictly before read ones, most recent
// activity first within each class.
type Cache struct {
	mu      sync.RWMutex
	entries []domain.ConversationSummary
	index   map[string]int // chat ID → position in entries
}

// NewCache creates an empty conversation cache.
func NewCache() *Cache {
	return &Cache{index: make(map[string]int)}
}

// Replace swaps the full cache contents, as phase 1 of the sync does.
func (c *Cache) Replace(list []domain.ConversationSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]domain.ConversationSummary(nil), list...)
	c.resort()
}

// Merge upserts a batch of summaries and re-sorts, as phase 2 batches do.
// Fields already enriched are only overwritten by non-zero values, so a
// batch without avatars does not erase previously fetched ones.
func (c *Cache) Merge(batch []domain.ConversationSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range batch {
		if pos, ok := c.index[s.ID]; ok {
			cur := &c.entries[pos]
			cur.DisplayName = s.DisplayName
			cur.UnreadCount = s.UnreadCount
			cur.IsGroup = s.IsGroup
			if s.LastMessageTimestamp != 0 {
				cur.LastMessageTimestamp = s.LastMessageTimestamp
			}
			if s.LastMessagePreview != "" {
				cur.LastMessagePreview = s.LastMessagePreview
			}
			if s.AvatarURL != "" {
				cur.AvatarURL = s.AvatarURL
			}
		} else {
			c.entries = append(c.entries, s)
		}
	}
	c.resort()
}

// Upsert applies a live-message update: bump an existing conversation or
// insert a new minimal entry, then re-sort.
func (c *Cache) Upsert(s domain.ConversationSummary) {
	c.Merge([]domain.ConversationSummary{s})
}

// Bump updates just the activity fields of one conversation from a live
// message. Returns false if the conversation is not cached yet.
func (c *Cache) Bump(chatID, preview string, timestamp int64, incrementUnread bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.index[chatID]
	if !ok {
		return false
	}
	cur := &c.entries[pos]
	if preview != "" {
		cur.LastMessagePreview = preview
	}
	if timestamp != 0 {
		cur.LastMessageTimestamp = timestamp
	}
	if incrementUnread {
		cur.UnreadCount++
	}
	c.resort()
	return true
}

// MarkRead zeroes one conversation's unread count and re-sorts. Returns
// false if the conversation is not cached.
func (c *Cache) MarkRead(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.index[chatID]
	if !ok {
		return false
	}
	c.entries[pos].UnreadCount = 0
	c.resort()
	return true
}

// Snapshot returns a copy of the current sorted list.
func (c *Cache) Snapshot() []domain.ConversationSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.ConversationSummary(nil), c.entries...)
}

// Len reports the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear empties the cache, as session teardown does.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.index = make(map[string]int)
}

// resort applies the ordering invariant and rebuilds the position index.
// Callers hold the write lock.
func (c *Cache) resort() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i], c.entries[j]
		aUnread, bUnread := a.UnreadCount > 0, b.UnreadCount > 0
		if aUnread != bUnread {
			return aUnread
		}
		return a.LastMessageTimestamp > b.LastMessageTimestamp
	})
	c.index = make(map[string]int, len(c.entries))
	for i, s := range c.entries {
		c.index[s.ID] = i
	}
}
