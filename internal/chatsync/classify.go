// Package chatsync populates a session's conversation cache in two phases:
// a fast initial page built from a single list call, then background
// enrichment in sequential batches with bounded-concurrency avatar fetches.
// Both phases are idempotent with respect to the cache.
package chatsync

import "github.com/jkaninda/ongea/internal/messenger"

// preview returns the newest non-system message, or nil if none qualifies.
// Messages arrive in chronological order from the gateway.
func preview(msgs []messenger.Message) *messenger.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !messenger.IsSystemMessage(msgs[i]) {
			return &msgs[i]
		}
	}
	return nil
}
