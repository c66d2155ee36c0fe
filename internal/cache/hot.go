package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/smartdevs17/presale-monitor/internal/models"
)

// HotTier is the fixed-capacity in-process LRU tier
type HotTier struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *models.CacheEntry]
}

// NewHotTier creates a hot tier holding at most capacity entries
func NewHotTier(capacity int) (*HotTier, error) {
	entries, err := lru.New[string, *models.CacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &HotTier{entries: entries}, nil
}

// Get returns a copy of the unexpired entry under key and records the access
func (h *HotTier) Get(key string, now time.Time) (*models.CacheEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.entries.Get(key)
	if !ok {
		return nil, false
	}
	if entry.Expired(now) {
		h.entries.Remove(key)
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	copied := *entry
	return &copied, true
}

// Set stores a copy of entry, evicting the least recently used one when full
func (h *HotTier) Set(entry *models.CacheEntry) {
	copied := *entry
	h.mu.Lock()
	h.entries.Add(entry.Key, &copied)
	h.mu.Unlock()
}

// Remove drops key from the tier
func (h *HotTier) Remove(key string) {
	h.mu.Lock()
	h.entries.Remove(key)
	h.mu.Unlock()
}

// PurgeExpired drops every entry expired at now
func (h *HotTier) PurgeExpired(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for _, key := range h.entries.Keys() {
		if entry, ok := h.entries.Peek(key); ok && entry.Expired(now) {
			h.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries held
func (h *HotTier) Len() int {
	return h.entries.Len()
}
