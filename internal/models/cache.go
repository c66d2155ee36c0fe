package models

import "time"

// CacheEntry is the envelope stored for every cached artifact
type CacheEntry struct {
	Key            string    `json:"key" db:"key"`
	Value          []byte    `json:"value" db:"value"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	AccessCount    int64     `json:"access_count" db:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at" db:"last_accessed_at"`
}

// Expired reports whether the entry is past its expiry at now
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// RemainingTTL returns the time left before expiry at now
func (e *CacheEntry) RemainingTTL(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}
