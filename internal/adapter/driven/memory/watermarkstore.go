// Package memory implements process-local driven ports.
package memory

import (
	"maps"
	"sync"

	"github.com/ericfisherdev/commitcast/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WatermarkStore = (*WatermarkStore)(nil)

// WatermarkStore keeps the last announced SHA per slug in memory. State is
// lost on restart; the monitor re-primes on startup instead of replaying.
//
// Each slug is owned by one target task per poll cycle. The mutex only
// protects the map itself, which Go does not allow to be written
// concurrently even for distinct keys.
type WatermarkStore struct {
	mu         sync.RWMutex
	watermarks map[string]string
}

// NewWatermarkStore creates an empty store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{watermarks: make(map[string]string)}
}

// Get returns the watermark for slug and whether one has been recorded.
func (s *WatermarkStore) Get(slug string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sha, ok := s.watermarks[slug]
	return sha, ok
}

// Set records sha as the watermark for slug.
func (s *WatermarkStore) Set(slug, sha string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[slug] = sha
}

// Snapshot returns a copy of every recorded watermark.
func (s *WatermarkStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.watermarks)
}
