// Package oauthstate holds short-lived values produced during provider
// connect flows: single-use state nonces and the page listings a callback
// fetched while the operator decides which page to connect.
package oauthstate

import (
	"sync"
	"time"
)

// DefaultTTL matches the lifetime of a connect-flow state token.
const DefaultTTL = 10 * time.Minute

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is an in-memory key/value store with per-entry expiry. Values are
// read at most once via Take, or repeatedly via Get until they expire.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	stop    chan struct{}
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Put stores a value under key with the store's TTL, replacing any
// previous value.
func (s *Store) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, expiresAt: time.Now().Add(s.ttl)}
}

// Get returns the live value for key, if any.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

// Take returns the live value for key and removes it. A second Take of the
// same key fails, which is what makes state nonces single-use.
func (s *Store) Take(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	delete(s.entries, key)
	if time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Close stops the background sweep.
func (s *Store) Close() {
	close(s.stop)
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}
