package ai

import "sync"

// Slot is the shared, concurrency-safe optional reference to the current
// Client. Pipeline stages hold the Slot itself, never a copied Client,
// so an attach or replace takes effect on their next tick without a
// restart. An empty Slot is a first-class state, not an error.
type Slot struct {
	mu     sync.RWMutex
	client Client
}

// NewSlot returns an empty Slot; attach a client with Set.
func NewSlot() *Slot {
	return &Slot{}
}

// Get returns the current client and whether one is attached.
func (s *Slot) Get() (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.client != nil
}

// Set attaches or replaces the client.
func (s *Slot) Set(client Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
}

// Clear detaches the client. Consumers degrade on their next tick.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
}
