package pipeline

import "sync"

// Tokens tracks the newest request token per client context so that only the
// latest prepare of a client gets registered. Older prepares keep running;
// their result is discarded at the registration step.
type Tokens struct {
	mu     sync.Mutex
	latest map[string]uint64
}

// NewTokens creates an empty token table.
func NewTokens() *Tokens {
	return &Tokens{latest: make(map[string]uint64)}
}

// Issue returns a new token for client, superseding every earlier one.
func (t *Tokens) Issue(client string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[client]++
	return t.latest[client]
}

// IsCurrent reports whether token is still the newest one issued for client.
func (t *Tokens) IsCurrent(client string, token uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	latest, ok := t.latest[client]
	return ok && latest == token
}

// Release forgets client, e.g. when its websocket closes. Tokens issued
// before Release are no longer current.
func (t *Tokens) Release(client string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.latest, client)
}

// Clients returns the number of tracked client contexts.
func (t *Tokens) Clients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.latest)
}
