package portfolio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry owns one Simulator per game session.
type Registry struct {
	mu       sync.RWMutex
	sims     map[string]*Simulator
	starting float64
	opts     Options
}

// NewRegistry creates a registry whose new sessions start with balance.
func NewRegistry(balance float64, opts Options) *Registry {
	return &Registry{
		sims:     make(map[string]*Simulator),
		starting: balance,
		opts:     opts,
	}
}

// StartingBalance returns the balance new sessions receive.
func (r *Registry) StartingBalance() float64 { return r.starting }

// Create starts a session with a generated id. balance <= 0 uses the
// registry default.
func (r *Registry) Create(balance float64) *Simulator {
	if balance <= 0 {
		balance = r.starting
	}
	sim := NewSimulator(uuid.NewString(), balance, r.opts)

	r.mu.Lock()
	r.sims[sim.acct.SessionID] = sim
	r.mu.Unlock()
	return sim
}

// Restore installs a simulator for a persisted account, replacing any
// existing session with the same id.
func (r *Registry) Restore(acct Account) *Simulator {
	sim := NewSimulatorFromAccount(acct, r.opts)

	r.mu.Lock()
	r.sims[acct.SessionID] = sim
	r.mu.Unlock()
	return sim
}

// Get returns the simulator for a session.
func (r *Registry) Get(id string) (*Simulator, error) {
	r.mu.RLock()
	sim, ok := r.sims[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sim, nil
}

// Remove drops a session. It is a no-op for unknown ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sims, id)
	r.mu.Unlock()
}

// Sessions returns the ids of all sessions, sorted.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sims))
	for id := range r.sims {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Each calls fn for every simulator outside the registry lock.
func (r *Registry) Each(fn func(*Simulator)) {
	r.mu.RLock()
	sims := make([]*Simulator, 0, len(r.sims))
	for _, s := range r.sims {
		sims = append(sims, s)
	}
	r.mu.RUnlock()
	for _, s := range sims {
		fn(s)
	}
}
