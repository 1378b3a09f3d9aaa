package receiver

import "sync"

// registry tracks live connections by id. Safe for concurrent use.
type registry struct {
	mu       sync.RWMutex
	sessions map[uint32]*connSession
}

func newRegistry() *registry {
	return &registry{sessions: make(map[uint32]*connSession)}
}

func (r *registry) store(id uint32, s *connSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
}

func (r *registry) delete(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// snapshot returns the current sessions so callers can act on them without
// holding the lock.
func (r *registry) snapshot() []*connSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*connSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}

	return out
}
