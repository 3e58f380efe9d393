package service

import "sync"

// Presence maps a user to the connection that registered most recently.
// Older connections of the same user stay reachable through their groups.
type Presence struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewPresence() *Presence {
	return &Presence{conns: map[string]Conn{}}
}

// Register overwrites any prior mapping for the connection's user.
func (p *Presence) Register(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[conn.UserID()] = conn
}

func (p *Presence) Deregister(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, userID)
}

// Release removes the user's mapping only while it still points at connID,
// so closing an older device does not hide a newer one.
func (p *Presence) Release(userID, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.conns[userID]
	if !ok || current.ID() != connID {
		return false
	}
	delete(p.conns, userID)
	return true
}

func (p *Presence) Lookup(userID string) (Conn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[userID]
	return conn, ok
}

func (p *Presence) Online() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
