package service

import "sync"

// Groups tracks which connections belong to which named rooms. Room names
// carry no meaning here.
type Groups struct {
	mu      sync.RWMutex
	members map[string]map[string]Conn
	byConn  map[string]map[string]struct{}
}

func NewGroups() *Groups {
	return &Groups{
		members: map[string]map[string]Conn{},
		byConn:  map[string]map[string]struct{}{},
	}
}

func (g *Groups) Join(conn Conn, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[group]; !ok {
		g.members[group] = map[string]Conn{}
	}
	g.members[group][conn.ID()] = conn
	if _, ok := g.byConn[conn.ID()]; !ok {
		g.byConn[conn.ID()] = map[string]struct{}{}
	}
	g.byConn[conn.ID()][group] = struct{}{}
}

func (g *Groups) Leave(conn Conn, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(conn.ID(), group)
}

func (g *Groups) leaveLocked(connID, group string) {
	if conns, ok := g.members[group]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(g.members, group)
		}
	}
	if groups, ok := g.byConn[connID]; ok {
		delete(groups, group)
		if len(groups) == 0 {
			delete(g.byConn, connID)
		}
	}
}

// Members returns a snapshot of the group's connections.
func (g *Groups) Members(group string) []Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conns := g.members[group]
	out := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// RemoveConn drops the connection from every group it joined.
func (g *Groups) RemoveConn(connID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	groups := g.byConn[connID]
	n := len(groups)
	for group := range groups {
		g.leaveLocked(connID, group)
	}
	return n
}

func (g *Groups) GroupsOf(connID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.byConn[connID]))
	for group := range g.byConn[connID] {
		out = append(out, group)
	}
	return out
}
