package service

import "wellness_hub/server/hub/domain"

// Conn is one live transport session of a user.
type Conn interface {
	ID() string
	UserID() string
	// Push queues ev for delivery. It must not block on a slow peer.
	Push(ev domain.Event) error
}
