package service

import (
	"errors"
	"fmt"

	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/domain"
)

// Dispatcher pushes events to live connections. Offline targets are
// dropped silently and a failed push never stops the rest of a fan-out.
type Dispatcher struct {
	presence *Presence
	groups   *Groups
}

func NewDispatcher(presence *Presence, groups *Groups) *Dispatcher {
	return &Dispatcher{presence: presence, groups: groups}
}

// Targets describes a fan-out. Each connection receives the event at most
// once; connections in Skip receive nothing.
type Targets struct {
	Users  []string
	Groups []string
	Conns  []Conn
	Skip   []Conn
}

func (d *Dispatcher) DeliverToUser(userID string, ev domain.Event) bool {
	conn, ok := d.presence.Lookup(userID)
	if !ok {
		commonlog.Debugf("event=hub_dispatch action=deliver_user status=offline type=%s user_id=%s", ev.Type, userID)
		return false
	}
	return d.push(conn, ev)
}

func (d *Dispatcher) DeliverToGroup(group string, ev domain.Event, exclude Conn) int {
	t := Targets{Groups: []string{group}}
	if exclude != nil {
		t.Skip = []Conn{exclude}
	}
	return d.Deliver(ev, t)
}

// Deliver resolves t and pushes ev once to every resulting connection. It
// returns the number of successful pushes.
func (d *Dispatcher) Deliver(ev domain.Event, t Targets) int {
	seen := map[string]struct{}{}
	for _, conn := range t.Skip {
		if conn != nil {
			seen[conn.ID()] = struct{}{}
		}
	}
	var targets []Conn
	add := func(conn Conn) {
		if conn == nil {
			return
		}
		if _, dup := seen[conn.ID()]; dup {
			return
		}
		seen[conn.ID()] = struct{}{}
		targets = append(targets, conn)
	}
	for _, userID := range t.Users {
		if conn, ok := d.presence.Lookup(userID); ok {
			add(conn)
		}
	}
	for _, group := range t.Groups {
		for _, conn := range d.groups.Members(group) {
			add(conn)
		}
	}
	for _, conn := range t.Conns {
		add(conn)
	}

	delivered := 0
	for _, conn := range targets {
		if d.push(conn, ev) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) push(conn Conn, ev domain.Event) bool {
	if err := conn.Push(ev); err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
		if errors.Is(err, errConnClosed) {
			commonlog.Debugf("event=hub_dispatch action=push status=dropped type=%s user_id=%s conn_id=%s error=%v", ev.Type, conn.UserID(), conn.ID(), err)
		} else {
			commonlog.Warnf("event=hub_dispatch action=push status=failed type=%s user_id=%s conn_id=%s error=%v", ev.Type, conn.UserID(), conn.ID(), err)
		}
		return false
	}
	return true
}
