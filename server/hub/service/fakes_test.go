package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/domain"
	"wellness_hub/server/hub/repository"
)

type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	events []domain.Event
	fail   bool

	// onPush, when set, runs before the event is recorded.
	onPush func(domain.Event)
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Push(ev domain.Event) error {
	if c.onPush != nil {
		c.onPush(ev)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func (c *fakeConn) EventsOf(kind string) []domain.Event {
	var out []domain.Event
	for _, ev := range c.Events() {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

type staticVerifier map[string]string

func (v staticVerifier) VerifyToken(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type memoryGuard struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{claimed: map[string]bool{}}
}

func (g *memoryGuard) Claim(_ context.Context, senderID, clientMsgID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := idempotencyKey(senderID, clientMsgID)
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, senderID, clientMsgID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := idempotencyKey(senderID, clientMsgID)
	delete(g.claimed, key)
	g.released = append(g.released, key)
	return nil
}

// failingStore rejects every message append.
type failingStore struct {
	repository.Store
}

func (failingStore) AppendMessage(context.Context, string, string, string) (domain.Message, error) {
	return domain.Message{}, errors.New("disk full")
}

func quietLogs(t *testing.T) {
	t.Helper()
	restore := commonlog.SetOutput(io.Discard)
	t.Cleanup(restore)
}

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	store, err := repository.OpenSQLite(repository.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestHub(t *testing.T) (*Hub, repository.Store) {
	t.Helper()
	quietLogs(t)
	store := newTestStore(t)
	return NewHub(store, staticVerifier{"alice-token": "alice", "bob-token": "bob"}), store
}
