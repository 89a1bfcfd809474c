package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/store"
)

type stubConn struct {
	id string

	mu     sync.Mutex
	sent   []model.Envelope
	closed bool
}

func newStubConn(id string) *stubConn {
	return &stubConn{id: id}
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) Send(data []byte) error {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	return c.SendEnvelope(env)
}

func (c *stubConn) SendEnvelope(env model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *stubConn) envelopes() []model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Envelope(nil), c.sent...)
}

func newTestRegistry(t *testing.T) (*Registry, *store.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	s, err := store.New(store.Options{Addr: mr.Addr(), SessionsDB: 0, OrdersDB: 1, FlagsDB: 2})
	if err != nil {
		t.Fatalf("New store error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return New(s, zap.NewNop()), s, mr
}

func TestResolve_UnknownConnection(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if _, ok := r.Resolve("missing"); ok {
		t.Fatalf("expected no connection for unknown id")
	}
}

func TestBind_Supersession(t *testing.T) {
	r, s, _ := newTestRegistry(t)
	ctx := context.Background()

	oldConn := newStubConn("conn-old")
	newConn := newStubConn("conn-new")
	r.Add(oldConn)
	r.Add(newConn)

	if err := r.Bind(ctx, "5.anna", oldConn); err != nil {
		t.Fatalf("first Bind error: %v", err)
	}
	if err := r.Bind(ctx, "5.anna", newConn); err != nil {
		t.Fatalf("second Bind error: %v", err)
	}

	if !oldConn.isClosed() {
		t.Fatalf("superseded connection must be closed")
	}

	notices := oldConn.envelopes()
	if len(notices) != 1 || notices[0].MessageType != model.MessageInfo {
		t.Fatalf("expected one info termination notice, got %+v", notices)
	}

	if _, ok := r.Resolve("conn-old"); ok {
		t.Fatalf("superseded connection must be removed from the registry")
	}

	sess, err := s.GetSession(ctx, "5.anna")
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if sess.SessionID != "conn-new" || !sess.Active {
		t.Fatalf("binding = %+v, want active conn-new", sess)
	}

	conn, ok := r.LiveConn(ctx, "5.anna")
	if !ok || conn.ID() != "conn-new" {
		t.Fatalf("LiveConn must resolve conn-new, got %v %v", conn, ok)
	}
}

func TestBind_Rebind_SameConnection(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	conn := newStubConn("conn-1")
	r.Add(conn)

	if err := r.Bind(ctx, "5.anna", conn); err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if err := r.Bind(ctx, "5.anna", conn); err != nil {
		t.Fatalf("rebind error: %v", err)
	}

	if conn.isClosed() {
		t.Fatalf("rebinding the same connection must not close it")
	}
}

func TestDeactivate_OnlyOwner(t *testing.T) {
	r, s, _ := newTestRegistry(t)
	ctx := context.Background()

	conn := newStubConn("conn-1")
	r.Add(conn)

	if err := r.Bind(ctx, "5.anna", conn); err != nil {
		t.Fatalf("Bind error: %v", err)
	}

	// Чужое соединение не должно гасить привязку.
	if err := r.Deactivate(ctx, "5.anna", "conn-other"); err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	sess, err := s.GetSession(ctx, "5.anna")
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if !sess.Active {
		t.Fatalf("binding deactivated by a non-owner")
	}

	if err := r.Deactivate(ctx, "5.anna", "conn-1"); err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	sess, err = s.GetSession(ctx, "5.anna")
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if sess.Active {
		t.Fatalf("binding must be inactive after owner disconnect")
	}

	if _, ok := r.LiveConn(ctx, "5.anna"); ok {
		t.Fatalf("inactive binding must not resolve to a live connection")
	}
}

func TestScopeMembers(t *testing.T) {
	r, _, mr := newTestRegistry(t)
	ctx := context.Background()

	for key, val := range map[string]string{
		"5.A":  `{"sessionId":"conn-a","active":true}`,
		"5.B":  `{"sessionId":"conn-b","active":true}`,
		"5.12": `{"sessionId":"conn-c","active":true}`,
		"5.C":  "garbage",
	} {
		if err := mr.DB(0).Set(key, val); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	members, err := r.ScopeMembers(ctx, "5.[a-zA-Z]*")
	if err != nil {
		t.Fatalf("ScopeMembers error: %v", err)
	}

	sort.Strings(members)
	if len(members) != 2 || members[0] != "5.A" || members[1] != "5.B" {
		t.Fatalf("members = %v, want [5.A 5.B]", members)
	}
}
