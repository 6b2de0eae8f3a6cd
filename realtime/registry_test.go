package realtime_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"rentgidi-chat/realtime"
)

type fakeHandle struct {
	id string

	mu     sync.Mutex
	events []realtime.Event
	fail   bool
	closed bool
}

func newHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(evt realtime.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail || h.closed {
		return errors.New("broken pipe")
	}
	h.events = append(h.events, evt)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) named(name string) []realtime.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []realtime.Event
	for _, evt := range h.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

func (h *fakeHandle) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

func ids(regs []*realtime.Registration) map[string]bool {
	out := make(map[string]bool, len(regs))
	for _, r := range regs {
		out[r.Handle.ID()] = true
	}
	return out
}

func TestRegistryMultiDevice(t *testing.T) {
	r := realtime.NewRegistry()
	phone, laptop := newHandle("c1"), newHandle("c2")

	if _, err := r.Register(phone, "t1", "tenant", "Tolu"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register(laptop, "t1", "tenant", "Tolu"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register(phone, "t1", "tenant", "Tolu"); !errors.Is(err, realtime.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	if got := ids(r.ConnectionsForUser("t1")); len(got) != 2 || !got["c1"] || !got["c2"] {
		t.Fatalf("unexpected connections: %v", got)
	}
	if r.Count() != 2 {
		t.Fatalf("expected 2 connections, got %d", r.Count())
	}

	r.Unregister(phone)
	if got := ids(r.ConnectionsForUser("t1")); len(got) != 1 || !got["c2"] {
		t.Fatalf("unexpected connections after unregister: %v", got)
	}
	if _, ok := r.Unregister(phone); ok {
		t.Fatalf("second unregister should be a no-op")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", r.Count())
	}
}

func TestRegistryRoomsArePerConnection(t *testing.T) {
	r := realtime.NewRegistry()
	phone, laptop := newHandle("c1"), newHandle("c2")
	r.Register(phone, "t1", "tenant", "Tolu")
	r.Register(laptop, "t1", "tenant", "Tolu")

	if err := r.JoinRoom(phone, "prop42"); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if err := r.JoinRoom(laptop, "prop42"); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	r.LeaveRoom(phone, "prop42")

	if got := ids(r.ConnectionsInRoom("prop42")); len(got) != 1 || !got["c2"] {
		t.Fatalf("leaving on one device should keep the other: %v", got)
	}

	reg, _ := r.Lookup(laptop)
	if rooms := reg.Rooms(); len(rooms) != 1 || rooms[0] != "prop42" {
		t.Fatalf("unexpected rooms: %v", rooms)
	}

	r.Unregister(laptop)
	if n := len(r.ConnectionsInRoom("prop42")); n != 0 {
		t.Fatalf("expected empty room, got %d", n)
	}
	if err := r.JoinRoom(laptop, "prop42"); !errors.Is(err, realtime.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := realtime.NewRegistry()
	stable := newHandle("stable")
	r.Register(stable, "l1", "landlord", "Lara")
	r.JoinRoom(stable, "prop42")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h := newHandle(fmt.Sprintf("w%d-%d", i, j))
				if _, err := r.Register(h, fmt.Sprintf("u%d", i%4), "tenant", ""); err != nil {
					t.Errorf("Register failed: %v", err)
					return
				}
				if err := r.JoinRoom(h, "prop42"); err != nil {
					t.Errorf("JoinRoom failed: %v", err)
					return
				}
				_ = r.ConnectionsInRoom("prop42")
				r.Unregister(h)
			}
		}(i)
	}
	wg.Wait()

	if r.Count() != 1 {
		t.Fatalf("expected only the stable connection, got %d", r.Count())
	}
	if got := ids(r.ConnectionsInRoom("prop42")); len(got) != 1 || !got["stable"] {
		t.Fatalf("unexpected room members: %v", got)
	}
	for i := 0; i < 4; i++ {
		if n := len(r.ConnectionsForUser(fmt.Sprintf("u%d", i))); n != 0 {
			t.Fatalf("user u%d still has %d connections", i, n)
		}
	}
}
