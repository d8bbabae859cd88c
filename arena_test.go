package applet

import (
	"testing"
)

func TestBufferArena_Bounded(t *testing.T) {
	arena := NewBufferArena(2, 64)

	var a, b, c Buffer
	if !arena.Alloc(&a) || !arena.Alloc(&b) {
		t.Fatal("expected the first two allocations to succeed")
	}
	if arena.Alloc(&c) {
		t.Fatal("expected allocation beyond the limit to fail")
	}
	if arena.Outstanding() != 2 {
		t.Fatalf("expected 2 outstanding, got %d", arena.Outstanding())
	}

	arena.Release(&a)
	if arena.Outstanding() != 1 {
		t.Fatalf("expected 1 outstanding after release, got %d", arena.Outstanding())
	}
	if !arena.Alloc(&c) {
		t.Fatal("expected allocation to succeed after release")
	}
}

func TestBufferArena_AllocIdempotentForAllocated(t *testing.T) {
	arena := NewBufferArena(1, 64)

	var a Buffer
	if !arena.Alloc(&a) {
		t.Fatal("alloc failed")
	}
	// a second call for the same buffer must not double-account
	if !arena.Alloc(&a) {
		t.Fatal("expected alloc of an allocated buffer to succeed")
	}
	if arena.Outstanding() != 1 {
		t.Fatalf("expected 1 outstanding, got %d", arena.Outstanding())
	}
}

func TestBufferArena_SubscribeIdempotent(t *testing.T) {
	arena := NewBufferArena(1, 64)

	calls := 0
	w := &BufferWaiter{fn: func() bool {
		calls++
		return true
	}}

	arena.Subscribe(w)
	arena.Subscribe(w)
	arena.Offer()

	if calls != 1 {
		t.Fatalf("expected a doubly-subscribed waiter to be offered once, got %d", calls)
	}
	if arena.HasWaiters() {
		t.Fatal("expected wait list to be empty after offer")
	}
}

func TestBufferArena_Unsubscribe(t *testing.T) {
	arena := NewBufferArena(1, 64)

	w := &BufferWaiter{fn: func() bool {
		t.Fatal("unsubscribed waiter must not be offered")
		return false
	}}

	arena.Subscribe(w)
	arena.Unsubscribe(w)
	arena.Unsubscribe(w) // repeated detach is a no-op
	arena.Offer()
}

func TestBufferArena_ReleaseOffersWaiters(t *testing.T) {
	arena := NewBufferArena(1, 64)

	var held Buffer
	if !arena.Alloc(&held) {
		t.Fatal("alloc failed")
	}

	var granted Buffer
	w := &BufferWaiter{}
	w.fn = func() bool {
		return arena.Alloc(&granted)
	}
	arena.Subscribe(w)

	arena.Release(&held)

	if granted.Size() == 0 {
		t.Fatal("expected waiter to obtain the released buffer")
	}
}

func TestBuffer_AppendSkip(t *testing.T) {
	arena := NewBufferArena(0, 8)

	var b Buffer
	if !arena.Alloc(&b) {
		t.Fatal("alloc failed")
	}

	if n := b.Append([]byte("helloworld")); n != 8 {
		t.Fatalf("expected append to cap at room, got %d", n)
	}
	if b.Data() != 8 || b.Room() != 0 {
		t.Fatalf("unexpected accounting: data=%d room=%d", b.Data(), b.Room())
	}

	if n := b.Skip(5); n != 5 {
		t.Fatalf("expected skip 5, got %d", n)
	}
	if string(b.Bytes()) != "wor" {
		t.Fatalf("unexpected pending bytes %q", b.Bytes())
	}
}
