package packet

import (
	"testing"

	"forest.net/router/internal/forest/wire"
)

func TestAllocAndFree(t *testing.T) {
	s := New(2, 1500)
	r1, err := s.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	r2, err := s.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if r1 == r2 {
		t.Fatal("expected distinct refs")
	}
	if s.InUse() != 2 {
		t.Fatalf("InUse = %d, want 2", s.InUse())
	}

	if _, err := s.Alloc(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	s.Free(r1)
	if s.InUse() != 1 {
		t.Fatalf("InUse after free = %d, want 1", s.InUse())
	}
	if _, err := s.Alloc(); err != nil {
		t.Fatalf("Alloc after free: %v", err)
	}
}

func TestCloneSharesBuffer(t *testing.T) {
	s := New(3, 1500)
	r, _ := s.Alloc()
	pkt := s.Get(r)
	pkt.Header = wire.Header{Type: wire.PktData, ComtreeNum: 5}
	pkt.Payload = append(pkt.Payload, []byte("hello")...)

	clone, err := s.Clone(r)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone == r {
		t.Fatal("clone should have a distinct ref")
	}
	clonePkt := s.Get(clone)
	if string(clonePkt.Payload) != "hello" {
		t.Fatalf("clone payload = %q, want %q", clonePkt.Payload, "hello")
	}
	if clonePkt.Header.ComtreeNum != 5 {
		t.Fatalf("clone header not copied: %+v", clonePkt.Header)
	}

	// Mutating through the original's buffer must be visible to the clone,
	// since they share the same backing array.
	pkt.Payload[0] = 'H'
	if clonePkt.Payload[0] != 'H' {
		t.Fatal("expected clone to observe shared-buffer mutation")
	}
}

func TestFreeingOneCloneKeepsOtherAlive(t *testing.T) {
	s := New(3, 1500)
	r, _ := s.Alloc()
	pkt := s.Get(r)
	pkt.Payload = append(pkt.Payload, []byte("original")...)

	clone, _ := s.Clone(r)

	s.Free(r)
	if s.InUse() != 1 {
		t.Fatalf("InUse after freeing original = %d, want 1 (clone still held)", s.InUse())
	}

	// The freed slot must be reusable without corrupting the surviving
	// clone's payload: allocate a new record (likely reclaiming r's old
	// slot) and write different bytes into it.
	other, err := s.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	otherPkt := s.Get(other)
	otherPkt.Payload = append(otherPkt.Payload, []byte("unrelated!")...)

	clonePkt := s.Get(clone)
	if string(clonePkt.Payload) != "original" {
		t.Fatalf("clone payload = %q, want %q (corrupted by reallocated slot)", clonePkt.Payload, "original")
	}

	s.Free(clone)
	if s.InUse() != 1 {
		t.Fatalf("InUse after freeing clone = %d, want 1 (other still held)", s.InUse())
	}
	s.Free(other)
	if s.InUse() != 0 {
		t.Fatalf("InUse after freeing other = %d, want 0", s.InUse())
	}
}

func TestCapacity(t *testing.T) {
	s := New(10, 1500)
	if s.Capacity() != 10 {
		t.Fatalf("Capacity() = %d, want 10", s.Capacity())
	}
}
