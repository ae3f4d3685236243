package queue

import (
	"testing"
	"time"

	"forest.net/router/internal/clock"
	"forest.net/router/internal/forest/packet"
	"forest.net/router/internal/forest/wire"
)

func bigRate() wire.RateSpec {
	return wire.RateSpec{BitRateUp: 900000, BitRateDown: 900000, PktRateUp: 900000, PktRateDown: 900000}
}

func TestAllocateEnqueueDequeue(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := New(clk)
	m.AddLink(1, bigRate())
	if err := m.Allocate(1, 10, 1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Enqueue(1, 10, Item{Ref: packet.Ref(1), Bytes: 100}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	qnum, it, ok := m.Dequeue(1)
	if !ok {
		t.Fatal("expected a packet to dequeue")
	}
	if qnum != 10 || it.Ref != packet.Ref(1) {
		t.Fatalf("got qnum=%d item=%+v", qnum, it)
	}

	if _, _, ok := m.Dequeue(1); ok {
		t.Fatal("expected empty queue after single dequeue")
	}
}

func TestEnqueueNoSuchLinkOrQueue(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := New(clk)
	if err := m.Enqueue(1, 1, Item{}); err != ErrNoSuchLink {
		t.Fatalf("expected ErrNoSuchLink, got %v", err)
	}
	m.AddLink(1, bigRate())
	if err := m.Enqueue(1, 5, Item{}); err != ErrNoSuchQueue {
		t.Fatalf("expected ErrNoSuchQueue, got %v", err)
	}
}

func TestQueueFullRejectsPastPacketLimit(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := New(clk)
	m.AddLink(1, bigRate())
	m.Allocate(1, 1, 1)

	for i := 0; i < DefaultMaxPackets; i++ {
		if err := m.Enqueue(1, 1, Item{Bytes: 10}); err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
	}
	if err := m.Enqueue(1, 1, Item{Bytes: 10}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWeightedRoundRobinFavorsHigherWeight(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := New(clk)
	m.AddLink(1, bigRate())
	m.Allocate(1, 1, 3) // weight 3
	m.Allocate(1, 2, 1) // weight 1

	for i := 0; i < 12; i++ {
		m.Enqueue(1, 1, Item{Ref: packet.Ref(1), Bytes: 10})
		m.Enqueue(1, 2, Item{Ref: packet.Ref(2), Bytes: 10})
	}

	counts := map[int]int{}
	for i := 0; i < 8; i++ {
		qnum, _, ok := m.Dequeue(1)
		if !ok {
			t.Fatalf("expected a packet on round %d", i)
		}
		counts[qnum]++
	}
	if counts[1] <= counts[2] {
		t.Fatalf("expected queue 1 (weight 3) to be served more than queue 2 (weight 1), got %v", counts)
	}
}

func TestRateLimitBlocksUntilRefill(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := New(clk)
	// 100 Kb/s == 100000 bits/sec, one second of burst capacity.
	m.AddLink(1, wire.RateSpec{BitRateUp: 100, BitRateDown: 100, PktRateUp: 900000, PktRateDown: 900000})
	m.Allocate(1, 1, 1)
	// 10000 bytes == 80000 bits, draining most of the initial full bucket.
	m.Enqueue(1, 1, Item{Bytes: 10000})
	m.Enqueue(1, 1, Item{Bytes: 10000})

	if _, _, ok := m.Dequeue(1); !ok {
		t.Fatal("expected first dequeue to succeed against the initial full bucket")
	}
	if _, _, ok := m.Dequeue(1); ok {
		t.Fatal("expected second dequeue to block: bucket left with only 20000 bits, needs 80000")
	}

	clk.Advance(time.Second)
	_, _, ok := m.Dequeue(1)
	if !ok {
		t.Fatal("expected dequeue to succeed once the bucket refills to capacity")
	}
}

func TestFreeDrainsQueue(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := New(clk)
	m.AddLink(1, bigRate())
	m.Allocate(1, 1, 1)
	m.Enqueue(1, 1, Item{Ref: packet.Ref(5), Bytes: 10})

	items, err := m.Free(1, 1)
	if err != nil {
		t.Fatalf("Free: %v", err)
	}
	if len(items) != 1 || items[0].Ref != packet.Ref(5) {
		t.Fatalf("drained items = %+v", items)
	}
	if _, err := m.QueueLen(1, 1); err != ErrNoSuchQueue {
		t.Fatal("expected queue to be gone after Free")
	}
}

func TestAllocateConflict(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	m := New(clk)
	m.AddLink(1, bigRate())
	m.Allocate(1, 1, 1)
	if err := m.Allocate(1, 1, 2); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
