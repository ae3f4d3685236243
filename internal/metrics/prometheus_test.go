package metrics

import "testing"

func TestGetReturnsSingleton(t *testing.T) {
	r1 := Get()
	r2 := Get()
	if r1 != r2 {
		t.Fatal("Get() should return the same registry on repeated calls")
	}
}

func TestCountersDoNotPanic(t *testing.T) {
	r := Get()
	r.PacketsForwarded.WithLabelValues("3", "out").Inc()
	r.PacketsDropped.WithLabelValues("queue-full").Inc()
	r.QueueDepthPackets.WithLabelValues("3", "7").Set(12)
	r.QueueDrops.WithLabelValues("3", "7").Inc()
	r.PacketStoreExhausted.Inc()
	r.LinkConnected.WithLabelValues("3").Set(1)
	r.ControlRequestsTotal.WithLabelValues("ADD_LINK", "ok").Inc()
	r.ControlWorkersBusy.Set(2)
	r.SubstrateDuplicates.Inc()
	r.SubstratePoolExhaust.Inc()
	r.SubstrateOutstanding.Set(5)
}
