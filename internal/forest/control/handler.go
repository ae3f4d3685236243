// Package control implements the router's Control Handler: a fixed
// worker pool that decodes inbound control packets, dispatches them by
// type against the router's tables, and formats a positive or negative
// reply. Every table mutation that spans more than one table runs
// under one handler-wide mutex (commitMu), so two composite requests
// (e.g. an addComtreeLink racing a dropLink) can never interleave their
// per-table steps. No per-table locks are taken at this level, in a
// fixed order or otherwise; each table guards itself internally.
//
// Grounded on _examples/original_source/trunk/cpp/mtrouter/Router.cpp's
// control-packet dispatch table and the worker-pool shape described for
// the substrate's request processing; reply formatting follows
// CpType.cpp's positive/negative reply attribute sets.
package control

import (
	"fmt"
	"sync"

	"forest.net/router/internal/forest/comtree"
	"forest.net/router/internal/forest/iface"
	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/queue"
	"forest.net/router/internal/forest/route"
	"forest.net/router/internal/forest/wire"
	"forest.net/router/internal/logging"
	"forest.net/router/internal/metrics"
)

// Tables bundles every table a control request may read or mutate.
type Tables struct {
	Ifaces   *iface.Table
	Links    *link.Table
	Comtrees *comtree.Table
	Routes   *route.Table
	Queues   *queue.Manager
}

// ErrKind classifies a negative reply, per the catalogue of control-plane
// error kinds.
type ErrKind string

const (
	ErrUnpack         ErrKind = "unpack-error"
	ErrInvalidParam   ErrKind = "invalid-parameter"
	ErrNotFound       ErrKind = "not-found"
	ErrDuplicate      ErrKind = "duplicate"
	ErrNoCapacity     ErrKind = "no-capacity"
	ErrQueueAlloc     ErrKind = "queue-allocation-failed"
	ErrLockTimeout    ErrKind = "lock-timeout"
	ErrPoolExhausted  ErrKind = "pool-exhausted"
	ErrNotImplemented ErrKind = "not-implemented"
)

type job struct {
	cp    wire.ControlPacket
	reply chan wire.ControlPacket
}

// Handler is the thread-safe control-packet dispatcher.
type Handler struct {
	tables   Tables
	commitMu sync.Mutex

	metrics *metrics.Registry
	log     *logging.Logger

	jobs chan job
	wg   sync.WaitGroup
	quit chan struct{}

	leafRangeMu sync.Mutex
	leafRange   LeafRange
}

// LeafRange is the router's configured range of locally-assignable leaf
// addresses, set by a setLeafRange request.
type LeafRange struct {
	RtrAdr wire.Address
	LoNode uint16
	HiNode uint16
}

// NewHandler returns a control handler wired to tables. workers is
// clamped to at least 1 and sizes the job queue's backlog (four slots
// per worker); no goroutines run until Start is called.
func NewHandler(tables Tables, workers int) *Handler {
	if workers < 1 {
		workers = 1
	}
	return &Handler{
		tables:  tables,
		metrics: metrics.Get(),
		log:     logging.WithComponent("control"),
		jobs:    make(chan job, workers*4),
		quit:    make(chan struct{}),
	}
}

// Start launches the worker pool.
func (h *Handler) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	h.metrics.ControlWorkersBusy.Set(0)
	for i := 0; i < workers; i++ {
		h.wg.Add(1)
		go h.worker()
	}
}

// Stop signals every worker to exit and waits for them to drain.
func (h *Handler) Stop() {
	close(h.quit)
	h.wg.Wait()
}

func (h *Handler) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.quit:
			return
		case j := <-h.jobs:
			h.metrics.ControlWorkersBusy.Inc()
			j.reply <- h.Handle(j.cp)
			h.metrics.ControlWorkersBusy.Dec()
		}
	}
}

// Submit enqueues cp for asynchronous processing and returns a channel
// that receives its reply. It returns ErrPoolExhausted immediately,
// without blocking, if every worker slot's backlog is full.
func (h *Handler) Submit(cp wire.ControlPacket) (<-chan wire.ControlPacket, error) {
	reply := make(chan wire.ControlPacket, 1)
	select {
	case h.jobs <- job{cp: cp, reply: reply}:
		return reply, nil
	default:
		h.metrics.ControlRequestsTotal.WithLabelValues(cp.Type.Name(), "pool-exhausted").Inc()
		h.log.Warn("control worker pool exhausted", "type", cp.Type.Name())
		return nil, fmt.Errorf("control: %s", ErrPoolExhausted)
	}
}

// Handle processes cp synchronously and returns its reply. Used
// directly by tests and by worker().
func (h *Handler) Handle(cp wire.ControlPacket) wire.ControlPacket {
	if !cp.Type.Valid() || cp.Mode != wire.ModeRequest {
		h.metrics.ControlRequestsTotal.WithLabelValues(cp.Type.Name(), string(ErrUnpack)).Inc()
		return cp.NegReply(string(ErrUnpack))
	}
	if missing, ok := cp.HasRequired(); !ok {
		h.metrics.ControlRequestsTotal.WithLabelValues(cp.Type.Name(), string(ErrInvalidParam)).Inc()
		return cp.NegReply(fmt.Sprintf("missing required attribute %s", missing.Name()))
	}

	fn, ok := dispatch[cp.Type]
	if !ok {
		h.metrics.ControlRequestsTotal.WithLabelValues(cp.Type.Name(), string(ErrNotImplemented)).Inc()
		return cp.NegReply(string(ErrNotImplemented))
	}

	reply := fn(h, cp)
	result := "ok"
	if reply.Mode == wire.ModeNegReply {
		result = reply.ErrMsg
		h.log.Debug("control request rejected", "type", cp.Type.Name(), "reason", result, "seq", cp.SeqNum)
	}
	h.metrics.ControlRequestsTotal.WithLabelValues(cp.Type.Name(), result).Inc()
	return reply
}

var dispatch = map[wire.CpType]func(*Handler, wire.ControlPacket) wire.ControlPacket{
	wire.AddIface: (*Handler).handleAddIface,
	wire.DropIface: (*Handler).handleDropIface,
	wire.GetIface: (*Handler).handleGetIface,
	wire.ModIface: (*Handler).handleModIface,

	wire.AddLink: (*Handler).handleAddLink,
	wire.DropLink: (*Handler).handleDropLink,
	wire.GetLink: (*Handler).handleGetLink,
	wire.ModLink: (*Handler).handleModLink,

	wire.AddComtree: (*Handler).handleAddComtree,
	wire.DropComtree: (*Handler).handleDropComtree,
	wire.GetComtree: (*Handler).handleGetComtree,
	wire.ModComtree: (*Handler).handleModComtree,

	wire.AddComtreeLink: (*Handler).handleAddComtreeLink,
	wire.DropComtreeLink: (*Handler).handleDropComtreeLink,
	wire.GetComtreeLink: (*Handler).handleGetComtreeLink,
	wire.ModComtreeLink: (*Handler).handleModComtreeLink,

	wire.AddRoute: (*Handler).handleAddRoute,
	wire.DropRoute: (*Handler).handleDropRoute,
	wire.GetRoute: (*Handler).handleGetRoute,
	wire.ModRoute: (*Handler).handleModRoute,
	wire.AddRouteLink: (*Handler).handleAddRouteLink,
	wire.DropRouteLink: (*Handler).handleDropRouteLink,

	wire.AddFilter: (*Handler).handleFilterStub,
	wire.DropFilter: (*Handler).handleFilterStub,
	wire.GetFilter: (*Handler).handleFilterStub,
	wire.ModFilter: (*Handler).handleFilterStub,
	wire.GetLoggedPackets: (*Handler).handleFilterStub,

	wire.SetLeafRange: (*Handler).handleSetLeafRange,

	wire.CtBuildJoin: (*Handler).handleCtBuildStub,
	wire.CtBuildLeave: (*Handler).handleCtBuildStub,
	wire.CtBuildAddBranch: (*Handler).handleCtBuildStub,
	wire.CtBuildPrune: (*Handler).handleCtBuildStub,
	wire.CtBuildConfirm: (*Handler).handleCtBuildStub,
	wire.CtBuildAbort: (*Handler).handleCtBuildStub,
}
