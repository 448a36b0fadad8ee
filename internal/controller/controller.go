// Package controller implements the queueing RDM controller: it serializes
// concurrent RDM submissions and discovery runs through a transport that
// permits only one in-flight transaction at a time, while exposing a
// non-blocking submission API to callers.
package controller

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"rdmcore/internal/discovery"
	"rdmcore/internal/rdm"
	"rdmcore/internal/rdmlog"
	"rdmcore/internal/uid"
)

// Transport sends one RDM request and blocks until the transaction
// completes or times out; the widget package supplies the implementation.
type Transport interface {
	SendRDMRequest(ctx context.Context, req *rdm.Request) (rdm.Reply, error)
}

// Completion is invoked exactly once when a submitted request finishes.
type Completion func(rdm.Reply)

// DiscoveryCompletion is invoked exactly once per RunFullDiscovery or
// RunIncrementalDiscovery call, even when several calls coalesce onto a
// single underlying discovery run.
type DiscoveryCompletion func(success bool, uids *uid.Set)

type rdmJob struct {
	id         string
	req        *rdm.Request
	completion Completion
}

type discoveryJob struct {
	mode    discovery.Mode
	waiters []DiscoveryCompletion
}

// Controller is the queueing RDM controller for a single port/widget pair.
type Controller struct {
	transport  Transport
	discoverer *discovery.Agent
	log        *rdmlog.Logger

	mu       sync.Mutex
	queue    []interface{}
	paused   bool
	maxDepth int
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

// New constructs a Controller and starts its dispatch goroutine. maxDepth
// is the bounded queue depth; depth <= 0 means unbounded.
func New(transport Transport, discoverer *discovery.Agent, maxDepth int, log *rdmlog.Logger) *Controller {
	c := &Controller{
		transport:  transport,
		discoverer: discoverer,
		log:        log.OrNop(),
		maxDepth:   maxDepth,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

// SendRDMRequest enqueues req and returns immediately; completion runs
// exactly once, on the controller's dispatch goroutine for a queued
// request, or on the caller's goroutine before SendRDMRequest returns for a
// request rejected at submission (controller closed, or queue full). When
// the queue is at capacity, the incoming request is rejected with FAILED_TO_SEND and does
// not occupy a slot — the controller evicts the newest arrival rather than
// an already-queued one, so callers that are already waiting are never
// starved by a burst of new traffic.
func (c *Controller) SendRDMRequest(req *rdm.Request, completion Completion) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		completion(rdm.Reply{StatusCode: rdm.FailedToSend})
		return
	}
	if c.maxDepth > 0 && len(c.queue) >= c.maxDepth {
		c.mu.Unlock()
		c.log.Warnw("queue full, rejecting incoming request", "depth", c.maxDepth)
		completion(rdm.Reply{StatusCode: rdm.FailedToSend})
		return
	}

	c.queue = append(c.queue, &rdmJob{id: uuid.NewString(), req: req, completion: completion})
	c.signalLocked()
	c.mu.Unlock()
}

// Pause stops the dispatcher from starting new work. Requests submitted
// while paused still queue; they are not dispatched until Resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume drains the queue in FIFO order.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	c.signalLocked()
	c.mu.Unlock()
}

// RunFullDiscovery queues a full discovery pass. If a discovery (of either
// mode) is already queued and has not started, cb is attached to it and
// fires with that run's result instead of starting a second pass. A
// discovery that is already in flight is not joined: cb then waits for a
// new pass queued behind it.
func (c *Controller) RunFullDiscovery(cb DiscoveryCompletion) {
	c.runDiscovery(discovery.ModeFull, cb)
}

// RunIncrementalDiscovery queues an incremental discovery pass, with the
// same coalescing behavior as RunFullDiscovery.
func (c *Controller) RunIncrementalDiscovery(cb DiscoveryCompletion) {
	c.runDiscovery(discovery.ModeIncremental, cb)
}

func (c *Controller) runDiscovery(mode discovery.Mode, cb DiscoveryCompletion) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cb(false, uid.NewSet())
		return
	}
	defer c.mu.Unlock()

	for _, job := range c.queue {
		if dj, ok := job.(*discoveryJob); ok {
			dj.waiters = append(dj.waiters, cb)
			return
		}
	}
	c.queue = append(c.queue, &discoveryJob{mode: mode, waiters: []DiscoveryCompletion{cb}})
	c.signalLocked()
}

// Abort aborts any discovery currently executing on this controller's
// discovery agent. Queued-but-not-started discovery jobs are unaffected
// and will run normally when their turn comes.
func (c *Controller) Abort() {
	c.discoverer.Abort()
}

// QueueDepth returns the number of RDM/discovery jobs currently queued. A
// queued discovery counts once however many callers wait on it, and a job
// that has been dispatched is no longer counted. Intended for monitoring
// UIs, not control flow.
func (c *Controller) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close drains any queued work, completing each pending RDM request with
// FAILED_TO_SEND and each pending discovery with an empty result, then
// stops the dispatch goroutine. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.queue
	c.queue = nil
	c.signalLocked()
	c.mu.Unlock()

	for _, job := range pending {
		switch j := job.(type) {
		case *rdmJob:
			j.completion(rdm.Reply{StatusCode: rdm.FailedToSend})
		case *discoveryJob:
			for _, w := range j.waiters {
				w(false, uid.NewSet())
			}
		}
	}
	<-c.done
}

func (c *Controller) signalLocked() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// dispatchLoop is the sole goroutine that ever touches the transport or
// the discovery agent, giving both the single-in-flight-transaction
// property the spec requires for free.
func (c *Controller) dispatchLoop() {
	defer close(c.done)
	for {
		job := c.nextJob()
		if job == nil {
			return
		}
		switch j := job.(type) {
		case *rdmJob:
			reply := c.executeRDM(j.req)
			j.completion(reply)
		case *discoveryJob:
			c.executeDiscovery(j)
		}
	}
}

func (c *Controller) nextJob() interface{} {
	for {
		c.mu.Lock()
		if c.closed && len(c.queue) == 0 {
			c.mu.Unlock()
			return nil
		}
		if !c.paused && len(c.queue) > 0 {
			job := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return job
		}
		c.mu.Unlock()
		<-c.notify
	}
}

func (c *Controller) executeDiscovery(j *discoveryJob) {
	uids, success, err := c.discoverer.Discover(context.Background(), j.mode)
	if err != nil {
		success = false
		c.log.Warnw("discovery pass failed", "mode", j.mode, "error", err)
	} else if !success {
		c.log.Warnw("discovery tree corrupt, completing with partial results", "mode", j.mode, "found", uids.Size())
	}
	for _, w := range j.waiters {
		w(success, uids)
	}
}

// executeRDM drives one logical RDM transaction, retransmitting on
// ACK_OVERFLOW and combining fragments per spec.md §4.3.
func (c *Controller) executeRDM(req *rdm.Request) rdm.Reply {
	var frames []rdm.Frame
	var combined *rdm.Response

	for {
		reply, err := c.transport.SendRDMRequest(context.Background(), req)
		if err != nil {
			return rdm.Reply{StatusCode: rdm.FailedToSend, Frames: frames}
		}
		frames = append(frames, reply.Frames...)

		if reply.StatusCode != rdm.CompletedOK || reply.Response == nil {
			reply.Frames = frames
			return reply
		}

		if combined == nil {
			combined = reply.Response
		} else {
			if !rdm.FragmentsMatch(combined, reply.Response) {
				return rdm.Reply{StatusCode: rdm.InvalidResponse, Frames: frames}
			}
			merged := *combined
			merged.ParamData = append(append([]byte{}, combined.ParamData...), reply.Response.ParamData...)
			combined = &merged
		}

		if reply.Response.ResponseType != rdm.ResponseTypeAckOverflow {
			return rdm.Reply{StatusCode: rdm.CompletedOK, Response: combined, Frames: frames}
		}
	}
}
