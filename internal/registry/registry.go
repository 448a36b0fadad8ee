// Package registry maps each hotplugged Ja Rule widget to its device
// state and owns the widget's lifecycle from ADDED through REMOVED.
// Grounded on the registry/dispatcher pattern in
// _examples/other_examples/f9be7c97_xmidt-org-webpa-common__device-manager.go.go
// (mutex-guarded map, Len/Get/VisitAll visitor-style accessors, zap
// logging) adapted from connected websocket devices to connected USB
// widgets.
package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"rdmcore/internal/hotplug"
	"rdmcore/internal/rdmlog"
	"rdmcore/internal/uid"
	"rdmcore/internal/widget"
)

// Key identifies a widget by its USB bus topology, matching the
// (bus, address) keying the hotplug agent already diffs on.
type Key struct {
	Bus     int
	Address int
}

func keyFromEvent(ev hotplug.Event) Key {
	return Key{Bus: ev.Bus, Address: ev.Address}
}

// Entry is one registered widget's device state.
type Entry struct {
	Key      Key
	UID      uid.UID
	Widget   *widget.Widget
	Port     *widget.Port
	teardown func()
}

func (e *Entry) close() {
	e.Widget.Close()
	if e.teardown != nil {
		e.teardown()
	}
}

// Opener opens and initializes the widget for a newly arrived USB
// device, including any synchronous round-trip needed to learn its
// UID. Returning an error discards the event; no entry is created. The
// returned teardown closes whatever transport resources (USB interface,
// config, device) the widget does not own itself; it runs after the
// widget's own Close during REMOVED cleanup, and may be nil.
type Opener func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error)

// Registry tracks the widgets currently attached, guarded against
// concurrent access from the hotplug dispatch goroutine and from
// readers on the main executor.
type Registry struct {
	open Opener
	log  *rdmlog.Logger

	mu      sync.RWMutex
	entries map[Key]*Entry
	closed  bool

	cleanup chan func()
	group   errgroup.Group
}

// New constructs a Registry and starts its cleanup worker. open is
// called synchronously on the caller's goroutine for every ADDED
// event handed to HandleEvent.
func New(open Opener, log *rdmlog.Logger) *Registry {
	r := &Registry{
		open:    open,
		log:     log.OrNop(),
		entries: make(map[Key]*Entry),
		cleanup: make(chan func(), 64),
	}
	r.group.Go(r.runCleanup)
	return r
}

func (r *Registry) runCleanup() error {
	for fn := range r.cleanup {
		fn()
	}
	return nil
}

// HandleEvent processes one hotplug transition. It is intended to be
// called from the hotplug agent's Observer, i.e. the hotplug worker
// goroutine, and never blocks on USB transfer cancellation: REMOVED
// destruction is handed off to the cleanup worker.
func (r *Registry) HandleEvent(ctx context.Context, ev hotplug.Event) {
	switch ev.Kind {
	case hotplug.DeviceAdded:
		r.handleAdded(ctx, ev)
	case hotplug.DeviceRemoved:
		r.handleRemoved(ev)
	}
}

func (r *Registry) handleAdded(ctx context.Context, ev hotplug.Event) {
	key := keyFromEvent(ev)

	r.mu.Lock()
	if _, exists := r.entries[key]; exists {
		r.mu.Unlock()
		r.log.Debugw("duplicate ADDED observation dropped", "bus", key.Bus, "address", key.Address)
		return
	}
	r.mu.Unlock()

	w, deviceUID, teardown, err := r.open(ctx, ev)
	if err != nil {
		r.log.Warnw("widget initialization failed, discarding entry", "bus", key.Bus, "address", key.Address, "error", err)
		return
	}

	entry := &Entry{
		Key:      key,
		UID:      deviceUID,
		Widget:   w,
		Port:     widget.NewPort(w, 0, deviceUID, r.log.OrNop()),
		teardown: teardown,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		entry.close()
		return
	}
	r.entries[key] = entry
	r.mu.Unlock()

	r.log.Infow("widget registered", "bus", key.Bus, "address", key.Address, "uid", deviceUID.String())
}

func (r *Registry) handleRemoved(ev hotplug.Event) {
	key := keyFromEvent(ev)

	r.mu.Lock()
	entry, exists := r.entries[key]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	closed := r.closed
	r.mu.Unlock()

	r.log.Infow("widget removed", "bus", key.Bus, "address", key.Address)
	if closed {
		entry.close()
		return
	}
	r.scheduleCleanup(func() { entry.close() })
}

func (r *Registry) scheduleCleanup(fn func()) {
	defer func() {
		// The cleanup channel is closed by Close only after this
		// goroutine no longer schedules new work, so recover here is
		// belt-and-suspenders against a race during shutdown.
		if recover() != nil {
			fn()
		}
	}()
	r.cleanup <- fn
}

// Len returns the number of currently registered widgets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns the entry for key, if any.
func (r *Registry) Get(key Key) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key]
	return entry, ok
}

// VisitAll applies fn to each registered entry under a read lock. fn
// must not call back into the Registry, or it will deadlock.
func (r *Registry) VisitAll(fn func(*Entry) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entry := range r.entries {
		n++
		if !fn(entry) {
			break
		}
	}
	return n
}

// Close synthesizes a REMOVED for every tracked widget, then shuts
// down the cleanup worker and waits for it to drain, matching the
// hotplug agent's own Stop() contract.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	remaining := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		remaining = append(remaining, entry)
	}
	r.entries = make(map[Key]*Entry)
	r.mu.Unlock()

	for _, entry := range remaining {
		entry.close()
	}

	close(r.cleanup)
	_ = r.group.Wait()
}
