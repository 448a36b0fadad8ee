// Package hotplug notifies a single observer callback of USB widget
// arrival and removal, either via gousb's device-walking API on a timer
// (the only mode gousb's public surface actually supports) or, where the
// platform exposes it, libusb's native hotplug callback. Today gousb does
// not expose libusb_hotplug_register_callback, so both constructors below
// drive the same polling loop; KernelAssisted is kept as a distinct entry
// point so a future gousb release (or a cgo shim) can swap its
// implementation without touching callers.
package hotplug

import (
	"sync"
	"time"

	"github.com/google/gousb"

	"rdmcore/internal/rdmlog"
)

// EventKind distinguishes arrival from removal.
type EventKind int

const (
	DeviceAdded EventKind = iota
	DeviceRemoved
)

// Event describes one hotplug transition.
type Event struct {
	Kind    EventKind
	Bus     int
	Address int
	VID     gousb.ID
	PID     gousb.ID
}

// Observer is called once per detected transition. It must not block for
// long; the agent's single polling goroutine delivers every event except
// the removals Stop synthesizes, which arrive on Stop's caller.
type Observer func(Event)

// PollInterval is how often the polling fallback re-enumerates the bus,
// per spec.md §4.5.
const PollInterval = 5 * time.Second

type deviceKey struct {
	bus     int
	address int
}

// busLister enumerates USB device descriptors currently on the bus. It
// exists so tests can substitute a fake bus; *gousb.Context satisfies it
// via contextLister below.
type busLister interface {
	descriptors() ([]*gousb.DeviceDesc, error)
}

type contextLister struct{ ctx *gousb.Context }

func (c contextLister) descriptors() ([]*gousb.DeviceDesc, error) {
	var descs []*gousb.DeviceDesc
	_, err := c.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		descs = append(descs, desc)
		return false
	})
	return descs, err
}

// Agent watches a USB bus for widget arrival/removal and notifies a
// single Observer.
type Agent struct {
	lister   busLister
	observer Observer
	log      *rdmlog.Logger
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	previous map[deviceKey]Event
}

// NewPolling constructs an Agent that diffs bus snapshots every
// PollInterval.
func NewPolling(ctx *gousb.Context, observer Observer, log *rdmlog.Logger) *Agent {
	return newAgent(contextLister{ctx: ctx}, observer, log, PollInterval)
}

func newAgent(lister busLister, observer Observer, log *rdmlog.Logger, interval time.Duration) *Agent {
	return &Agent{lister: lister, observer: observer, log: log.OrNop(), interval: interval, previous: make(map[deviceKey]Event)}
}

// NewPollingInterval is NewPolling with a caller-supplied poll interval,
// for configurations that override the spec.md §4.5 default.
func NewPollingInterval(ctx *gousb.Context, observer Observer, log *rdmlog.Logger, interval time.Duration) *Agent {
	return newAgent(contextLister{ctx: ctx}, observer, log, interval)
}

// NewKernelAssisted constructs an Agent using the platform's native
// hotplug notification where available. gousb's public API does not
// currently expose libusb's hotplug callback, so this degrades to the
// same polling loop as NewPolling.
func NewKernelAssisted(ctx *gousb.Context, observer Observer, log *rdmlog.Logger) *Agent {
	return NewPolling(ctx, observer, log)
}

// Start begins watching. Start is idempotent; calling it twice is a no-op.
func (a *Agent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.wg.Add(1)
	go a.pollLoop(a.stopCh)
}

// HaltNotifications stops delivering events but leaves the agent able to
// be Start()ed again. Stop calls it first and then also synthesizes
// removals for the devices still tracked.
func (a *Agent) HaltNotifications() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.mu.Unlock()
	a.wg.Wait()
}

// Stop halts notifications, then synthesizes a DeviceRemoved for every
// device the agent currently has tracked as present, so that every
// DeviceAdded an observer saw is eventually matched by a DeviceRemoved
// even when the widget is still physically attached at shutdown.
func (a *Agent) Stop() {
	a.HaltNotifications()

	a.mu.Lock()
	remaining := a.previous
	a.previous = make(map[deviceKey]Event)
	a.mu.Unlock()

	for _, ev := range remaining {
		ev.Kind = DeviceRemoved
		a.observer(ev)
	}
}

func (a *Agent) pollLoop(stopCh chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.scanOnce()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			a.scanOnce()
		}
	}
}

func (a *Agent) scanOnce() {
	descs, err := a.lister.descriptors()
	if err != nil {
		a.log.Warnw("hotplug scan failed", "error", err)
		return
	}

	current := make(map[deviceKey]Event, len(descs))
	for _, desc := range descs {
		key := deviceKey{bus: desc.Bus, address: desc.Address}
		current[key] = Event{
			Kind:    DeviceAdded,
			Bus:     desc.Bus,
			Address: desc.Address,
			VID:     desc.Vendor,
			PID:     desc.Product,
		}
	}

	for key, ev := range current {
		if _, existed := a.previous[key]; !existed {
			a.observer(ev)
		}
	}
	for key, ev := range a.previous {
		if _, stillPresent := current[key]; !stillPresent {
			ev.Kind = DeviceRemoved
			a.observer(ev)
		}
	}
	a.previous = current
}
