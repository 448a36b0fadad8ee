// Package discovery implements the RDM binary-search discovery algorithm:
// given a bus that may contain any subset of the 48-bit UID space, find the
// complete set of responding UIDs by repeatedly narrowing a Discovery
// Unique Branch (DUB) address range until either a single responder answers
// or the range is exhausted.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"rdmcore/internal/rdmlog"
	"rdmcore/internal/uid"
)

// Discovery algorithm constants, grounded on DiscoveryAgent.cpp.
const (
	MaxBranchFailures      = 5
	MaxEmptyBranchAttempts = 3
	MaxMuteAttempts        = 3
	BroadcastUnmuteRepeats = 3
)

// Mode selects whether discovery starts from scratch or assumes a
// previously discovered set is still mostly valid.
type Mode int

const (
	// ModeFull broadcasts UnMute-All before running the algorithm and
	// discards any previously discovered UIDs.
	ModeFull Mode = iota
	// ModeIncremental re-mutes every previously discovered UID first, so
	// only newly attached responders answer subsequent DUBs.
	ModeIncremental
)

// BranchOutcome classifies a DUB response.
type BranchOutcome int

const (
	// BranchTimeout means no responder answered within the bound.
	BranchTimeout BranchOutcome = iota
	// BranchCollision means more than one responder answered, or the
	// frame was malformed (bad preamble, checksum, length).
	BranchCollision
	// BranchValid means exactly one UID decoded cleanly.
	BranchValid
)

// BranchResult is what the target interface returns for one DUB.
type BranchResult struct {
	Outcome BranchOutcome
	UID     uid.UID
}

// Target is the transport-level interface the engine drives; the widget
// package supplies the concrete implementation over the USB link.
type Target interface {
	// UnMuteAll broadcasts DISC_UNMUTE to every responder on the bus.
	UnMuteAll(ctx context.Context) error
	// MuteDevice addresses DISC_MUTE to a single UID and reports whether
	// the responder acknowledged.
	MuteDevice(ctx context.Context, u uid.UID) (bool, error)
	// Branch sends a DUB covering [lower, upper] and classifies the reply.
	Branch(ctx context.Context, lower, upper uid.UID) (BranchResult, error)
}

// ErrAborted is returned by Discover when Abort is called while a
// discovery is in progress.
var ErrAborted = errors.New("discovery: aborted")

// ErrAlreadyRunning is returned by Discover when a discovery is already in
// flight on this Agent; per the original InitDiscovery, a second request
// fails fast rather than queuing behind the first.
var ErrAlreadyRunning = errors.New("discovery: already running")

// Agent runs the binary-search discovery algorithm against a Target. One
// Agent corresponds to one RDM port; its discovered and bad-UID sets
// persist across incremental runs, while the split-around set is rebuilt
// for every run.
type Agent struct {
	target Target
	log    *rdmlog.Logger

	running     bool
	abortCh     chan struct{}
	discovered  *uid.Set
	badUIDs     *uid.Set
	treeCorrupt bool
}

// New constructs an Agent bound to target. log may be nil, in which case a
// no-op logger is used.
func New(target Target, log *rdmlog.Logger) *Agent {
	return &Agent{
		target:     target,
		log:        log.OrNop(),
		discovered: uid.NewSet(),
		badUIDs:    uid.NewSet(),
	}
}

// Abort empties the current discovery's range stack, causing Discover to
// return ErrAborted as soon as the in-flight target call completes.
// Calling Abort when no discovery is running is a no-op.
func (a *Agent) Abort() {
	if a.abortCh != nil {
		select {
		case <-a.abortCh:
			// already closed
		default:
			close(a.abortCh)
		}
	}
}

// Discover runs one full or incremental discovery pass and returns the set
// of responding UIDs together with a success flag. success is false when
// the discovery tree was abandoned as corrupt (an obnoxious, rambling,
// brief, or bipolar responder exhausted a range's failure/attempt budget
// all the way up to the root — spec.md §4.2/§8) even though the set
// returned may still contain UIDs found before that happened. Discover
// fails fast with ErrAlreadyRunning if another Discover call on this
// Agent is still in progress.
func (a *Agent) Discover(ctx context.Context, mode Mode) (*uid.Set, bool, error) {
	if a.running {
		return uid.NewSet(), false, ErrAlreadyRunning
	}
	a.running = true
	a.abortCh = make(chan struct{})
	a.treeCorrupt = false
	defer func() {
		a.running = false
	}()

	if mode == ModeFull {
		for i := 0; i < BroadcastUnmuteRepeats; i++ {
			if err := a.target.UnMuteAll(ctx); err != nil {
				a.log.Warnw("unmute all failed", "attempt", i, "error", err)
			}
			if a.aborted() {
				return uid.NewSet(), false, ErrAborted
			}
		}
		a.discovered = uid.NewSet()
		a.badUIDs = uid.NewSet()
	} else {
		a.remutePrevious(ctx)
		if a.aborted() {
			return uid.NewSet(), false, ErrAborted
		}
	}

	splitUIDs := uid.NewSet()
	stack := []*uid.Range{uid.NewRange(uid.New(0, 0), uid.AllDevicesUID(), nil)}

	for len(stack) > 0 {
		if a.aborted() {
			return uid.NewSet(), false, ErrAborted
		}

		r := stack[len(stack)-1]

		if r.UIDsDiscovered == 0 {
			r.Attempt++
		}

		if r.Failures == MaxBranchFailures || r.Attempt == MaxEmptyBranchAttempts || r.BranchCorrupt {
			// Hit the limit for this branch: mark the parent corrupt before
			// freeing, so the corruption bubbles level by level up to the
			// root, per DiscoveryAgent::SendDiscovery.
			if r.Parent != nil {
				r.Parent.BranchCorrupt = true
			}
			stack = stack[:len(stack)-1]
			a.freeRange(r, stack)
			continue
		}

		result, err := a.target.Branch(ctx, r.Lower, r.Upper)
		if err != nil {
			a.log.Debugw("branch failed", "lower", r.Lower, "upper", r.Upper, "error", err)
			r.BranchCorrupt = true
			continue
		}

		switch result.Outcome {
		case BranchTimeout:
			stack = stack[:len(stack)-1]
			a.freeRange(r, stack)

		case BranchCollision:
			stack = a.handleCollision(stack, r)

		case BranchValid:
			u := result.UID
			switch {
			case a.discovered.Contains(u):
				// A muted responder that keeps answering DUBs: mute
				// acknowledged but the device is obnoxious, rambling, brief,
				// or bipolar. Split around it once; if it's still there on a
				// later pass of the same range, fall back to an ordinary
				// collision split so the search keeps narrowing instead of
				// looping on the same split forever.
				r.Failures++
				if !splitUIDs.Contains(u) {
					splitUIDs.Insert(u)
					stack = a.splitAroundUID(stack, r, u)
				} else {
					stack = a.handleCollision(stack, r)
				}
			case a.badUIDs.Contains(u):
				r.Failures++
				if !splitUIDs.Contains(u) {
					splitUIDs.Insert(u)
					stack = a.splitAroundUID(stack, r, u)
				} else {
					stack = a.handleCollision(stack, r)
				}
			default:
				if a.muteWithRetries(ctx, u) {
					a.discovered.Insert(u)
					r.UIDsDiscovered++
				} else {
					a.badUIDs.Insert(u)
				}
			}
		}
	}

	return uid.NewSet(a.discovered.UIDs()...), !a.treeCorrupt, nil
}

func (a *Agent) aborted() bool {
	select {
	case <-a.abortCh:
		return true
	default:
		return false
	}
}

// remutePrevious re-mutes every UID discovered by an earlier pass, so an
// incremental discovery only hears from newly attached responders.
// Responders that fail to re-mute are dropped from the discovered set.
func (a *Agent) remutePrevious(ctx context.Context) {
	for _, u := range a.discovered.UIDs() {
		if a.aborted() {
			return
		}
		ok, err := a.target.MuteDevice(ctx, u)
		if err != nil || !ok {
			a.discovered.Erase(u)
		}
	}
}

func (a *Agent) muteWithRetries(ctx context.Context, u uid.UID) bool {
	for attempt := 0; attempt < MaxMuteAttempts; attempt++ {
		ok, err := a.target.MuteDevice(ctx, u)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// handleCollision implements HandleCollision: a range with more than one
// responder either splits at its midpoint, or, if it has already narrowed to
// a single address, just racks up a failure (the lone responder there is
// misbehaving rather than colliding with a sibling).
func (a *Agent) handleCollision(stack []*uid.Range, r *uid.Range) []*uid.Range {
	if r.Singleton() {
		r.Failures++
		return stack
	}
	return a.splitRange(stack, r, r.Lower, r.Upper)
}

// splitRange implements the ordinary collision split: the range breaks at
// its midpoint into two children, reset to a clean discovery count, and
// pushed so that the lower half is processed first (LIFO: push the upper
// half, then the lower half). r itself is left buried on the stack rather
// than popped, matching DiscoveryAgent's std::stack — it resurfaces once
// both children resolve, so that a failure/attempt limit reached by one of
// its descendants still has a live ancestor to bubble discovered counts
// and corruption into, all the way to the root.
func (a *Agent) splitRange(stack []*uid.Range, r *uid.Range, lower, upper uid.UID) []*uid.Range {
	mid := r.Midpoint()
	midUID := uid.FromUint64(mid)
	midPlusOne := uid.FromUint64(mid + 1)

	r.UIDsDiscovered = 0
	stack = append(stack, uid.NewRange(midPlusOne, upper, r))
	stack = append(stack, uid.NewRange(lower, midUID, r))
	return stack
}

// splitAroundUID implements SplitAroundBadUID: a responder was found that
// is already known (discovered or bad). If it falls outside the current
// range it is a phantom reading and the engine falls back to an ordinary
// collision split; otherwise the range splits immediately around it,
// omitting any side that collapses to empty. As with splitRange, r stays
// buried on the stack instead of being popped.
func (a *Agent) splitAroundUID(stack []*uid.Range, r *uid.Range, bad uid.UID) []*uid.Range {
	if r.Singleton() {
		r.Failures++
		return stack
	}
	if bad.Less(r.Lower) || r.Upper.Less(bad) {
		return a.splitRange(stack, r, r.Lower, r.Upper)
	}

	r.UIDsDiscovered = 0

	badValue := bad.ToUint64()
	if badValue < r.Upper.ToUint64() {
		upperSide := uid.NewRange(uid.FromUint64(badValue+1), r.Upper, r)
		stack = append(stack, upperSide)
	}
	if badValue > r.Lower.ToUint64() {
		lowerSide := uid.NewRange(r.Lower, uid.FromUint64(badValue-1), r)
		stack = append(stack, lowerSide)
	}
	return stack
}

// freeRange bubbles a finished range's discovered count up to its parent,
// matching DiscoveryAgent::FreeCurrentRange. Corruption is bubbled to the
// parent separately, at the failure/attempt-limit gate in Discover, before
// freeRange is ever called; freeRange's only remaining corruption duty is
// to notice when the range it just popped was the root itself — at that
// point there is no parent left to bubble to, so a corrupt root marks the
// whole tree abandoned.
func (a *Agent) freeRange(r *uid.Range, remainingStack []*uid.Range) {
	if r.Parent == nil {
		if r.BranchCorrupt {
			a.log.Warnw("discovery tree corrupt at root", "lower", r.Lower, "upper", r.Upper)
			a.treeCorrupt = true
		}
		return
	}
	r.Parent.UIDsDiscovered += r.UIDsDiscovered
}

// String renders a BranchOutcome for logging.
func (o BranchOutcome) String() string {
	switch o {
	case BranchTimeout:
		return "timeout"
	case BranchCollision:
		return "collision"
	case BranchValid:
		return "valid"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}
