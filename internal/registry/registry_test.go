package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdmcore/internal/hotplug"
	"rdmcore/internal/uid"
	"rdmcore/internal/widget"
)

// noopTransport never replies; it only needs to support widget.Close()
// tearing down without a real USB device underneath it.
type noopTransport struct{}

func (noopTransport) Write(p []byte) (int, error) { return len(p), nil }
func (noopTransport) ReadContext(ctx context.Context, p []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func newTestWidget() *widget.Widget {
	return widget.New(noopTransport{}, nil)
}

func addedEvent(bus, address int) hotplug.Event {
	return hotplug.Event{Kind: hotplug.DeviceAdded, Bus: bus, Address: address}
}

func removedEvent(bus, address int) hotplug.Event {
	return hotplug.Event{Kind: hotplug.DeviceRemoved, Bus: bus, Address: address}
}

func TestHandleEventAddedRegistersEntry(t *testing.T) {
	wantUID := uid.New(0x7a70, 1)
	open := func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error) {
		return newTestWidget(), wantUID, nil, nil
	}
	r := New(open, nil)
	defer r.Close()

	r.HandleEvent(context.Background(), addedEvent(1, 2))

	entry, ok := r.Get(Key{Bus: 1, Address: 2})
	require.True(t, ok)
	assert.Equal(t, wantUID, entry.UID)
	assert.Equal(t, 1, r.Len())
}

func TestHandleEventAddedDiscardsOnOpenError(t *testing.T) {
	open := func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error) {
		return nil, uid.UID{}, nil, errors.New("init failed")
	}
	r := New(open, nil)
	defer r.Close()

	r.HandleEvent(context.Background(), addedEvent(1, 2))

	assert.Equal(t, 0, r.Len())
	_, ok := r.Get(Key{Bus: 1, Address: 2})
	assert.False(t, ok)
}

func TestHandleEventAddedDuplicateDropped(t *testing.T) {
	calls := 0
	open := func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error) {
		calls++
		return newTestWidget(), uid.New(1, 1), nil, nil
	}
	r := New(open, nil)
	defer r.Close()

	r.HandleEvent(context.Background(), addedEvent(1, 2))
	r.HandleEvent(context.Background(), addedEvent(1, 2))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, r.Len())
}

func TestHandleEventRemovedSchedulesCleanupAndDropsEntry(t *testing.T) {
	open := func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error) {
		return newTestWidget(), uid.New(1, 1), nil, nil
	}
	r := New(open, nil)
	defer r.Close()

	r.HandleEvent(context.Background(), addedEvent(1, 2))
	require.Equal(t, 1, r.Len())

	r.HandleEvent(context.Background(), removedEvent(1, 2))

	assert.Eventually(t, func() bool {
		return r.Len() == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := r.Get(Key{Bus: 1, Address: 2})
	assert.False(t, ok)
}

func TestHandleEventRemovedUnknownKeyIsNoop(t *testing.T) {
	r := New(func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error) {
		return newTestWidget(), uid.UID{}, nil, nil
	}, nil)
	defer r.Close()

	r.HandleEvent(context.Background(), removedEvent(9, 9))
	assert.Equal(t, 0, r.Len())
}

func TestVisitAllCountsEntries(t *testing.T) {
	n := 0
	open := func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error) {
		n++
		return newTestWidget(), uid.New(1, uint32(n)), nil, nil
	}
	r := New(open, nil)
	defer r.Close()

	r.HandleEvent(context.Background(), addedEvent(1, 1))
	r.HandleEvent(context.Background(), addedEvent(1, 2))
	r.HandleEvent(context.Background(), addedEvent(1, 3))

	seen := r.VisitAll(func(e *Entry) bool { return true })
	assert.Equal(t, 3, seen)
}

func TestCloseTearsDownRemainingWidgets(t *testing.T) {
	open := func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error) {
		return newTestWidget(), uid.New(1, 1), nil, nil
	}
	r := New(open, nil)
	r.HandleEvent(context.Background(), addedEvent(1, 2))
	require.Equal(t, 1, r.Len())

	r.Close()
	assert.Equal(t, 0, r.Len())

	// A second Close must not panic or double-close the cleanup channel.
	r.Close()
}
