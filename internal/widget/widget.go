package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"rdmcore/internal/discovery"
	"rdmcore/internal/rdm"
	"rdmcore/internal/rdmlog"
	"rdmcore/internal/uid"
)

// MaxInFlight bounds the number of widget commands awaiting a response at
// once, across every port, per JaRuleEndpoint.h.
const MaxInFlight = 2

// jaRuleInterfaceNumber is the USB interface the Ja Rule widget exposes
// its bulk endpoints on.
const jaRuleInterfaceNumber = 2

// Transport is the raw byte-oriented USB endpoint pair the widget frames
// its commands over. *gousbTransport (backed by gousb) is the production
// implementation; tests substitute an in-memory fake.
type Transport interface {
	Write(p []byte) (int, error)
	ReadContext(ctx context.Context, p []byte) (int, error)
}

var errWidgetClosed = errors.New("widget: closed")

// Reply is the transport-level result of one widget command, independent
// of whatever RDM semantics the caller layers on top.
type Reply struct {
	ReturnCode  uint8
	StatusFlags StatusFlags
	Payload     []byte
}

type commandResult struct {
	result TransportResult
	reply  Reply
	err    error
}

type queuedCommand struct {
	port      int
	cc        CommandClass
	payload   []byte
	resultCh  chan commandResult
	token     uint8
	cancelled bool
}

// Widget is one Ja Rule USB device: a token-matched, pipelined command
// channel shared by every port on the device.
type Widget struct {
	transport Transport
	log       *rdmlog.Logger

	mu            sync.Mutex
	nextToken     uint8
	pending       map[uint8]*queuedCommand
	queue         []*queuedCommand
	inFlightCount int
	claimedPorts  map[int]bool
	closed        bool

	readCtx    context.Context
	cancelRead context.CancelFunc
}

// New wraps transport in a Widget and starts its response-reading
// goroutine.
func New(transport Transport, log *rdmlog.Logger) *Widget {
	readCtx, cancel := context.WithCancel(context.Background())
	w := &Widget{
		transport:    transport,
		log:          log.OrNop(),
		pending:      make(map[uint8]*queuedCommand),
		claimedPorts: make(map[int]bool),
		readCtx:      readCtx,
		cancelRead:   cancel,
	}
	go w.readLoop()
	return w
}

// ClaimPort marks port as claimed; idempotent.
func (w *Widget) ClaimPort(port int) {
	w.mu.Lock()
	w.claimedPorts[port] = true
	w.mu.Unlock()
}

// ReleasePort marks port as unclaimed; idempotent.
func (w *Widget) ReleasePort(port int) {
	w.mu.Lock()
	delete(w.claimedPorts, port)
	w.mu.Unlock()
}

// IsPortClaimed reports whether port is currently claimed.
func (w *Widget) IsPortClaimed(port int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.claimedPorts[port]
}

// SendCommand queues cc/payload on the widget's command FIFO and blocks
// until it is dispatched and answered, cancelled, or ctx expires. The FIFO
// is shared by every port: commands for different ports dispatch in
// submission order, so one port's commands can wait behind another's.
func (w *Widget) SendCommand(ctx context.Context, port int, cc CommandClass, payload []byte) (Reply, TransportResult, error) {
	cmd := &queuedCommand{port: port, cc: cc, payload: payload, resultCh: make(chan commandResult, 1)}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Reply{}, ResultSendError, errWidgetClosed
	}
	w.queue = append(w.queue, cmd)
	w.pumpLocked()
	w.mu.Unlock()

	select {
	case res := <-cmd.resultCh:
		return res.reply, res.result, res.err
	case <-ctx.Done():
		w.cancelQueued(cmd)
		return Reply{}, ResultTimeout, ctx.Err()
	}
}

// CancelAll dequeues every not-yet-dispatched command for port and
// completes each with ResultCancelled. Commands already dispatched for
// port are left pending; they complete with ResultCancelled once their
// transfer resolves.
func (w *Widget) CancelAll(port int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	remaining := w.queue[:0:0]
	for _, c := range w.queue {
		if c.port == port {
			c.resultCh <- commandResult{result: ResultCancelled}
		} else {
			remaining = append(remaining, c)
		}
	}
	w.queue = remaining

	for _, c := range w.pending {
		if c.port == port {
			c.cancelled = true
		}
	}
}

// Close stops the reader goroutine and completes every queued or
// in-flight command with ResultCancelled. Idempotent.
func (w *Widget) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	outstanding := make([]*queuedCommand, 0, len(w.pending)+len(w.queue))
	outstanding = append(outstanding, w.queue...)
	for _, c := range w.pending {
		outstanding = append(outstanding, c)
	}
	w.queue = nil
	w.mu.Unlock()

	w.cancelRead()
	for _, c := range outstanding {
		c.resultCh <- commandResult{result: ResultCancelled}
	}
}

func (w *Widget) cancelQueued(cmd *queuedCommand) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range w.queue {
		if c == cmd {
			w.queue = append(w.queue[:i], w.queue[i+1:]...)
			return
		}
	}
	cmd.cancelled = true
}

// pumpLocked dispatches queued commands while under the in-flight budget.
// Callers must hold w.mu.
func (w *Widget) pumpLocked() {
	for w.inFlightCount < MaxInFlight && len(w.queue) > 0 {
		cmd := w.queue[0]
		w.queue = w.queue[1:]

		token := w.nextToken
		w.nextToken++

		frame, err := EncodeCommand(token, uint8(cmd.port), cmd.cc, cmd.payload)
		if err != nil {
			cmd.resultCh <- commandResult{result: ResultMalformed, err: err}
			continue
		}

		cmd.token = token
		w.pending[token] = cmd
		w.inFlightCount++

		if _, err := w.transport.Write(frame); err != nil {
			delete(w.pending, token)
			w.inFlightCount--
			cmd.resultCh <- commandResult{result: ResultSendError, err: err}
			continue
		}
	}
}

func (w *Widget) readLoop() {
	buf := make([]byte, usbPacketSize*9) // room for a full 513-byte payload plus header/pad
	for {
		n, err := w.transport.ReadContext(w.readCtx, buf)

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		if err != nil {
			w.mu.Unlock()
			continue
		}

		resp, err := DecodeResponseFrame(buf[:n])
		if err != nil {
			w.log.Warnw("dropping malformed widget response", "error", err)
			w.mu.Unlock()
			continue
		}

		cmd, ok := w.pending[resp.Token]
		if !ok {
			w.log.Warnw("dropping unmatched widget response", "token", resp.Token)
			w.mu.Unlock()
			continue
		}
		delete(w.pending, resp.Token)
		w.inFlightCount--
		w.pumpLocked()
		w.mu.Unlock()

		result := ResultOK
		switch {
		case cmd.cancelled:
			result = ResultCancelled
		case resp.CommandClass != cmd.cc:
			result = ResultClassMismatch
		}
		cmd.resultCh <- commandResult{
			result: result,
			reply:  Reply{ReturnCode: resp.ReturnCode, StatusFlags: resp.StatusFlags, Payload: resp.Payload},
		}
	}
}

// --- RDM-facing adapters -----------------------------------------------

// Port adapts one claimed widget port to controller.Transport and
// discovery.Target, translating RDM requests and DUBs to and from widget
// commands.
type Port struct {
	widget   *Widget
	port     int
	localUID uid.UID
	log      *rdmlog.Logger
}

// NewPort returns a Port bound to portNum on w, claiming it. localUID is
// the controller's own UID, used as the source address of every request
// the port originates on its own behalf (UnMuteAll, MuteDevice).
func NewPort(w *Widget, portNum int, localUID uid.UID, log *rdmlog.Logger) *Port {
	w.ClaimPort(portNum)
	return &Port{widget: w, port: portNum, localUID: localUID, log: log.OrNop()}
}

// SendRDMRequest implements controller.Transport.
func (p *Port) SendRDMRequest(ctx context.Context, req *rdm.Request) (rdm.Reply, error) {
	packed, err := rdm.Pack(req)
	if err != nil {
		return rdm.Reply{StatusCode: rdm.FailedToSend}, nil
	}

	cc := RDMRequest
	if req.DestinationUID.IsBroadcast() {
		cc = RDMBroadcastRequest
	}

	reply, result, err := p.widget.SendCommand(ctx, p.port, cc, packed)
	if err != nil || result != ResultOK {
		return rdm.Reply{StatusCode: transportResultToStatus(result)}, nil
	}
	if req.DestinationUID.IsBroadcast() {
		return rdm.Reply{StatusCode: rdm.WasBroadcast}, nil
	}

	_, rdmBytes, err := ParseGetSetTiming(reply.Payload)
	if err != nil {
		return rdm.Reply{StatusCode: rdm.InvalidResponse}, nil
	}

	resp, err := rdm.Unpack(rdmBytes)
	if err != nil {
		return rdm.Reply{StatusCode: rdm.StatusForUnpackError(err)}, nil
	}

	status, verr := rdm.ValidateResponse(req, resp)
	if verr != nil {
		return rdm.Reply{StatusCode: status}, nil
	}
	return rdm.Reply{StatusCode: status, Response: resp}, nil
}

func transportResultToStatus(r TransportResult) rdm.StatusCode {
	switch r {
	case ResultTimeout:
		return rdm.Timeout
	case ResultCancelled:
		return rdm.FailedToSend
	default:
		return rdm.FailedToSend
	}
}

// UnMuteAll implements discovery.Target.
func (p *Port) UnMuteAll(ctx context.Context) error {
	req := &rdm.Request{
		SourceUID:      p.localUID,
		DestinationUID: uid.AllDevicesUID(),
		CommandClass:   rdm.DiscoveryCommand,
		ParamID:        rdm.PIDDiscUnMute,
	}
	_, err := p.SendRDMRequest(ctx, req)
	return err
}

// MuteDevice implements discovery.Target.
func (p *Port) MuteDevice(ctx context.Context, u uid.UID) (bool, error) {
	req := &rdm.Request{
		SourceUID:      p.localUID,
		DestinationUID: u,
		CommandClass:   rdm.DiscoveryCommand,
		ParamID:        rdm.PIDDiscMute,
	}
	reply, err := p.SendRDMRequest(ctx, req)
	if err != nil {
		return false, err
	}
	return reply.StatusCode == rdm.CompletedOK, nil
}

// Branch implements discovery.Target, sending a raw DUB and classifying
// the reply per spec.md §4.2.
func (p *Port) Branch(ctx context.Context, lower, upper uid.UID) (discovery.BranchResult, error) {
	payload := make([]byte, 0, 12)
	payload = append(payload, lower.Bytes()...)
	payload = append(payload, upper.Bytes()...)

	reply, result, err := p.widget.SendCommand(ctx, p.port, RDMDUB, payload)
	if err != nil {
		return discovery.BranchResult{}, err
	}
	if result == ResultTimeout {
		return discovery.BranchResult{Outcome: discovery.BranchTimeout}, nil
	}
	if result != ResultOK {
		return discovery.BranchResult{Outcome: discovery.BranchCollision}, nil
	}

	_, dubBytes, err := ParseDUBTiming(reply.Payload)
	if err != nil || len(dubBytes) == 0 {
		return discovery.BranchResult{Outcome: discovery.BranchTimeout}, nil
	}

	u, err := DecodeDUBReply(dubBytes)
	if err != nil {
		return discovery.BranchResult{Outcome: discovery.BranchCollision}, nil
	}
	return discovery.BranchResult{Outcome: discovery.BranchValid, UID: u}, nil
}

// OpenGousbWidget opens the first Ja Rule widget found on the USB bus at
// (vid, pid) on a fresh libusb context, claims its bulk interface, and
// wraps it in a Widget. This is the production entry point used by
// cmd/rdmctl for single-widget sessions; tests use New directly with a
// fake Transport.
func OpenGousbWidget(vid, pid gousb.ID, log *rdmlog.Logger) (*Widget, func(), error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, nil, fmt.Errorf("widget: open usb device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, nil, fmt.Errorf("widget: no device found for vid=%s pid=%s", vid, pid)
	}

	w, cleanupDevice, err := claimGousbWidget(dev, log)
	if err != nil {
		ctx.Close()
		return nil, nil, err
	}

	cleanup := func() {
		cleanupDevice()
		ctx.Close()
	}
	return w, cleanup, nil
}

// OpenGousbWidgetAt opens the widget at a specific (bus, address) on a
// caller-owned libusb context, for use alongside a hotplug.Agent watching
// the same context: the registry identifies which device arrived by its
// bus topology, not by VID/PID alone, since more than one Ja Rule widget
// can share a VID/PID on the same host.
func OpenGousbWidgetAt(ctx *gousb.Context, bus, address int, log *rdmlog.Logger) (*Widget, func(), error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == address
	})
	if err != nil && len(devs) == 0 {
		return nil, nil, fmt.Errorf("widget: open usb device at bus=%d address=%d: %w", bus, address, err)
	}
	if len(devs) == 0 {
		return nil, nil, fmt.Errorf("widget: no device found at bus=%d address=%d", bus, address)
	}
	matched := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	return claimGousbWidget(matched, log)
}

// claimGousbWidget claims dev's bulk interface and wraps it in a Widget.
// The returned cleanup closes the interface, config, and device, but not
// the libusb context, which the caller owns.
func claimGousbWidget(dev *gousb.Device, log *rdmlog.Logger) (*Widget, func(), error) {
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("widget: set config: %w", err)
	}

	intf, err := cfg.Interface(jaRuleInterfaceNumber, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, nil, fmt.Errorf("widget: claim interface: %w", err)
	}

	const (
		inEndpoint  = 0x81
		outEndpoint = 0x01
	)

	epOut, err := intf.OutEndpoint(outEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		return nil, nil, fmt.Errorf("widget: open out endpoint: %w", err)
	}
	epIn, err := intf.InEndpoint(inEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		return nil, nil, fmt.Errorf("widget: open in endpoint: %w", err)
	}

	transport := &gousbTransport{out: epOut, in: epIn}
	w := New(transport, log)

	cleanup := func() {
		w.Close()
		intf.Close()
		cfg.Close()
		dev.Close()
	}
	return w, cleanup, nil
}

// gousbTransport adapts gousb's endpoint pair to the widget's Transport
// interface, mirroring the teacher's usb_device.go read/write shape.
type gousbTransport struct {
	out *gousb.OutEndpoint
	in  *gousb.InEndpoint
}

// usbTransferTimeout bounds every bulk transfer on the widget's endpoints.
const usbTransferTimeout = 1000 * time.Millisecond

func (t *gousbTransport) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), usbTransferTimeout)
	defer cancel()
	return t.out.WriteContext(ctx, p)
}

func (t *gousbTransport) ReadContext(ctx context.Context, p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, usbTransferTimeout)
	defer cancel()
	return t.in.ReadContext(ctx, p)
}
