package ptcp

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/dantte-lp/natcore/internal/errkind"
	"github.com/dantte-lp/natcore/internal/metrics"
)

// defaultRecvBuf is the default receive buffer size (SPEC_FULL.md §4.4:
// 60 KiB when the peer's connect omits the window-scale option).
const defaultRecvBuf = 60 * 1024

// defaultSendBuf is the default send buffer capacity.
const defaultSendBuf = 60 * 1024

// defaultAckDelay is the delayed-ACK deadline used when not overridden by
// set_option.
const defaultAckDelay = 100 * time.Millisecond

// excessRetransmitsEstablished and excessRetransmitsPreEstab are the
// retransmit-count ceilings that force a transition to closed
// (SPEC_FULL.md §4.4).
const (
	excessRetransmitsEstablished = 15
	excessRetransmitsPreEstab    = 30
)

// WriteResult is the outcome notify_packet's caller reports back through
// write_packet.
type WriteResult int

const (
	WriteSuccess WriteResult = iota
	WriteFailure
	WriteTooLarge
)

// Notifier is the callback surface an Engine drives (SPEC_FULL.md §4.4).
type Notifier interface {
	WritePacket(data []byte, dest netip.AddrPort) WriteResult
	TCPOpened()
	TCPReadable()
	TCPWritable()
	TCPClosed(err error)
}

// shutdownMode tracks a pending close() call's strength.
type shutdownMode uint8

const (
	shutdownNone shutdownMode = iota
	shutdownGraceful
	shutdownForceful
)

// Option identifies a configurable engine parameter (SPEC_FULL.md §6).
type Option int

const (
	OptNodelay Option = iota
	OptAckDelay
	OptSndBuf
	OptRcvBuf
	OptReadTimeout
	OptWriteTimeout
)

// sendSegment is one in-flight (already transmitted at least once) chunk of
// the send stream.
type sendSegment struct {
	seq           uint32
	length        uint32
	transmitCount int
	control       bool
}

// Errors surfaced by Engine operations, tagged via internal/errkind.
var (
	ErrNotConnected = errkind.New(errkind.NotConnected, errors.New("pseudo-TCP engine not connected"))
	ErrWouldBlock   = errkind.New(errkind.WouldBlock, errors.New("operation would block"))
	ErrInvalidState = errkind.New(errkind.ProtocolViolation, errors.New("invalid state for operation"))
)

// Engine is a single pseudo-TCP control block (SPEC_FULL.md §3, §4.4). All
// operations serialize on mu; the engine owns no goroutine of its own — it
// is driven by the socket reader (NotifyPacket), a clock driver
// (NotifyClock/NextClock), and the application (Send/Recv), the same
// externally-driven design as the donor session but without that session's
// own Run(ctx) loop, since here the caller supplies the clock.
type Engine struct {
	Conversation uint32
	Dest         netip.AddrPort

	notifier Notifier
	logger   *slog.Logger
	start    time.Time

	mu   sync.Mutex
	cond *sync.Cond

	state State

	sndUna     uint32
	sndNxt     uint32
	sndWndPeer uint32
	swndScale  uint8

	rcvNxt     uint32
	rcvWndSize uint32
	rwndScale  uint8

	rtoBase     time.Time
	rtoArmed    bool
	rxRTO       time.Duration
	rxSRTT      time.Duration
	rxRTTVar    time.Duration
	firstSample bool

	cwnd       uint32
	ssthresh   uint32
	dupAcks    int
	recoverSeq uint32
	lastAck    uint32

	tAck      time.Time
	mss       int
	mssLevel  int

	sendBuffered []byte // all app bytes not yet fully acknowledged
	sentOffset   uint32 // bytes of sendBuffered already transmitted at least once
	unacked      []sendSegment

	recvReadable bytes.Buffer
	recvOOO      map[uint32][]byte

	lastSend    time.Time
	lastRecv    time.Time
	lastTraffic time.Time

	shutdown           shutdownMode
	supportWindowScale bool
	nagle              bool
	ackDelay           time.Duration
	peerTSVal          uint32
	readTimeout        time.Duration

	retransmitCount int

	bytesSent     uint64
	bytesReceived uint64

	metrics *metrics.Collector

	closed  bool
	lastErr error
}

// AttachMetrics wires a Collector so FSM transitions and retransmits are
// recorded going forward. Safe to call once, before the engine starts
// processing segments.
func (e *Engine) AttachMetrics(c *metrics.Collector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = c
	if c != nil {
		c.PTCPEngines.Inc()
	}
}

// Snapshot is a point-in-time view of one engine's state, used by the admin
// introspection surface (SPEC_FULL.md §4.4.1: "state, cwnd, ssthresh, rto,
// bytes in/out").
type Snapshot struct {
	Conversation  uint32
	Dest          netip.AddrPort
	State         State
	CWnd          uint32
	SSThresh      uint32
	RTO           time.Duration
	BytesSent     uint64
	BytesReceived uint64
}

// Snapshot returns a point-in-time view of the engine's state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Conversation:  e.Conversation,
		Dest:          e.Dest,
		State:         e.state,
		CWnd:          e.cwnd,
		SSThresh:      e.ssthresh,
		RTO:           e.rxRTO,
		BytesSent:     e.bytesSent,
		BytesReceived: e.bytesReceived,
	}
}

// waitWithDeadline blocks on e.cond until woken or deadline passes (the
// zero value blocks indefinitely). Must be called with e.mu held; Wait
// releases and reacquires it internally.
func (e *Engine) waitWithDeadline(deadline time.Time) {
	if deadline.IsZero() {
		e.cond.Wait()
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	e.cond.Wait()
	timer.Stop()
}

func newISN() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("generate initial sequence number: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// NewEngine constructs a pseudo-TCP engine in the listen state.
func NewEngine(conversation uint32, dest netip.AddrPort, notifier Notifier, logger *slog.Logger) *Engine {
	e := &Engine{
		Conversation:       conversation,
		Dest:               dest,
		notifier:           notifier,
		logger:             logger.With(slog.String("component", "ptcp.engine"), slog.Uint64("conversation", uint64(conversation))),
		start:              time.Now(),
		state:              StateListen,
		rcvWndSize:         defaultRecvBuf,
		cwnd:               uint32(mssAt(0)),
		ssthresh:           1 << 30,
		mss:                mssAt(0),
		rxRTO:              rtoInitial,
		supportWindowScale: true,
		nagle:              true,
		ackDelay:           defaultAckDelay,
		recvOOO:            make(map[uint32][]byte),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *Engine) now() uint32 { return uint32(time.Since(e.start) / time.Millisecond) }

// Connect starts the three-(non-)way handshake: enqueue a connect control
// segment and move to syn-sent.
func (e *Engine) Connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateListen {
		return ErrInvalidState
	}

	isn, err := newISN()
	if err != nil {
		return err
	}
	e.sndUna, e.sndNxt = isn, isn
	e.rtoBase = time.Time{}

	e.applyLocked(EventConnect)
	e.sendConnectLocked()
	return nil
}

// NotifyPacket processes one inbound datagram addressed to this engine.
func (e *Engine) NotifyPacket(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handleSegmentLocked(data)
}

func (e *Engine) handleSegmentLocked(data []byte) {
	if e.state == StateClosed {
		return
	}

	h, payload, err := DecodeHeader(data)
	if err != nil {
		e.logger.Debug("malformed segment dropped", slog.Any("error", err))
		return
	}

	e.lastRecv = time.Now()
	e.lastTraffic = e.lastRecv
	e.peerTSVal = h.TSVal
	e.updatePeerWindowLocked(h)

	if h.Reset() {
		e.closeWithResultLocked(StateClosed, errors.New("peer reset"))
		return
	}

	if h.Control() {
		e.handleControlLocked(h, payload)
	} else {
		e.handleAckLocked(h)
		if len(payload) > 0 {
			e.handleDataLocked(h.Seq, payload)
		}
		if e.state == StateSynReceived {
			e.applyAndActLocked(EventRecvData)
		}
	}

	e.maybeScheduleAckLocked(h, len(payload) > 0)
}

// updatePeerWindowLocked records the peer's advertised receive window from
// any inbound header, scaled by the window-scale option negotiated at
// connect time (SPEC_FULL.md §4.4). attemptSendLocked reads e.sndWndPeer to
// cap how much unacked data may be outstanding.
func (e *Engine) updatePeerWindowLocked(h Header) {
	e.sndWndPeer = uint32(h.Window) << e.swndScale
}

func (e *Engine) handleControlLocked(h Header, payload []byte) {
	opts, err := decodeConnectPayload(payload)
	if err != nil {
		e.logger.Debug("malformed connect payload dropped", slog.Any("error", err))
		return
	}

	scale, present := findWindowScale(opts)
	if present {
		e.swndScale = scale
	} else {
		e.rcvWndSize = defaultRecvBuf
		e.rwndScale = 0
	}

	switch e.state {
	case StateListen, StateSynReceived:
		if e.state == StateListen {
			e.rcvNxt = h.Seq
		}
		e.applyAndActLocked(EventRecvConnect)
	case StateSynSent:
		e.rcvNxt = h.Seq
		e.applyAndActLocked(EventRecvConnect)
	}
}

func (e *Engine) applyLocked(ev Event) Result {
	old := e.state
	r := Apply(e.state, ev)
	e.state = r.NewState
	if e.metrics != nil && r.NewState != old {
		e.metrics.RecordPTCPTransition(old.String(), r.NewState.String())
	}
	return r
}

func (e *Engine) applyAndActLocked(ev Event) {
	r := e.applyLocked(ev)
	for _, a := range r.Actions {
		switch a {
		case ActionSendConnect:
			e.sendConnectLocked()
		case ActionNotifyOpened:
			e.notifier.TCPOpened()
		case ActionNotifyClosed:
			e.finishCloseLocked(nil)
		}
	}
}

func (e *Engine) sendConnectLocked() {
	opts := []option{}
	if e.supportWindowScale {
		opts = append(opts, windowScaleOption(e.rwndScale))
	}
	payload := encodeConnectPayload(opts)
	h := Header{
		Conversation: e.Conversation,
		Seq:          e.sndNxt,
		Ack:          e.rcvNxt,
		Flags:        flagControl,
		Window:       e.advertisedWindow(),
		TSVal:        e.now(),
		TSEcr:        e.peerTSVal,
	}
	e.writeSegmentLocked(h, payload)
	e.armRTOLocked()
}

func (e *Engine) advertisedWindow() uint16 {
	w := e.rcvWndSize >> e.rwndScale
	if w > 0xFFFF {
		w = 0xFFFF
	}
	return uint16(w)
}

// handleAckLocked processes the cumulative ack field, updating send-side
// state, congestion control, and duplicate-ack bookkeeping.
func (e *Engine) handleAckLocked(h Header) {
	ack := h.Ack
	inflight := e.sndNxt - e.sndUna

	if ack == e.lastAck && e.sndUna != e.sndNxt {
		e.dupAcks++
		if e.dupAcks == 3 {
			e.recoverSeq, e.ssthresh, e.cwnd = recoveryEnter(e.sndNxt, inflight, uint32(e.mss))
			e.retransmitOldestUnackedLocked()
		} else if e.dupAcks > 3 {
			e.cwnd = recoveryInflate(e.cwnd, uint32(e.mss))
		}
		return
	}

	if ack == e.sndUna {
		return
	}

	advanced := ack - e.sndUna
	e.sndUna = ack
	e.sentOffset -= min32(e.sentOffset, advanced)
	if advanced <= uint32(len(e.sendBuffered)) {
		e.sendBuffered = e.sendBuffered[advanced:]
	} else {
		e.sendBuffered = e.sendBuffered[:0]
	}
	e.trimUnackedLocked(ack)

	if e.dupAcks >= 3 {
		if ack >= e.recoverSeq {
			e.cwnd = recoveryExit(e.ssthresh, inflight, uint32(e.mss))
			e.dupAcks = 0
		}
	} else {
		e.cwnd = cwndOnGoodAck(e.cwnd, e.ssthresh, uint32(e.mss))
		e.dupAcks = 0
	}
	e.lastAck = ack

	if e.rtoArmed {
		rtt := time.Since(e.rtoBase)
		e.rxSRTT, e.rxRTTVar, e.rxRTO = rttSample(!e.firstSample, e.rxSRTT, e.rxRTTVar, rtt)
		e.firstSample = true
	}
	if len(e.unacked) == 0 {
		e.rtoArmed = false
	} else {
		e.rtoBase = time.Now()
	}

	e.notifier.TCPWritable()
	e.attemptSendLocked()

	if e.shutdown == shutdownGraceful && len(e.sendBuffered) == 0 && len(e.unacked) == 0 {
		e.applyAndActLocked(EventGracefulEmpty)
	}
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func (e *Engine) trimUnackedLocked(ack uint32) {
	i := 0
	for ; i < len(e.unacked); i++ {
		seg := e.unacked[i]
		if seg.seq+seg.length > ack {
			break
		}
	}
	e.unacked = e.unacked[i:]
}

func (e *Engine) retransmitOldestUnackedLocked() {
	if len(e.unacked) == 0 {
		return
	}
	seg := &e.unacked[0]
	seg.transmitCount++
	e.checkExcessRetransmitsLocked(seg.transmitCount)
	if e.metrics != nil {
		e.metrics.PTCPRetransmits.Inc()
	}

	start := seg.seq - e.sndUna
	end := start + seg.length
	if int(end) > len(e.sendBuffered) {
		end = uint32(len(e.sendBuffered))
	}
	payload := e.sendBuffered[start:end]
	h := Header{
		Conversation: e.Conversation,
		Seq:          seg.seq,
		Ack:          e.rcvNxt,
		Window:       e.advertisedWindow(),
		TSVal:        e.now(),
		TSEcr:        e.peerTSVal,
	}
	e.writeSegmentLocked(h, payload)
}

func (e *Engine) checkExcessRetransmitsLocked(count int) {
	ceiling := excessRetransmitsPreEstab
	if e.state == StateEstablished {
		ceiling = excessRetransmitsEstablished
	}
	if count > ceiling {
		e.applyAndActLocked(EventExcessRetransmits)
	}
}

// handleDataLocked performs receive-side reassembly (SPEC_FULL.md §4.4).
func (e *Engine) handleDataLocked(seq uint32, payload []byte) {
	if seq == e.rcvNxt {
		e.recvReadable.Write(payload)
		e.bytesReceived += uint64(len(payload))
		if e.metrics != nil {
			e.metrics.PTCPBytesReceived.Add(float64(len(payload)))
		}
		e.rcvNxt += uint32(len(payload))
		e.drainOutOfOrderLocked()
		e.notifier.TCPReadable()
		e.cond.Broadcast()
		return
	}

	if seq > e.rcvNxt {
		e.recvOOO[seq] = payload
		return
	}

	// seq < rcvNxt: partial or full duplicate.
	end := seq + uint32(len(payload))
	if end <= e.rcvNxt {
		return // fully duplicate
	}
	overlap := e.rcvNxt - seq
	e.handleDataLocked(e.rcvNxt, payload[overlap:])
}

func (e *Engine) drainOutOfOrderLocked() {
	for {
		seg, ok := e.recvOOO[e.rcvNxt]
		if !ok {
			return
		}
		delete(e.recvOOO, e.rcvNxt)
		e.recvReadable.Write(seg)
		e.bytesReceived += uint64(len(seg))
		if e.metrics != nil {
			e.metrics.PTCPBytesReceived.Add(float64(len(seg)))
		}
		e.rcvNxt += uint32(len(seg))
	}
}

func (e *Engine) maybeScheduleAckLocked(h Header, hasData bool) {
	if hasData && e.tAck.IsZero() {
		e.tAck = time.Now().Add(e.ackDelay)
	}
}

// writeSegmentLocked marshals and transmits a segment via the notifier.
func (e *Engine) writeSegmentLocked(h Header, payload []byte) {
	wire := append(EncodeHeader(h), payload...)
	result := e.notifier.WritePacket(wire, e.Dest)
	e.lastSend = time.Now()
	e.lastTraffic = e.lastSend
	e.tAck = time.Time{}

	if result == WriteTooLarge {
		e.stepDownMTULocked()
	}
}

func (e *Engine) stepDownMTULocked() {
	e.mssLevel++
	if mssLevelExhausted(e.mssLevel) {
		e.applyAndActLocked(EventMTUExhausted)
		return
	}
	e.mss = mssAt(e.mssLevel)
}

// NotifyMTU adjusts the initial MSS level for a known path MTU (called on
// open, per SPEC_FULL.md §4.4).
func (e *Engine) NotifyMTU(mtu int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mssLevel = mssLevelForMTU(mtu)
	e.mss = mssAt(e.mssLevel)
}

func (e *Engine) armRTOLocked() {
	if !e.rtoArmed {
		e.rtoBase = time.Now()
		e.rtoArmed = true
	}
}

// attemptSendLocked implements the send-pacing loop (SPEC_FULL.md §4.4).
func (e *Engine) attemptSendLocked() {
	if e.state != StateEstablished {
		return
	}
	for {
		inflight := e.sndNxt - e.sndUna
		effWnd := effectiveWindow(e.cwnd, e.dupAcks, uint32(e.mss))
		peerWnd := e.sndWndPeer
		usableByPeer := uint32(0)
		if peerWnd > inflight {
			usableByPeer = peerWnd - inflight
		}
		usable := effWnd
		if usableByPeer < usable {
			usable = usableByPeer
		}

		buffered := uint32(len(e.sendBuffered)) - e.sentOffset
		available := buffered
		if uint32(e.mss) < available {
			available = uint32(e.mss)
		}
		if usable < available {
			available = usable
		}
		if peerWnd > 0 && usable < peerWnd/4 {
			available = 0
		}

		if available == 0 {
			return
		}

		seq := e.sndUna + e.sentOffset
		start := e.sentOffset
		end := start + available
		payload := e.sendBuffered[start:end]

		h := Header{
			Conversation: e.Conversation,
			Seq:          seq,
			Ack:          e.rcvNxt,
			Window:       e.advertisedWindow(),
			TSVal:        e.now(),
			TSEcr:        e.peerTSVal,
		}
		e.writeSegmentLocked(h, payload)
		e.unacked = append(e.unacked, sendSegment{seq: seq, length: available, transmitCount: 1})
		e.sentOffset += available
		e.sndNxt = seq + available
		e.bytesSent += uint64(available)
		if e.metrics != nil {
			e.metrics.PTCPBytesSent.Add(float64(available))
		}
		e.armRTOLocked()

		if e.nagle && available < uint32(e.mss) && len(e.unacked) > 1 {
			return
		}
	}
}

// Send appends buf to the send buffer and drives the send-pacing loop.
// Returns the number of bytes accepted, which may be less than len(buf) if
// the send buffer is full.
func (e *Engine) Send(buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return 0, ErrNotConnected
	}
	if e.shutdown != shutdownNone {
		return 0, ErrInvalidState
	}

	room := defaultSendBuf - len(e.sendBuffered)
	if room <= 0 {
		return 0, ErrWouldBlock
	}
	n := len(buf)
	if n > room {
		n = room
	}
	e.sendBuffered = append(e.sendBuffered, buf[:n]...)
	e.attemptSendLocked()
	return n, nil
}

// Recv blocks until at least one byte is readable, the engine closes, or
// the read-timeout option elapses, then drains buffered readable bytes into
// buf (SPEC_FULL.md §5: blocking recv is wakeable by close).
func (e *Engine) Recv(buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var deadline time.Time
	if e.readTimeout > 0 {
		deadline = time.Now().Add(e.readTimeout)
	}

	for e.recvReadable.Len() == 0 && e.state != StateClosed {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, errkind.New(errkind.TimedOut, errors.New("recv timed out"))
		}
		e.waitWithDeadline(deadline)
	}

	if e.recvReadable.Len() == 0 {
		return 0, e.lastErr
	}
	return e.recvReadable.Read(buf)
}

// SetOption configures one engine parameter. OptSndBuf and OptRcvBuf are
// accepted only while the engine is still in the listen state and return
// ErrInvalidState once it has left it (from Connect or an inbound connect
// on). OptRcvBuf sets the receive window; OptSndBuf does not change the
// send buffer, which stays at defaultSendBuf (the value GetOption reports).
func (e *Engine) SetOption(opt Option, value int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch opt {
	case OptNodelay:
		e.nagle = value == 0
	case OptAckDelay:
		e.ackDelay = time.Duration(value) * time.Millisecond
	case OptSndBuf, OptRcvBuf:
		if e.state != StateListen {
			return ErrInvalidState
		}
		if opt == OptRcvBuf {
			e.rcvWndSize = uint32(value)
		}
	case OptReadTimeout:
		e.readTimeout = time.Duration(value) * time.Millisecond
	}
	return nil
}

// GetOption reads back one configured engine parameter.
func (e *Engine) GetOption(opt Option) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch opt {
	case OptNodelay:
		if e.nagle {
			return 0
		}
		return 1
	case OptAckDelay:
		return int(e.ackDelay / time.Millisecond)
	case OptSndBuf:
		return defaultSendBuf
	case OptRcvBuf:
		return int(e.rcvWndSize)
	case OptReadTimeout:
		return int(e.readTimeout / time.Millisecond)
	default:
		return 0
	}
}

// NextClock returns the number of milliseconds until notify_clock should
// next be called, or ok=false when the engine is quiescent (forceful
// shutdown already applied) (SPEC_FULL.md §4.4).
func (e *Engine) NextClock(now time.Time) (intervalMS int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown == shutdownForceful || e.state == StateClosed {
		return 0, false
	}

	best := 4000 * time.Millisecond

	if !e.tAck.IsZero() {
		if d := e.tAck.Sub(now); d < best {
			best = d
		}
	}
	if e.rtoArmed {
		if d := e.rtoBase.Add(e.rxRTO).Sub(now); d < best {
			best = d
		}
	}
	if e.sndWndPeer == 0 && !e.lastSend.IsZero() {
		if d := e.lastSend.Add(e.rxRTO).Sub(now); d < best {
			best = d
		}
	}

	if best < 0 {
		best = 0
	}
	return best.Milliseconds(), true
}

// NotifyClock processes whichever deadline has elapsed, at most once per
// call.
func (e *Engine) NotifyClock(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.tAck.IsZero() && !now.Before(e.tAck) {
		e.sendPureAckLocked()
		return
	}
	if e.rtoArmed && !now.Before(e.rtoBase.Add(e.rxRTO)) {
		e.onRTOLocked()
		return
	}
	if e.sndWndPeer == 0 && !e.lastSend.IsZero() && !now.Before(e.lastSend.Add(e.rxRTO)) {
		e.sendZeroWindowProbeLocked()
	}
}

func (e *Engine) sendPureAckLocked() {
	h := Header{
		Conversation: e.Conversation,
		Seq:          e.sndNxt,
		Ack:          e.rcvNxt,
		Window:       e.advertisedWindow(),
		TSVal:        e.now(),
		TSEcr:        e.peerTSVal,
	}
	e.writeSegmentLocked(h, nil)
}

func (e *Engine) sendZeroWindowProbeLocked() {
	e.sendPureAckLocked()
}

func (e *Engine) onRTOLocked() {
	inflight := e.sndNxt - e.sndUna
	e.ssthresh, e.cwnd, e.rxRTO = rtoOnTimeout(inflight, uint32(e.mss), e.rxRTO, e.state == StateEstablished)

	if e.state == StateSynSent || e.state == StateSynReceived {
		e.retransmitCount++
		e.checkExcessRetransmitsLocked(e.retransmitCount)
		if e.state != StateClosed {
			e.sendConnectLocked()
		}
		return
	}

	if len(e.unacked) > 0 {
		e.retransmitOldestUnackedLocked()
	}
	e.rtoBase = time.Now()
}

// Close tears down the engine. force=true transitions immediately; force
// =false drains buffered sends first (SPEC_FULL.md §5).
func (e *Engine) Close(force bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if force {
		e.shutdown = shutdownForceful
		e.finishCloseLocked(nil)
		return
	}

	e.shutdown = shutdownGraceful
	if len(e.sendBuffered) == 0 && len(e.unacked) == 0 {
		e.applyAndActLocked(EventGracefulEmpty)
	}
}

func (e *Engine) closeWithResultLocked(_ State, err error) {
	e.finishCloseLocked(err)
}

func (e *Engine) finishCloseLocked(err error) {
	if e.closed {
		return
	}
	e.closed = true
	e.state = StateClosed
	e.lastErr = err
	if e.metrics != nil {
		e.metrics.PTCPEngines.Dec()
	}
	e.notifier.TCPClosed(err)
	e.cond.Broadcast()
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
