// Package transport implements the non-blocking framing layer described in
// spec.md §4.2: a fixed-capacity inbound reassembly buffer plus a FIFO of
// pooled outbound frame buffers. The type here is deliberately I/O-free
// (see SPEC_FULL.md §4.2) -- it never touches a socket. Bytes arrive via
// Feed, complete frames are delivered via Callbacks.DeliverIncoming, and
// outbound bytes are drained via Drain. internal/peerconn calls into this
// type, and internal/netloop drives that Peer over a real net.Conn from a
// single goroutine.
package transport

import (
	"container/list"

	"github.com/deplinenoise/rlaunch/internal/buffer"
)

// Status bits returned by Update, mirroring RL_TRANSPORT_* in the original.
type Status uint32

const (
	NeedOutput Status = 1 << iota
	Disconnected
	Error
)

// Callbacks lets the owner parse frame boundaries and consume complete
// frames without the transport knowing anything about message encoding.
type Callbacks struct {
	// PeekIncoming inspects buf (which may be a prefix of a larger pending
	// frame) and returns: 0 if more data is needed before the frame length
	// is known, or the full frame length (header included) once it can be
	// determined. The transport's default behaviour if this is nil is to
	// read bytes 2-3 big-endian (see wire.PeekFrameLength).
	PeekIncoming func(buf []byte) int

	// DeliverIncoming is called once with each complete frame. A non-nil
	// return sets the transport into the Error state.
	DeliverIncoming func(frame []byte) error
}

// Transport owns one inbound reassembly buffer and one outbound FIFO of
// pooled buffers, per spec.md §3/§4.2.
type Transport struct {
	callbacks Callbacks

	in       []byte // base..end, fixed capacity
	readPos  int
	writePos int

	pool    *buffer.Pool
	outbox  *list.List // of *buffer.Outbound
	curTail *buffer.Outbound

	disconnect bool
	err        error
}

// New returns a Transport with the given inbound buffer capacity (spec.md
// §4.2 default is 32 KiB; callers pass it explicitly here).
func New(bufferSize int, cb Callbacks) *Transport {
	return &Transport{
		callbacks: cb,
		in:        make([]byte, bufferSize),
		pool:      buffer.NewPool(bufferSize),
		outbox:    list.New(),
	}
}

// Err returns the error that put the transport into the Error state, if
// any.
func (t *Transport) Err() error { return t.err }

// Feed appends incoming bytes (already read from the socket by the owner)
// into the reassembly buffer. It returns false if the buffer has no room
// for n more bytes -- the owner should not call this before draining with
// Update, or consider it a protocol violation from a peer sending more
// than the configured buffer can ever hold.
func (t *Transport) Feed(data []byte) bool {
	if t.writePos+len(data) > len(t.in) {
		return false
	}
	copy(t.in[t.writePos:], data)
	t.writePos += len(data)
	return true
}

// FeedEOF records that the peer closed its write side (recv() == 0 in the
// original). Subsequent Update calls report Disconnected.
func (t *Transport) FeedEOF() { t.disconnect = true }

// FeedError records a non-would-block socket error.
func (t *Transport) FeedError(err error) { t.err = err }

// Update reassembles as many complete frames as are currently available,
// delivering each to Callbacks.DeliverIncoming, then compacts the inbound
// buffer. It implements spec.md §4.2's Ingress algorithm steps 1-4.
func (t *Transport) Update() Status {
	for {
		window := t.in[t.readPos:t.writePos]
		if len(window) < 4 {
			break
		}

		peek := t.callbacks.PeekIncoming
		if peek == nil {
			peek = defaultPeek
		}
		frameLen := peek(window)
		if frameLen == 0 {
			break // need more data
		}
		if frameLen < 0 || frameLen > len(t.in) {
			// Declared length can never fit in this buffer -- fatal,
			// matches spec.md §4.2 step 2.
			t.err = errOversizeFrame
			break
		}
		if len(window) < frameLen {
			break // full frame not buffered yet
		}

		if err := t.callbacks.DeliverIncoming(window[:frameLen]); err != nil {
			t.err = err
			break
		}
		t.readPos += frameLen
	}

	t.compact()

	var status Status
	if t.outbox.Len() > 0 {
		status |= NeedOutput
	}
	if t.disconnect {
		status |= Disconnected
	}
	if t.err != nil {
		status |= Error
	}
	return status
}

func (t *Transport) compact() {
	if t.readPos == 0 {
		return
	}
	n := copy(t.in, t.in[t.readPos:t.writePos])
	t.writePos = n
	t.readPos = 0
}

func defaultPeek(buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	return int(buf[2])<<8 | int(buf[3])
}

// --- egress ---------------------------------------------------------------

// AllocOutbound returns a pooled buffer for the owner to encode a frame
// into; Enqueue (or Release, if encoding failed) must eventually be called
// with it.
func (t *Transport) AllocOutbound() *buffer.Outbound {
	return t.pool.Get()
}

// Release returns buf to the pool without queuing it for send, used when
// encoding into an allocated buffer failed.
func (t *Transport) Release(buf *buffer.Outbound) {
	t.pool.Put(buf)
}

// Enqueue appends an encoded buffer (UsedSize set by the caller) to the
// outbound FIFO, with Remaining initialised to the whole frame.
func (t *Transport) Enqueue(buf *buffer.Outbound) {
	buf.Remaining = buf.UsedSize
	t.outbox.PushBack(buf)
}

// Drain hands the front of the outbound FIFO to send (a function that
// behaves like a non-blocking socket write: returns bytes written, or an
// error; callers should treat "would block" by returning (0, nil)). Drain
// stops at the first zero-progress call or error, and returns whether more
// output remains queued.
func (t *Transport) Drain(send func(p []byte) (int, error)) (hasMore bool, err error) {
	for e := t.outbox.Front(); e != nil; e = t.outbox.Front() {
		buf := e.Value.(*buffer.Outbound)
		start := buf.UsedSize - buf.Remaining
		n, sendErr := send(buf.Data[start:buf.UsedSize])
		if sendErr != nil {
			t.err = sendErr
			return t.outbox.Len() > 0, sendErr
		}
		if n == 0 {
			return t.outbox.Len() > 0, nil // would-block: stop, more remains
		}
		buf.Remaining -= n
		if buf.Remaining > 0 {
			continue // partial write, try the same buffer again next call
		}
		t.outbox.Remove(e)
		t.pool.Put(buf)
	}
	return false, nil
}

// PendingOutput reports whether the outbound FIFO is non-empty.
func (t *Transport) PendingOutput() bool { return t.outbox.Len() > 0 }
