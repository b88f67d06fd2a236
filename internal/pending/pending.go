// Package pending implements the client-side pending-operation
// correlation table (spec.md §4.4): requests that expect an answer are
// registered here under their sequence number together with a tagged
// Continuation describing how to resume once the matching answer (or a
// terminal connection failure) arrives.
//
// Unlike the original's intrusive linked list walked by find_pending_op,
// the table is backed by an xsync concurrent map so a peer's network-read
// goroutine and any other goroutine touching the same logical connection
// (there is at most one in this module's current wiring, but the type does
// not assume that) can register and resolve operations without a bespoke
// lock.
package pending

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/deplinenoise/rlaunch/internal/wire"
)

// Kind tags which of the six concrete Continuation variants named in
// spec.md §9 an Operation carries, so Resolve can dispatch with a type
// switch instead of unbounded dynamic dispatch.
type Kind int

const (
	KindReadMultiRound Kind = iota
	KindOpen
	KindExamine
	KindExamineNext
	KindCloseAck
	KindLaunchAck
)

func (k Kind) String() string {
	switch k {
	case KindReadMultiRound:
		return "read-multi-round"
	case KindOpen:
		return "open"
	case KindExamine:
		return "examine"
	case KindExamineNext:
		return "examine-next"
	case KindCloseAck:
		return "close-ack"
	case KindLaunchAck:
		return "launch-ack"
	default:
		return "<unknown pending kind>"
	}
}

// Continuation is implemented by exactly the six concrete kinds below. A
// closed interface keeps dispatch a type switch rather than a func(any)
// callback, per spec.md §9's guidance to avoid dynamic dispatch across an
// unbounded trait.
type Continuation interface {
	Kind() Kind
	// ExpectedAnswer is the wire.Kind that must appear in the in_reply_to
	// message for this continuation to fire; any other kind arriving with
	// a matching sequence number is a protocol violation (spec.md §4.4:
	// "kind mismatch ⇒ connection terminally failed").
	ExpectedAnswer() wire.Kind
}

// ReadMultiRound resumes a read() that may span several round trips to
// fill the caller's buffer, mirroring rl_pending_operation_t.detail.read.
// Dest is the remaining caller buffer to fill; N accumulates bytes copied
// so far across rounds. Done is closed exactly once, on the round that
// either satisfies the caller or hits a short answer/error.
type ReadMultiRound struct {
	Dest   []byte // remaining caller buffer to fill, from the current cursor
	Handle uint32
	N      int
	Err    error
	Done   chan struct{}

	// Ctx is opaque to this package: the client request layer stashes a
	// reference to the originating handle's mutable state here so the
	// completion callback (running on the peer's connection goroutine,
	// not the caller's) can update the read-ahead window without a
	// separate handle registry.
	Ctx any
}

func (*ReadMultiRound) Kind() Kind               { return KindReadMultiRound }
func (*ReadMultiRound) ExpectedAnswer() wire.Kind { return wire.KindReadFileAnswer }

// Open resumes a locate/open-style request waiting on open_handle_answer.
type Open struct {
	Path string

	Handle uint32
	Type   wire.NodeType
	Size   uint32
	Err    error
	Done   chan struct{}
}

func (*Open) Kind() Kind               { return KindOpen }
func (*Open) ExpectedAnswer() wire.Kind { return wire.KindOpenHandleAnswer }

// Examine resumes an Examine() call made with a bare path rather than an
// already-open handle. Unlike the original AmigaDOS device -- where
// ACTION_EXAMINE_OBJECT always carries a Lock and is therefore always
// local, served from the cached handle -- this module's Examine entry
// point also accepts a path that has never been opened, which requires a
// round trip through open_handle_answer purely to learn its metadata.
// Examine-on-an-already-held-handle stays fully local (§4.5 bucket (a)) and
// never touches this type.
type Examine struct {
	Path string

	Handle uint32
	Type   wire.NodeType
	Size   uint32
	Err    error
	Done   chan struct{}
}

func (*Examine) Kind() Kind               { return KindExamine }
func (*Examine) ExpectedAnswer() wire.Kind { return wire.KindOpenHandleAnswer }

// ExamineNext resumes directory enumeration waiting on
// find_next_file_answer.
type ExamineNext struct {
	Handle uint32

	EndOfSequence bool
	Type          wire.NodeType
	Size          uint32
	Name          string
	Err           error
	Done          chan struct{}
}

func (*ExamineNext) Kind() Kind               { return KindExamineNext }
func (*ExamineNext) ExpectedAnswer() wire.Kind { return wire.KindFindNextFileAnswer }

// CloseAck exists for callers that opted into a confirmed close. The
// default Close path is fire-and-forget and never registers a pending op
// at all -- close_handle_request only ever produces a reply on the error
// path (an error_answer; a successful close is silent on the wire, per
// close_handle_request in the original server), so this variant's only
// possible resolution is a failure.
type CloseAck struct {
	Handle uint32

	Err  error
	Done chan struct{}
}

func (*CloseAck) Kind() Kind               { return KindCloseAck }
func (*CloseAck) ExpectedAnswer() wire.Kind { return wire.KindErrorAnswer }

// LaunchAck resumes the controller side of a launch_executable_request,
// waiting on launch_executable_answer (spec.md §1's resolved direction:
// controller → target).
type LaunchAck struct {
	Path string

	Err  error
	Done chan struct{}
}

func (*LaunchAck) Kind() Kind               { return KindLaunchAck }
func (*LaunchAck) ExpectedAnswer() wire.Kind { return wire.KindLaunchExecutableAnswer }

// ErrKindMismatch is returned by Resolve when an answer arrives for a
// known sequence number but carries a different wire.Kind than the
// continuation registered for it -- spec.md §4.4 treats this as a
// terminally fatal protocol violation for the connection, not a retry.
type ErrKindMismatch struct {
	Seq      uint32
	Expected wire.Kind
	Got      wire.Kind
}

func (e *ErrKindMismatch) Error() string {
	return "pending: sequence " + itoa(e.Seq) + " expected " + e.Expected.String() + " but got " + e.Got.String()
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Table is the per-connection registry of outstanding operations, keyed by
// the sequence number the request was sent with.
type Table struct {
	m *xsync.MapOf[uint32, Continuation]
}

// New returns an empty Table.
func New() *Table {
	return &Table{m: xsync.NewMapOf[uint32, Continuation]()}
}

// Register records c as the continuation for seq. It is the caller's
// responsibility to pick seq from the owning peer's own sequence-number
// allocator before transmitting the request.
func (t *Table) Register(seq uint32, c Continuation) {
	t.m.Store(seq, c)
}

// Resolve looks up the continuation registered for an incoming answer's
// in_reply_to and classifies the outcome per spec.md §4.4's on-answer
// dispatch rule, removing the entry from the table on any definitive
// outcome -- only "not found at all" leaves the table unchanged, since
// that case indicates an answer for an operation this table never knew
// about (already resolved, or a stray network frame) and is not this
// connection's concern to react to.
//
// Four outcomes: (nil, false, nil) means no such operation is
// outstanding (caller should drop the message with a warning); (c, true,
// nil) means answerKind is the generic error_answer, which always
// completes any continuation with a translated wire error regardless of
// what it actually expected; (c, false, nil) means a normal, matching
// answer; (c, false, err) means answerKind matched neither the generic
// error kind nor what c declared via ExpectedAnswer, which spec.md §4.4
// treats as a terminally fatal protocol violation for the connection --
// c is still returned so the caller can fail its waiter with err.
func (t *Table) Resolve(inReplyTo uint32, answerKind wire.Kind) (c Continuation, isError bool, err error) {
	v, ok := t.m.Load(inReplyTo)
	if !ok {
		return nil, false, nil
	}
	if answerKind == wire.KindErrorAnswer {
		t.m.Delete(inReplyTo)
		return v, true, nil
	}
	if v.ExpectedAnswer() != answerKind {
		t.m.Delete(inReplyTo)
		return v, false, &ErrKindMismatch{Seq: inReplyTo, Expected: v.ExpectedAnswer(), Got: answerKind}
	}
	t.m.Delete(inReplyTo)
	return v, false, nil
}

// Requeue re-registers an existing continuation under a new sequence
// number without otherwise touching it, the Go equivalent of
// complete_read's "just grab the next sequence number and requeue the
// same operation" for multi-round reads.
func (t *Table) Requeue(oldSeq, newSeq uint32, c Continuation) {
	t.m.Delete(oldSeq)
	t.m.Store(newSeq, c)
}

// Remove discards the continuation registered for seq, if any, without
// running it -- used for cleanup when transmitting the request failed.
func (t *Table) Remove(seq uint32) {
	t.m.Delete(seq)
}

// Len reports how many operations are currently outstanding.
func (t *Table) Len() int { return t.m.Size() }

// Drain removes every outstanding operation and returns them, for use when
// a connection fails and every pending caller must be unblocked with a
// terminal error (spec.md §4.4, §7: "a failed connection fails every
// pending operation"). The accompanying error for each is the caller's
// responsibility to deliver; Drain only surfaces what was outstanding.
func (t *Table) Drain() map[uint32]Continuation {
	out := make(map[uint32]Continuation, t.m.Size())
	t.m.Range(func(seq uint32, c Continuation) bool {
		out[seq] = c
		return true
	})
	for seq := range out {
		t.m.Delete(seq)
	}
	return out
}
