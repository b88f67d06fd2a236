package client

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/deplinenoise/rlaunch/internal/pending"
	"github.com/deplinenoise/rlaunch/internal/peerconn"
	"github.com/deplinenoise/rlaunch/internal/rlog"
	"github.com/deplinenoise/rlaunch/internal/wire"
)

// DirEntry is one result of ExamineNext.
type DirEntry struct {
	Type NodeType
	Size uint32
	Name string
}

// FS is the target-side client filesystem: it owns one peer connection to
// a controller and the pending-operation table correlating that
// connection's outstanding requests, and exposes the eleven entry points
// named in spec.md §4.5.
//
// FS.OnMessage, registered as the owning Peer's Callbacks.OnMessage, runs
// on the goroutine that owns that Peer (see internal/peerconn) and is what
// resolves pending operations. Open, Examine, ExamineNext and Read block
// until it does, so they must be called from some other goroutine.
type FS struct {
	peer    *peerconn.Peer
	pending *pending.Table
	log     *rlog.Logger
}

// New wraps peer (already constructed with this FS's OnMessage as its
// Callbacks.OnMessage -- see NewCallbacks) with the pending-op table and
// request-layer logic.
func New(peer *peerconn.Peer, logger *rlog.Logger) *FS {
	if logger == nil {
		logger = rlog.Default
	}
	return &FS{peer: peer, pending: pending.New(), log: logger}
}

// NewCallbacks returns the peerconn.Callbacks to construct the underlying
// Peer with, wired to a not-yet-existent FS via a late-bound pointer cell:
// callers typically do
//
//	var fs *client.FS
//	peer := peerconn.New(peerconn.Config{..., Callbacks: client.NewCallbacks(&fs)})
//	fs = client.New(peer, logger)
func NewCallbacks(fsCell **FS) peerconn.Callbacks {
	return peerconn.Callbacks{
		OnMessage: func(p *peerconn.Peer, msg wire.Message) error {
			return (*fsCell).OnMessage(msg)
		},
		OnDisconnected: func(p *peerconn.Peer) {
			(*fsCell).OnDisconnected(p)
		},
	}
}

// OnDisconnected drains every operation still waiting on an answer and
// fails each with ErrDeviceNotMounted, so no caller blocked in Open/
// Examine/ExamineNext is left hanging forever once the connection dies
// (spec.md §4.4/§5). It is meant to be wired as the owning Peer's
// Callbacks.OnDisconnected.
func (fs *FS) OnDisconnected(p *peerconn.Peer) {
	drained := fs.pending.Drain()
	if len(drained) == 0 {
		return
	}

	var merr *multierror.Error
	for seq, cont := range drained {
		merr = multierror.Append(merr, fmt.Errorf("seq %d (%s) cancelled: %w", seq, cont.Kind(), wire.ErrDeviceNotMounted))
		fs.failContinuation(cont, wire.ErrDeviceNotMounted)
	}
	fs.log.Warnf("client: connection lost with %d operation(s) outstanding: %v", len(drained), merr.ErrorOrNil())
}

// Root returns the pseudo-root handle, entirely locally.
func (fs *FS) Root() Handle { return rootHandle() }

// OnMessage dispatches an incoming answer to whichever pending operation
// its in_reply_to names, per spec.md §4.4's on-answer dispatch rule. It is
// meant to be wired as the owning Peer's Callbacks.OnMessage.
func (fs *FS) OnMessage(msg wire.Message) error {
	inReplyTo, ok := wire.InReplyToOf(msg)
	if !ok {
		fs.log.Warnf("client: message %s carries no in_reply_to, dropping", msg.Kind())
		return nil
	}

	cont, isErrorAnswer, err := fs.pending.Resolve(inReplyTo, msg.Kind())
	if cont == nil && err == nil {
		fs.log.Warnf("client: no pending operation for seq %d (%s), dropping", inReplyTo, msg.Kind())
		return nil
	}
	if err != nil {
		// Kind mismatch: fail the waiter with a transport-level error and
		// propagate the connection-fatal verdict up to the peer state
		// machine (spec.md §4.4).
		fs.failContinuation(cont, err)
		return err
	}
	if isErrorAnswer {
		fs.failContinuation(cont, &wire.WireError{Code: msg.(*wire.ErrorAnswer).Code})
		return nil
	}

	fs.deliver(cont, msg)
	return nil
}

func (fs *FS) failContinuation(c pending.Continuation, err error) {
	switch op := c.(type) {
	case *pending.ReadMultiRound:
		op.Err = err
		close(op.Done)
	case *pending.Open:
		op.Err = err
		close(op.Done)
	case *pending.Examine:
		op.Err = err
		close(op.Done)
	case *pending.ExamineNext:
		op.Err = err
		close(op.Done)
	case *pending.CloseAck:
		op.Err = err
		close(op.Done)
	case *pending.LaunchAck:
		op.Err = err
		close(op.Done)
	}
}

func (fs *FS) deliver(c pending.Continuation, msg wire.Message) {
	switch op := c.(type) {
	case *pending.ReadMultiRound:
		fs.completeRead(op, msg.(*wire.ReadFileAnswer))
	case *pending.Open:
		ans := msg.(*wire.OpenHandleAnswer)
		op.Handle, op.Type, op.Size = ans.Handle, ans.Type, ans.Size
		close(op.Done)
	case *pending.Examine:
		ans := msg.(*wire.OpenHandleAnswer)
		op.Handle, op.Type, op.Size = ans.Handle, ans.Type, ans.Size
		close(op.Done)
	case *pending.ExamineNext:
		ans := msg.(*wire.FindNextFileAnswer)
		op.EndOfSequence, op.Type, op.Size, op.Name = ans.EndOfSequence, ans.Type, ans.Size, ans.Name
		close(op.Done)
	case *pending.CloseAck:
		close(op.Done) // not reached: CloseAck expects error_answer, which OnMessage routes to failContinuation
	case *pending.LaunchAck:
		close(op.Done)
	}
}

// Open resolves name relative to parent (spec.md §4.5's path
// normalisation rule), allocating a new handle via open_handle_request
// unless normalisation resolves it to the pseudo-root.
func (fs *FS) Open(parent Handle, name string) (Handle, error) {
	norm := normalizePath(parent, name)
	if norm == "" {
		return rootHandle(), nil
	}

	seq := fs.peer.NextSequenceNum()
	op := &pending.Open{Path: norm, Done: make(chan struct{})}
	fs.pending.Register(seq, op)

	if err := fs.peer.TransmitMessage(wire.FlagRequest, &wire.OpenHandleRequest{
		SequenceNum: seq,
		Path:        norm,
		Mode:        wire.OpenRead,
	}); err != nil {
		fs.pending.Remove(seq)
		return Handle{}, err
	}

	<-op.Done
	if op.Err != nil {
		return Handle{}, op.Err
	}
	return newHandle(op.Handle, op.Type, op.Size, norm), nil
}

// Examine looks up metadata for name relative to parent without opening a
// handle the caller must later close -- the Go-native equivalent of
// stat(), distinct from Info (which only ever reads an already-held
// Handle's cache). See pending.Examine's doc comment for why this is the
// one case of "examine" that is not fully local.
func (fs *FS) Examine(parent Handle, name string) (Info, error) {
	norm := normalizePath(parent, name)
	if norm == "" {
		return Info{Type: NodeDirectory, Path: ""}, nil
	}

	seq := fs.peer.NextSequenceNum()
	op := &pending.Examine{Path: norm, Done: make(chan struct{})}
	fs.pending.Register(seq, op)

	if err := fs.peer.TransmitMessage(wire.FlagRequest, &wire.OpenHandleRequest{
		SequenceNum: seq,
		Path:        norm,
		Mode:        wire.OpenRead,
	}); err != nil {
		fs.pending.Remove(seq)
		return Info{}, err
	}

	<-op.Done
	if op.Err != nil {
		return Info{}, op.Err
	}
	return Info{Type: NodeType(op.Type), Size: op.Size, Path: norm}, nil
}

// ExamineNext advances directory enumeration on dir, per spec.md §4.5's
// "Enumeration state": the reset flag is managed entirely by this method
// from the handle's cached enumReset bit, so callers never see it.
func (fs *FS) ExamineNext(dir Handle) (entry DirEntry, end bool, err error) {
	dir.rec.mu.Lock()
	reset := dir.rec.enumReset
	serverHandle := dir.rec.serverHandle
	dir.rec.mu.Unlock()

	seq := fs.peer.NextSequenceNum()
	op := &pending.ExamineNext{Handle: serverHandle, Done: make(chan struct{})}
	fs.pending.Register(seq, op)

	if err := fs.peer.TransmitMessage(wire.FlagRequest, &wire.FindNextFileRequest{
		SequenceNum: seq,
		Handle:      serverHandle,
		Reset:       reset,
	}); err != nil {
		fs.pending.Remove(seq)
		return DirEntry{}, false, err
	}

	<-op.Done
	if op.Err != nil {
		return DirEntry{}, false, op.Err
	}

	dir.rec.mu.Lock()
	dir.rec.enumReset = op.EndOfSequence
	dir.rec.mu.Unlock()

	if op.EndOfSequence {
		return DirEntry{}, true, nil
	}
	return DirEntry{Type: NodeType(op.Type), Size: op.Size, Name: op.Name}, false, nil
}

// Close releases h's server-side handle with a fire-and-forget
// close_handle_request: no pending operation is registered and no answer
// is awaited, matching rl_amigafs_free_lock in the original (spec.md
// §4.5's "Handle close semantics").
func (fs *FS) Close(h Handle) {
	h.rec.mu.Lock()
	serverHandle := h.rec.serverHandle
	h.rec.buf = nil
	h.rec.mu.Unlock()

	if serverHandle == wire.HandlePseudoRoot ||
		serverHandle == wire.HandleVirtualStdin ||
		serverHandle == wire.HandleVirtualStdout {
		return
	}

	seq := fs.peer.NextSequenceNum()
	if err := fs.peer.TransmitMessage(wire.FlagRequest, &wire.CloseHandleRequest{
		SequenceNum: seq,
		Handle:      serverHandle,
	}); err != nil {
		fs.log.Warnf("client: couldn't transmit close request for handle %d: %v", serverHandle, err)
	}
}
