package server

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/deplinenoise/rlaunch/internal/pending"
	"github.com/deplinenoise/rlaunch/internal/peerconn"
	"github.com/deplinenoise/rlaunch/internal/rlog"
	"github.com/deplinenoise/rlaunch/internal/wire"
)

// ControllerSession is the top of the controller-side request layer: it
// owns the one locally-originated request a controller ever makes --
// launch_executable_request -- and otherwise delegates to a Dispatcher for
// everything the target sends it, the same on-answer/on-request split
// client.FS.OnMessage makes for the symmetric target side.
//
// Only one operation is ever outstanding at a time here (there is nothing
// else for a controller to ask the target for), so unlike client.FS this
// does not need a full pending.Table keyed by many concurrent sequence
// numbers -- but reusing Table keeps the dispatch rule (generic
// error_answer always completes, kind mismatch is connection-fatal)
// identical to the target side instead of a second hand-rolled copy of it.
type ControllerSession struct {
	peer       *peerconn.Peer
	dispatcher *Dispatcher
	pending    *pending.Table
	log        *rlog.Logger

	result chan error
}

// NewControllerSession wires a ControllerSession driving fs over peer.
func NewControllerSession(peer *peerconn.Peer, fs FileSystem, logger *rlog.Logger) *ControllerSession {
	if logger == nil {
		logger = rlog.Default
	}
	return &ControllerSession{
		peer:       peer,
		dispatcher: NewDispatcher(peer, fs, logger),
		pending:    pending.New(),
		log:        logger,
		result:     make(chan error, 1),
	}
}

// RequestLaunch transmits launch_executable_request for path/arguments.
// It must be called exactly once, after the peer reaches StateConnected
// (SPEC_FULL.md §1: the controller sends this the moment the handshake
// completes). It does not block on the answer -- a controller's whole
// request layer runs on the same goroutine that will deliver that answer,
// so waiting here would deadlock the connection (the Go equivalent of why
// on_connected in original_source/src/controller.c only ever posts the
// request and returns).
func (s *ControllerSession) RequestLaunch(path, arguments string) error {
	seq := s.peer.NextSequenceNum()
	s.pending.Register(seq, &pending.LaunchAck{Path: path, Done: make(chan struct{})})
	return s.peer.TransmitMessage(wire.FlagRequest, &wire.LaunchExecutableRequest{
		SequenceNum: seq,
		Path:        path,
		Arguments:   arguments,
	})
}

// LaunchResult receives exactly once: nil if the target accepted the
// launch request, or the translated wire error if it reported a spawn
// failure. The binary wiring this up uses it only to decide whether to
// log a warning -- a rejected launch still leaves the connection in
// StateConnected, and the controller still waits out Dispatcher.Done()
// per §8 Scenario 1.
func (s *ControllerSession) LaunchResult() <-chan error { return s.result }

// Done delegates to the underlying Dispatcher's exit-code signal.
func (s *ControllerSession) Done() <-chan uint32 { return s.dispatcher.Done() }

// OnMessage resolves the one outstanding launch continuation if msg
// answers it, otherwise hands the message to the Dispatcher -- every
// filesystem request the target sends arrives here as a request message
// with no in_reply_to, so InReplyToOf reports ok=false for all of them and
// they fall straight through.
func (s *ControllerSession) OnMessage(p *peerconn.Peer, msg wire.Message) error {
	inReplyTo, ok := wire.InReplyToOf(msg)
	if !ok {
		return s.dispatcher.OnMessage(p, msg)
	}

	cont, isError, err := s.pending.Resolve(inReplyTo, msg.Kind())
	if err != nil {
		s.result <- err
		return err
	}
	if cont == nil {
		s.log.Warnf("controller: no pending operation for seq %d (%s), dropping", inReplyTo, msg.Kind())
		return nil
	}
	op := cont.(*pending.LaunchAck)
	if isError {
		op.Err = &wire.WireError{Code: msg.(*wire.ErrorAnswer).Code}
	}
	close(op.Done)
	s.result <- op.Err
	return nil
}

// OnDisconnected drains the one locally-originated request this session
// may still be waiting on (RequestLaunch's launch_executable_answer) and
// fails it with ErrDeviceNotMounted, so a controller blocked on
// LaunchResult() isn't left hanging forever if the target connection dies
// before answering (spec.md §4.4/§5). It is meant to be wired as the
// owning Peer's Callbacks.OnDisconnected.
func (s *ControllerSession) OnDisconnected(p *peerconn.Peer) {
	drained := s.pending.Drain()
	if len(drained) == 0 {
		return
	}

	var merr *multierror.Error
	for seq, cont := range drained {
		op := cont.(*pending.LaunchAck)
		merr = multierror.Append(merr, fmt.Errorf("seq %d (launch %s) cancelled: %w", seq, op.Path, wire.ErrDeviceNotMounted))
		op.Err = wire.ErrDeviceNotMounted
		close(op.Done)
		s.result <- op.Err
	}
	s.log.Warnf("controller: connection lost with %d operation(s) outstanding: %v", len(drained), merr.ErrorOrNil())
}
