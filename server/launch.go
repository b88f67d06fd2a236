package server

import (
	"github.com/deplinenoise/rlaunch/internal/peerconn"
	"github.com/deplinenoise/rlaunch/internal/rlog"
	"github.com/deplinenoise/rlaunch/internal/wire"
)

// LaunchHandler answers launch_executable_request on the target side,
// delegating the actual spawn to a ProcessLauncher and emitting
// executable_done_request once the process exits -- the Go translation of
// on_launch_executable_request in original_source/src/target.c. The
// resolved direction of this exchange (controller -> target request,
// target -> controller answer and done notice) is SPEC_FULL.md §1's
// documented correction of spec.md §6.2's summary table.
type LaunchHandler struct {
	peer *peerconn.Peer
	pl   ProcessLauncher
	log  *rlog.Logger
}

// NewLaunchHandler returns a LaunchHandler driving pl over peer.
func NewLaunchHandler(peer *peerconn.Peer, pl ProcessLauncher, logger *rlog.Logger) *LaunchHandler {
	if logger == nil {
		logger = rlog.Default
	}
	return &LaunchHandler{peer: peer, pl: pl, log: logger}
}

// OnMessage handles launch_executable_request; any other message is not
// this handler's concern and is silently ignored (the target binary wires
// this alongside client.FS.OnMessage, which handles every answer kind).
func (lh *LaunchHandler) OnMessage(p *peerconn.Peer, msg wire.Message) error {
	req, ok := msg.(*wire.LaunchExecutableRequest)
	if !ok {
		return nil
	}

	lh.log.Infof("launch executable: '%s'", req.Path)

	err := lh.pl.Launch(req.Path, req.Arguments, func(resultCode uint32) {
		lh.log.Infof("%s launch completed; result %d", req.Path, resultCode)
		seq := lh.peer.NextSequenceNum()
		if txErr := lh.peer.TransmitMessage(wire.FlagRequest, &wire.ExecutableDoneRequest{
			SequenceNum: seq,
			ResultCode:  resultCode,
		}); txErr != nil {
			lh.log.Warnf("couldn't transmit executable_done_request: %v", txErr)
		}
	})
	if err != nil {
		lh.log.Warnf("spawn failed: %v", err)
		return lh.peer.TransmitMessage(0, &wire.ErrorAnswer{
			InReplyTo: req.SequenceNum,
			Code:      wire.ErrSpawnFailure,
		})
	}

	return lh.peer.TransmitMessage(0, &wire.LaunchExecutableAnswer{InReplyTo: req.SequenceNum})
}
