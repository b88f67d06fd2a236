// Package netloop drives one internal/peerconn.Peer over a real net.Conn.
//
// SPEC_FULL.md §5's "Go translation of the reactor" replaces the spec's
// single-threaded select loop with one goroutine per peer; this package is
// that goroutine. It implements suture.Service (Serve(ctx) error) so both
// binaries can let a suture.Supervisor own its lifetime and restart policy
// instead of a bespoke retry loop, the way cmd/stdiscosrv and
// cmd/syncthing/discosrv hand their own per-connection/service work to a
// Supervisor.
package netloop

import (
	"context"
	"io"
	"time"

	"github.com/deplinenoise/rlaunch/internal/peerconn"
	"github.com/deplinenoise/rlaunch/internal/rlog"
)

// Conn is anything a Peer can be driven over: a net.Conn narrowed to the
// three methods actually used, so tests can substitute net.Pipe() ends or
// any other io.ReadWriteCloser without deadline support.
type Conn interface {
	io.ReadWriteCloser
}

// Service drives peer's reads, writes and liveness ticks over conn until
// the connection dies or the context is cancelled.
type Service struct {
	conn Conn
	peer *peerconn.Peer
	log  *rlog.Logger

	tickEvery time.Duration
}

// New returns a Service ready to hand to a suture.Supervisor.Add, or to
// run directly with Serve.
func New(conn Conn, peer *peerconn.Peer, logger *rlog.Logger) *Service {
	if logger == nil {
		logger = rlog.Default
	}
	return &Service{conn: conn, peer: peer, log: logger, tickEvery: peerconn.PingTimeout / 3}
}

type readResult struct {
	buf []byte
	err error
}

// Serve implements suture.Service. It returns once the peer reaches a
// terminal state or ctx is cancelled; the caller (or the supervisor) is
// responsible for deciding whether that warrants a restart.
func (s *Service) Serve(ctx context.Context) error {
	defer s.conn.Close()
	// Guarantees Callbacks.OnDisconnected fires on every return path,
	// including ctx cancellation, which never otherwise touches the peer
	// state machine. Disconnect is idempotent, so this is a no-op if the
	// peer already reached a terminal state (and already fired the hook)
	// via a read/tick error below.
	defer s.peer.Disconnect()

	reads := make(chan readResult, 1)
	go s.readLoop(reads)

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-reads:
			if r.err != nil {
				if r.err == io.EOF {
					s.peer.ReadEOF()
				} else {
					s.peer.ReadError(r.err)
				}
			} else {
				s.peer.Readable(r.buf)
			}

		case now := <-ticker.C:
			s.peer.Tick(now)
		}

		if err := s.flush(); err != nil {
			return err
		}
		switch s.peer.State() {
		case peerconn.StateError, peerconn.StateDisconnected:
			return errConnectionClosed
		}
	}
}

var errConnectionClosed = errPeerClosed("netloop: peer connection closed")

type errPeerClosed string

func (e errPeerClosed) Error() string { return string(e) }

// flush drains any output the peer has queued since the last iteration.
func (s *Service) flush() error {
	if !s.peer.PendingOutput() {
		return nil
	}
	var writeErr error
	s.peer.Writable(func(p []byte) (int, error) {
		n, err := s.conn.Write(p)
		if err != nil {
			writeErr = err
		}
		return n, err
	})
	return writeErr
}

// readLoop performs blocking reads and forwards them to the Serve select
// loop; it exits after the first error (including io.EOF).
func (s *Service) readLoop(out chan<- readResult) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			out <- readResult{buf: cp}
		}
		if err != nil {
			out <- readResult{err: err}
			return
		}
	}
}
