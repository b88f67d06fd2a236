package peerconn

import (
	"testing"
	"time"

	"github.com/deplinenoise/rlaunch/internal/wire"
)

// link wires two Peers together in memory: whatever one enqueues for send
// is fed directly to the other's Readable, with no real socket involved.
// This exercises the full handshake/message state machine deterministically.
type link struct {
	a, b *Peer
}

func (l *link) pump() {
	for i := 0; i < 10; i++ {
		movedA := pumpOne(l.a, l.b)
		movedB := pumpOne(l.b, l.a)
		if !movedA && !movedB {
			return
		}
	}
}

func pumpOne(from, to *Peer) bool {
	if !from.PendingOutput() {
		return false
	}
	var sent []byte
	from.Writable(func(p []byte) (int, error) {
		sent = append(sent, p...)
		return len(p), nil
	})
	if len(sent) == 0 {
		return false
	}
	to.Readable(sent)
	return true
}

func newPair(t *testing.T) (*Peer, *Peer) {
	t.Helper()
	ctrl := New(Config{
		Role:     RoleController,
		Ident:    "controller",
		Identity: Identity{PlatformName: "linux", NodeName: "ctrlhost", PlatformVersion: "1.0"},
	})
	tgt := New(Config{
		Role:     RoleTarget,
		Ident:    "target",
		Identity: Identity{PlatformName: "amiga", NodeName: "a4000", PlatformVersion: "3.1"},
	})
	return ctrl, tgt
}

func TestHandshakeCompletesToConnected(t *testing.T) {
	ctrl, tgt := newPair(t)
	l := &link{a: ctrl, b: tgt}
	l.pump()

	if ctrl.State() != StateConnected {
		t.Fatalf("controller state = %s, want connected", ctrl.State())
	}
	if tgt.State() != StateConnected {
		t.Fatalf("target state = %s, want connected", tgt.State())
	}
}

func TestTargetNeverSpeaksBeforeReceivingHandshake(t *testing.T) {
	tgt := New(Config{
		Role:     RoleTarget,
		Ident:    "target",
		Identity: Identity{PlatformName: "amiga", NodeName: "a4000", PlatformVersion: "3.1"},
	})
	if tgt.State() != StateWaitHandshake {
		t.Fatalf("state = %s, want wait-handshake", tgt.State())
	}
	if tgt.PendingOutput() {
		t.Fatal("target must not transmit anything before receiving the controller's handshake")
	}
}

func TestHandshakeVersionMismatchDisconnects(t *testing.T) {
	var gotCalled bool
	tgt := New(Config{
		Role:     RoleTarget,
		Ident:    "target",
		Identity: Identity{PlatformName: "amiga", NodeName: "a4000", PlatformVersion: "3.1"},
		Callbacks: Callbacks{
			OnConnected: func(p *Peer) { gotCalled = true },
		},
	})

	buf := make([]byte, wire.MaxFrameSize)
	n, err := wire.Encode(buf, wire.FlagRequest, &wire.HandshakeRequest{
		VersionMajor:    ProtocolVersionMajor + 1,
		VersionMinor:    0,
		PlatformName:    "linux",
		NodeName:        "ctrlhost",
		PlatformVersion: "1.0",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tgt.Readable(buf[:n])

	if tgt.State() != StateError {
		t.Fatalf("state = %s, want error", tgt.State())
	}
	if gotCalled {
		t.Fatal("OnConnected must not fire on a version mismatch")
	}
}

func TestMessageExchangeAfterHandshake(t *testing.T) {
	ctrl, tgt := newPair(t)
	l := &link{a: ctrl, b: tgt}
	l.pump()

	var received wire.Message
	tgt.cb.OnMessage = func(p *Peer, msg wire.Message) error {
		received = msg
		return nil
	}

	seq := ctrl.NextSequenceNum()
	err := ctrl.TransmitMessage(wire.FlagRequest, &wire.LaunchExecutableRequest{
		SequenceNum: seq,
		Path:        "sys:tools/hello",
		Arguments:   "",
	})
	if err != nil {
		t.Fatalf("transmit: %v", err)
	}
	l.pump()

	got, ok := received.(*wire.LaunchExecutableRequest)
	if !ok {
		t.Fatalf("target received %T, want *wire.LaunchExecutableRequest", received)
	}
	if got.Path != "sys:tools/hello" {
		t.Fatalf("path = %q", got.Path)
	}
}

func TestPingRequestIsAnsweredTransparently(t *testing.T) {
	ctrl, tgt := newPair(t)
	l := &link{a: ctrl, b: tgt}
	l.pump()

	appMsgSeen := false
	ctrl.cb.OnMessage = func(p *Peer, msg wire.Message) error {
		appMsgSeen = true
		return nil
	}

	seq := tgt.NextSequenceNum()
	tgt.pingOnWire = true // simulate Tick having just sent this ping
	if err := tgt.TransmitMessage(wire.FlagRequest, &wire.PingRequest{SequenceNum: seq}); err != nil {
		t.Fatalf("transmit ping: %v", err)
	}
	l.pump()

	if appMsgSeen {
		t.Fatal("ping traffic must not reach the application OnMessage callback")
	}
	if tgt.pingOnWire {
		t.Fatal("receiving the ping answer should have cleared pingOnWire")
	}
}

func TestTickSendsPingAfterIdleTimeoutAndTimesOutWithNoReply(t *testing.T) {
	ctrl, tgt := newPair(t)
	l := &link{a: ctrl, b: tgt}
	l.pump()

	ctrl.pingTimeout = time.Millisecond
	base := time.Now()

	ctrl.Tick(base.Add(2 * time.Millisecond))
	if !ctrl.pingOnWire {
		t.Fatal("expected a ping to have been sent after idle timeout")
	}

	ctrl.Tick(base.Add(10 * time.Millisecond))
	if ctrl.State() != StateError {
		t.Fatalf("state = %s, want error after 2x ping timeout with no reply", ctrl.State())
	}
}

func TestOnMessageErrorForcesErrorState(t *testing.T) {
	ctrl, tgt := newPair(t)
	l := &link{a: ctrl, b: tgt}
	l.pump()

	tgt.cb.OnMessage = func(p *Peer, msg wire.Message) error {
		return errNotConnected // any non-nil error
	}

	seq := ctrl.NextSequenceNum()
	_ = ctrl.TransmitMessage(wire.FlagRequest, &wire.LaunchExecutableRequest{SequenceNum: seq, Path: "x"})
	l.pump()

	if tgt.State() != StateError {
		t.Fatalf("target state = %s, want error", tgt.State())
	}
}

func TestOnDisconnectedFiresExactlyOnceOnError(t *testing.T) {
	ctrl, tgt := newPair(t)
	l := &link{a: ctrl, b: tgt}
	l.pump()

	var fired int
	tgt.cb.OnDisconnected = func(p *Peer) { fired++ }
	tgt.cb.OnMessage = func(p *Peer, msg wire.Message) error {
		return errNotConnected // any non-nil error
	}

	seq := ctrl.NextSequenceNum()
	_ = ctrl.TransmitMessage(wire.FlagRequest, &wire.LaunchExecutableRequest{SequenceNum: seq, Path: "x"})
	l.pump()

	if tgt.State() != StateError {
		t.Fatalf("target state = %s, want error", tgt.State())
	}
	if fired != 1 {
		t.Fatalf("OnDisconnected fired %d times, want exactly 1", fired)
	}

	// A further explicit Disconnect on an already-terminal peer must not
	// fire the hook again.
	tgt.Disconnect()
	if fired != 1 {
		t.Fatalf("OnDisconnected fired %d times after redundant Disconnect, want still 1", fired)
	}
}
