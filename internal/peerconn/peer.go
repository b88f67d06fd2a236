// Package peerconn implements the per-connection peer state machine from
// spec.md §4.3: handshake exchange, liveness pings, message dispatch, and
// error/disconnect transitions, layered on top of internal/transport.
//
// The Go translation replaces the original's single-threaded select loop
// (spec.md §5, SPEC_FULL.md §5) with one goroutine per Peer performing
// blocking reads on its net.Conn and feeding bytes to the Transport; the
// state machine logic itself -- the part spec.md actually wants tested --
// is unchanged and exercised without a real socket via Readable/Writable/
// Tick in tests.
package peerconn

import (
	"time"

	"github.com/deplinenoise/rlaunch/internal/rlog"
	"github.com/deplinenoise/rlaunch/internal/transport"
	"github.com/deplinenoise/rlaunch/internal/wire"
)

// ProtocolVersionMajor/Minor are this module's handshake version, matching
// original_source/src/version.h (RLAUNCH_VER_MAJOR/MINOR).
const (
	ProtocolVersionMajor = 1
	ProtocolVersionMinor = 0
)

// PingTimeout is T in spec.md §4.3.
const PingTimeout = 30 * time.Second

// State is one of the five peer states from spec.md §4.3.
type State int

const (
	StateInitial State = iota
	StateWaitHandshake
	StateConnected
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateWaitHandshake:
		return "wait-handshake"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return "illegal"
	}
}

// Role distinguishes which side of the handshake a Peer plays.
type Role int

const (
	RoleController Role = iota // TCP dialer; sends handshake first
	RoleTarget                 // TCP acceptor; waits for the peer's handshake
)

// Status bits, mirroring PEER_STATUS_* in the original.
type Status uint32

const (
	NeedOutput Status = 1 << iota
	RemoveMe
)

// Callbacks lets the owning layer (client or server request layer) react
// to application messages and the moment the handshake completes.
type Callbacks struct {
	// OnMessage is invoked for every connected-state message that isn't a
	// ping. A non-nil return forces the peer into the Error state (spec.md
	// §4.3: "else deliver to the role adapter's on_message (returning
	// nonzero -> error)").
	OnMessage func(p *Peer, msg wire.Message) error

	// OnConnected fires once, when the peer transitions into StateConnected.
	OnConnected func(p *Peer)

	// OnDisconnected fires once, the first time the peer transitions into a
	// terminal state (StateError or StateDisconnected). The owning request
	// layer uses it to drain its pending-operation table and fail every
	// caller still blocked on an answer with wire.ErrDeviceNotMounted
	// (spec.md §4.4/§5's "cancellation and timeout" on connection death).
	OnDisconnected func(p *Peer)
}

// Identity describes the local node's handshake fields.
type Identity struct {
	PlatformName    string
	NodeName        string
	PlatformVersion string
}

// Peer is one end of a single TCP connection running the rlaunch protocol
// state machine. It is driven by an owning goroutine: Readable should be
// called with freshly-read bytes, Writable when the socket is ready to
// accept more output, and Tick periodically (a sub-interval of PingTimeout
// is a reasonable choice) to run the liveness check.
type Peer struct {
	Ident string // human-readable identity, e.g. remote address
	Index uint32 // stable per-connection index (spec.md §3)

	role     Role
	identity Identity
	state    State
	cb       Callbacks
	log      *rlog.Logger

	tr *transport.Transport

	lastActivity time.Time
	pingOnWire   bool
	pingTimeout  time.Duration

	nextSeq uint32

	// UserData is an opaque slot for the owning request layer (client or
	// server) to attach its own state, mirroring peer_t.userdata.
	UserData any
}

// Config bundles Peer construction parameters.
type Config struct {
	Role        Role
	Ident       string
	Index       uint32
	Identity    Identity
	Callbacks   Callbacks
	Logger      *rlog.Logger
	BufferSize  int // inbound reassembly buffer capacity; 0 selects 32 KiB
	PingTimeout time.Duration // 0 selects PingTimeout, staggered per role
}

const defaultBufferSize = 32 * 1024

// New constructs a Peer in StateInitial and immediately drives the entry
// transition described in spec.md §4.3: a controller peer transmits its
// handshake, a target peer waits for one.
func New(cfg Config) *Peer {
	bufSize := cfg.BufferSize
	if bufSize == 0 {
		bufSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = rlog.Default
	}

	timeout := cfg.PingTimeout
	if timeout == 0 {
		timeout = PingTimeout
		if cfg.Role == RoleTarget {
			// Stagger so both sides don't ping simultaneously (§4.3).
			timeout += time.Second
		}
	}

	p := &Peer{
		Ident:        cfg.Ident,
		Index:        cfg.Index,
		role:         cfg.Role,
		identity:     cfg.Identity,
		state:        StateInitial,
		cb:           cfg.Callbacks,
		log:          logger,
		lastActivity: timeNow(),
		pingTimeout:  timeout,
	}

	p.tr = transport.New(bufSize, transport.Callbacks{
		PeekIncoming:    wire.PeekFrameLength,
		DeliverIncoming: p.deliverIncoming,
	})

	if cfg.Role == RoleController {
		p.transmitHandshake()
	} else {
		p.setState(StateWaitHandshake)
	}

	return p
}

// for testability without wall-clock dependence in higher layers; peerconn
// itself always uses real time since its liveness contract is real-time
// based per spec.md §5.
func timeNow() time.Time { return time.Now() }

func (p *Peer) State() State { return p.state }

func (p *Peer) setState(s State) {
	if p.state == s {
		return
	}
	wasTerminal := isTerminal(p.state)
	p.log.Debugf("%s[%s]: => %s", p.Ident, p.state, s)
	p.state = s
	if s == StateConnected && p.cb.OnConnected != nil {
		p.cb.OnConnected(p)
	}
	if isTerminal(s) && !wasTerminal && p.cb.OnDisconnected != nil {
		p.cb.OnDisconnected(p)
	}
}

func isTerminal(s State) bool {
	return s == StateError || s == StateDisconnected
}

func (p *Peer) allocSeq() uint32 {
	p.nextSeq++
	return p.nextSeq
}

// NextSequenceNum allocates and returns the next request sequence number
// for this peer, scoped per spec.md §3 ("per peer per direction").
func (p *Peer) NextSequenceNum() uint32 { return p.allocSeq() }

func (p *Peer) transmitHandshake() {
	req := &wire.HandshakeRequest{
		SequenceNum:     0,
		VersionMajor:    ProtocolVersionMajor,
		VersionMinor:    ProtocolVersionMinor,
		PlatformName:    p.identity.PlatformName,
		NodeName:        p.identity.NodeName,
		PlatformVersion: p.identity.PlatformVersion,
		// Populated but never validated -- see SPEC_FULL.md §9 and
		// spec.md §9's explicit instruction to preserve, not fix, this.
		PasswordHash: "****",
	}
	if err := p.enqueue(wire.FlagRequest, req); err != nil {
		p.log.Warnf("%s: couldn't send handshake: %v", p.Ident, err)
		p.setState(StateError)
		return
	}
	p.setState(StateWaitHandshake)
}

// TransmitMessage enqueues msg for sending, encoding it as a request or
// answer depending on flags. It is the exported equivalent of
// peer_transmit_message / PEER_ACTION_TRANSMIT_MESSAGE for the connected
// state.
func (p *Peer) TransmitMessage(flags wire.Flags, msg wire.Message) error {
	if p.state != StateConnected {
		return errNotConnected
	}
	if err := p.enqueue(flags, msg); err != nil {
		p.setState(StateError)
		return err
	}
	return nil
}

func (p *Peer) enqueue(flags wire.Flags, msg wire.Message) error {
	buf := p.tr.AllocOutbound()
	n, err := wire.Encode(buf.Data, flags, msg)
	if err != nil {
		p.tr.Release(buf)
		return err
	}
	buf.UsedSize = n
	p.tr.Enqueue(buf)
	return nil
}

// deliverIncoming is the Transport callback: a complete frame has been
// reassembled. It decodes the frame and routes it through the state
// machine's receive-handshake or receive-message action.
func (p *Peer) deliverIncoming(frame []byte) error {
	hdr, msg, err := wire.Decode(frame)
	if err != nil {
		p.log.Warnf("%s: failed to decode incoming message: %v", p.Ident, err)
		return err
	}

	if hdr.Type == wire.KindHandshakeRequest {
		p.onReceiveHandshake(msg.(*wire.HandshakeRequest))
		return nil
	}

	switch p.state {
	case StateConnected:
		p.onReceiveMessage(msg)
	default:
		p.log.Warnf("%s[%s]: unexpected message %s", p.Ident, p.state, hdr.Type)
		p.setState(StateError)
	}
	return nil
}

func (p *Peer) onReceiveHandshake(msg *wire.HandshakeRequest) {
	if p.state != StateWaitHandshake {
		p.log.Warnf("%s[%s]: unexpected handshake", p.Ident, p.state)
		p.setState(StateError)
		return
	}

	p.lastActivity = timeNow()
	p.log.Infof("%s: peer is %s running rlaunch v%d.%d on %s (%s)",
		p.Ident, msg.NodeName, msg.VersionMajor, msg.VersionMinor,
		msg.PlatformName, msg.PlatformVersion)

	if msg.VersionMajor != ProtocolVersionMajor {
		p.log.Consolef("disconnecting peer %s with unsupported version %d.%d (local version %d.%d)",
			msg.NodeName, msg.VersionMajor, msg.VersionMinor,
			ProtocolVersionMajor, ProtocolVersionMinor)
		p.setState(StateError)
		return
	}

	if p.role == RoleTarget {
		p.transmitHandshake0NoStateChange()
	}
	p.setState(StateConnected)
}

// transmitHandshake0NoStateChange sends the target's own handshake reply
// without forcing a state transition (the caller, onReceiveHandshake,
// immediately moves to StateConnected itself, matching
// on_receive_handshake in peer.c: it invokes PEER_ACTION_TRANSMIT_HANDSHAKE
// while still in WAIT_HANDSHAKE, then sets CONNECTED).
func (p *Peer) transmitHandshake0NoStateChange() {
	req := &wire.HandshakeRequest{
		SequenceNum:     0,
		VersionMajor:    ProtocolVersionMajor,
		VersionMinor:    ProtocolVersionMinor,
		PlatformName:    p.identity.PlatformName,
		NodeName:        p.identity.NodeName,
		PlatformVersion: p.identity.PlatformVersion,
		PasswordHash:    "****",
	}
	if err := p.enqueue(wire.FlagRequest, req); err != nil {
		p.log.Warnf("%s: couldn't send handshake reply: %v", p.Ident, err)
		p.setState(StateError)
	}
}

func (p *Peer) onReceiveMessage(msg wire.Message) {
	p.lastActivity = timeNow()

	switch m := msg.(type) {
	case *wire.PingRequest:
		answer := &wire.PingAnswer{InReplyTo: m.SequenceNum}
		if err := p.enqueue(0, answer); err != nil {
			p.setState(StateError)
		}
	case *wire.PingAnswer:
		p.pingOnWire = false
	default:
		if p.cb.OnMessage != nil {
			if err := p.cb.OnMessage(p, msg); err != nil {
				p.log.Warnf("%s: on_message failed: %v", p.Ident, err)
				p.setState(StateError)
			}
		}
	}
}

// Readable feeds freshly-read socket bytes into the transport and drives
// one reassembly pass.
func (p *Peer) Readable(data []byte) {
	if !p.tr.Feed(data) {
		p.setState(StateError)
		return
	}
	p.runTransportUpdate()
}

// ReadEOF records that the remote peer closed its write side.
func (p *Peer) ReadEOF() {
	p.tr.FeedEOF()
	p.runTransportUpdate()
}

// ReadError records a non-recoverable socket read error.
func (p *Peer) ReadError(err error) {
	p.tr.FeedError(err)
	p.runTransportUpdate()
}

// Writable drains as much queued output as send can accept. send must
// behave like a non-blocking write: (0, nil) means would-block.
func (p *Peer) Writable(send func([]byte) (int, error)) {
	if _, err := p.tr.Drain(send); err != nil {
		p.tr.FeedError(err)
	}
	p.runTransportUpdate()
}

func (p *Peer) runTransportUpdate() {
	status := p.tr.Update()
	if status&transport.Error != 0 {
		p.disconnect()
	}
	if status&transport.Disconnected != 0 {
		p.disconnect()
	}
}

func (p *Peer) disconnect() {
	switch p.state {
	case StateDisconnected:
		return
	default:
		p.setState(StateDisconnected)
	}
}

// Disconnect forces the peer into its terminal state, firing
// Callbacks.OnDisconnected if that hasn't already happened for this
// connection. It is idempotent: calling it on an already-terminal peer is a
// no-op. The owning netloop.Service calls this unconditionally before
// Serve returns, so OnDisconnected fires on every exit path -- including
// context cancellation, which never otherwise drives the state machine.
func (p *Peer) Disconnect() {
	p.disconnect()
}

// Tick runs the periodic liveness check described in spec.md §4.3: after
// pingTimeout of idleness with no ping outstanding, send one; if a ping has
// been outstanding longer than 2*pingTimeout, declare the connection dead.
func (p *Peer) Tick(now time.Time) {
	if p.state != StateConnected {
		return
	}

	idle := now.Sub(p.lastActivity)
	switch {
	case idle > p.pingTimeout && !p.pingOnWire:
		ping := &wire.PingRequest{SequenceNum: 0}
		if err := p.enqueue(wire.FlagRequest, ping); err != nil {
			p.setState(StateError)
			return
		}
		p.pingOnWire = true
	case p.pingOnWire && idle > 2*p.pingTimeout:
		p.log.Warnf("%s[%s]: timeout on wire ping", p.Ident, p.state)
		p.setState(StateError)
	}
}

// Update runs the transport update and liveness tick together, returning
// the PEER_STATUS_*-equivalent bit-set the owning loop should act on:
// NeedOutput (there is queued output to try to drain) and RemoveMe (the
// peer has reached a terminal state and should be removed from any
// registry).
func (p *Peer) Update(now time.Time) Status {
	status := p.tr.Update()
	if status&transport.Error != 0 || status&transport.Disconnected != 0 {
		p.disconnect()
	}
	p.Tick(now)

	var out Status
	switch p.state {
	case StateError, StateDisconnected:
		out |= RemoveMe
	default:
		if p.tr.PendingOutput() {
			out |= NeedOutput
		}
	}
	return out
}

// PendingOutput reports whether there is queued, unsent output.
func (p *Peer) PendingOutput() bool { return p.tr.PendingOutput() }
