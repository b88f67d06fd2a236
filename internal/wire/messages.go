package wire

// Magic handle ids (§6.2).
const (
	HandlePseudoRoot    uint32 = 0xffffffff
	HandleVirtualStdin  uint32 = 0x7ffffffe
	HandleVirtualStdout uint32 = 0x7ffffffd
)

// Open mode bits (§6.2 open_handle_request).
const (
	OpenRead   uint32 = 1 << 0
	OpenWrite  uint32 = 1 << 1
	OpenCreate uint32 = 1 << 2
)

// NodeType identifies whether an open handle is a file or a directory.
type NodeType uint8

const (
	NodeFile      NodeType = 1
	NodeDirectory NodeType = 2
)

// Message is implemented by every decoded message body. Encode appends the
// body (not the header) to w; Decode reads the body (not the header) from
// r. Kind identifies which wire Kind this body belongs to, for encoders
// that build the header from the body.
type Message interface {
	Kind() Kind
	encodeBody(w *Writer)
	decodeBody(r *Reader)
}

// --- handshake -------------------------------------------------------------

type HandshakeRequest struct {
	SequenceNum     uint32
	VersionMajor    uint32
	VersionMinor    uint32
	PlatformName    string
	NodeName        string
	PlatformVersion string
	PasswordHash    string
}

func (*HandshakeRequest) Kind() Kind { return KindHandshakeRequest }

func (m *HandshakeRequest) encodeBody(w *Writer) {
	w.WriteUint32(m.SequenceNum)
	w.WriteUint32(m.VersionMajor)
	w.WriteUint32(m.VersionMinor)
	w.WriteString(m.PlatformName)
	w.WriteString(m.NodeName)
	w.WriteString(m.PlatformVersion)
	w.WriteString(m.PasswordHash)
}

func (m *HandshakeRequest) decodeBody(r *Reader) {
	m.SequenceNum = r.ReadUint32()
	m.VersionMajor = r.ReadUint32()
	m.VersionMinor = r.ReadUint32()
	m.PlatformName = r.ReadString()
	m.NodeName = r.ReadString()
	m.PlatformVersion = r.ReadString()
	m.PasswordHash = r.ReadString()
}

// --- ping --------------------------------------------------------------

type PingRequest struct{ SequenceNum uint32 }

func (*PingRequest) Kind() Kind                { return KindPingRequest }
func (m *PingRequest) encodeBody(w *Writer)    { w.WriteUint32(m.SequenceNum) }
func (m *PingRequest) decodeBody(r *Reader)    { m.SequenceNum = r.ReadUint32() }

type PingAnswer struct{ InReplyTo uint32 }

func (*PingAnswer) Kind() Kind             { return KindPingAnswer }
func (m *PingAnswer) encodeBody(w *Writer) { w.WriteUint32(m.InReplyTo) }
func (m *PingAnswer) decodeBody(r *Reader) { m.InReplyTo = r.ReadUint32() }

// --- generic error -------------------------------------------------------

type ErrorAnswer struct {
	InReplyTo uint32
	Code      ErrorCode
}

func (*ErrorAnswer) Kind() Kind { return KindErrorAnswer }
func (m *ErrorAnswer) encodeBody(w *Writer) {
	w.WriteUint32(m.InReplyTo)
	w.WriteUint32(uint32(m.Code))
}
func (m *ErrorAnswer) decodeBody(r *Reader) {
	m.InReplyTo = r.ReadUint32()
	m.Code = ErrorCode(r.ReadUint32())
}

// --- open handle ---------------------------------------------------------

type OpenHandleRequest struct {
	SequenceNum uint32
	Path        string
	Mode        uint32
}

func (*OpenHandleRequest) Kind() Kind { return KindOpenHandleRequest }
func (m *OpenHandleRequest) encodeBody(w *Writer) {
	w.WriteUint32(m.SequenceNum)
	w.WriteString(m.Path)
	w.WriteUint32(m.Mode)
}
func (m *OpenHandleRequest) decodeBody(r *Reader) {
	m.SequenceNum = r.ReadUint32()
	m.Path = r.ReadString()
	m.Mode = r.ReadUint32()
}

type OpenHandleAnswer struct {
	InReplyTo uint32
	Handle    uint32
	Type      NodeType
	Size      uint32
}

func (*OpenHandleAnswer) Kind() Kind { return KindOpenHandleAnswer }
func (m *OpenHandleAnswer) encodeBody(w *Writer) {
	w.WriteUint32(m.InReplyTo)
	w.WriteUint32(m.Handle)
	w.WriteUint8(uint8(m.Type))
	w.WriteUint32(m.Size)
}
func (m *OpenHandleAnswer) decodeBody(r *Reader) {
	m.InReplyTo = r.ReadUint32()
	m.Handle = r.ReadUint32()
	m.Type = NodeType(r.ReadUint8())
	m.Size = r.ReadUint32()
}

// --- close handle (fire and forget, no answer) ----------------------------

type CloseHandleRequest struct {
	SequenceNum uint32
	Handle      uint32
}

func (*CloseHandleRequest) Kind() Kind { return KindCloseHandleRequest }
func (m *CloseHandleRequest) encodeBody(w *Writer) {
	w.WriteUint32(m.SequenceNum)
	w.WriteUint32(m.Handle)
}
func (m *CloseHandleRequest) decodeBody(r *Reader) {
	m.SequenceNum = r.ReadUint32()
	m.Handle = r.ReadUint32()
}

// --- read file -------------------------------------------------------------

type ReadFileRequest struct {
	SequenceNum uint32
	Handle      uint32
	OffsetHi    uint32
	OffsetLo    uint32
	Length      uint32
}

func (*ReadFileRequest) Kind() Kind { return KindReadFileRequest }
func (m *ReadFileRequest) encodeBody(w *Writer) {
	w.WriteUint32(m.SequenceNum)
	w.WriteUint32(m.Handle)
	w.WriteUint32(m.OffsetHi)
	w.WriteUint32(m.OffsetLo)
	w.WriteUint32(m.Length)
}
func (m *ReadFileRequest) decodeBody(r *Reader) {
	m.SequenceNum = r.ReadUint32()
	m.Handle = r.ReadUint32()
	m.OffsetHi = r.ReadUint32()
	m.OffsetLo = r.ReadUint32()
	m.Length = r.ReadUint32()
}

type ReadFileAnswer struct {
	InReplyTo uint32
	Data      []byte
}

func (*ReadFileAnswer) Kind() Kind { return KindReadFileAnswer }
func (m *ReadFileAnswer) encodeBody(w *Writer) {
	w.WriteUint32(m.InReplyTo)
	w.WriteBytes(m.Data)
}
func (m *ReadFileAnswer) decodeBody(r *Reader) {
	m.InReplyTo = r.ReadUint32()
	m.Data = r.ReadBytes()
}

// --- write file ------------------------------------------------------------

type WriteFileRequest struct {
	SequenceNum uint32
	Handle      uint32
	Data        []byte
}

func (*WriteFileRequest) Kind() Kind { return KindWriteFileRequest }
func (m *WriteFileRequest) encodeBody(w *Writer) {
	w.WriteUint32(m.SequenceNum)
	w.WriteUint32(m.Handle)
	w.WriteBytes(m.Data)
}
func (m *WriteFileRequest) decodeBody(r *Reader) {
	m.SequenceNum = r.ReadUint32()
	m.Handle = r.ReadUint32()
	m.Data = r.ReadBytes()
}

type WriteFileAnswer struct{ InReplyTo uint32 }

func (*WriteFileAnswer) Kind() Kind             { return KindWriteFileAnswer }
func (m *WriteFileAnswer) encodeBody(w *Writer) { w.WriteUint32(m.InReplyTo) }
func (m *WriteFileAnswer) decodeBody(r *Reader) { m.InReplyTo = r.ReadUint32() }

// --- directory enumeration ---------------------------------------------

type FindNextFileRequest struct {
	SequenceNum uint32
	Handle      uint32
	Reset       bool
}

func (*FindNextFileRequest) Kind() Kind { return KindFindNextFileRequest }
func (m *FindNextFileRequest) encodeBody(w *Writer) {
	w.WriteUint32(m.SequenceNum)
	w.WriteUint32(m.Handle)
	w.WriteUint8(boolToU8(m.Reset))
}
func (m *FindNextFileRequest) decodeBody(r *Reader) {
	m.SequenceNum = r.ReadUint32()
	m.Handle = r.ReadUint32()
	m.Reset = r.ReadUint8() != 0
}

type FindNextFileAnswer struct {
	InReplyTo     uint32
	EndOfSequence bool
	Type          NodeType
	Size          uint32
	Name          string
}

func (*FindNextFileAnswer) Kind() Kind { return KindFindNextFileAnswer }
func (m *FindNextFileAnswer) encodeBody(w *Writer) {
	w.WriteUint32(m.InReplyTo)
	w.WriteUint8(boolToU8(m.EndOfSequence))
	w.WriteUint8(uint8(m.Type))
	w.WriteUint32(m.Size)
	w.WriteString(m.Name)
}
func (m *FindNextFileAnswer) decodeBody(r *Reader) {
	m.InReplyTo = r.ReadUint32()
	m.EndOfSequence = r.ReadUint8() != 0
	m.Type = NodeType(r.ReadUint8())
	m.Size = r.ReadUint32()
	m.Name = r.ReadString()
}

// --- launch / done -----------------------------------------------------

type LaunchExecutableRequest struct {
	SequenceNum uint32
	Path        string
	Arguments   string
}

func (*LaunchExecutableRequest) Kind() Kind { return KindLaunchExecutableRequest }
func (m *LaunchExecutableRequest) encodeBody(w *Writer) {
	w.WriteUint32(m.SequenceNum)
	w.WriteString(m.Path)
	w.WriteString(m.Arguments)
}
func (m *LaunchExecutableRequest) decodeBody(r *Reader) {
	m.SequenceNum = r.ReadUint32()
	m.Path = r.ReadString()
	m.Arguments = r.ReadString()
}

type LaunchExecutableAnswer struct{ InReplyTo uint32 }

func (*LaunchExecutableAnswer) Kind() Kind             { return KindLaunchExecutableAnswer }
func (m *LaunchExecutableAnswer) encodeBody(w *Writer) { w.WriteUint32(m.InReplyTo) }
func (m *LaunchExecutableAnswer) decodeBody(r *Reader) { m.InReplyTo = r.ReadUint32() }

type ExecutableDoneRequest struct {
	SequenceNum uint32
	ResultCode  uint32
}

func (*ExecutableDoneRequest) Kind() Kind { return KindExecutableDoneRequest }
func (m *ExecutableDoneRequest) encodeBody(w *Writer) {
	w.WriteUint32(m.SequenceNum)
	w.WriteUint32(m.ResultCode)
}
func (m *ExecutableDoneRequest) decodeBody(r *Reader) {
	m.SequenceNum = r.ReadUint32()
	m.ResultCode = r.ReadUint32()
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
