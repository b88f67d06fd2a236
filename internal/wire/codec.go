package wire

import "github.com/pkg/errors"

// ErrOversizeFrame is returned by Encode when the encoded frame would be
// longer than MaxFrameSize (the transport layer separately enforces its
// own buffer capacity on inbound frames; see internal/transport).
var ErrOversizeFrame = errors.New("wire: frame exceeds maximum size")

// Encode writes msg's header and body into dst, returning the number of
// bytes written. dst must be at least HeaderSize+body-size bytes; callers
// that don't know the body size up front should size dst generously (the
// transport layer's pooled buffers are sized for this) and reslice to the
// returned length.
func Encode(dst []byte, flags Flags, msg Message) (int, error) {
	w := NewWriter(dst[HeaderSize:])
	msg.encodeBody(w)
	if w.Err() != nil {
		return 0, errors.Wrap(w.Err(), "encode body")
	}

	total := HeaderSize + w.Len()
	if total > MaxFrameSize {
		return 0, ErrOversizeFrame
	}

	hdr := Header{Type: msg.Kind(), Flags: flags, Length: uint16(total)}
	hdr.encode(dst)
	return total, nil
}

// Decode parses a complete frame (header + body, as delimited by
// PeekFrameLength) and returns the header and the decoded body.
func Decode(frame []byte) (Header, Message, error) {
	if len(frame) < HeaderSize {
		return Header{}, nil, ErrShortHeader
	}
	hdr := decodeHeader(frame)
	if int(hdr.Length) != len(frame) {
		return Header{}, nil, errors.Errorf("wire: header length %d does not match frame length %d", hdr.Length, len(frame))
	}

	msg, err := newMessage(hdr.Type)
	if err != nil {
		return Header{}, nil, err
	}

	r := NewReader(frame[HeaderSize:])
	msg.decodeBody(r)
	if r.Err() != nil {
		return Header{}, nil, errors.Wrapf(r.Err(), "decode %s body", hdr.Type)
	}
	return hdr, msg, nil
}

func newMessage(k Kind) (Message, error) {
	switch k {
	case KindHandshakeRequest:
		return &HandshakeRequest{}, nil
	case KindPingRequest:
		return &PingRequest{}, nil
	case KindPingAnswer:
		return &PingAnswer{}, nil
	case KindErrorAnswer:
		return &ErrorAnswer{}, nil
	case KindOpenHandleRequest:
		return &OpenHandleRequest{}, nil
	case KindOpenHandleAnswer:
		return &OpenHandleAnswer{}, nil
	case KindCloseHandleRequest:
		return &CloseHandleRequest{}, nil
	case KindReadFileRequest:
		return &ReadFileRequest{}, nil
	case KindReadFileAnswer:
		return &ReadFileAnswer{}, nil
	case KindWriteFileRequest:
		return &WriteFileRequest{}, nil
	case KindWriteFileAnswer:
		return &WriteFileAnswer{}, nil
	case KindFindNextFileRequest:
		return &FindNextFileRequest{}, nil
	case KindFindNextFileAnswer:
		return &FindNextFileAnswer{}, nil
	case KindLaunchExecutableRequest:
		return &LaunchExecutableRequest{}, nil
	case KindLaunchExecutableAnswer:
		return &LaunchExecutableAnswer{}, nil
	case KindExecutableDoneRequest:
		return &ExecutableDoneRequest{}, nil
	default:
		return nil, errors.Errorf("wire: unknown message kind %d", k)
	}
}

// SequenceNumOf returns the sequence_num of a request message, or 0 if msg
// is not a request kind.
func SequenceNumOf(msg Message) (seq uint32, ok bool) {
	switch m := msg.(type) {
	case *HandshakeRequest:
		return m.SequenceNum, true
	case *PingRequest:
		return m.SequenceNum, true
	case *OpenHandleRequest:
		return m.SequenceNum, true
	case *CloseHandleRequest:
		return m.SequenceNum, true
	case *ReadFileRequest:
		return m.SequenceNum, true
	case *WriteFileRequest:
		return m.SequenceNum, true
	case *FindNextFileRequest:
		return m.SequenceNum, true
	case *LaunchExecutableRequest:
		return m.SequenceNum, true
	case *ExecutableDoneRequest:
		return m.SequenceNum, true
	default:
		return 0, false
	}
}

// InReplyToOf returns the in_reply_to of an answer message, or 0 if msg is
// not an answer kind.
func InReplyToOf(msg Message) (seq uint32, ok bool) {
	switch m := msg.(type) {
	case *PingAnswer:
		return m.InReplyTo, true
	case *ErrorAnswer:
		return m.InReplyTo, true
	case *OpenHandleAnswer:
		return m.InReplyTo, true
	case *ReadFileAnswer:
		return m.InReplyTo, true
	case *WriteFileAnswer:
		return m.InReplyTo, true
	case *FindNextFileAnswer:
		return m.InReplyTo, true
	case *LaunchExecutableAnswer:
		return m.InReplyTo, true
	default:
		return 0, false
	}
}

// SetInReplyTo stamps seq onto an answer message.
func SetInReplyTo(msg Message, seq uint32) {
	switch m := msg.(type) {
	case *PingAnswer:
		m.InReplyTo = seq
	case *ErrorAnswer:
		m.InReplyTo = seq
	case *OpenHandleAnswer:
		m.InReplyTo = seq
	case *ReadFileAnswer:
		m.InReplyTo = seq
	case *WriteFileAnswer:
		m.InReplyTo = seq
	case *FindNextFileAnswer:
		m.InReplyTo = seq
	case *LaunchExecutableAnswer:
		m.InReplyTo = seq
	}
}
