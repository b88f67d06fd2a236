// Package wire implements the rlaunch framed message codec: a 4-byte
// {type, flags, length} header followed by a kind-specific body, all
// integers big-endian, strings as one length byte plus payload plus a
// trailing NUL, byte arrays as a 4-byte big-endian length plus raw bytes.
package wire

import (
	"github.com/pkg/errors"
)

// HeaderSize is the number of bytes in the fixed frame header.
const HeaderSize = 4

// MaxFrameSize is the largest frame the wire format can express: the
// length field is a u16 covering the whole frame including the header.
const MaxFrameSize = 0xffff

// Kind identifies a message type. Values match the original protocol's
// rl_msg_kind_t enumeration ordering is not load-bearing on the wire (the
// type byte is whatever we assign here), only internal consistency between
// encoder and decoder matters since both roles in this module share this
// package.
type Kind uint8

const (
	KindHandshakeRequest Kind = iota + 1
	KindPingRequest
	KindPingAnswer
	KindErrorAnswer
	KindOpenHandleRequest
	KindOpenHandleAnswer
	KindCloseHandleRequest
	KindReadFileRequest
	KindReadFileAnswer
	KindWriteFileRequest
	KindWriteFileAnswer
	KindFindNextFileRequest
	KindFindNextFileAnswer
	KindLaunchExecutableRequest
	KindLaunchExecutableAnswer
	KindExecutableDoneRequest
)

func (k Kind) String() string {
	switch k {
	case KindHandshakeRequest:
		return "handshake_request"
	case KindPingRequest:
		return "ping_request"
	case KindPingAnswer:
		return "ping_answer"
	case KindErrorAnswer:
		return "error_answer"
	case KindOpenHandleRequest:
		return "open_handle_request"
	case KindOpenHandleAnswer:
		return "open_handle_answer"
	case KindCloseHandleRequest:
		return "close_handle_request"
	case KindReadFileRequest:
		return "read_file_request"
	case KindReadFileAnswer:
		return "read_file_answer"
	case KindWriteFileRequest:
		return "write_file_request"
	case KindWriteFileAnswer:
		return "write_file_answer"
	case KindFindNextFileRequest:
		return "find_next_file_request"
	case KindFindNextFileAnswer:
		return "find_next_file_answer"
	case KindLaunchExecutableRequest:
		return "launch_executable_request"
	case KindLaunchExecutableAnswer:
		return "launch_executable_answer"
	case KindExecutableDoneRequest:
		return "executable_done_request"
	default:
		return "<unknown kind>"
	}
}

// Flag bits in the frame header.
const (
	FlagRequest Flags = 1 << 0
	FlagError   Flags = 1 << 1
)

type Flags uint8

func (f Flags) IsRequest() bool { return f&FlagRequest != 0 }

// Header is the fixed 4-byte preamble of every frame.
type Header struct {
	Type   Kind
	Flags  Flags
	Length uint16 // total frame size, including the header
}

func (h Header) encode(dst []byte) {
	dst[0] = byte(h.Type)
	dst[1] = byte(h.Flags)
	dst[2] = byte(h.Length >> 8)
	dst[3] = byte(h.Length)
}

func decodeHeader(src []byte) Header {
	return Header{
		Type:   Kind(src[0]),
		Flags:  Flags(src[1]),
		Length: uint16(src[2])<<8 | uint16(src[3]),
	}
}

// PeekFrameLength inspects the first 4 bytes of buf (if present) and
// returns the declared total frame length, or 0 if fewer than HeaderSize
// bytes are available yet. It never returns an error: malformed headers
// are only a fixed 4 bytes and every byte value decodes to a length, so
// "garbage" is detected downstream (oversize, a declared length of 1-3
// failing Decode, or body decode failure), not here. A declared length of
// 0 reads the same as "need more data", so the transport keeps buffering
// until its inbound buffer is full. This matches peer_peek_incoming in the
// original, which also never signals -1 for this wire format.
func PeekFrameLength(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	return int(decodeHeader(buf).Length)
}

// ErrShortHeader is returned by Decode when fewer than HeaderSize
// bytes are available.
var ErrShortHeader = errors.New("wire: short frame header")
