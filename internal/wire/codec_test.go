package wire

import (
	"bytes"
	"fmt"
	"testing"
)

func roundTrip(t *testing.T, flags Flags, msg Message) Message {
	t.Helper()
	buf := make([]byte, MaxFrameSize)
	n, err := Encode(buf, flags, msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n != int(PeekFrameLength(buf[:n])) {
		t.Fatalf("length prefix %d does not match encoded length %d", PeekFrameLength(buf[:n]), n)
	}
	hdr, decoded, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hdr.Type != msg.Kind() {
		t.Fatalf("decoded kind %v != encoded kind %v", hdr.Type, msg.Kind())
	}
	if hdr.Flags != flags {
		t.Fatalf("decoded flags %v != encoded flags %v", hdr.Flags, flags)
	}
	return decoded
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		flags Flags
		msg   Message
	}{
		{"handshake", FlagRequest, &HandshakeRequest{
			SequenceNum: 1, VersionMajor: 1, VersionMinor: 0,
			PlatformName: "AmigaOS", NodeName: "amiga1",
			PlatformVersion: "Kickstart V40", PasswordHash: "****",
		}},
		{"ping-request", FlagRequest, &PingRequest{SequenceNum: 42}},
		{"ping-answer", 0, &PingAnswer{InReplyTo: 42}},
		{"error-answer", FlagError, &ErrorAnswer{InReplyTo: 7, Code: ErrNotFound}},
		{"open-request", FlagRequest, &OpenHandleRequest{SequenceNum: 2, Path: "foo.txt", Mode: OpenRead}},
		{"open-answer", 0, &OpenHandleAnswer{InReplyTo: 2, Handle: 3, Type: NodeFile, Size: 10}},
		{"close-request", FlagRequest, &CloseHandleRequest{SequenceNum: 5, Handle: 3}},
		{"read-request", FlagRequest, &ReadFileRequest{SequenceNum: 6, Handle: 3, OffsetLo: 4, Length: 512}},
		{"read-answer", 0, &ReadFileAnswer{InReplyTo: 6, Data: []byte("hello world")}},
		{"read-answer-empty", 0, &ReadFileAnswer{InReplyTo: 6, Data: nil}},
		{"write-request", FlagRequest, &WriteFileRequest{SequenceNum: 9, Handle: 3, Data: []byte("abc")}},
		{"write-answer", 0, &WriteFileAnswer{InReplyTo: 9}},
		{"find-next-request", FlagRequest, &FindNextFileRequest{SequenceNum: 11, Handle: 4, Reset: true}},
		{"find-next-answer", 0, &FindNextFileAnswer{InReplyTo: 11, Type: NodeDirectory, Size: 0, Name: "subdir"}},
		{"find-next-eof", 0, &FindNextFileAnswer{InReplyTo: 11, EndOfSequence: true}},
		{"launch-request", FlagRequest, &LaunchExecutableRequest{SequenceNum: 1, Path: "c:info", Arguments: ""}},
		{"launch-answer", 0, &LaunchExecutableAnswer{InReplyTo: 1}},
		{"done-request", FlagRequest, &ExecutableDoneRequest{SequenceNum: 0, ResultCode: 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded := roundTrip(t, tc.flags, tc.msg)
			compareMessages(t, tc.msg, decoded)
		})
	}
}

func compareMessages(t *testing.T, want, got Message) {
	t.Helper()
	switch w := want.(type) {
	case *ReadFileAnswer:
		g := got.(*ReadFileAnswer)
		if g.InReplyTo != w.InReplyTo || !bytes.Equal(g.Data, w.Data) {
			t.Fatalf("read answer mismatch: want %+v got %+v", w, g)
		}
	case *WriteFileRequest:
		g := got.(*WriteFileRequest)
		if g.SequenceNum != w.SequenceNum || g.Handle != w.Handle || !bytes.Equal(g.Data, w.Data) {
			t.Fatalf("write request mismatch: want %+v got %+v", w, g)
		}
	default:
		// The remaining message types contain only comparable fields, so
		// formatting both sides and comparing text is a safe, simple check.
		if fmt.Sprintf("%+v", want) != fmt.Sprintf("%+v", got) {
			t.Fatalf("message mismatch: want %#v got %#v", want, got)
		}
	}
}

func TestStringTooLong(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	buf := make([]byte, MaxFrameSize)
	_, err := Encode(buf, FlagRequest, &OpenHandleRequest{Path: string(long)})
	if err == nil {
		t.Fatal("expected error encoding an over-long string")
	}
}

func TestMissingNUL(t *testing.T) {
	buf := make([]byte, MaxFrameSize)
	n, err := Encode(buf, FlagRequest, &OpenHandleRequest{SequenceNum: 1, Path: "x", Mode: OpenRead})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Corrupt the NUL terminator of the path string. Header is 4 bytes,
	// SequenceNum is 4 bytes, then 1-byte length, then "x", then NUL.
	nulOffset := HeaderSize + 4 + 1 + 1
	buf[nulOffset] = 'Y'
	if _, _, err := Decode(buf[:n]); err == nil {
		t.Fatal("expected decode failure for missing trailing NUL")
	}
}

func TestOversizeFrameRejectedAtEncode(t *testing.T) {
	// A read answer whose data alone exceeds MaxFrameSize can't be encoded.
	big := make([]byte, MaxFrameSize)
	buf := make([]byte, MaxFrameSize*2)
	_, err := Encode(buf, 0, &ReadFileAnswer{InReplyTo: 1, Data: big})
	if err != ErrOversizeFrame {
		t.Fatalf("expected ErrOversizeFrame, got %v", err)
	}
}

func TestDecodeHeaderLengthMismatch(t *testing.T) {
	buf := make([]byte, MaxFrameSize)
	n, err := Encode(buf, FlagRequest, &PingRequest{SequenceNum: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Feed one byte too few: the declared length won't match len(frame).
	if _, _, err := Decode(buf[:n-1]); err == nil {
		t.Fatal("expected error decoding a truncated frame")
	}
}
