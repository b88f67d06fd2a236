package client

import (
	"github.com/deplinenoise/rlaunch/internal/pending"
	"github.com/deplinenoise/rlaunch/internal/wire"
)

// Read fills dst from h's virtual file position, advancing it by the
// number of bytes returned, per spec.md §4.5's read-ahead algorithm.
func (fs *FS) Read(h Handle, dst []byte) (int, error) {
	rec := h.rec
	rec.mu.Lock()

	copied := uint32(0)
	if n := serveFromReadAhead(rec, dst); n > 0 {
		copied = n
		if int(copied) == len(dst) {
			rec.mu.Unlock()
			return int(copied), nil
		}
	}

	serverHandle := rec.serverHandle
	offset := rec.offset
	rec.mu.Unlock()

	seq := fs.peer.NextSequenceNum()
	op := &pending.ReadMultiRound{
		Dest:   dst[copied:],
		Handle: serverHandle,
		Done:   make(chan struct{}),
		Ctx:    rec,
	}
	fs.pending.Register(seq, op)

	if err := fs.transmitReadRequest(seq, serverHandle, offset, uint32(len(op.Dest))); err != nil {
		fs.pending.Remove(seq)
		return int(copied), err
	}

	<-op.Done
	return int(copied) + op.N, op.Err
}

// serveFromReadAhead copies whatever of dst the handle's cached read-ahead
// window can satisfy, mirroring buffer_overlap + the early-out branch of
// action_read. It does not block and never touches the network.
func serveFromReadAhead(rec *handleRecord, dst []byte) uint32 {
	if rec.buf == nil || rec.bufLen == 0 {
		return 0
	}
	lo, hi := rec.bufStart, rec.bufStart+uint64(rec.bufLen)
	if rec.offset < lo || rec.offset >= hi {
		return 0
	}

	avail := uint32(hi - rec.offset)
	bufOff := uint32(rec.offset - lo)
	count := avail
	if uint32(len(dst)) < count {
		count = uint32(len(dst))
	}
	// bufOff+count can exceed len(rec.buf) when bufLen was set past the
	// buffer's real capacity on a previous round -- see completeRead's doc
	// comment. copy() clamps silently rather than panicking, so this
	// serves whatever bytes are actually present and no more.
	n := copy(dst[:count], safeSlice(rec.buf, bufOff, count))
	rec.offset += uint64(n)
	return uint32(n)
}

// safeSlice returns buf[off:off+n], clamped to buf's actual bounds.
func safeSlice(buf []byte, off, n uint32) []byte {
	if off >= uint32(len(buf)) {
		return nil
	}
	end := off + n
	if end > uint32(len(buf)) {
		end = uint32(len(buf))
	}
	return buf[off:end]
}

func (fs *FS) transmitReadRequest(seq, serverHandle uint32, offset uint64, count uint32) error {
	// Always request at least a full read-ahead buffer's worth, so a
	// later small read can be served locally (spec.md §4.5 step 3;
	// transmit_read_request's RL_MAX_MACRO(count, sizeof(handle->buffer))
	// in the original).
	if count < readAheadBufferSize {
		count = readAheadBufferSize
	}
	return fs.peer.TransmitMessage(wire.FlagRequest, &wire.ReadFileRequest{
		SequenceNum: seq,
		Handle:      serverHandle,
		OffsetHi:    uint32(offset >> 32),
		OffsetLo:    uint32(offset),
		Length:      count,
	})
}

// completeRead resumes a ReadMultiRound continuation with a
// read_file_answer, the Go translation of complete_read in the original.
func (fs *FS) completeRead(op *pending.ReadMultiRound, msg *wire.ReadFileAnswer) {
	rec, _ := op.Ctx.(*handleRecord)
	if rec == nil {
		// Should never happen: Read always populates Ctx before
		// registering the op. Guard anyway rather than panic on a nil
		// dereference below.
		close(op.Done)
		return
	}

	rec.mu.Lock()

	amountRead := uint32(len(msg.Data))
	amountLeft := uint32(len(op.Dest)) - uint32(op.N)
	sliceAmount := amountLeft
	if amountRead < sliceAmount {
		sliceAmount = amountRead
	}

	copy(op.Dest[op.N:op.N+int(sliceAmount)], msg.Data[:sliceAmount])
	rec.offset += uint64(sliceAmount)
	op.N += int(sliceAmount)

	if op.N == len(op.Dest) || amountRead == 0 {
		// Any extra data the server sent beyond what this call needed
		// becomes the new read-ahead window. RL_NOTE: handle->buffer_len
		// is assigned amount_read - slice_amount without clamping it to
		// the read-ahead buffer's actual capacity in the original; this
		// is preserved as-is (see the read-ahead buffer discussion) --
		// rec.buf itself is never written past its capacity since Go's
		// copy() clamps, but rec.bufLen can still overstate how much of
		// it is genuinely valid.
		rec.bufStart = rec.offset
		rec.bufLen = amountRead - sliceAmount
		copy(rec.buf, msg.Data[sliceAmount:])
		rec.mu.Unlock()

		close(op.Done)
		return
	}

	rec.mu.Unlock()

	// Not yet satisfied and the answer wasn't short: requeue for another
	// round with a fresh sequence number (complete_read's "just grab the
	// next sequence number and requeue the same operation").
	newSeq := fs.peer.NextSequenceNum()
	oldSeq, _ := wire.InReplyToOf(msg) // == the seq this round answered
	fs.pending.Requeue(oldSeq, newSeq, op)

	rec.mu.Lock()
	offset := rec.offset
	rec.mu.Unlock()

	if err := fs.transmitReadRequest(newSeq, op.Handle, offset, uint32(len(op.Dest)-op.N)); err != nil {
		op.Err = err
		fs.pending.Remove(newSeq)
		close(op.Done)
	}
}
