package pending

import (
	"testing"

	"github.com/deplinenoise/rlaunch/internal/wire"
)

func TestRegisterAndResolveInAnyOrder(t *testing.T) {
	tbl := New()
	tbl.Register(1, &Open{Path: "a"})
	tbl.Register(2, &ExamineNext{Handle: 7})
	tbl.Register(3, &LaunchAck{Path: "b"})

	// Resolve out of registration order, as §8's "out-of-order delivery"
	// property exercises at the peer level.
	c3, isErr, err := tbl.Resolve(3, wire.KindLaunchExecutableAnswer)
	if err != nil || isErr || c3 == nil {
		t.Fatalf("resolve 3: %v, %v, %v", c3, isErr, err)
	}
	if _, ok := c3.(*LaunchAck); !ok {
		t.Fatalf("got %T", c3)
	}

	c1, isErr, err := tbl.Resolve(1, wire.KindOpenHandleAnswer)
	if err != nil || isErr || c1 == nil {
		t.Fatalf("resolve 1: %v, %v, %v", c1, isErr, err)
	}

	c2, isErr, err := tbl.Resolve(2, wire.KindFindNextFileAnswer)
	if err != nil || isErr || c2 == nil {
		t.Fatalf("resolve 2: %v, %v, %v", c2, isErr, err)
	}

	if tbl.Len() != 0 {
		t.Fatalf("table should be empty, has %d entries", tbl.Len())
	}
}

func TestResolveUnknownSequenceIsNotAnError(t *testing.T) {
	tbl := New()
	c, isErr, err := tbl.Resolve(42, wire.KindOpenHandleAnswer)
	if err != nil || isErr {
		t.Fatalf("unexpected error: %v, %v", isErr, err)
	}
	if c != nil {
		t.Fatalf("expected nil continuation, got %v", c)
	}
}

func TestResolveGenericErrorAnswerAlwaysMatches(t *testing.T) {
	tbl := New()
	tbl.Register(5, &Open{Path: "x"})

	c, isErr, err := tbl.Resolve(5, wire.KindErrorAnswer)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !isErr {
		t.Fatal("expected isError=true for a generic error_answer")
	}
	if c == nil {
		t.Fatal("expected the continuation back so its caller can be failed")
	}
	if tbl.Len() != 0 {
		t.Fatal("entry must be removed after a generic error_answer")
	}
}

func TestResolveKindMismatchIsFatalAndRemovesEntry(t *testing.T) {
	tbl := New()
	tbl.Register(5, &Open{Path: "x"})

	// Neither error_answer nor open_handle_answer: a genuine protocol
	// violation, not a recoverable failure.
	c, isErr, err := tbl.Resolve(5, wire.KindPingAnswer)
	if c == nil || isErr {
		t.Fatalf("expected the continuation back on mismatch so its caller can be failed, got %v, isErr=%v", c, isErr)
	}
	mismatch, ok := err.(*ErrKindMismatch)
	if !ok {
		t.Fatalf("expected *ErrKindMismatch, got %T (%v)", err, err)
	}
	if mismatch.Expected != wire.KindOpenHandleAnswer || mismatch.Got != wire.KindPingAnswer {
		t.Fatalf("unexpected mismatch detail: %+v", mismatch)
	}
	if tbl.Len() != 0 {
		t.Fatal("mismatched entry must still be removed from the table")
	}
}

func TestRequeuePreservesContinuationUnderNewSequence(t *testing.T) {
	tbl := New()
	op := &ReadMultiRound{Handle: 3, Dest: make([]byte, 100)}
	tbl.Register(10, op)

	tbl.Requeue(10, 11, op)

	if _, _, err := tbl.Resolve(10, wire.KindReadFileAnswer); err != nil {
		t.Fatalf("unexpected error resolving stale seq: %v", err)
	}
	got, isErr, err := tbl.Resolve(11, wire.KindReadFileAnswer)
	if err != nil || isErr || got != op {
		t.Fatalf("expected to resolve the requeued op, got %v, isErr=%v, err=%v", got, isErr, err)
	}
}

func TestDrainReturnsAndClearsEverything(t *testing.T) {
	tbl := New()
	tbl.Register(1, &Open{Path: "a"})
	tbl.Register(2, &CloseAck{Handle: 9})

	drained := tbl.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained ops, got %d", len(drained))
	}
	if tbl.Len() != 0 {
		t.Fatal("table must be empty after Drain")
	}
}
