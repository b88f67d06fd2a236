package server_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deplinenoise/rlaunch/client"
	"github.com/deplinenoise/rlaunch/internal/peerconn"
	"github.com/deplinenoise/rlaunch/internal/wire"
	"github.com/deplinenoise/rlaunch/server"
)

// link wires two Peers together in memory, the same pattern
// internal/peerconn and client use for their own tests.
type link struct{ a, b *peerconn.Peer }

func (l *link) pump() {
	for i := 0; i < 64; i++ {
		movedA := pumpOne(l.a, l.b)
		movedB := pumpOne(l.b, l.a)
		if !movedA && !movedB {
			return
		}
	}
}

func pumpOne(from, to *peerconn.Peer) bool {
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

// newTestStack wires a real client.FS (target side) against a real
// server.Dispatcher (controller side, rooted at dir on the host disk),
// linked in memory exactly as production code links them over a TCP
// socket.
func newTestStack(t *testing.T, dir string) (*client.FS, *server.Dispatcher, *link) {
	t.Helper()

	var fs *client.FS
	tgt := peerconn.New(peerconn.Config{
		Role:      peerconn.RoleTarget,
		Ident:     "target",
		Identity:  peerconn.Identity{PlatformName: "amiga", NodeName: "a4000"},
		Callbacks: client.NewCallbacks(&fs),
	})
	fs = client.New(tgt, nil)

	var dispatcher *server.Dispatcher
	ctrl := peerconn.New(peerconn.Config{
		Role:     peerconn.RoleController,
		Ident:    "controller",
		Identity: peerconn.Identity{PlatformName: "linux", NodeName: "ctrlhost"},
		Callbacks: peerconn.Callbacks{
			OnMessage: func(p *peerconn.Peer, msg wire.Message) error { return dispatcher.OnMessage(p, msg) },
		},
	})
	dispatcher = server.NewDispatcher(ctrl, server.NewNativeFileSystem(dir), nil)

	l := &link{a: ctrl, b: tgt}
	l.pump()
	return fs, dispatcher, l
}

func TestOpenReadCloseAgainstRealDisk(t *testing.T) {
	dir := t.TempDir()
	want := []byte("hello from the host filesystem")
	if err := os.WriteFile(filepath.Join(dir, "greeting.txt"), want, 0644); err != nil {
		t.Fatal(err)
	}

	fs, _, l := newTestStack(t, dir)

	h, err := openSync(fs, l, fs.Root(), "greeting.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	got := make([]byte, len(want))
	n, err := readAll(fs, l, h, got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(want) || string(got[:n]) != string(want) {
		t.Fatalf("got %q (%d bytes), want %q", got[:n], n, want)
	}

	fs.Close(h)
	l.pump()
}

func TestOpenMissingFileTranslatesNotFound(t *testing.T) {
	dir := t.TempDir()
	fs, _, l := newTestStack(t, dir)

	_, err := openSync(fs, l, fs.Root(), "nope.txt")
	if err == nil {
		t.Fatal("expected an error")
	}
	wireErr, ok := err.(*wire.WireError)
	if !ok {
		t.Fatalf("got %T, want *wire.WireError", err)
	}
	if wireErr.Code != wire.ErrNotFound {
		t.Fatalf("got code %v, want ErrNotFound", wireErr.Code)
	}
}

func TestExamineNextEnumeratesDirectoryEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	fs, _, l := newTestStack(t, dir)

	root, err := openSync(fs, l, fs.Root(), "")
	if err != nil {
		t.Fatalf("open root: %v", err)
	}

	var names []string
	for {
		entry, end, err := examineNextSync(fs, l, root)
		if err != nil {
			t.Fatalf("examine-next: %v", err)
		}
		if end {
			break
		}
		names = append(names, entry.Name)
	}

	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Fatalf("got names %v", names)
	}
}

// openSync drives fs.Open from a goroutine while cooperatively pumping the
// link, since Open blocks on a wire round trip that only resolves once
// both peers have been pumped.
func openSync(fs *client.FS, l *link, parent client.Handle, name string) (client.Handle, error) {
	type result struct {
		h   client.Handle
		err error
	}
	ch := make(chan result, 1)
	go func() {
		h, err := fs.Open(parent, name)
		ch <- result{h, err}
	}()
	for i := 0; i < 64; i++ {
		l.pump()
		select {
		case r := <-ch:
			return r.h, r.err
		case <-time.After(time.Millisecond):
		}
	}
	panic("openSync: link never settled")
}

// examineNextSync drives fs.ExamineNext the same way openSync drives Open.
func examineNextSync(fs *client.FS, l *link, dir client.Handle) (client.DirEntry, bool, error) {
	type result struct {
		entry client.DirEntry
		end   bool
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		entry, end, err := fs.ExamineNext(dir)
		ch <- result{entry, end, err}
	}()
	for i := 0; i < 64; i++ {
		l.pump()
		select {
		case r := <-ch:
			return r.entry, r.end, r.err
		case <-time.After(time.Millisecond):
		}
	}
	panic("examineNextSync: link never settled")
}

func readAll(fs *client.FS, l *link, h client.Handle, dst []byte) (int, error) {
	done := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		n, err := fs.Read(h, dst)
		done <- struct {
			n   int
			err error
		}{n, err}
	}()
	for i := 0; i < 64; i++ {
		l.pump()
		select {
		case r := <-done:
			return r.n, r.err
		case <-time.After(time.Millisecond):
		}
	}
	panic("readAll: link never settled")
}
