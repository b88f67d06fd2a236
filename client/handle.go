// Package client implements the target-side request layer (spec.md §4.5):
// it turns the eleven filesystem entry points a host OS integration needs
// ("open", "examine", "examine-next", "read", "seek", "unlock", "close",
// "info", "parent", "duplicate", "free") into wire traffic against a
// controller, using internal/peerconn for the connection and
// internal/pending for request/answer correlation.
//
// A real AmigaDOS handler (out of scope here, see server.FileSystem for
// the symmetrical host-side adapter seam) would sit directly on top of
// this package's FS type, translating DOS packets to these calls.
package client

import (
	"sync"

	"github.com/deplinenoise/rlaunch/internal/wire"
)

const readAheadBufferSize = 4096

// handleRecord is the mutable state behind a Handle: the client's cached
// copy of a server-side handle's identity plus, for files, the virtual
// seek cursor and read-ahead window. rl_client_handle_t in the original is
// the direct analogue.
type handleRecord struct {
	mu sync.Mutex

	serverHandle uint32
	nodeType     wire.NodeType
	size         uint32
	path         string // canonical path this handle was opened with

	offset uint64 // virtual file position

	bufStart uint64 // read-ahead window start, in file-offset space
	bufLen   uint32 // declared length of valid data in buf -- see
	// completeRead's comment on why this is not clamped to cap(buf)
	buf []byte

	// enumReset tracks the find_next_file_request reset flag: true before
	// the first ExamineNext call and again immediately after the server
	// reports end_of_sequence (spec.md §4.5 "Enumeration state").
	enumReset bool
}

// Handle is an opaque client-side reference to an open file or directory,
// or to the pseudo-root. The zero Handle is not valid; obtain one from
// FS.Root or FS.Open.
type Handle struct {
	rec *handleRecord
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.rec == nil }

func newHandle(serverHandle uint32, t wire.NodeType, size uint32, path string) Handle {
	return Handle{rec: &handleRecord{
		serverHandle: serverHandle,
		nodeType:     t,
		size:         size,
		path:         path,
		enumReset:    true,
		buf:          make([]byte, readAheadBufferSize),
	}}
}

func rootHandle() Handle {
	return newHandle(wire.HandlePseudoRoot, wire.NodeDirectory, 0, "")
}

// Info is the cached metadata behind a Handle (spec.md §4.5 bucket (a):
// "info" is always fully local).
type Info struct {
	Type NodeType
	Size uint32
	Path string
}

// NodeType mirrors wire.NodeType at the client API boundary so callers of
// this package never need to import internal/wire.
type NodeType uint8

const (
	NodeFile      NodeType = NodeType(wire.NodeFile)
	NodeDirectory NodeType = NodeType(wire.NodeDirectory)
)

// Info returns the handle's cached metadata without any network traffic.
func (fs *FS) Info(h Handle) Info {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	return Info{Type: NodeType(h.rec.nodeType), Size: h.rec.size, Path: h.rec.path}
}

// Seek repositions the handle's virtual file cursor. It never touches the
// network: a subsequent Read either serves from the read-ahead buffer or
// triggers a fresh round trip at the new offset, per spec.md §4.5 bucket
// (a).
func (fs *FS) Seek(h Handle, offset uint64) {
	h.rec.mu.Lock()
	h.rec.offset = offset
	h.rec.mu.Unlock()
}

// Duplicate clones a handle's cached state so the original and the clone
// evolve their virtual offsets independently, mirroring rl_client_handle_t
// being plain data duplicated by value in the original (§4.5 [EXPANSION]).
func (fs *FS) Duplicate(h Handle) Handle {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()

	clone := &handleRecord{
		serverHandle: h.rec.serverHandle,
		nodeType:     h.rec.nodeType,
		size:         h.rec.size,
		path:         h.rec.path,
		offset:       h.rec.offset,
		bufStart:     h.rec.bufStart,
		bufLen:       h.rec.bufLen,
		enumReset:    h.rec.enumReset,
	}
	if h.rec.buf != nil {
		clone.buf = append([]byte(nil), h.rec.buf...)
	}
	return Handle{rec: clone}
}

// Unlock drops a local-only handle (e.g. one obtained via Duplicate) with
// no wire traffic at all -- there is nothing server-side tied uniquely to
// it (§4.5 [EXPANSION]). The caller must not use h again afterward.
func (fs *FS) Unlock(h Handle) {}

// Free is Unlock's counterpart for handles whose underlying server handle
// genuinely needs no close (virtual stdin/stdout, or a handle already
// closed): it too is purely local (§4.5 [EXPANSION]).
func (fs *FS) Free(h Handle) {}

// Parent resolves the handle representing h's containing directory,
// fully locally: strip the last '/'-delimited path component, or resolve
// to the pseudo-root for a path with none, per §4.5 [EXPANSION] and
// allocate_parent_lock in the original (no round trip: the parent's
// identity is synthesized from the path string already cached on h,
// exactly as the original falls back to a freshly allocated lock rather
// than a cached one).
func (fs *FS) Parent(h Handle) Handle {
	h.rec.mu.Lock()
	path := h.rec.path
	h.rec.mu.Unlock()

	idx := lastSlash(path)
	if idx < 0 {
		return rootHandle()
	}
	return newHandle(wire.HandlePseudoRoot, wire.NodeDirectory, 0, path[:idx])
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// normalizePath implements spec.md §4.5's "Path normalisation" rule: a
// ':' strips everything up to and including itself and makes the lookup
// root-relative; otherwise a non-root parent's cached path is joined with
// '/'. The empty result denotes the pseudo-root.
func normalizePath(parent Handle, name string) string {
	if idx := lastColon(name); idx >= 0 {
		return name[idx+1:]
	}
	if parent.rec != nil && parent.rec.serverHandle != wire.HandlePseudoRoot {
		parentPath := parent.rec.path
		if parentPath == "" {
			return name
		}
		return parentPath + "/" + name
	}
	return name
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
