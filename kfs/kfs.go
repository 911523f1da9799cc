// Package kfs provides the file-object contract the kernel cores depend
// on, plus a small in-memory filesystem that implements it.
//
// Per spec.md §1, "the on-disk file system" is explicitly out of scope;
// only the file object API is contractual. This package is that contract
// (Handle) together with a reference implementation good enough to drive
// process/exec/fork/wait and the VM file-backed page kind end to end.
package kfs

import (
	"sync"

	"pintsim/kerrors"
)

// Handle is one open reference to a file. Two handles obtained by
// Duplicate share the same backing content but track independent
// positions, matching fork's fd-duplication contract (spec.md §4.3 step
// 4, tested by scenario 6 in spec.md §8): a child's duplicated handle
// starts at the parent's position at fork time but then moves
// independently.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Length() int64
	Seek(pos int64)
	Tell() int64
	Close() error
	Duplicate() (Handle, error)
	DenyWrite() bool
}

// inode is the shared backing store for a file's content.
type inode struct {
	mu   sync.Mutex
	name string
	data []byte
}

// FS is an in-memory filesystem implementing the Handle contract above.
// Name-table operations (Create, Remove, Exists, Open) are serialized
// behind one FS mutex and each file's content behind a per-file mutex;
// a handle's position (Seek, Tell) is not guarded.
type FS struct {
	mu    sync.Mutex
	files map[string]*inode
}

// New creates an empty filesystem.
func New() *FS {
	return &FS{files: make(map[string]*inode)}
}

// Create makes an empty file of the given initial size. Returns false if
// the name already exists.
func (fs *FS) Create(name string, initialSize int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, exists := fs.files[name]; exists {
		return false
	}
	if initialSize < 0 {
		initialSize = 0
	}
	fs.files[name] = &inode{name: name, data: make([]byte, initialSize)}
	return true
}

// Remove unlinks a file. Returns false if it did not exist. Existing open
// handles continue to reference the content (the inode is not freed while
// a Handle holds a pointer to it), matching POSIX unlink-while-open
// semantics.
func (fs *FS) Remove(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, exists := fs.files[name]; !exists {
		return false
	}
	delete(fs.files, name)
	return true
}

// Exists reports whether name currently exists.
func (fs *FS) Exists(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[name]
	return ok
}

// Open returns a fresh Handle onto name. denyWrite marks the handle as
// write-denied, used by the syscall boundary when a process opens its own
// running executable (spec.md §6 "open": "if path == current process
// name, deny writes to the returned handle").
func (fs *FS) Open(name string, denyWrite bool) (Handle, error) {
	fs.mu.Lock()
	ino, exists := fs.files[name]
	fs.mu.Unlock()
	if !exists {
		return nil, kerrors.Wrap(nil, kerrors.ErrFS, "open "+name)
	}
	return &memHandle{inode: ino, denyWrite: denyWrite}, nil
}

// memHandle is the in-memory Handle implementation.
type memHandle struct {
	inode     *inode
	pos       int64
	denyWrite bool
}

func (h *memHandle) Length() int64 {
	h.inode.mu.Lock()
	defer h.inode.mu.Unlock()
	return int64(len(h.inode.data))
}

func (h *memHandle) Seek(pos int64) { h.pos = pos }
func (h *memHandle) Tell() int64    { return h.pos }

func (h *memHandle) ReadAt(p []byte, off int64) (int, error) {
	h.inode.mu.Lock()
	defer h.inode.mu.Unlock()
	if off >= int64(len(h.inode.data)) {
		return 0, nil
	}
	n := copy(p, h.inode.data[off:])
	return n, nil
}

func (h *memHandle) WriteAt(p []byte, off int64) (int, error) {
	if h.denyWrite {
		return 0, nil
	}
	h.inode.mu.Lock()
	defer h.inode.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(h.inode.data)) {
		grown := make([]byte, end)
		copy(grown, h.inode.data)
		h.inode.data = grown
	}
	n := copy(h.inode.data[off:], p)
	return n, nil
}

func (h *memHandle) Read(p []byte) (int, error) {
	n, err := h.ReadAt(p, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *memHandle) Write(p []byte) (int, error) {
	n, err := h.WriteAt(p, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *memHandle) Close() error { return nil }

func (h *memHandle) Duplicate() (Handle, error) {
	return &memHandle{inode: h.inode, pos: h.pos, denyWrite: h.denyWrite}, nil
}

func (h *memHandle) DenyWrite() bool { return h.denyWrite }
