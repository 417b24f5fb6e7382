// FUSE adapter: the go-fuse node types that expose a Core as a mountable
// filesystem, built around a rootNode/pathNode/loopbackFile split where
// every metadata and data operation routes through Core.Locate/OnOpen/
// OnRead/OnClose instead of an in-memory TTL cache. Write-path operations
// (Create/Write/Mkdir/Unlink/Rmdir/Rename) always return syscall.EROFS
// rather than being dropped silently.
package cachefs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// entryTimeout is the FUSE kernel-cache timeout for names and attributes.
// Short, because Core already owns the authoritative cache-vs-source
// decision; this only avoids redundant round trips for a rapid re-stat.
const entryTimeout = time.Second

var fdCounter uint64

func nextFD() uint64 {
	return atomic.AddUint64(&fdCounter, 1)
}

// rootNode is the mount root; its virtual path is "/".
type rootNode struct {
	fs.Inode
	core *Core
}

// pathNode is every non-root node, identified by its virtual path.
type pathNode struct {
	fs.Inode
	core  *Core
	vpath string
}

func (r *rootNode) virtualPath() string { return "/" }
func (n *pathNode) virtualPath() string { return n.vpath }

type pather interface {
	virtualPath() string
}

func childPath(parent pather, name string) string {
	return filepath.Join(parent.virtualPath(), name)
}

// NewRoot constructs the root inode operations for an fs.Mount call.
func NewRoot(core *Core) fs.InodeEmbedder {
	return &rootNode{core: core}
}

func (r *rootNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return statPath(r.core, r.virtualPath(), out)
}

func (n *pathNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return statPath(n.core, n.vpath, out)
}

// locateErrno maps a Locate failure to an errno. Locate wraps the
// underlying os error via go-errors, so a plain fs.ToErrno(err) can't see
// through the wrapper to recognize ENOENT; errors.Is still can, since
// go-errors' Wrap preserves the chain for errors.Is/As.
func locateErrno(err error) syscall.Errno {
	if errors.Is(err, os.ErrNotExist) {
		return syscall.ENOENT
	}
	return syscall.EIO
}

func statPath(core *Core, vpath string, out *fuse.AttrOut) syscall.Errno {
	info, err := core.Locate(vpath)
	if err != nil {
		return locateErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(info.Fullpath, &st); err != nil {
		return fs.ToErrno(err)
	}
	out.FromStat(&st)
	out.SetTimeout(entryTimeout)
	return 0
}

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return lookupChild(ctx, &r.Inode, r.core, childPath(r, name), out)
}

func (n *pathNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return lookupChild(ctx, &n.Inode, n.core, childPath(n, name), out)
}

func lookupChild(ctx context.Context, parent *fs.Inode, core *Core, vpath string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	info, err := core.Locate(vpath)
	if err != nil {
		return nil, locateErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(info.Fullpath, &st); err != nil {
		return nil, fs.ToErrno(err)
	}
	out.FromStat(&st)
	out.SetEntryTimeout(entryTimeout)
	out.SetAttrTimeout(entryTimeout)

	child := &pathNode{core: core, vpath: vpath}
	return parent.NewInode(ctx, child, fs.StableAttr{Mode: st.Mode, Ino: st.Ino}), 0
}

// dirStream lists the underlying source directory; the source tree is
// authoritative for structure (the cache mirrors a subset of it), so
// directory listings never consult the cache root.
type dirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *dirStream) HasNext() bool { return s.index < len(s.entries) }

func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if !s.HasNext() {
		return fuse.DirEntry{}, syscall.ENOENT
	}
	e := s.entries[s.index]
	s.index++
	return e, 0
}

func (s *dirStream) Close() {}

func (r *rootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return readSourceDir(r.core, r.virtualPath())
}

func (n *pathNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return readSourceDir(n.core, n.vpath)
}

func readSourceDir(core *Core, vpath string) (fs.DirStream, syscall.Errno) {
	sourceDir := filepath.Join(core.cfg.SourceRoot, vpath)
	names, err := readDirNames(sourceDir)
	if err != nil {
		return nil, fs.ToErrno(err)
	}

	out := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		var st syscall.Stat_t
		if err := syscall.Lstat(filepath.Join(sourceDir, name), &st); err != nil {
			continue
		}
		out = append(out, fuse.DirEntry{Name: name, Mode: uint32(st.Mode), Ino: st.Ino})
	}
	return &dirStream{entries: out}, 0
}

func (n *pathNode) Opendir(ctx context.Context) syscall.Errno { return 0 }

func readDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

// Open resolves the backing file (cache or source, per Core.Locate),
// opens it read-only, and registers the descriptor with Core's Open-File
// Tracker so preload decisions can be driven by hold-open time and bytes
// read.
func (n *pathNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	info, err := n.core.Locate(n.vpath)
	if err != nil {
		return nil, 0, locateErrno(err)
	}

	fd, oerr := syscall.Open(info.Fullpath, syscall.O_RDONLY, 0)
	if oerr != nil {
		return nil, 0, fs.ToErrno(oerr)
	}

	handle := nextFD()
	if err := n.core.OnOpen(handle, n.vpath); err != nil {
		// Tracking failure never blocks the read path; the file is still
		// usable, just without preload instrumentation.
		_ = err
	}

	return &loopbackFile{fd: fd, core: n.core, handle: handle}, 0, 0
}

// The following mutating operations are rejected outright: this is a
// read-only filesystem.
func (r *rootNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}
func (n *pathNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}
func (r *rootNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}
func (n *pathNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}
func (r *rootNode) Unlink(ctx context.Context, name string) syscall.Errno { return syscall.EROFS }
func (n *pathNode) Unlink(ctx context.Context, name string) syscall.Errno { return syscall.EROFS }
func (r *rootNode) Rmdir(ctx context.Context, name string) syscall.Errno  { return syscall.EROFS }
func (n *pathNode) Rmdir(ctx context.Context, name string) syscall.Errno  { return syscall.EROFS }
func (r *rootNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}
func (n *pathNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

// loopbackFile is an open read-only descriptor, passthrough for Read,
// instrumented for Core's byte-volume trigger.
type loopbackFile struct {
	fd     int
	core   *Core
	handle uint64
}

func (f *loopbackFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := syscall.Pread(f.fd, dest, off)
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	f.core.OnRead(f.handle, int64(n))
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *loopbackFile) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	return 0, syscall.EROFS
}

func (f *loopbackFile) Release(ctx context.Context) syscall.Errno {
	f.core.OnClose(f.handle)
	return fs.ToErrno(syscall.Close(f.fd))
}
