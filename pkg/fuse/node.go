package fuse

import (
	"context"
	"os"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/content"
	"github.com/lycheefs/lycheefs/pkg/tree"
	"github.com/lycheefs/lycheefs/pkg/vfs"
)

// Node is one path in the mounted tree. Every request resolves the path
// against the current snapshot, so nodes survive refreshes and report
// ENOENT once their path disappears.
type Node struct {
	fs.Inode

	fsys *vfs.FS
	path string
	uid  uint32
	gid  uint32
	log  *zap.Logger
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeReleaser = (*Node)(nil)
var _ fs.NodeGetxattrer = (*Node)(nil)
var _ fs.NodeListxattrer = (*Node)(nil)
var _ fs.NodeSetxattrer = (*Node)(nil)
var _ fs.NodeRemovexattrer = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeMknoder = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeSymlinker = (*Node)(nil)
var _ fs.NodeLinker = (*Node)(nil)
var _ fs.NodeWriter = (*Node)(nil)

// fileHandle wraps a content handle id.
type fileHandle struct {
	id content.HandleID
}

func (n *Node) child(name string) string {
	return path.Join(n.path, name)
}

func (n *Node) errno(op string, err error) syscall.Errno {
	e := vfs.Errno(err)
	if e == syscall.EIO {
		n.log.Warn(op+" failed", zap.String("path", n.path), zap.Error(err))
	}
	return e
}

// Getattr never downloads content. On an open, fetched handle the real
// length replaces the declared size.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	a, err := n.fsys.Getattr(n.path)
	if err != nil {
		return n.errno("getattr", err)
	}
	if h, ok := f.(*fileHandle); ok {
		if size, ok := n.fsys.HandleSize(h.id); ok {
			a.Size = size
		}
	}
	fillAttr(&out.Attr, a, n.uid, n.gid)
	return 0
}

func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	_, a, err := n.fsys.Stat(p)
	if err != nil {
		return nil, vfs.Errno(err)
	}
	fillAttr(&out.Attr, a, n.uid, n.gid)

	child := &Node{fsys: n.fsys, path: p, uid: n.uid, gid: n.gid, log: n.log}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode & syscall.S_IFMT}), 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	list, err := n.fsys.Readdir(n.path)
	if err != nil {
		return nil, n.errno("readdir", err)
	}
	entries := make([]gofuse.DirEntry, 0, len(list))
	for _, e := range list {
		// go-fuse emits "." and ".." on its own.
		if e.Name == "." || e.Name == ".." {
			continue
		}
		mode := uint32(syscall.S_IFREG)
		if e.Dir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, gofuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

// Open bypasses the page cache so reads past a wrong declared size still
// reach the real end of the photo.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	id, err := n.fsys.Open(n.path, int(flags))
	if err != nil {
		return nil, 0, n.errno("open", err)
	}
	return &fileHandle{id: id}, gofuse.FOPEN_DIRECT_IO, 0
}

func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	h, ok := f.(*fileHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	data, err := n.fsys.Read(ctx, h.id, off, len(dest))
	if err != nil {
		return nil, n.errno("read", err)
	}
	return gofuse.ReadResultData(data), 0
}

func (n *Node) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	h, ok := f.(*fileHandle)
	if !ok {
		return syscall.EBADF
	}
	return vfs.Errno(n.fsys.Release(h.id))
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, err := n.fsys.Getxattr(n.path, attr)
	if err != nil {
		return 0, vfs.Errno(err)
	}
	return copyXattr(dest, value)
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	names, err := n.fsys.Listxattr(n.path)
	if err != nil {
		return 0, vfs.Errno(err)
	}
	var buf []byte
	for _, name := range names {
		buf = append(buf, name...)
		buf = append(buf, 0)
	}
	return copyXattr(dest, buf)
}

// copyXattr answers size probes (empty dest) and fills dest otherwise.
func copyXattr(dest, value []byte) (uint32, syscall.Errno) {
	if len(dest) == 0 {
		return uint32(len(value)), 0
	}
	if len(dest) < len(value) {
		return 0, syscall.ERANGE
	}
	return uint32(copy(dest, value)), 0
}

// Mutations. The library is read-only and all of these fail with EROFS.

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return vfs.Errno(n.fsys.Setxattr(n.path, attr, data))
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return vfs.Errno(n.fsys.Removexattr(n.path, attr))
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, vfs.Errno(n.fsys.Create(n.child(name), os.FileMode(mode)))
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, vfs.Errno(n.fsys.Mkdir(n.child(name), os.FileMode(mode)))
}

func (n *Node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, vfs.Errno(n.fsys.Mknod(n.child(name), os.FileMode(mode)))
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return vfs.Errno(n.fsys.Unlink(n.child(name)))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return vfs.Errno(n.fsys.Rmdir(n.child(name)))
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dst := newName
	if p, ok := newParent.(*Node); ok {
		dst = p.child(newName)
	}
	return vfs.Errno(n.fsys.Rename(n.child(name), dst))
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, vfs.Errno(n.fsys.Symlink(target, n.child(name)))
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	src := name
	if t, ok := target.(*Node); ok {
		src = t.path
	}
	return nil, vfs.Errno(n.fsys.Link(src, n.child(name)))
}

func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	var id content.HandleID
	if h, ok := f.(*fileHandle); ok {
		id = h.id
	}
	_, err := n.fsys.Write(id, off, data)
	return 0, vfs.Errno(err)
}

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		return vfs.Errno(n.fsys.Truncate(n.path, int64(size)))
	}
	if mode, ok := in.GetMode(); ok {
		return vfs.Errno(n.fsys.Chmod(n.path, os.FileMode(mode)))
	}
	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		return vfs.Errno(n.fsys.Chown(n.path, int(uid), int(gid)))
	}
	return vfs.Errno(n.fsys.Utimens(n.path))
}

// fillAttr converts synthesized attributes into the kernel's format.
func fillAttr(out *gofuse.Attr, a tree.Attrs, uid, gid uint32) {
	out.Mode = unixMode(a.Mode)
	out.Size = uint64(a.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 4096
	out.Nlink = a.Nlink
	out.Uid = uid
	out.Gid = gid
	atime, mtime, ctime := a.Atime, a.Mtime, a.Ctime
	out.SetTimes(&atime, &mtime, &ctime)
}

func unixMode(m os.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m.IsDir() {
		return mode | syscall.S_IFDIR
	}
	return mode | syscall.S_IFREG
}
