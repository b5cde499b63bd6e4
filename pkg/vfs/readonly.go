package vfs

import (
	"os"

	"github.com/lycheefs/lycheefs/pkg/content"
)

// The library is read-only. Every mutating operation fails without looking
// at the tree.

func (f *FS) Create(path string, mode os.FileMode) error {
	return f.errReadOnly("create", path)
}

func (f *FS) Mkdir(path string, mode os.FileMode) error {
	return f.errReadOnly("mkdir", path)
}

func (f *FS) Rename(oldPath, newPath string) error {
	return f.errReadOnly("rename", oldPath)
}

func (f *FS) Unlink(path string) error {
	return f.errReadOnly("unlink", path)
}

func (f *FS) Rmdir(path string) error {
	return f.errReadOnly("rmdir", path)
}

func (f *FS) Write(fh content.HandleID, off int64, data []byte) (int, error) {
	return 0, f.errReadOnly("write", "")
}

func (f *FS) Truncate(path string, size int64) error {
	return f.errReadOnly("truncate", path)
}

func (f *FS) Chmod(path string, mode os.FileMode) error {
	return f.errReadOnly("chmod", path)
}

func (f *FS) Chown(path string, uid, gid int) error {
	return f.errReadOnly("chown", path)
}

func (f *FS) Utimens(path string) error {
	return f.errReadOnly("utimens", path)
}

func (f *FS) Symlink(target, path string) error {
	return f.errReadOnly("symlink", path)
}

func (f *FS) Link(oldPath, newPath string) error {
	return f.errReadOnly("link", newPath)
}

func (f *FS) Mknod(path string, mode os.FileMode) error {
	return f.errReadOnly("mknod", path)
}

func (f *FS) Setxattr(path, name string, value []byte) error {
	return f.errReadOnly("setxattr", path)
}

func (f *FS) Removexattr(path, name string) error {
	return f.errReadOnly("removexattr", path)
}
