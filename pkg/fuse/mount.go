// Package fuse exposes a vfs session through the kernel FUSE interface.
package fuse

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/vfs"
)

// Options configures a mount.
type Options struct {
	AllowOther   bool
	Debug        bool
	Options      []string
	AttrTimeout  time.Duration
	EntryTimeout time.Duration
	Logger       *zap.Logger
}

// CheckMountPoint reports whether path is an existing directory.
func CheckMountPoint(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point %s is not a directory", path)
	}
	return nil
}

// Mount serves fsys at mountPoint. The directory must already exist.
func Mount(mountPoint string, fsys *vfs.FS, o Options) (*gofuse.Server, error) {
	if err := CheckMountPoint(mountPoint); err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	root := &Node{
		fsys: fsys,
		path: "/",
		uid:  uint32(os.Getuid()),
		gid:  uint32(os.Getgid()),
		log:  o.Logger,
	}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: o.AllowOther,
			Debug:      o.Debug,
			FsName:     "lycheefs",
			Name:       "lycheefs",
			Options:    mountOptions(o.Options),
		},
		UID: root.uid,
		GID: root.gid,
	}
	if o.AttrTimeout > 0 {
		opts.AttrTimeout = &o.AttrTimeout
	}
	if o.EntryTimeout > 0 {
		opts.EntryTimeout = &o.EntryTimeout
	}

	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	o.Logger.Info("mounted", zap.String("mountpoint", mountPoint), zap.Bool("allow_other", o.AllowOther))
	return server, nil
}

// mountOptions splits comma lists and always adds "ro".
func mountOptions(raw []string) []string {
	out := []string{"ro"}
	for _, r := range raw {
		for _, opt := range strings.Split(r, ",") {
			opt = strings.TrimSpace(opt)
			if opt == "" || opt == "ro" || opt == "rw" {
				continue
			}
			out = append(out, opt)
		}
	}
	return out
}
