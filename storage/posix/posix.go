// Package posix implements storage.Storage against the local filesystem
// (spec §4.9): atomic writes via temp-file-then-rename, fsync of both the
// file and its parent directory, and errno-to-ErrKind mapping grounded on
// the original C driver's storage/fileWrite.c shape. The write knobs are
// NoCreatePath, NoAtomic and NoSync; NoSync skips both fsyncs together,
// and the two cannot be disabled separately.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package posix

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/filter"
	"github.com/dwsteele/pgbackrest-core/storage"
	"github.com/dwsteele/pgbackrest-core/xio"
	"github.com/golang/glog"
)

// Driver implements storage.Storage over the local filesystem.
type Driver struct {
	storage.Base
}

// New builds a posix driver rooted at root. expression resolves any
// `<token>` placeholders callers embed in paths.
func New(root string, expression storage.ExpressionFunc) *Driver {
	return &Driver{Base: storage.NewBase(root, expression)}
}

func (d *Driver) Feature(f storage.Feature) bool {
	switch f {
	case storage.FeaturePath, storage.FeatureHardlink, storage.FeatureLink, storage.FeatureSymlink, storage.FeaturePathSync:
		return true
	default:
		return false
	}
}

func (d *Driver) Exists(file string) (bool, error) {
	p, err := d.Resolve(file)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, mapErr(err, "stat", p)
}

func (d *Driver) Info(file string, followLink bool) (storage.Info, error) {
	p, err := d.Resolve(file)
	if err != nil {
		return storage.Info{}, err
	}
	var fi os.FileInfo
	if followLink {
		fi, err = os.Stat(p)
	} else {
		fi, err = os.Lstat(p)
	}
	if err != nil {
		return storage.Info{}, mapErr(err, "stat", p)
	}
	return toInfo(p, fi), nil
}

func toInfo(p string, fi os.FileInfo) storage.Info {
	info := storage.Info{
		Name:    filepath.Base(p),
		Size:    fi.Size(),
		ModTime: fi.ModTime().Unix(),
		Mode:    uint32(fi.Mode().Perm()),
	}
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		info.Kind = storage.Link
		if target, err := os.Readlink(p); err == nil {
			info.LinkTarget = target
		}
	case fi.IsDir():
		info.Kind = storage.Path
	case fi.Mode().IsRegular():
		info.Kind = storage.File
	default:
		info.Kind = storage.Special
	}
	return info
}

func (d *Driver) InfoList(path string, opts storage.InfoListOpts, cb storage.InfoListCallback, data interface{}) error {
	p, err := d.Resolve(path)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return mapErr(err, "readdir", p)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		fi, err := os.Lstat(filepath.Join(p, name))
		if err != nil {
			return mapErr(err, "lstat", filepath.Join(p, name))
		}
		cb(toInfo(filepath.Join(p, name), fi), data)
	}
	return nil
}

func (d *Driver) Move(src, dst string) error {
	srcP, err := d.Resolve(src)
	if err != nil {
		return err
	}
	dstP, err := d.Resolve(dst)
	if err != nil {
		return err
	}
	if err := os.Rename(srcP, dstP); err != nil {
		if isCrossDevice(err) {
			return copyThenRemove(srcP, dstP)
		}
		return mapErr(err, "rename", srcP)
	}
	return nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return mapErr(err, "open", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return mapErr(err, "create", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return cmn.WrapErr(cmn.FileWriteError, err, "copy %s to %s", src, dst)
	}
	if err := out.Close(); err != nil {
		return cmn.WrapErr(cmn.FileWriteError, err, "close %s", dst)
	}
	if err := os.Remove(src); err != nil {
		return mapErr(err, "remove", src)
	}
	return nil
}

func (d *Driver) NewRead(file string, opts storage.ReadOpts) (*xio.IoRead, error) {
	p, err := d.Resolve(file)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_RDONLY, 0)
	if err != nil {
		if opts.IgnoreMissing && errors.Is(err, fs.ErrNotExist) {
			return xio.NewIoRead(emptyReadDriver{}, groupOf(opts.Group)), nil
		}
		return nil, mapErr(err, "open", p)
	}
	return xio.NewIoRead(f, groupOf(opts.Group)), nil
}

func (d *Driver) NewWrite(file string, opts storage.WriteOpts) (*xio.IoWrite, error) {
	p, err := d.Resolve(file)
	if err != nil {
		return nil, err
	}
	if !opts.NoCreatePath {
		if err := os.MkdirAll(filepath.Dir(p), os.FileMode(modeOr(opts.ModePath, 0750))); err != nil {
			return nil, mapErr(err, "mkdir", filepath.Dir(p))
		}
	}

	if opts.NoAtomic {
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(modeOr(opts.ModeFile, 0640)))
		if err != nil {
			return nil, mapErr(err, "open", p)
		}
		return xio.NewIoWrite(&directWriteDriver{f: f, noSync: opts.NoSync}, groupOf(opts.Group)), nil
	}

	tmp := fmt.Sprintf("%s.tmp%06d", p, rand.Intn(1_000_000))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, os.FileMode(modeOr(opts.ModeFile, 0640)))
	if err != nil {
		return nil, mapErr(err, "open", tmp)
	}
	drv := &atomicWriteDriver{f: f, tmp: tmp, final: p, noSync: opts.NoSync}
	return xio.NewIoWrite(drv, groupOf(opts.Group)), nil
}

func modeOr(mode uint32, def uint32) uint32 {
	if mode == 0 {
		return def
	}
	return mode
}

func groupOf(g interface{}) *filter.Group {
	if g == nil {
		return nil
	}
	fg, ok := g.(*filter.Group)
	cmn.AssertMsg(ok, "storage: WriteOpts.Group/ReadOpts.Group must be *filter.Group")
	return fg
}

func (d *Driver) PathCreate(p string, opts storage.PathCreateOpts) error {
	abs, err := d.Resolve(p)
	if err != nil {
		return err
	}
	mode := os.FileMode(modeOr(opts.Mode, 0750))
	if opts.NoParent {
		err = os.Mkdir(abs, mode)
	} else {
		err = os.MkdirAll(abs, mode)
	}
	if err != nil {
		if opts.ErrorOnExists || !errors.Is(err, fs.ErrExist) {
			return mapErr(err, "mkdir", abs)
		}
	}
	return nil
}

func (d *Driver) PathRemove(p string, opts storage.PathRemoveOpts) error {
	abs, err := d.Resolve(p)
	if err != nil {
		return err
	}
	var rmErr error
	if opts.Recurse {
		rmErr = os.RemoveAll(abs)
	} else {
		rmErr = os.Remove(abs)
	}
	if rmErr != nil {
		if opts.ErrorOnMissing || !errors.Is(rmErr, fs.ErrNotExist) {
			return cmn.WrapErr(cmn.PathRemoveError, rmErr, "remove path %s", abs)
		}
	}
	return nil
}

func (d *Driver) PathSync(p string) error {
	abs, err := d.Resolve(p)
	if err != nil {
		return err
	}
	return syncDir(abs)
}

func (d *Driver) Remove(file string, errorOnMissing bool) error {
	p, err := d.Resolve(file)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errorOnMissing || !errors.Is(err, fs.ErrNotExist) {
			return mapErr(err, "remove", p)
		}
	}
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return mapErr(err, "open", dir)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		glog.Warningf("posix: fsync parent dir %s: %v", dir, err)
		return cmn.WrapErr(cmn.FileWriteError, err, "fsync dir %s", dir)
	}
	return nil
}

// mapErr maps an os-layer error to the module's ErrKind taxonomy (spec
// §4.9: ENOENT/EACCES/... to FileMissingError/FileOpenError/...).
func mapErr(err error, verb, uri string) error {
	kind := cmn.FileOpenError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = cmn.FileMissingError
	case errors.Is(err, fs.ErrPermission):
		kind = cmn.FileOpenError
	case errors.Is(err, fs.ErrExist):
		kind = cmn.PathCreateError
	}
	e := cmn.WrapErr(kind, err, "%s %s", verb, uri)
	e.Verb, e.URI = verb, uri
	return e
}
