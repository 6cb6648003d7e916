package posix

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dwsteele/pgbackrest-core/cmn"
)

// emptyReadDriver backs NewRead's ignore_missing case (spec §4.9: ENOENT
// converted into "empty read, immediate EOF").
type emptyReadDriver struct{}

func (emptyReadDriver) Read(p []byte) (int, error) { return 0, io.EOF }
func (emptyReadDriver) Close() error                { return nil }

// directWriteDriver writes straight to the final path - used when the
// caller disabled atomic rename (noAtomic).
type directWriteDriver struct {
	f       *os.File
	noSync  bool
	errored bool
}

func (d *directWriteDriver) Write(p []byte) (int, error) {
	n, err := d.f.Write(p)
	if err != nil {
		d.errored = true
		return n, cmn.WrapErr(cmn.FileWriteError, err, "write %s", d.f.Name())
	}
	return n, nil
}

func (d *directWriteDriver) Close() error {
	if d.errored {
		return d.f.Close()
	}
	if !d.noSync {
		if err := d.f.Sync(); err != nil {
			return cmn.WrapErr(cmn.FileWriteError, err, "fsync %s", d.f.Name())
		}
	}
	return d.f.Close()
}

// atomicWriteDriver implements spec §4.9's write-temp/fsync/rename/
// fsync-parent sequence: write path.tmpXXXX, on close fsync the file,
// rename it onto the final path, then fsync the parent directory. noSync
// skips both fsyncs; neither can be skipped on its own.
type atomicWriteDriver struct {
	f       *os.File
	tmp     string
	final   string
	noSync  bool
	errored bool
}

func (d *atomicWriteDriver) Write(p []byte) (int, error) {
	n, err := d.f.Write(p)
	if err != nil {
		d.errored = true
		return n, cmn.WrapErr(cmn.FileWriteError, err, "write %s", d.tmp)
	}
	return n, nil
}

// Close discards the temp file and leaves the target path untouched when a
// prior Write failed (spec §4.9/§5, scenario 6): an aborted write must never
// rename a partial temp file onto the final path, matching storage/s3's
// writeDriver.Close abort branch.
func (d *atomicWriteDriver) Close() error {
	if d.errored {
		d.f.Close()
		os.Remove(d.tmp)
		return nil
	}
	if !d.noSync {
		if err := d.f.Sync(); err != nil {
			d.f.Close()
			os.Remove(d.tmp)
			return cmn.WrapErr(cmn.FileWriteError, err, "fsync %s", d.tmp)
		}
	}
	if err := d.f.Close(); err != nil {
		os.Remove(d.tmp)
		return cmn.WrapErr(cmn.FileWriteError, err, "close %s", d.tmp)
	}
	if err := os.Rename(d.tmp, d.final); err != nil {
		os.Remove(d.tmp)
		return mapErr(err, "rename", d.tmp)
	}
	if !d.noSync {
		return syncDir(filepath.Dir(d.final))
	}
	return nil
}
