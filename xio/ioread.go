// Package xio implements the stream handles that sit on top of a Storage
// driver and an optional filter.Group (spec §4.7): IoRead for the GET/read
// direction, IoWrite for the PUT/write direction. Both enforce an
// open/use/close lifecycle and guarantee the underlying driver is closed
// exactly once - even on an error unwind - by registering the close as a
// memsys free-callback at open time, the same belt-and-suspenders the
// teacher's object lifecycle relies on memContext for.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xio

import (
	"io"

	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/filter"
	"github.com/dwsteele/pgbackrest-core/memsys"
)

const defaultScratchSize = 32 * 1024

// ReadDriver is the minimal source contract a Storage driver's read side
// must satisfy: Read follows io.Reader's io.EOF convention, Close releases
// whatever handle/connection backs it.
type ReadDriver interface {
	Read(p []byte) (int, error)
	Close() error
}

// IoRead is a driver plus an optional filter group, with the open/read/
// close lifecycle spec §4.7 describes.
type IoRead struct {
	driver ReadDriver
	group  *filter.Group

	scratch *buffer.Buffer
	opened  bool
	eof     bool
	closed  bool
}

// NewIoRead builds an IoRead. group may be nil for a plain passthrough
// read (no filters configured).
func NewIoRead(driver ReadDriver, group *filter.Group) *IoRead {
	return &IoRead{driver: driver, group: group}
}

// Open begins the read lifecycle and registers the driver close as a
// free-callback of the current memsys context, so it fires even if the
// caller never reaches an explicit Close (e.g. on an error unwind out of a
// WithTemp scope). When the current context is the root, which is never
// freed and cannot carry a callback, nothing is registered and only an
// explicit Close closes the driver.
func (r *IoRead) Open() {
	cmn.AssertMsg(!r.opened, "IoRead: already open")
	r.opened = true
	r.scratch = buffer.New(defaultScratchSize)
	if ctx := memsys.Current(); ctx != memsys.Root() {
		ctx.OnFree(func(interface{}) { r.closeDriverOnce() }, nil)
	}
}

// Eof reports whether Read has been exhausted: the driver reported end of
// stream and, if a filter group is present, it has fully drained.
func (r *IoRead) Eof() bool { return r.eof }

// Read implements spec §4.7's read loop: while out still has room and EOF
// hasn't been reached, pull from the driver (through the filter group, if
// any) and copy into out. Returns the number of bytes copied into out this
// call; 0 only once Eof() becomes true.
func (r *IoRead) Read(out *buffer.Buffer) (int, error) {
	cmn.AssertMsg(r.opened && !r.closed, "IoRead: read outside open/close lifecycle")
	start := out.Used()

	for out.Remains() > 0 && !r.eof {
		if r.group == nil {
			n, err := r.driver.Read(out.Tail())
			out.Advance(n)
			if err != nil {
				if err == io.EOF {
					r.eof = true
					break
				}
				return out.Used() - start, cmn.WrapErr(cmn.FileReadError, err, "read")
			}
			if n == 0 {
				r.eof = true
			}
			continue
		}

		if tail := r.group.Tail(); tail != nil && tail.Used() > 0 {
			n := copy(out.Tail(), tail.Bytes())
			out.Advance(n)
			tail.DropFront(n)
			continue
		}
		if r.group.Done() {
			r.eof = true
			break
		}

		var ext *buffer.Buffer
		if r.group.NeedsSameInput() {
			ext = r.scratch
		} else {
			r.scratch.ClearUsed()
			n, err := r.driver.Read(r.scratch.Tail())
			r.scratch.Advance(n)
			if err != nil && err != io.EOF {
				return out.Used() - start, cmn.WrapErr(cmn.FileReadError, err, "read")
			}
			switch {
			case n > 0:
				ext = r.scratch
			case err == io.EOF:
				ext = nil // flush signal
			default:
				continue // spurious zero-byte, no-error read: retry
			}
		}
		if _, err := r.group.Tick(ext); err != nil {
			return out.Used() - start, err
		}
	}
	return out.Used() - start, nil
}

// Result exposes a terminal filter's computed value (spec F3), valid once
// the underlying group is Done (normally true by the time Eof() is true).
func (r *IoRead) Result(filterType string) (cmn.Variant, bool) {
	if r.group == nil {
		return cmn.Variant{}, false
	}
	return r.group.Result(filterType)
}

// Close ends the read lifecycle. Safe to call multiple times.
func (r *IoRead) Close() error {
	cmn.AssertMsg(r.opened, "IoRead: close before open")
	r.closeDriverOnce()
	return nil
}

func (r *IoRead) closeDriverOnce() {
	if r.closed {
		return
	}
	r.closed = true
	_ = r.driver.Close()
}
