package xio

import (
	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/filter"
	"github.com/dwsteele/pgbackrest-core/memsys"
)

// WriteDriver is the minimal sink contract a Storage driver's write side
// must satisfy.
type WriteDriver interface {
	Write(p []byte) (int, error)
	Close() error
}

// IoWrite is a driver plus an optional filter group, with the open/write/
// close lifecycle spec §4.7 describes. Close performs the group's final
// flush (input = None) before closing the driver.
type IoWrite struct {
	driver WriteDriver
	group  *filter.Group

	opened       bool
	flushed      bool // true once Close's flush loop has run
	driverClosed bool
}

// NewIoWrite builds an IoWrite. group may be nil for a plain passthrough
// write.
func NewIoWrite(driver WriteDriver, group *filter.Group) *IoWrite {
	return &IoWrite{driver: driver, group: group}
}

// Open begins the write lifecycle, registering the driver close as a
// free-callback so it fires exactly once even on an error unwind. When the
// current context is the root, which is never freed and cannot carry a
// callback, nothing is registered and only an explicit Close closes the
// driver.
func (w *IoWrite) Open() {
	cmn.AssertMsg(!w.opened, "IoWrite: already open")
	w.opened = true
	if ctx := memsys.Current(); ctx != memsys.Root() {
		ctx.OnFree(func(interface{}) { w.closeDriverOnce() }, nil)
	}
}

// Write pushes in through the filter group (if any) and hands every
// emitted buffer to the driver. in is fully consumed by the time Write
// returns without error.
func (w *IoWrite) Write(in *buffer.Buffer) error {
	cmn.AssertMsg(w.opened && !w.flushed, "IoWrite: write outside open/close lifecycle")

	if w.group == nil || w.group.Len() == 0 {
		return w.drainToDriver(in)
	}

	for in.Used() > 0 || w.group.NeedsSameInput() {
		if _, err := w.group.Tick(in); err != nil {
			return err
		}
		if tail := w.group.Tail(); tail != nil && tail.Used() > 0 {
			if err := w.drainToDriver(tail); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *IoWrite) drainToDriver(b *buffer.Buffer) error {
	if b.Used() == 0 {
		return nil
	}
	if _, err := w.driver.Write(b.Bytes()); err != nil {
		return cmn.WrapErr(cmn.FileWriteError, err, "write")
	}
	b.ClearUsed()
	return nil
}

// Close implements spec §4.7: a final in=None flush through the filter
// group, draining every resulting buffer to the driver, then closing the
// driver. Safe to call multiple times; the driver close itself only ever
// runs once.
func (w *IoWrite) Close() error {
	cmn.AssertMsg(w.opened, "IoWrite: close before open")
	if w.flushed {
		w.closeDriverOnce()
		return nil
	}
	w.flushed = true

	var flushErr error
	if w.group != nil && w.group.Len() > 0 {
		for !w.group.Done() {
			if _, err := w.group.Tick(nil); err != nil {
				flushErr = err
				break
			}
			if tail := w.group.Tail(); tail != nil && tail.Used() > 0 {
				if err := w.drainToDriver(tail); err != nil && flushErr == nil {
					flushErr = err
				}
			}
		}
	}

	w.closeDriverOnce()
	return flushErr
}

// Result exposes a terminal filter's computed value (spec F3); reliably
// available only after Close.
func (w *IoWrite) Result(filterType string) (cmn.Variant, bool) {
	if w.group == nil {
		return cmn.Variant{}, false
	}
	return w.group.Result(filterType)
}

func (w *IoWrite) closeDriverOnce() {
	if w.driverClosed {
		return
	}
	w.driverClosed = true
	_ = w.driver.Close()
}
