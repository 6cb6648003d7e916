package xio_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/filter"
	"github.com/dwsteele/pgbackrest-core/memsys"
	"github.com/dwsteele/pgbackrest-core/xio"
)

// memDriver is a ReadDriver/WriteDriver over an in-memory byte slice, used
// in place of a real Storage driver for these handle-lifecycle tests.
type memDriver struct {
	r      *bytes.Reader
	w      bytes.Buffer
	closed bool
}

func newMemReadDriver(b []byte) *memDriver { return &memDriver{r: bytes.NewReader(b)} }

func (d *memDriver) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *memDriver) Write(p []byte) (int, error) { return d.w.Write(p) }
func (d *memDriver) Close() error                { d.closed = true; return nil }

func TestIoReadPlainPassthrough(t *testing.T) {
	drv := newMemReadDriver([]byte("hello world"))
	r := xio.NewIoRead(drv, nil)
	r.Open()

	out := buffer.New(4)
	var all bytes.Buffer
	for !r.Eof() {
		out.ClearUsed()
		n, err := r.Read(out)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		all.Write(out.Bytes()[:n])
	}
	if all.String() != "hello world" {
		t.Fatalf("got %q", all.String())
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !drv.closed {
		t.Fatalf("expected driver closed")
	}
}

func TestIoReadThroughDecompress(t *testing.T) {
	input := bytes.Repeat([]byte("stream-of-bytes"), 300)

	comp := filter.New()
	comp.Push(filter.NewCompress(true, 6))
	var compressed bytes.Buffer
	i := 0
	for !comp.Done() {
		var ext *buffer.Buffer
		switch {
		case comp.NeedsSameInput():
			ext = buffer.WithContent([]byte{0})
		case i < len(input):
			end := i + 4096
			if end > len(input) {
				end = len(input)
			}
			ext = buffer.WithContent(input[i:end])
			i = end
		default:
			ext = nil
		}
		if _, err := comp.Tick(ext); err != nil {
			t.Fatalf("compress tick: %v", err)
		}
		if tail := comp.Tail(); tail != nil && tail.Used() > 0 {
			compressed.Write(tail.Bytes())
			tail.ClearUsed()
		}
	}

	drv := newMemReadDriver(compressed.Bytes())
	group := filter.New()
	group.Push(filter.NewDecompress(true))
	r := xio.NewIoRead(drv, group)
	r.Open()

	out := buffer.New(1024)
	var all bytes.Buffer
	for !r.Eof() {
		out.ClearUsed()
		n, err := r.Read(out)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		all.Write(out.Bytes()[:n])
		if n == 0 {
			break
		}
	}
	if !bytes.Equal(all.Bytes(), input) {
		t.Fatalf("round trip mismatch: got %d bytes want %d", all.Len(), len(input))
	}
}

func TestIoWritePlainPassthroughAndClose(t *testing.T) {
	drv := &memDriver{}
	w := xio.NewIoWrite(drv, nil)
	w.Open()

	if err := w.Write(buffer.WithContent([]byte("abc"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(buffer.WithContent([]byte("def"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if drv.w.String() != "abcdef" {
		t.Fatalf("got %q", drv.w.String())
	}
	if !drv.closed {
		t.Fatalf("expected driver closed")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestIoWriteThroughSizeFilter(t *testing.T) {
	drv := &memDriver{}
	group := filter.New()
	group.Push(filter.NewSize())
	w := xio.NewIoWrite(drv, group)
	w.Open()

	input := bytes.Repeat([]byte{'z'}, 5000)
	for i := 0; i < len(input); i += 777 {
		end := i + 777
		if end > len(input) {
			end = len(input)
		}
		if err := w.Write(buffer.WithContent(input[i:end])); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	v, ok := w.Result("size")
	if !ok || v.I != int64(len(input)) {
		t.Fatalf("expected size result %d, got %v ok=%v", len(input), v, ok)
	}
	// Size is a terminal in_only filter: it never produces a tail, so the
	// driver never actually receives bytes through this chain - it only
	// reports the byte count.
	if drv.w.Len() != 0 {
		t.Fatalf("expected no driver bytes from a terminal-only chain, got %d", drv.w.Len())
	}
}

func TestIoWriteDriverCloseRunsOnceViaMemsysFree(t *testing.T) {
	// The body below never calls w.Close() - only the scope's own
	// unconditional Free (on WithTemp exit) should trigger the driver
	// close, via the callback IoWrite.Open registered.
	drv := &memDriver{}

	err := memsys.WithTemp("ioWriteScope", func(c *memsys.Context) error {
		w := xio.NewIoWrite(drv, nil)
		w.Open()
		return w.Write(buffer.WithContent([]byte("x")))
	})
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if !drv.closed {
		t.Fatalf("expected driver closed by memsys free-callback")
	}
}

var _ io.Closer = (*memDriver)(nil)
