// Compress wraps a DEFLATE writer (spec §4.4). Go's compress/flate and
// compress/gzip writers always accept a Write call in full, so the push
// direction needs no sentinel-error dance: the filter writes straight
// through into an unbounded internal queue and drains it into the caller's
// bounded out buffer across as many InOut calls as it takes.
package filter

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
)

// Compress implements InOutFilter for spec §4.4's write direction.
type Compress struct {
	raw   bool
	level int

	queue bytes.Buffer // compressed bytes not yet drained into an out buffer
	gw    *gzip.Writer
	fw    *flate.Writer

	flushing bool
	closed   bool
	done     bool
	inputSame bool
}

// NewCompress constructs a Compress filter. raw selects the no-header/
// no-checksum DEFLATE variant (flate.Writer) over gzip's framed one. level
// follows compress/flate's -1..9 range (spec P3).
func NewCompress(raw bool, level int) *Compress {
	c := &Compress{raw: raw, level: level}
	if raw {
		fw, err := flate.NewWriter(&c.queue, level)
		cmn.AssertNoErr(err)
		c.fw = fw
	} else {
		gw, err := gzip.NewWriterLevel(&c.queue, level)
		cmn.AssertNoErr(err)
		c.gw = gw
	}
	return c
}

func (c *Compress) Type() string { return "compress" }
func (c *Compress) String() string {
	if c.raw {
		return "Compress(raw)"
	}
	return "Compress(gzip)"
}

func (c *Compress) writer() io.Writer {
	if c.raw {
		return c.fw
	}
	return c.gw
}

func (c *Compress) closeWriter() error {
	if c.raw {
		return c.fw.Close()
	}
	return c.gw.Close()
}

// InOut implements spec §4.4: in == nil signals flush; keep being called
// with in == nil until Done().
func (c *Compress) InOut(in *buffer.Buffer, out *buffer.Buffer) error {
	if in != nil && in.Used() > 0 {
		if _, err := c.writer().Write(in.Bytes()); err != nil {
			return cmn.WrapErr(cmn.FormatError, err, "compress: write")
		}
		in.ClearUsed()
	} else if in == nil {
		c.flushing = true
	}

	if c.flushing && !c.closed {
		if err := c.closeWriter(); err != nil {
			return cmn.WrapErr(cmn.FormatError, err, "compress: close")
		}
		c.closed = true
	}

	n := copy(out.Tail(), c.queue.Bytes())
	out.Advance(n)
	c.queue.Next(n)

	c.inputSame = false // the writer always fully accepted this call's input
	c.done = c.flushing && c.closed && c.queue.Len() == 0
	return nil
}

func (c *Compress) Done() bool      { return c.done }
func (c *Compress) InputSame() bool { return c.inputSame }
