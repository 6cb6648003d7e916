// Decompress wraps a DEFLATE reader (spec §4.4). Unlike the writer
// direction, Go's gzip.NewReader/flate.NewReader read synchronously from a
// blocking io.Reader and gzip additionally demands a full header up front,
// neither of which fits this package's push-based, bounded-buffer filter
// model. pushReader below is an io.Reader over a byte queue that, instead
// of blocking when the queue is empty, returns errNeedMoreInput - a
// sentinel distinct from io.EOF so callers (including io.ReadFull's retry
// logic inside the stdlib readers) can tell "pause, come back with more
// bytes" apart from "stream truly ended". No buffered byte is ever
// discarded: pushReader's queue only shrinks as Read actually consumes it.
package filter

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"errors"
	"io"

	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
)

// errNeedMoreInput is pushReader's sentinel for "queue exhausted, not EOF".
var errNeedMoreInput = errors.New("filter: need more input")

// pushReader is an io.Reader fed by push, reporting errNeedMoreInput
// instead of blocking once its queue runs dry, and io.EOF only after
// setEOF has been called and the queue is empty.
type pushReader struct {
	queue bytes.Buffer
	eof   bool
}

func (r *pushReader) push(b []byte) { r.queue.Write(b) }
func (r *pushReader) setEOF()       { r.eof = true }

func (r *pushReader) Read(p []byte) (int, error) {
	if r.queue.Len() == 0 {
		if r.eof {
			return 0, io.EOF
		}
		return 0, errNeedMoreInput
	}
	return r.queue.Read(p)
}

// Decompress implements InOutFilter for spec §4.4's read direction.
type Decompress struct {
	raw bool
	src *pushReader
	zr  io.Reader // *gzip.Reader or *flate.Reader, created lazily once a header can be parsed

	flushing  bool
	done      bool
	inputSame bool
}

// NewDecompress constructs a Decompress filter matching the raw/gzip
// framing choice the producing Compress filter used.
func NewDecompress(raw bool) *Decompress {
	return &Decompress{raw: raw, src: &pushReader{}}
}

func (d *Decompress) Type() string { return "decompress" }
func (d *Decompress) String() string {
	if d.raw {
		return "Decompress(raw)"
	}
	return "Decompress(gzip)"
}

func (d *Decompress) newReader() (io.Reader, error) {
	if d.raw {
		return flate.NewReader(d.src), nil
	}
	return gzip.NewReader(d.src)
}

// InOut implements spec §4.4: in == nil signals flush (no more compressed
// bytes will ever arrive, but whatever is already queued must still drain).
func (d *Decompress) InOut(in *buffer.Buffer, out *buffer.Buffer) error {
	if in != nil && in.Used() > 0 {
		d.src.push(in.Bytes())
		in.ClearUsed()
	} else if in == nil {
		d.flushing = true
		d.src.setEOF()
	}

	if d.zr == nil {
		zr, err := d.newReader()
		if err != nil {
			if errors.Is(err, errNeedMoreInput) {
				d.inputSame = d.flushing
				return nil
			}
			return cmn.WrapErr(cmn.FormatError, err, "decompress: invalid stream header")
		}
		d.zr = zr
	}

	for out.Remains() > 0 {
		n, err := d.zr.Read(out.Tail())
		out.Advance(n)
		if err == nil {
			if n == 0 {
				break
			}
			continue
		}
		if err == io.EOF {
			d.done = true
			break
		}
		if errors.Is(err, errNeedMoreInput) {
			break
		}
		return cmn.WrapErr(cmn.FormatError, err, "decompress: stream error")
	}

	d.inputSame = d.flushing && !d.done
	return nil
}

func (d *Decompress) Done() bool      { return d.done }
func (d *Decompress) InputSame() bool { return d.inputSame }
