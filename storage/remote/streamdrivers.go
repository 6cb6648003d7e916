package remote

import (
	"io"
)

// readDriver pulls a streamed read body off the wire one chunk-framed
// record at a time (spec §4.12's binary sub-protocol), buffering any part
// of a chunk the caller's Read didn't take this call.
type readDriver struct {
	conn    *conn
	pending []byte
	eof     bool
}

func (rd *readDriver) Read(p []byte) (int, error) {
	if len(rd.pending) == 0 {
		if rd.eof {
			return 0, io.EOF
		}
		rd.conn.touch()
		chunk, err := readChunk(rd.conn.r)
		if err != nil {
			return 0, err
		}
		if chunk == nil {
			rd.eof = true
			return 0, io.EOF
		}
		rd.pending = chunk
	}
	n := copy(p, rd.pending)
	rd.pending = rd.pending[n:]
	return n, nil
}

// Close drains any unread chunks so the connection is left positioned at
// the next response boundary - required by the no-pipelining discipline:
// the peer will already be mid-stream if the caller stops reading early
// (e.g. an error unwind), and the next RPC call must not see stale chunk
// frames on the wire.
func (rd *readDriver) Close() error {
	for !rd.eof {
		chunk, err := readChunk(rd.conn.r)
		if err != nil {
			return err
		}
		if chunk == nil {
			rd.eof = true
		}
	}
	return nil
}

// writeDriver streams a write body to the peer as chunk-framed records,
// sending the zero-size terminator and awaiting the peer's completion
// response on Close - or, if a prior Write failed, a cancel frame instead
// (spec.md:100's "remote sends cancel frame" on cancellation), mirroring
// storage/s3's writeDriver.errored abort branch.
type writeDriver struct {
	conn    *conn
	closed  bool
	errored bool
}

func (wd *writeDriver) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	wd.conn.touch()
	if err := writeChunk(wd.conn.w, p); err != nil {
		wd.errored = true
		return 0, err
	}
	return len(p), nil
}

func (wd *writeDriver) Close() error {
	if wd.closed {
		return nil
	}
	wd.closed = true

	if wd.errored {
		if err := writeCancel(wd.conn.w); err != nil {
			return err
		}
		return wd.conn.readResponse("write-cancel", nil)
	}

	if err := writeChunk(wd.conn.w, nil); err != nil {
		return err
	}
	return wd.conn.readResponse("write-complete", nil)
}

// emptyReadDriver backs NewRead's ignore_missing case (spec §4.9's
// convention, reused here for a peer-reported missing file).
type emptyReadDriver struct{}

func (emptyReadDriver) Read(p []byte) (int, error) { return 0, io.EOF }
func (emptyReadDriver) Close() error                { return nil }
