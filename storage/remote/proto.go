// Package remote implements storage.Storage by forwarding every operation
// to a peer process over a paired read/write handle (spec §4.12): a
// newline-delimited JSON request/response frame per call, with a
// length-prefixed binary chunk sub-protocol for streaming bodies.
// Grounded directly on spec §4.12's wire format; the single-pair,
// strictly-serialized (no pipelining) discipline and the length-prefixed
// chunk framing are adapted from transport/send.go's workCh/cmplCh FIFO
// and its insString/insByte length-prefix encoding.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package remote

import (
	"bufio"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"

	"github.com/dwsteele/pgbackrest-core/cmn"
)

func timeNowUnixNano() int64 { return time.Now().UnixNano() }

// request is one outgoing RPC frame (spec §4.12: `{"cmd":"...","param":[...]}`).
type request struct {
	Cmd   string        `json:"cmd"`
	Param []interface{} `json:"param,omitempty"`
}

// rpcError mirrors spec §4.12's `{"code":int,"message":str,"stack":[...]}`.
type rpcError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Stack   []string `json:"stack,omitempty"`
}

// response is one incoming RPC frame: either `{"out":...}` or `{"err":{...}}`.
type response struct {
	Out jsoniter.RawMessage `json:"out,omitempty"`
	Err *rpcError           `json:"err,omitempty"`
}

// conn is the single request/response pair the remote driver speaks over:
// writes go to w, reads come from r. Every call is request-then-response,
// strictly serialized - there is no pipelining (spec §4.12), matching
// transport/send.go's single-outstanding-request FIFO discipline.
type conn struct {
	w  io.Writer
	r  *bufio.Reader
	rc io.Closer

	// lastActivity (unix nanoseconds) is touched by every call/chunk and
	// read by the idle-reap housekeeping callback (Driver.armIdleReaper),
	// hence atomic rather than mutex-guarded - spec §5's single-threaded
	// cooperative model has no other concurrent writer, but the reaper
	// itself runs on hk's own goroutine.
	lastActivity atomic.Int64
}

func newConn(w io.Writer, r io.Reader, rc io.Closer) *conn {
	c := &conn{w: w, r: bufio.NewReader(r), rc: rc}
	c.touch()
	return c
}

func (c *conn) touch() {
	c.lastActivity.Store(timeNowUnixNano())
}

// call sends cmd with the given params, waits for the single matching
// response line, and unmarshals its `out` payload into out (may be nil to
// discard it). An `err` frame is translated into a *cmn.Error of kind
// ProtocolError carrying the peer's message and stack.
func (c *conn) call(cmd string, out interface{}, params ...interface{}) error {
	c.touch()
	req := request{Cmd: cmd, Param: params}
	line, err := jsoniter.Marshal(req)
	if err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "encode request %s", cmd)
	}
	if _, err := c.w.Write(append(line, '\n')); err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "send request %s", cmd)
	}
	return c.readResponse(cmd, out)
}

// readResponse reads the single response line matching the most recently
// sent request (named cmd only for error messages - ordering is enforced
// by the strictly-serialized, no-pipelining discipline the caller upholds)
// and unmarshals its `out` payload into out.
func (c *conn) readResponse(cmd string, out interface{}) error {
	c.touch()
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			return cmn.NewErr(cmn.ProtocolError, "peer closed connection while awaiting response to %s", cmd)
		}
		return cmn.WrapErr(cmn.ProtocolError, err, "read response to %s", cmd)
	}

	var resp response
	if err := jsoniter.Unmarshal(line, &resp); err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "decode response to %s", cmd)
	}
	if resp.Err != nil {
		return &cmn.Error{
			Kind:    cmn.ProtocolError,
			Message: resp.Err.Message,
			Verb:    cmd,
			Stack:   resp.Err.Stack,
		}
	}
	if out != nil && len(resp.Out) > 0 {
		if err := jsoniter.Unmarshal(resp.Out, out); err != nil {
			return cmn.WrapErr(cmn.ProtocolError, err, "decode result of %s", cmd)
		}
	}
	return nil
}

// chunkHeader is the length-prefix frame of spec §4.12's binary sub-protocol:
// `{"size":N}\n<N bytes>\n`, terminated by a zero-size frame.
type chunkHeader struct {
	Size int `json:"size"`
}

// cancelChunkSize marks a write as aborted instead of completed (spec.md:100
// - "remote sends cancel frame" on cancellation, distinct from the normal
// zero-size completion terminator).
const cancelChunkSize = -1

// writeCancel sends the cancel frame in place of the normal zero-size
// terminator, telling the peer to discard the partial body it has received
// so far rather than treat it as complete.
func writeCancel(w io.Writer) error {
	hdr, err := jsoniter.Marshal(chunkHeader{Size: cancelChunkSize})
	if err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "encode cancel frame")
	}
	if _, err := w.Write(append(hdr, '\n')); err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "write cancel frame")
	}
	return nil
}

// writeChunk sends one chunk of a streaming body; size 0 is the terminator.
func writeChunk(w io.Writer, data []byte) error {
	hdr, err := jsoniter.Marshal(chunkHeader{Size: len(data)})
	if err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "encode chunk header")
	}
	if _, err := w.Write(append(hdr, '\n')); err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "write chunk header")
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "write chunk body")
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return cmn.WrapErr(cmn.ProtocolError, err, "write chunk trailer")
	}
	return nil
}

// readChunk reads one chunk; a returned size of 0 signals the terminator
// and no body bytes follow it on the wire.
func readChunk(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, cmn.WrapErr(cmn.ProtocolError, err, "read chunk header")
	}
	var hdr chunkHeader
	if err := jsoniter.Unmarshal(line, &hdr); err != nil {
		return nil, cmn.WrapErr(cmn.ProtocolError, err, "decode chunk header")
	}
	if hdr.Size == 0 {
		return nil, nil
	}
	buf := make([]byte, hdr.Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, cmn.WrapErr(cmn.ProtocolError, err, "read chunk body")
	}
	if _, err := r.Discard(1); err != nil { // trailing newline
		return nil, cmn.WrapErr(cmn.ProtocolError, err, "read chunk trailer")
	}
	return buf, nil
}
