package remote

import (
	"fmt"
	"io"
	"time"

	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/filter"
	"github.com/dwsteele/pgbackrest-core/hk"
	"github.com/dwsteele/pgbackrest-core/storage"
	"github.com/dwsteele/pgbackrest-core/xio"
)

// idleReapTimeout closes a peer connection that has carried no RPC traffic
// for this long - the per-session I/O timeout spec §5 names is a per-call
// bound, not a standing keepalive, so a peer that's simply gone quiet
// (rather than erroring) needs its own reap policy.
const idleReapTimeout = 10 * time.Minute

// Driver implements storage.Storage by forwarding every call to a peer
// process over w/r (spec §4.12), e.g. a child process's stdin/stdout or a
// socket pair. Exactly one Driver call may be outstanding at a time - the
// wire has no pipelining, matching spec §5's single-threaded cooperative
// model.
type Driver struct {
	storage.Base
	conn *conn
}

// New builds a remote driver writing requests to w and reading responses
// from r. closer, if non-nil, is invoked by Close to release the
// underlying transport (e.g. closing both pipe halves of a child process).
func New(w io.Writer, r io.Reader, closer io.Closer, base storage.Base) *Driver {
	d := &Driver{Base: base, conn: newConn(w, r, closer)}
	d.armIdleReaper()
	return d
}

func (d *Driver) idleReapName() string {
	return fmt.Sprintf("remote-idle-reap:%p", d)
}

// armIdleReaper registers a recurring check that closes the peer transport
// once it's carried no RPC traffic for idleReapTimeout (spec §5's
// structural, scope-exit-only cancellation has no answer for a peer the
// caller simply stopped talking to without ever exiting its scope).
func (d *Driver) armIdleReaper() {
	hk.Reg(d.idleReapName(), func() time.Duration {
		idle := time.Duration(timeNowUnixNano()-d.conn.lastActivity.Load()) * time.Nanosecond
		if idle >= idleReapTimeout {
			_ = d.Close()
			hk.Unreg(d.idleReapName())
		}
		return idleReapTimeout
	}, idleReapTimeout)
}

// Close releases the underlying transport and stops the idle reaper. Safe
// to call once; the core itself calls this from the memsys free-callback a
// caller's enclosing scope triggers (spec §4.7/§5's cancellation-by-scope-
// exit discipline).
func (d *Driver) Close() error {
	hk.Unreg(d.idleReapName())
	if d.conn.rc == nil {
		return nil
	}
	return d.conn.rc.Close()
}

func (d *Driver) key(p string) (string, error) { return d.Resolve(p) }

func (d *Driver) Feature(f storage.Feature) bool {
	var out struct {
		Supported bool `json:"supported"`
	}
	if err := d.conn.call("feature", &out, int(f)); err != nil {
		return false
	}
	return out.Supported
}

func (d *Driver) Exists(file string) (bool, error) {
	key, err := d.key(file)
	if err != nil {
		return false, err
	}
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := d.conn.call("exists", &out, key); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (d *Driver) Info(file string, followLink bool) (storage.Info, error) {
	key, err := d.key(file)
	if err != nil {
		return storage.Info{}, err
	}
	var out storage.Info
	if err := d.conn.call("info", &out, key, followLink); err != nil {
		return storage.Info{}, err
	}
	return out, nil
}

func (d *Driver) InfoList(p string, opts storage.InfoListOpts, cb storage.InfoListCallback, data interface{}) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	var out struct {
		Entries []storage.Info `json:"entries"`
	}
	if err := d.conn.call("info_list", &out, key, opts.ExpressionFilter); err != nil {
		return err
	}
	for _, info := range out.Entries {
		cb(info, data)
	}
	return nil
}

func (d *Driver) Move(src, dst string) error {
	srcKey, err := d.key(src)
	if err != nil {
		return err
	}
	dstKey, err := d.key(dst)
	if err != nil {
		return err
	}
	return d.conn.call("move", nil, srcKey, dstKey)
}

func (d *Driver) Remove(file string, errorOnMissing bool) error {
	key, err := d.key(file)
	if err != nil {
		return err
	}
	return d.conn.call("remove", nil, key, errorOnMissing)
}

func (d *Driver) PathCreate(p string, opts storage.PathCreateOpts) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	return d.conn.call("path_create", nil, key, opts.ErrorOnExists, opts.NoParent, opts.Mode)
}

func (d *Driver) PathRemove(p string, opts storage.PathRemoveOpts) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	return d.conn.call("path_remove", nil, key, opts.ErrorOnMissing, opts.Recurse)
}

func (d *Driver) PathSync(p string) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	return d.conn.call("path_sync", nil, key)
}

// NewRead sends a "read" request; the peer's ack reports whether the file
// existed (relevant only when ignore_missing is set), then - if it did -
// streams the body as chunk-framed records the returned IoRead pulls from
// on demand.
func (d *Driver) NewRead(file string, opts storage.ReadOpts) (*xio.IoRead, error) {
	key, err := d.key(file)
	if err != nil {
		return nil, err
	}
	var ack struct {
		Exists bool `json:"exists"`
	}
	if err := d.conn.call("read", &ack, key, opts.IgnoreMissing); err != nil {
		return nil, err
	}
	if !ack.Exists {
		if opts.IgnoreMissing {
			return xio.NewIoRead(emptyReadDriver{}, groupOf(opts.Group)), nil
		}
		return nil, cmn.NewErr(cmn.FileMissingError, "remote file missing: %s", key)
	}
	return xio.NewIoRead(&readDriver{conn: d.conn}, groupOf(opts.Group)), nil
}

// NewWrite sends a "write" request; the peer's ack signals it is ready to
// receive the body, which the returned IoWrite streams as chunk-framed
// records, finished by a zero-size terminator and a final completion
// response on Close.
func (d *Driver) NewWrite(file string, opts storage.WriteOpts) (*xio.IoWrite, error) {
	key, err := d.key(file)
	if err != nil {
		return nil, err
	}
	if err := d.conn.call("write", nil, key, opts.ModeFile, opts.NoAtomic, opts.NoSync, opts.NoCreatePath, opts.ModePath, opts.ErrorOnExists); err != nil {
		return nil, err
	}
	wd := &writeDriver{conn: d.conn}
	return xio.NewIoWrite(wd, groupOf(opts.Group)), nil
}

func groupOf(g interface{}) *filter.Group {
	fg, _ := g.(*filter.Group)
	return fg
}
