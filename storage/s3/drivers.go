package s3

import (
	"crypto/md5"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/hk"
)

// multipartAbortTimeout bounds how long an initiated-but-never-completed
// multipart upload lingers on the bucket when its owning scope is never
// cleanly exited (spec §5's structural cancellation reaches Close, but a
// crashed or killed process never runs it) - matches AWS's own recommended
// abandoned-multipart-upload cleanup window.
const multipartAbortTimeout = time.Hour

// emptyReadDriver backs NewRead's ignore_missing case: a 404 GET becomes an
// empty stream with immediate EOF (spec §4.9's ignore_missing convention,
// reused here since S3's missing-object behavior is the same shape).
type emptyReadDriver struct{}

func (emptyReadDriver) Read(p []byte) (int, error) { return 0, io.EOF }
func (emptyReadDriver) Close() error                { return nil }

// writeDriver accumulates bytes until the configured threshold decides
// whether the whole write becomes one PUT or a multipart upload (spec
// §4.11, P6). Until more than threshold bytes have arrived it holds up to
// threshold bytes; once that is exceeded, full-sized parts are PUT
// immediately and only the trailing remainder (at most threshold-1 bytes)
// stays buffered between Write calls.
type writeDriver struct {
	driver    *Driver
	key       string
	threshold int64

	pending []byte
	started bool // multipart upload initiated
	errored bool

	uploadID   string
	partNumber int
	parts      []completedPart
}

func (wd *writeDriver) Write(p []byte) (int, error) {
	wd.pending = append(wd.pending, p...)

	if !wd.started {
		if int64(len(wd.pending)) <= wd.threshold {
			return len(p), nil
		}
		if err := wd.initiateMultipart(); err != nil {
			wd.errored = true
			return 0, err
		}
	}

	for int64(len(wd.pending)) >= wd.threshold {
		chunk := wd.pending[:wd.threshold]
		if err := wd.uploadPart(chunk); err != nil {
			wd.errored = true
			return 0, err
		}
		wd.pending = wd.pending[wd.threshold:]
	}
	return len(p), nil
}

func (wd *writeDriver) Close() error {
	if !wd.started {
		return wd.putSingle(wd.pending)
	}
	wd.disarmAbortTimer()
	if wd.errored {
		if err := wd.abortMultipart(); err != nil {
			return err
		}
		return cmn.NewErr(cmn.FileWriteError, "multipart upload %s aborted after a part upload error", wd.uploadID)
	}
	if len(wd.pending) > 0 {
		if err := wd.uploadPart(wd.pending); err != nil {
			_ = wd.abortMultipart()
			return err
		}
		wd.pending = nil
	}
	return wd.completeMultipart()
}

func (wd *writeDriver) putSingle(body []byte) error {
	d := wd.driver
	sum := md5.Sum(body)
	headers := http.Header{"Content-MD5": []string{base64.StdEncoding.EncodeToString(sum[:])}}

	uri := d.objectURL(wd.key, nil)
	resp, respBody, err := d.doSigned(http.MethodPut, uri, body, headers)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return d.errorFromResponse("PUT", uri, resp, respBody)
	}
	return nil
}

func (wd *writeDriver) initiateMultipart() error {
	d := wd.driver
	q := url.Values{"uploads": []string{""}}
	uri := d.objectURL(wd.key, q)
	resp, body, err := d.doSigned(http.MethodPost, uri, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return d.errorFromResponse("POST", uri, resp, body)
	}
	result, err := parseInitiateMultipart(body)
	if err != nil {
		return err
	}
	wd.uploadID = result.UploadID
	wd.started = true
	wd.armAbortTimer()
	return nil
}

// abortTimerName is unique per upload, since uploadID is assigned by S3
// only once initiateMultipart succeeds.
func (wd *writeDriver) abortTimerName() string {
	return "s3-multipart-abort:" + wd.key + ":" + wd.uploadID
}

// armAbortTimer registers a one-shot stall timeout: if Close never runs
// (killed process, leaked scope), the upload is aborted on its own rather
// than billing storage forever. A normal Close always disarms this first.
func (wd *writeDriver) armAbortTimer() {
	name := wd.abortTimerName()
	hk.Reg(name, func() time.Duration {
		_ = wd.abortMultipart()
		hk.Unreg(name)
		return multipartAbortTimeout
	}, multipartAbortTimeout)
}

func (wd *writeDriver) disarmAbortTimer() {
	hk.Unreg(wd.abortTimerName())
}

func (wd *writeDriver) uploadPart(chunk []byte) error {
	d := wd.driver
	wd.partNumber++
	q := url.Values{}
	q.Set("partNumber", strconv.Itoa(wd.partNumber))
	q.Set("uploadId", wd.uploadID)
	uri := d.objectURL(wd.key, q)

	resp, body, err := d.doSigned(http.MethodPut, uri, chunk, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return d.errorFromResponse("PUT", uri, resp, body)
	}
	wd.parts = append(wd.parts, completedPart{Number: wd.partNumber, ETag: resp.Header.Get("ETag")})
	return nil
}

func (wd *writeDriver) completeMultipart() error {
	d := wd.driver
	q := url.Values{"uploadId": []string{wd.uploadID}}
	uri := d.objectURL(wd.key, q)
	body := completeMultipartBody(wd.parts)

	resp, respBody, err := d.doSigned(http.MethodPost, uri, body, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return d.errorFromResponse("POST", uri, resp, respBody)
	}
	return nil
}

func (wd *writeDriver) abortMultipart() error {
	d := wd.driver
	q := url.Values{"uploadId": []string{wd.uploadID}}
	uri := d.objectURL(wd.key, q)
	resp, body, err := d.doSigned(http.MethodDelete, uri, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return d.errorFromResponse("DELETE", uri, resp, body)
	}
	return nil
}
