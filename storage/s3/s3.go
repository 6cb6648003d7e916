// Package s3 implements storage.Storage against an S3-compatible REST API
// (spec §4.11): hand-rolled SigV4 signing over httpsess's pooled HTTP
// client, single-PUT or multipart upload depending on size, list-v2
// pagination, and batched bulk delete. Grounded on
// other_examples/fd8d99d6_jackric-s3gof3r (request/response shape for a
// from-scratch, no-SDK S3 client) and
// other_examples/4eb5090e_TrustNoOne-distribution's s3 driver (field
// layout, multipart threshold conventions); XML types follow
// ais/s3compat/object.go's ListObjectResult/ObjInfo shape, read instead of
// written.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package s3

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/filter"
	"github.com/dwsteele/pgbackrest-core/httpsess"
	"github.com/dwsteele/pgbackrest-core/storage"
	"github.com/dwsteele/pgbackrest-core/xio"
)

// defaultMultipartThreshold is spec §4.11's default: bodies at or below
// this size use a single PUT; larger bodies switch to multipart upload.
const defaultMultipartThreshold = 16 << 20

const listPageMax = 1000
const deleteBatchMax = 1000

// Config configures one S3-backed Storage.
type Config struct {
	AccessKey          string
	SecretKey          string
	SessionToken       string
	Region             string
	Bucket             string
	Endpoint           string // host[:port], e.g. "s3.amazonaws.com"
	Secure             bool   // https when true; the zero value (false) uses http
	PathStyle          bool   // path-style addressing instead of virtual-hosted
	MultipartThreshold int64  // 0 = defaultMultipartThreshold
	CAFingerprint      string
}

func (c Config) threshold() int64 {
	if c.MultipartThreshold > 0 {
		return c.MultipartThreshold
	}
	return defaultMultipartThreshold
}

// Driver is the storage.Storage implementation backed by S3.
type Driver struct {
	storage.Base
	cfg    Config
	pool   *httpsess.Pool
	signer *signer
}

// New builds an S3-backed driver. base supplies the path-expression/root
// semantics every storage.Storage shares (spec §4.8); pool is the session
// pool the httpsess package maintains (callers typically share one pool
// across drivers talking to the same endpoint).
func New(cfg Config, base storage.Base, pool *httpsess.Pool) *Driver {
	if pool == nil {
		pool = httpsess.New()
	}
	return &Driver{
		Base:   base,
		cfg:    cfg,
		pool:   pool,
		signer: newSigner(cfg.AccessKey, cfg.SecretKey, cfg.Region),
	}
}

func (d *Driver) Feature(f storage.Feature) bool {
	switch f {
	case storage.FeaturePath, storage.FeaturePathSync, storage.FeatureHardlink, storage.FeatureSymlink, storage.FeatureLink:
		return false
	case storage.FeatureCompress:
		return true
	default:
		return false
	}
}

// key resolves p (expanding <tokens> and checking root-escape via Base)
// down to a bare S3 object key with no leading slash.
func (d *Driver) key(p string) (string, error) {
	abs, err := d.Resolve(p)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(abs, "/"), nil
}

func (d *Driver) httpConfig() httpsess.Config {
	return httpsess.Config{
		Host:          d.host(),
		Port:          d.port(),
		CAFingerprint: d.cfg.CAFingerprint,
		VerifyTLS:     d.cfg.Secure,
		Timeout:       60 * time.Second,
	}
}

func (d *Driver) host() string {
	h := d.cfg.Endpoint
	if i := strings.IndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	if !d.cfg.PathStyle {
		return d.cfg.Bucket + "." + h
	}
	return h
}

func (d *Driver) port() int {
	if i := strings.IndexByte(d.cfg.Endpoint, ':'); i >= 0 {
		if p, err := strconv.Atoi(d.cfg.Endpoint[i+1:]); err == nil {
			return p
		}
	}
	if d.cfg.Secure {
		return 443
	}
	return 80
}

func (d *Driver) scheme() string {
	if d.cfg.Secure {
		return "https"
	}
	return "http"
}

// objectURL builds the request URL for key (empty key = bucket root),
// honoring virtual-hosted vs. path-style addressing (spec §6). The URL's
// Host carries an explicit port when the configured endpoint has one (so
// dialing reaches it even when it isn't 80/443, as in tests against
// httptest.Server).
func (d *Driver) objectURL(key string, query url.Values) string {
	host := d.host()
	if i := strings.IndexByte(d.cfg.Endpoint, ':'); i >= 0 {
		host += d.cfg.Endpoint[i:]
	}
	path := "/"
	if d.cfg.PathStyle {
		path = "/" + d.cfg.Bucket + "/"
	}
	if key != "" {
		path += key
	}
	u := &url.URL{Scheme: d.scheme(), Host: host, Path: path}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// doSigned builds, signs and executes an HTTP request against the S3
// endpoint, returning the response body already read into memory (S3
// response bodies here are always small XML documents or empty). Object
// uploads also come through here, with the buffered object or part bytes
// as the request body; object downloads use doSignedStream instead.
func (d *Driver) doSigned(method, rawURL string, body []byte, extraHeaders http.Header) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, cmn.WrapErr(cmn.ProtocolError, err, "build request %s %s", method, rawURL)
	}
	for k, vs := range extraHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Host", req.URL.Host)
	d.signer.sign(req, sha256Hex(body), time.Now(), d.cfg.SessionToken)

	resp, err := d.pool.Do(d.httpConfig(), req)
	if err != nil {
		return nil, nil, cmn.WrapErr(cmn.ProtocolError, err, "%s %s", method, rawURL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, cmn.WrapErr(cmn.ProtocolError, err, "read response body %s %s", method, rawURL)
	}
	return resp, respBody, nil
}

// doSignedStream builds, signs and executes a bodyless request, returning
// the live response with its body left open - used for GET object reads,
// where the payload can be arbitrarily large and must stream through the
// filter group rather than loading entirely into memory first.
func (d *Driver) doSignedStream(method, rawURL string, extraHeaders http.Header) (*http.Response, error) {
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, cmn.WrapErr(cmn.ProtocolError, err, "build request %s %s", method, rawURL)
	}
	for k, vs := range extraHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Host", req.URL.Host)
	d.signer.sign(req, sha256Hex(nil), time.Now(), d.cfg.SessionToken)

	resp, err := d.pool.Do(d.httpConfig(), req)
	if err != nil {
		return nil, cmn.WrapErr(cmn.ProtocolError, err, "%s %s", method, rawURL)
	}
	return resp, nil
}

func (d *Driver) errorFromResponse(verb, uri string, resp *http.Response, body []byte) error {
	kind := cmn.ProtocolError
	if resp.StatusCode == http.StatusNotFound {
		kind = cmn.FileMissingError
	}
	se := parseS3Error(body)
	msg := se.Message
	if msg == "" {
		msg = fmt.Sprintf("http status %d", resp.StatusCode)
	}
	return &cmn.Error{Kind: kind, Message: msg, Verb: verb, URI: uri}
}

// Exists implements storage.Storage via HEAD /key (spec §4.11).
func (d *Driver) Exists(file string) (bool, error) {
	_, err := d.headInfo(file)
	if err == nil {
		return true, nil
	}
	if cmn.Is(err, cmn.FileMissingError) {
		return false, nil
	}
	return false, err
}

// Info implements storage.Storage via HEAD /key. followLink is accepted
// for interface symmetry but meaningless on S3 (no symlinks).
func (d *Driver) Info(file string, followLink bool) (storage.Info, error) {
	return d.headInfo(file)
}

func (d *Driver) headInfo(file string) (storage.Info, error) {
	key, err := d.key(file)
	if err != nil {
		return storage.Info{}, err
	}
	uri := d.objectURL(key, nil)
	resp, body, err := d.doSigned(http.MethodHead, uri, nil, nil)
	if err != nil {
		return storage.Info{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return storage.Info{}, d.errorFromResponse("HEAD", uri, resp, body)
	}
	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return storage.Info{
		Name: key,
		Kind: storage.File,
		Size: size,
		User: strings.Trim(resp.Header.Get("ETag"), `"`),
		Mode: 0640,
	}, nil
}

// InfoList implements storage.Storage via GET /?list-type=2, following
// NextContinuationToken across pages (spec §4.11, P7).
func (d *Driver) InfoList(p string, opts storage.InfoListOpts, cb storage.InfoListCallback, data interface{}) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	prefix := key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	token := ""
	for {
		q := url.Values{}
		q.Set("list-type", "2")
		q.Set("prefix", prefix)
		q.Set("delimiter", "/")
		q.Set("max-keys", strconv.Itoa(listPageMax))
		if token != "" {
			q.Set("continuation-token", token)
		}
		uri := d.objectURL("", q)
		resp, body, err := d.doSigned(http.MethodGet, uri, nil, nil)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return d.errorFromResponse("GET", uri, resp, body)
		}
		page, err := parseListPage(body, len(prefix))
		if err != nil {
			return err
		}
		for _, f := range page.files {
			if f.Name == "" {
				continue // the prefix "directory marker" object itself
			}
			cb(f, data)
		}
		for _, sub := range page.commonPrefix {
			cb(storage.Info{Name: sub, Kind: storage.Path}, data)
		}
		if !page.isTruncated || page.nextToken == "" {
			return nil
		}
		token = page.nextToken
	}
}

// Move relocates src to dst. S3 has no native rename, so this always
// falls back to copy+remove per spec §4.8.
func (d *Driver) Move(src, dst string) error {
	srcKey, err := d.key(src)
	if err != nil {
		return err
	}
	dstKey, err := d.key(dst)
	if err != nil {
		return err
	}
	if err := d.copyObject(srcKey, dstKey); err != nil {
		return err
	}
	return d.Remove(src, true)
}

func (d *Driver) copyObject(srcKey, dstKey string) error {
	source := "/" + d.cfg.Bucket + "/" + srcKey
	uri := d.objectURL(dstKey, nil)
	headers := http.Header{"x-amz-copy-source": []string{source}}
	resp, body, err := d.doSigned(http.MethodPut, uri, nil, headers)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return d.errorFromResponse("PUT", uri, resp, body)
	}
	return nil
}

// Remove deletes a single object via DELETE /key.
func (d *Driver) Remove(file string, errorOnMissing bool) error {
	key, err := d.key(file)
	if err != nil {
		return err
	}
	uri := d.objectURL(key, nil)
	resp, body, err := d.doSigned(http.MethodDelete, uri, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound && !errorOnMissing {
			return nil
		}
		return d.errorFromResponse("DELETE", uri, resp, body)
	}
	return nil
}

// PathCreate is a no-op: S3 has no standalone directory concept.
func (d *Driver) PathCreate(p string, opts storage.PathCreateOpts) error { return nil }

// PathSync is a no-op: there is nothing to fsync on an object store.
func (d *Driver) PathSync(p string) error { return nil }

// PathRemove lists every key under prefix and issues batched bulk-delete
// requests (spec §4.11): up to deleteBatchMax keys per POST ?delete=.
func (d *Driver) PathRemove(p string, opts storage.PathRemoveOpts) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	prefix := key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var keys []string
	token := ""
	for {
		q := url.Values{}
		q.Set("list-type", "2")
		q.Set("prefix", prefix)
		q.Set("max-keys", strconv.Itoa(listPageMax))
		if token != "" {
			q.Set("continuation-token", token)
		}
		uri := d.objectURL("", q)
		resp, body, err := d.doSigned(http.MethodGet, uri, nil, nil)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return d.errorFromResponse("GET", uri, resp, body)
		}
		page, err := parseListPage(body, 0)
		if err != nil {
			return err
		}
		for _, f := range page.files {
			keys = append(keys, f.Name)
		}
		if err := d.deleteBatches(&keys); err != nil {
			return err
		}
		if !page.isTruncated || page.nextToken == "" {
			break
		}
		token = page.nextToken
	}
	return d.deleteBatch(keys)
}

// deleteBatches flushes full deleteBatchMax-sized batches out of keys,
// leaving any remainder for the caller to flush at the end.
func (d *Driver) deleteBatches(keys *[]string) error {
	for len(*keys) >= deleteBatchMax {
		batch := (*keys)[:deleteBatchMax]
		if err := d.deleteBatch(batch); err != nil {
			return err
		}
		*keys = (*keys)[deleteBatchMax:]
	}
	return nil
}

func (d *Driver) deleteBatch(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	body := deleteBatchBody(keys)
	q := url.Values{"delete": []string{""}}
	uri := d.objectURL("", q)
	resp, respBody, err := d.doSigned(http.MethodPost, uri, body, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return d.errorFromResponse("POST", uri, resp, respBody)
	}
	objErrs, err := parseDeleteErrors(respBody)
	if err != nil {
		return err
	}
	if len(objErrs) > 0 {
		return cmn.NewErr(cmn.FileRemoveError, "bulk delete reported %d object errors: %s", len(objErrs), strings.Join(objErrs, "; "))
	}
	return nil
}

// NewRead opens a streaming read against GET /key (spec §4.11).
func (d *Driver) NewRead(file string, opts storage.ReadOpts) (*xio.IoRead, error) {
	key, err := d.key(file)
	if err != nil {
		return nil, err
	}
	uri := d.objectURL(key, nil)
	resp, err := d.doSignedStream(http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound && opts.IgnoreMissing {
			return xio.NewIoRead(emptyReadDriver{}, groupOf(opts.Group)), nil
		}
		return nil, d.errorFromResponse("GET", uri, resp, body)
	}
	return xio.NewIoRead(resp.Body, groupOf(opts.Group)), nil
}

// NewWrite opens a streaming write that accumulates bytes and decides,
// once the configured threshold is crossed, whether to issue a single PUT
// or switch to a multipart upload (spec §4.11, P6).
func (d *Driver) NewWrite(file string, opts storage.WriteOpts) (*xio.IoWrite, error) {
	key, err := d.key(file)
	if err != nil {
		return nil, err
	}
	wd := &writeDriver{
		driver:    d,
		key:       key,
		threshold: d.cfg.threshold(),
	}
	return xio.NewIoWrite(wd, groupOf(opts.Group)), nil
}

func groupOf(g interface{}) *filter.Group {
	fg, _ := g.(*filter.Group)
	return fg
}
