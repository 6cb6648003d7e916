// Package httpsess maintains a small pool of reusable HTTP sessions keyed
// by (host, port, ca_fingerprint) for the S3 driver (spec
// §4.10). It wraps *http.Client/*http.Transport the way the teacher's own
// createHTTPClient does, generalized from a single package-level client to
// a keyed pool, with HTTP/2 negotiation layered in via golang.org/x/net.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package httpsess

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/golang/glog"
	"golang.org/x/net/http2"
)

const defaultMaxIdleConnsPerHost = 20

// Config configures one keyed pool entry.
type Config struct {
	Host          string
	Port          int
	CAFingerprint string // empty = default system trust store
	CAFile        string
	CAPath        string
	VerifyTLS     bool // true verifies the peer certificate; the zero value (false) skips verification
	Timeout       time.Duration
	HTTP2         bool
}

func (c Config) key() uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%d|%s", c.Host, c.Port, c.CAFingerprint)
	return h.Sum64()
}

// Pool hands out *http.Client instances keyed by (host, port,
// ca_fingerprint), reusing TLS sessions and TCP connections across
// requests the way the teacher's package-level httpClient did, generalized
// to multiple hosts.
type Pool struct {
	mu      sync.Mutex
	clients map[uint64]*http.Client
}

// New builds an empty pool.
func New() *Pool {
	return &Pool{clients: make(map[uint64]*http.Client)}
}

// Get returns the pooled client for cfg, creating it on first use.
func (p *Pool) Get(cfg Config) (*http.Client, error) {
	key := cfg.key()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	glog.V(3).Infof("httpsess: new session pool entry for %s:%d", cfg.Host, cfg.Port)
	return c, nil
}

func newClient(cfg Config) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}

	if cfg.CAFile != "" || cfg.CAPath != "" {
		pool, err := loadCAPool(cfg.CAFile, cfg.CAPath)
		if err != nil {
			return nil, cmn.WrapErr(cmn.TLSError, err, "load CA trust store for %s", cfg.Host)
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		TLSClientConfig:     tlsConfig,
		DialContext: (&net.Dialer{
			Timeout: dialTimeout(cfg),
		}).DialContext,
	}

	if cfg.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, cmn.WrapErr(cmn.TLSError, err, "configure http2 for %s", cfg.Host)
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}

func loadCAPool(caFile, caPath string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in %s", caFile)
		}
	}
	if caPath != "" {
		entries, err := os.ReadDir(caPath)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			pem, err := os.ReadFile(filepath.Join(caPath, e.Name()))
			if err != nil {
				continue
			}
			pool.AppendCertsFromPEM(pem)
		}
	}
	return pool, nil
}

func dialTimeout(cfg Config) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 30 * time.Second
}

// Do executes req against the pooled client for cfg, implementing spec
// §4.10's retry policy: on a socket error before any response bytes are
// read, one retry is attempted on a fresh connection. net/http's Client.Do
// only ever returns an error directly (as opposed to via the response
// body's Read) for failures before a status line was received, so any
// error here qualifies for one retry on a fresh session; an error
// encountered mid-body-read instead surfaces from resp.Body.Read and is
// never routed through this function.
func (p *Pool) Do(cfg Config, req *http.Request) (*http.Response, error) {
	client, err := p.Get(cfg)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err == nil {
		return resp, nil
	}

	glog.Warningf("httpsess: pre-response error on %s %s, retrying on a fresh session: %v", req.Method, req.URL, err)
	p.evict(cfg)
	client, err = p.Get(cfg)
	if err != nil {
		return nil, err
	}
	resp, err = client.Do(req)
	if err != nil {
		return nil, cmn.WrapErr(cmn.ProtocolError, err, "http %s %s", req.Method, req.URL)
	}
	return resp, nil
}

func (p *Pool) evict(cfg Config) {
	p.mu.Lock()
	delete(p.clients, cfg.key())
	p.mu.Unlock()
}
