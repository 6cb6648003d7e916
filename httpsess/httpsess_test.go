package httpsess_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dwsteele/pgbackrest-core/httpsess"
)

func TestPoolReusesClientForSameKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	cfg := httpsess.Config{Host: u.Hostname(), Port: 80, VerifyTLS: false}

	p := httpsess.New()
	c1, err := p.Get(cfg)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	c2, err := p.Get(cfg)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected the same pooled client for an identical key")
	}
}

func TestDoSucceedsAgainstTestServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := httpsess.New()
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := p.Do(httpsess.Config{Host: "test", VerifyTLS: false}, req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
