package s3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	dateFormat     = "20060102"
	amzDateFormat  = "20060102T150405Z"
	signingService = "s3"
	signingReqType = "aws4_request"
)

// signer implements spec §4.11's SigV4 signing, caching the derived signing
// key per calendar date so it is only regenerated when the date rolls -
// the hot path (hashing the canonical request and HMAC-ing the string to
// sign) runs on every request, but the four-step HMAC key derivation chain
// does not.
type signer struct {
	accessKey string
	secretKey string
	region    string

	keyDate string
	key     []byte
}

func newSigner(accessKey, secretKey, region string) *signer {
	return &signer{accessKey: accessKey, secretKey: secretKey, region: region}
}

func (s *signer) signingKey(date string) []byte {
	if s.keyDate == date && s.key != nil {
		return s.key
	}
	kDate := hmacSHA256([]byte("AWS4"+s.secretKey), date)
	kRegion := hmacSHA256(kDate, s.region)
	kService := hmacSHA256(kRegion, signingService)
	kSigning := hmacSHA256(kService, signingReqType)

	s.keyDate = date
	s.key = kSigning
	return kSigning
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sign adds the Authorization, x-amz-date (and, when a session token is
// configured, x-amz-security-token) headers to req, per spec §4.11's exact
// canonical-request / string-to-sign / signing-key formulas. payloadSHA256
// is the hex SHA-256 of the request body (empty-string hash for bodyless
// requests) and is also set as x-amz-content-sha256 before signing, so it
// participates in the signed-headers set.
func (s *signer) sign(req *http.Request, payloadSHA256 string, now time.Time, sessionToken string) {
	amzDate := now.UTC().Format(amzDateFormat)
	date := now.UTC().Format(dateFormat)

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadSHA256)
	if sessionToken != "" {
		req.Header.Set("x-amz-security-token", sessionToken)
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.Host)
	}

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req.Header)
	canonicalReq := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadSHA256,
	}, "\n")

	scope := date + "/" + s.region + "/" + signingService + "/" + signingReqType
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		sha256Hex([]byte(canonicalReq)),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(s.signingKey(date), stringToSign))

	auth := "AWS4-HMAC-SHA256 Credential=" + s.accessKey + "/" + scope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature
	req.Header.Set("Authorization", auth)
}

func canonicalURI(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.EscapedPath()
}

func canonicalQuery(u *url.URL) string {
	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for j, v := range vs {
			if i > 0 || j > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(awsQueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(awsQueryEscape(v))
		}
	}
	return sb.String()
}

// awsQueryEscape percent-encodes a query key/value the way SigV4 canonical
// queries require - url.QueryEscape encodes space as "+", but AWS requires
// "%20", so the "+" is fixed up afterward.
func awsQueryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func canonicalizeHeaders(h http.Header) (canonical, signed string) {
	keys := make([]string, 0, len(h))
	lower := make(map[string]string, len(h))
	for k := range h {
		lk := strings.ToLower(k)
		keys = append(keys, lk)
		lower[lk] = k
	}
	sort.Strings(keys)

	var cb, sb strings.Builder
	for i, lk := range keys {
		values := h[lower[lk]]
		joined := strings.Join(trimAll(values), ",")
		cb.WriteString(lk)
		cb.WriteByte(':')
		cb.WriteString(joined)
		cb.WriteByte('\n')
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(lk)
	}
	return cb.String(), sb.String()
}

func trimAll(vs []string) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
