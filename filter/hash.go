// Hash implements the running-digest terminal filter (spec §4.6).
package filter

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
)

// HashAlgo selects the digest Hash computes.
type HashAlgo int

const (
	MD5 HashAlgo = iota
	SHA1
	SHA256
)

func (a HashAlgo) String() string {
	switch a {
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	default:
		cmn.AssertNever("unknown hash algo %d", int(a))
		return ""
	}
}

// Hash is an InOnlyFilter and ResultFilter: it observes every byte that
// passes through and, once done, exposes the lowercase hex digest.
type Hash struct {
	algo HashAlgo
	h    hash.Hash
	done bool
}

func NewHash(algo HashAlgo) *Hash {
	var h hash.Hash
	switch algo {
	case MD5:
		h = md5.New()
	case SHA1:
		h = sha1.New()
	case SHA256:
		h = sha256.New()
	default:
		cmn.AssertNever("unknown hash algo %d", int(algo))
	}
	return &Hash{algo: algo, h: h}
}

func (f *Hash) Type() string   { return "hash." + f.algo.String() }
func (f *Hash) String() string { return "Hash(" + f.algo.String() + ")" }

// InOnly implements spec §4.6/F2: in == nil is the flush signal after which
// Done becomes true.
func (f *Hash) InOnly(in *buffer.Buffer) error {
	if in == nil {
		f.done = true
		return nil
	}
	if in.Used() > 0 {
		f.h.Write(in.Bytes())
		in.ClearUsed()
	}
	return nil
}

func (f *Hash) Done() bool { return f.done }

// Result implements F3: the lowercase hex digest, valid once Done.
func (f *Hash) Result() cmn.Variant {
	cmn.AssertMsg(f.done, "hash result read before done")
	return cmn.StringVariant(hex.EncodeToString(f.h.Sum(nil)))
}
