// Cipher implements the AES-256-CBC filter (spec §4.5): encrypt prepends an
// 8-byte magic header and 8-byte salt before the first ciphertext block;
// decrypt consumes and verifies them. Key material is derived from a
// passphrase and salt with an OpenSSL EVP_BytesToKey-style iterated-hash
// KDF, the scheme pgBackRest itself layers over libssl for this filter.
package filter

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"

	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
)

const (
	cipherKeySize   = 32
	cipherIVSize    = 16
	cipherSaltSize  = 8
	cipherBlockSize = aes.BlockSize // 16
)

// cipherMagic is the fixed 8-byte header prepended to an encrypted stream,
// the way OpenSSL's own "Salted__" marker precedes its salt.
var cipherMagic = [8]byte{'p', 'g', 'B', 'R', 'C', 'I', 'P', '1'}

// kdf derives key||iv from passphrase and salt via an EVP_BytesToKey-style
// iterated SHA-256 chain: each output block hashes the previous block
// (empty for the first) concatenated with passphrase and salt, iterations
// times, and blocks are concatenated until enough bytes are produced.
func kdf(passphrase string, salt []byte, iterations int) (key, iv []byte) {
	cmn.AssertMsg(iterations >= 1, "kdf: iterations must be >= 1, got %d", iterations)
	need := cipherKeySize + cipherIVSize
	var out []byte
	var prev []byte
	for len(out) < need {
		h := sha256.New()
		h.Write(prev)
		h.Write([]byte(passphrase))
		h.Write(salt)
		sum := h.Sum(nil)
		for i := 1; i < iterations; i++ {
			h = sha256.New()
			h.Write(sum)
			sum = h.Sum(nil)
		}
		out = append(out, sum...)
		prev = sum
	}
	return out[:cipherKeySize], out[cipherKeySize:need]
}

// Cipher implements InOutFilter for spec §4.5. encrypt controls direction;
// the same type handles both since the only difference is CBC encrypter
// vs. decrypter and the header/padding handling around it.
type Cipher struct {
	encrypt    bool
	passphrase string
	iterations int

	salt    []byte // set on construction (encrypt) or parsed from the stream (decrypt)
	block   cipher.Block
	stream  cipher.BlockMode
	headerOut   bytes.Buffer // pending magic+salt bytes not yet copied to an out buffer (encrypt)
	headerIn    bytes.Buffer // magic+salt bytes accumulated from the input stream (decrypt)
	headerReady bool

	pending   bytes.Buffer // whole ciphertext/plaintext blocks buffered, not yet emitted
	carry     []byte       // leftover bytes shorter than one block, held across calls

	flushing   bool
	flushedPad bool // encrypt only: final padded block has been produced
	done       bool
	inputSame  bool
}

// NewCipherEncrypt builds an encrypting Cipher filter. salt must be exactly
// 8 bytes (spec scenario 2 fixes it at 0x0102030405060708).
func NewCipherEncrypt(passphrase string, salt []byte, iterations int) *Cipher {
	cmn.AssertMsg(len(salt) == cipherSaltSize, "cipher: salt must be %d bytes", cipherSaltSize)
	key, iv := kdf(passphrase, salt, iterations)
	block, err := aes.NewCipher(key)
	cmn.AssertNoErr(err)
	c := &Cipher{encrypt: true, passphrase: passphrase, iterations: iterations, salt: salt}
	c.block = block
	c.stream = cipher.NewCBCEncrypter(block, iv)
	c.headerOut.Write(cipherMagic[:])
	c.headerOut.Write(salt)
	return c
}

// NewCipherDecrypt builds a decrypting Cipher filter; the key/iv are
// derived lazily once the magic header and salt have been read off the
// stream.
func NewCipherDecrypt(passphrase string, iterations int) *Cipher {
	return &Cipher{passphrase: passphrase, iterations: iterations}
}

func (c *Cipher) Type() string { return "cipher" }
func (c *Cipher) String() string {
	if c.encrypt {
		return "Cipher(encrypt)"
	}
	return "Cipher(decrypt)"
}

func (c *Cipher) InOut(in *buffer.Buffer, out *buffer.Buffer) error {
	if c.encrypt {
		return c.encryptInOut(in, out)
	}
	return c.decryptInOut(in, out)
}

func (c *Cipher) encryptInOut(in *buffer.Buffer, out *buffer.Buffer) error {
	// Input is always fully absorbed into the unbounded carry/pending
	// queues this call, regardless of how much of that ends up copied into
	// out below - input_same is never needed on the encrypt path.
	if in != nil && in.Used() > 0 {
		c.carry = append(c.carry, in.Bytes()...)
		in.ClearUsed()
	} else if in == nil {
		c.flushing = true
	}

	full := len(c.carry) - len(c.carry)%cipherBlockSize
	if full > 0 {
		ct := make([]byte, full)
		c.stream.CryptBlocks(ct, c.carry[:full])
		c.pending.Write(ct)
		c.carry = append([]byte(nil), c.carry[full:]...)
	}

	if c.flushing && !c.flushedPad {
		padded := pkcs7Pad(c.carry, cipherBlockSize)
		ct := make([]byte, len(padded))
		c.stream.CryptBlocks(ct, padded)
		c.pending.Write(ct)
		c.carry = nil
		c.flushedPad = true
	}

	if c.headerOut.Len() > 0 {
		n := copy(out.Tail(), c.headerOut.Bytes())
		out.Advance(n)
		c.headerOut.Next(n)
	}
	n := copy(out.Tail(), c.pending.Bytes())
	out.Advance(n)
	c.pending.Next(n)

	c.inputSame = false
	c.done = c.flushing && c.flushedPad && c.headerOut.Len() == 0 && c.pending.Len() == 0
	return nil
}

func (c *Cipher) decryptInOut(in *buffer.Buffer, out *buffer.Buffer) error {
	if in != nil && in.Used() > 0 {
		c.carry = append(c.carry, in.Bytes()...)
		in.ClearUsed()
	} else if in == nil {
		c.flushing = true
	}

	if !c.headerReady {
		headerLen := len(cipherMagic) + cipherSaltSize
		if len(c.carry) < headerLen {
			c.inputSame = c.flushing
			return nil
		}
		if !bytes.Equal(c.carry[:len(cipherMagic)], cipherMagic[:]) {
			return cmn.NewErr(cmn.CryptoError, "decrypt: bad magic header")
		}
		c.salt = append([]byte(nil), c.carry[len(cipherMagic):headerLen]...)
		c.carry = append([]byte(nil), c.carry[headerLen:]...)
		key, iv := kdf(c.passphrase, c.salt, c.iterations)
		block, err := aes.NewCipher(key)
		cmn.AssertNoErr(err)
		c.block = block
		c.stream = cipher.NewCBCDecrypter(block, iv)
		c.headerReady = true
	}

	// Hold back the final block until flush, since it may carry padding
	// that can only be stripped once no more ciphertext will ever arrive.
	holdback := cipherBlockSize
	if c.flushing {
		holdback = 0
	}
	avail := len(c.carry) - len(c.carry)%cipherBlockSize
	if take := avail - holdback; take > 0 {
		pt := make([]byte, take)
		c.stream.CryptBlocks(pt, c.carry[:take])
		if c.flushing && take == avail {
			unpadded, err := pkcs7Unpad(pt, cipherBlockSize)
			if err != nil {
				return cmn.WrapErr(cmn.CryptoError, err, "decrypt: padding")
			}
			pt = unpadded
		}
		c.pending.Write(pt)
		c.carry = append([]byte(nil), c.carry[take:]...)
	}

	n := copy(out.Tail(), c.pending.Bytes())
	out.Advance(n)
	c.pending.Next(n)

	c.done = c.flushing && c.pending.Len() == 0 && len(c.carry) == 0
	c.inputSame = c.flushing && !c.done
	return nil
}

func (c *Cipher) Done() bool      { return c.done }
func (c *Cipher) InputSame() bool { return c.inputSame }

func pkcs7Pad(b []byte, blockSize int) []byte {
	pad := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+pad)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, cmn.NewErr(cmn.CryptoError, "pkcs7: invalid length")
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > blockSize || pad > len(b) {
		return nil, cmn.NewErr(cmn.CryptoError, "pkcs7: invalid padding")
	}
	for _, p := range b[len(b)-pad:] {
		if int(p) != pad {
			return nil, cmn.NewErr(cmn.CryptoError, "pkcs7: invalid padding")
		}
	}
	return b[:len(b)-pad], nil
}
