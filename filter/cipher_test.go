package filter_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/filter"
)

func TestCipherEncryptDecryptRoundTrip(t *testing.T) {
	// spec §8 scenario 2
	passphrase := "12345678"
	salt := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	r := rand.New(rand.NewSource(42))
	plain := make([]byte, 5000)
	r.Read(plain)

	enc := filter.New()
	enc.Push(filter.NewCipherEncrypt(passphrase, salt, 1))
	ciphertext := drive(t, enc, plain, 777)

	pad := 16 - len(plain)%16
	wantLen := len(plain) + 16 + pad
	if len(ciphertext) != wantLen {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), wantLen)
	}

	dec := filter.New()
	dec.Push(filter.NewCipherDecrypt(passphrase, 1))
	roundTripped := drive(t, dec, ciphertext, 333)
	if !bytes.Equal(roundTripped, plain) {
		t.Fatalf("round trip mismatch: got %d bytes want %d", len(roundTripped), len(plain))
	}
}

func TestCipherRejectsBadMagic(t *testing.T) {
	dec := filter.New()
	dec.Push(filter.NewCipherDecrypt("whatever", 1))
	junk := buffer.WithContent(bytes.Repeat([]byte{0xFF}, 32))

	_, err := dec.Tick(junk)
	if err == nil {
		t.Fatalf("expected bad magic header to error")
	}
	if !cmn.Is(err, cmn.CryptoError) {
		t.Fatalf("expected CryptoError, got %v", err)
	}
}
