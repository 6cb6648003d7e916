package buffer_test

import (
	"bytes"
	"testing"

	"github.com/dwsteele/pgbackrest-core/buffer"
)

func TestAppendAndBytes(t *testing.T) {
	b := buffer.New(8)
	if b.Remains() != 8 || b.Used() != 0 {
		t.Fatalf("new buffer should start empty: used=%d remains=%d", b.Used(), b.Remains())
	}
	b.Append([]byte("abcd"))
	if b.Used() != 4 || b.Remains() != 4 {
		t.Fatalf("after append: used=%d remains=%d", b.Used(), b.Remains())
	}
	if !bytes.Equal(b.Bytes(), []byte("abcd")) {
		t.Fatalf("unexpected content %q", b.Bytes())
	}
}

func TestClearUsedKeepsCapacity(t *testing.T) {
	b := buffer.WithContent([]byte("hello"))
	b.ClearUsed()
	if b.Used() != 0 {
		t.Fatalf("used should be 0 after clear, got %d", b.Used())
	}
	if b.Size() != 5 {
		t.Fatalf("size should be unchanged, got %d", b.Size())
	}
}

func TestResizePreservesPrefix(t *testing.T) {
	b := buffer.WithContent([]byte("0123456789"))
	b.Resize(4)
	if b.Used() != 4 || !bytes.Equal(b.Bytes(), []byte("0123")) {
		t.Fatalf("shrink should clamp used and keep prefix, got %q used=%d", b.Bytes(), b.Used())
	}
	b.Resize(10)
	if b.Size() != 10 || !bytes.Equal(b.Bytes(), []byte("0123")) {
		t.Fatalf("grow should preserve content, got %q size=%d", b.Bytes(), b.Size())
	}
}

func TestDropFrontShiftsRemainder(t *testing.T) {
	b := buffer.WithContent([]byte("abcdef"))
	b.DropFront(2)
	if b.Used() != 4 || !bytes.Equal(b.Bytes(), []byte("cdef")) {
		t.Fatalf("drop front mismatch: used=%d bytes=%q", b.Used(), b.Bytes())
	}
	b.DropFront(4)
	if b.Used() != 0 {
		t.Fatalf("expected empty after dropping all, got used=%d", b.Used())
	}
}

func TestTailWriteThenAdvance(t *testing.T) {
	b := buffer.New(4)
	n := copy(b.Tail(), []byte("xy"))
	b.Advance(n)
	if b.Used() != 2 || !bytes.Equal(b.Bytes(), []byte("xy")) {
		t.Fatalf("tail/advance mismatch: used=%d bytes=%q", b.Used(), b.Bytes())
	}
}
