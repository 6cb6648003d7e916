// Size implements the running byte-count terminal filter (spec §4.6).
package filter

import (
	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
)

// Size is an InOnlyFilter and ResultFilter counting bytes observed.
type Size struct {
	n    int64
	done bool
}

func NewSize() *Size { return &Size{} }

func (f *Size) Type() string   { return "size" }
func (f *Size) String() string { return "Size" }

func (f *Size) InOnly(in *buffer.Buffer) error {
	if in == nil {
		f.done = true
		return nil
	}
	f.n += int64(in.Used())
	in.ClearUsed()
	return nil
}

func (f *Size) Done() bool { return f.done }

// Result implements F3: a non-negative integer count of bytes seen.
func (f *Size) Result() cmn.Variant {
	cmn.AssertMsg(f.done, "size result read before done")
	return cmn.I64Variant(f.n)
}
