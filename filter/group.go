package filter

import (
	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
)

const defaultStageBufSize = 32 * 1024

// stage wraps one filter together with the per-filter intermediate output
// buffer the group feeds into the next stage (spec: "FilterGroup: ordered
// vector of filters plus per-filter intermediate output buffer").
type stage struct {
	f Filter
	// out is nil for the last stage in a group that ends in an InOnlyFilter
	// (G1: nothing follows a terminal, so it has nothing to buffer into).
	out *buffer.Buffer

	lastInput  *buffer.Buffer // buffer that must be re-presented while inputSame is true (F1)
	inputSame  bool
	done       bool
	onlyFilter InOnlyFilter
	ioFilter   InOutFilter
}

// Group is the ordered filter pipeline. Construct with New and Push one
// filter at a time.
type Group struct {
	stages  []*stage
	results map[string]cmn.Variant
	flushing bool
	done     bool
}

// New creates an empty group.
func New() *Group {
	return &Group{results: make(map[string]cmn.Variant)}
}

// Push appends f to the end of the chain. G1: once an InOnlyFilter has been
// pushed, the group is sealed - nothing may follow a terminal.
func (g *Group) Push(f Filter) {
	cmn.AssertMsg(len(g.stages) == 0 || !g.stages[len(g.stages)-1].isTerminal(),
		"cannot push %s after a terminal filter", f.Type())

	st := &stage{f: f}
	if onlyF, ok := f.(InOnlyFilter); ok {
		st.onlyFilter = onlyF
	} else if ioF, ok := f.(InOutFilter); ok {
		st.ioFilter = ioF
		st.out = buffer.New(defaultStageBufSize)
	} else {
		cmn.AssertNever("filter %s implements neither InOnlyFilter nor InOutFilter", f.Type())
	}
	g.stages = append(g.stages, st)
}

func (st *stage) isTerminal() bool { return st.onlyFilter != nil }

// Len reports how many filters are chained.
func (g *Group) Len() int { return len(g.stages) }

// Done implements G2: true once every filter is done and every intermediate
// buffer has been drained by its downstream consumer.
func (g *Group) Done() bool {
	if !g.done {
		return false
	}
	for _, st := range g.stages {
		if st.out != nil && st.out.Used() > 0 {
			return false
		}
	}
	return true
}

// Tick drives one processing step (spec §4.3's three numbered steps). ext
// is the newly-arrived external input for stage 0, or nil to signal
// end-of-stream (the group then keeps flushing on every subsequent Tick
// call until Done()). It returns whether any stage made progress this call
// - callers (IoRead/IoWrite) loop calling Tick(nil) while progress is true
// and the group isn't yet Done, and must supply a fresh ext buffer (or keep
// presenting the same one, see NeedsSameInput) otherwise.
func (g *Group) Tick(ext *buffer.Buffer) (progress bool, err error) {
	if ext == nil {
		g.flushing = true
	}

	var upstream *buffer.Buffer = ext
	var upstreamDone bool // true once the immediately-preceding stage is Done with nothing left buffered

	for i, st := range g.stages {
		if st.done {
			upstream = st.out
			upstreamDone = true
			continue
		}

		in, haveInput := st.resolveInput(i, upstream, upstreamDone, g.flushing)
		if !haveInput {
			upstream = st.out
			upstreamDone = false
			continue
		}

		// Stage 0's input is the caller-owned external buffer: the group
		// never clears it, it only reports NeedsSameInput so the caller
		// knows whether it may move on to its own next chunk. Every later
		// stage's input is the previous stage's own out buffer, which this
		// group does own and must clear once fully consumed.
		madeProgress, err := st.invoke(in, i == 0)
		if err != nil {
			return progress, err
		}
		progress = progress || madeProgress
		if st.done {
			g.checkAllDone()
		}

		upstream = st.out
		upstreamDone = st.done
	}
	return progress, nil
}

// resolveInput decides what buffer (if any) stage i should be fed this
// tick, honoring F1 (re-present the same buffer while inputSame holds).
func (st *stage) resolveInput(i int, upstream *buffer.Buffer, upstreamDone, flushing bool) (in *buffer.Buffer, ok bool) {
	if st.inputSame {
		return st.lastInput, true
	}
	if i == 0 {
		if upstream != nil {
			return upstream, true
		}
		if flushing {
			return nil, true // flush signal into stage 0
		}
		return nil, false
	}
	if upstream != nil && upstream.Used() > 0 {
		return upstream, true
	}
	if upstreamDone {
		return nil, true // upstream drained and finished: flush into this stage
	}
	return nil, false
}

// invoke calls the filter once with the resolved input, updating stage
// bookkeeping (done/inputSame/lastInput) and draining the upstream buffer
// once it is fully consumed - but only when this group owns that buffer
// (external, the stage-0 case, is caller-owned and never cleared here).
func (st *stage) invoke(in *buffer.Buffer, external bool) (progress bool, err error) {
	if st.onlyFilter != nil {
		if err := st.onlyFilter.InOnly(in); err != nil {
			return false, err
		}
		if !external && in != nil {
			in.ClearUsed()
		}
		st.done = st.onlyFilter.Done()
		return true, nil
	}

	before := 0
	if st.out != nil {
		before = st.out.Used()
	}
	if err := st.ioFilter.InOut(in, st.out); err != nil {
		return false, err
	}
	st.inputSame = st.ioFilter.InputSame()
	if st.inputSame {
		st.lastInput = in
	} else {
		st.lastInput = nil
		if !external && in != nil {
			in.ClearUsed()
		}
	}
	st.done = st.ioFilter.Done()
	return st.out.Used() > before || st.inputSame, nil
}

func (g *Group) checkAllDone() {
	for _, st := range g.stages {
		if !st.done {
			return
		}
	}
	g.done = true
	for _, st := range g.stages {
		if rf, ok := st.f.(ResultFilter); ok {
			g.results[st.f.Type()] = rf.Result()
		}
	}
}

// NeedsSameInput reports whether stage 0 still holds an unconsumed external
// buffer it must be re-presented with (F1) before the caller may advance to
// a new chunk of its own input.
func (g *Group) NeedsSameInput() bool {
	return len(g.stages) > 0 && g.stages[0].inputSame
}

// Tail returns the final stage's intermediate buffer - the bytes ready for
// the caller to drain (IoRead copies these into its own output buffer,
// IoWrite hands them to the storage driver). It is nil if the group ends
// in a terminal filter (nothing to drain downstream of it).
func (g *Group) Tail() *buffer.Buffer {
	if len(g.stages) == 0 {
		return nil
	}
	return g.stages[len(g.stages)-1].out
}

// Result returns the named filter's terminal value (G3), available once
// Done() is true.
func (g *Group) Result(filterType string) (cmn.Variant, bool) {
	v, ok := g.results[filterType]
	return v, ok
}

func (g *Group) String() string {
	s := "FilterGroup["
	for i, st := range g.stages {
		if i > 0 {
			s += ","
		}
		s += st.f.Type()
	}
	return s + "]"
}
