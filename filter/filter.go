// Package filter implements the pluggable byte-stream transformers and the
// ordered FilterGroup pipeline that chains them (spec §3/§4.3): compress,
// decompress, cipher, hash and size. Every filter advertises a capability
// subset - in_only, in_out, done, input_same, result - via the narrower
// interfaces below rather than a single god-interface with nil function
// pointers, which is how the source represents the same idea through a
// tagged struct of optional fn-pointers.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package filter

import (
	"github.com/dwsteele/pgbackrest-core/buffer"
	"github.com/dwsteele/pgbackrest-core/cmn"
)

// Filter is the capability every transformer has: a short type tag (used as
// the FilterGroup results-map key, spec G3) and a log-friendly renderer.
type Filter interface {
	Type() string
	String() string
}

// InOnlyFilter is a terminal consumer: it never produces output, only
// observes bytes (hash, size). in == nil signals end-of-stream flush, after
// which Done() may become true (F2).
type InOnlyFilter interface {
	Filter
	InOnly(in *buffer.Buffer) error
	Done() bool
}

// InOutFilter transforms bytes from in into out. in == nil signals flush
// (no more input will ever arrive); a filter flushed this way keeps being
// called (with in == nil) until Done() is true, so it can drain internal
// state (e.g. a compressor's trailing block).
//
// F1: once InOut returns with InputSame() == true, the FilterGroup must
// call InOut again with the IDENTICAL in buffer (same object, unchanged
// content) before advancing to a new input.
type InOutFilter interface {
	Filter
	InOut(in *buffer.Buffer, out *buffer.Buffer) error
	Done() bool
	InputSame() bool
}

// ResultFilter exposes a terminal computed value, valid only once Done() is
// true (F3).
type ResultFilter interface {
	Filter
	Result() cmn.Variant
}
