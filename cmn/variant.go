package cmn

import jsoniter "github.com/json-iterator/go"

// VariantKind tags the payload carried by a Variant.
type VariantKind int

const (
	VariantNone VariantKind = iota
	VariantBool
	VariantI64
	VariantU64
	VariantF64
	VariantBytes
	VariantString
	VariantList
	VariantMap
)

// Variant is the small tagged union filter results are returned as: a
// digest hex string, a byte count, an S3 ETag list, and so on - whatever a
// terminal filter's Result() produces. Mirrors the teacher's habit of
// rendering result-ish structures through jsoniter for logging.
type Variant struct {
	Kind VariantKind

	B    bool
	I    int64
	U    uint64
	F    float64
	Byt  []byte
	Str  string
	List []Variant
	Map  map[string]Variant
}

func BoolVariant(v bool) Variant     { return Variant{Kind: VariantBool, B: v} }
func I64Variant(v int64) Variant     { return Variant{Kind: VariantI64, I: v} }
func U64Variant(v uint64) Variant    { return Variant{Kind: VariantU64, U: v} }
func F64Variant(v float64) Variant   { return Variant{Kind: VariantF64, F: v} }
func BytesVariant(v []byte) Variant  { return Variant{Kind: VariantBytes, Byt: v} }
func StringVariant(v string) Variant { return Variant{Kind: VariantString, Str: v} }

// String renders the Variant the way a log line or CLI tool would want to
// print a filter result - direct formatting for none and bool, jsoniter
// for every other kind (so strings print quoted and bytes as base64).
func (v Variant) String() string {
	switch v.Kind {
	case VariantNone:
		return "<none>"
	case VariantBool:
		if v.B {
			return "true"
		}
		return "false"
	}
	s, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(v.plain())
	if err != nil {
		return "<unrenderable>"
	}
	return s
}

func (v Variant) plain() interface{} {
	switch v.Kind {
	case VariantI64:
		return v.I
	case VariantU64:
		return v.U
	case VariantF64:
		return v.F
	case VariantBytes:
		return v.Byt
	case VariantString:
		return v.Str
	case VariantList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = e.plain()
		}
		return out
	case VariantMap:
		out := make(map[string]interface{}, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.plain()
		}
		return out
	default:
		return nil
	}
}
