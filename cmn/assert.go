package cmn

// Assert panics with an AssertError-kind *Error when cond is false. It is
// reserved for programmer errors - violated invariants that indicate a bug
// in this module, never for expected failure paths (those return *Error
// through the normal error-return channel instead).
func Assert(cond bool) {
	if !cond {
		panic(NewErr(AssertError, "assertion failed"))
	}
}

// AssertMsg is Assert with a formatted message, for when the bare assertion
// line doesn't explain what invariant broke.
func AssertMsg(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(NewErr(AssertError, format, args...))
	}
}

// AssertNoErr panics if err is non-nil. Used at call sites where failure is
// only possible if an earlier invariant was already violated (e.g.
// marshaling a struct this package itself constructed).
func AssertNoErr(err error) {
	if err != nil {
		panic(NewErr(AssertError, "unexpected error: %v", err))
	}
}

// AssertNever panics unconditionally - the control-flow-reached-the-impossible
// marker, equivalent to the teacher's cmn.AssertMsg(false, "NIY").
func AssertNever(format string, args ...interface{}) {
	panic(NewErr(AssertError, format, args...))
}

// Recover turns a panic carrying a *Error back into a normal error return.
// Intended for use in a deferred call at a package's public boundary, so
// that AssertError never escapes as a raw panic to an external caller.
func Recover(errp *error) {
	if r := recover(); r != nil {
		if e, ok := r.(*Error); ok {
			*errp = e
			return
		}
		*errp = NewErr(AssertError, "panic: %v", r)
	}
}
