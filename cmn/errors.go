// Package cmn provides the shared error taxonomy, assertion helpers, and
// small utilities used across the storage core.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
)

// ErrKind is the stable error taxonomy every component in this module
// surfaces errors through. Callers switch on Kind, never on error strings.
type ErrKind int

const (
	MemoryError ErrKind = iota
	AssertError
	FormatError
	FileOpenError
	FileReadError
	FileWriteError
	FileMissingError
	FileRemoveError
	PathOpenError
	PathCreateError
	PathMissingError
	PathRemoveError
	CryptoError
	ProtocolError
	TLSError
	OptionInvalidError
	OptionInvalidValueError
	CommandRequiredError
	CommandInvalidError
	TermError
)

var kindNames = map[ErrKind]string{
	MemoryError:             "MemoryError",
	AssertError:             "AssertError",
	FormatError:             "FormatError",
	FileOpenError:           "FileOpenError",
	FileReadError:           "FileReadError",
	FileWriteError:          "FileWriteError",
	FileMissingError:        "FileMissingError",
	FileRemoveError:         "FileRemoveError",
	PathOpenError:           "PathOpenError",
	PathCreateError:         "PathCreateError",
	PathMissingError:        "PathMissingError",
	PathRemoveError:         "PathRemoveError",
	CryptoError:             "CryptoError",
	ProtocolError:           "ProtocolError",
	TLSError:                "TlsError",
	OptionInvalidError:      "OptionInvalidError",
	OptionInvalidValueError: "OptionInvalidValueError",
	CommandRequiredError:    "CommandRequiredError",
	CommandInvalidError:     "CommandInvalidError",
	TermError:               "TermError",
}

func (k ErrKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UnknownError"
}

// Error is the single error type every core operation returns. It carries
// a taxonomy Kind, a human message, and an optional cause chain - there is
// no panic-based propagation for expected failure paths (AssertError is the
// one kind reserved for programmer errors, see Assert/AssertMsg in assert.go).
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error

	// boundary context, filled in by drivers that have it
	Verb, URI string
	Stack     []string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Verb != "" || e.URI != "" {
		msg = fmt.Sprintf("%s (%s %s)", msg, e.Verb, e.URI)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// NewErr builds a plain *Error of the given kind.
func NewErr(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds a *Error of the given kind wrapping an underlying cause.
func WrapErr(kind ErrKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, returning
// ok=false otherwise.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind ErrKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
