// Package xmlutil wraps encoding/xml behind the small element-tree API the
// S3 driver needs (spec §4.14): no namespaces, no XPath, no DTD
// validation - just children-by-name, attribute lookup, and text content.
// Grounded on the shape of ais/s3compat's XML types (marshal direction);
// this package provides the inverse, parse direction the S3 driver reads
// responses through.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package xmlutil

import (
	"encoding/xml"
	"strings"

	"github.com/dwsteele/pgbackrest-core/cmn"
)

// rawNode mirrors any XML element generically: encoding/xml's ",any" tags
// let one struct decode an arbitrary, unknown-ahead-of-time element tree.
type rawNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	CharData string     `xml:",chardata"`
	Kids     []rawNode  `xml:",any"`
}

// Node is one element of a parsed document: a name, attributes, child
// elements (in document order) and the element's own text content.
type Node struct {
	Name     string
	Attrs    map[string]string
	Kids     []Node
	CharData string
}

// Document is the parsed tree, exposing only its Root.
type Document struct {
	root Node
}

// FromBytes parses b into a Document. Malformed XML surfaces as
// cmn.FormatError (spec §4.14: "invalid XML raises FormatError").
func FromBytes(b []byte) (Document, error) {
	var raw rawNode
	if err := xml.Unmarshal(b, &raw); err != nil {
		return Document{}, cmn.WrapErr(cmn.FormatError, err, "parse xml document")
	}
	return Document{root: fromRaw(raw)}, nil
}

func fromRaw(raw rawNode) Node {
	n := Node{
		Name:     raw.XMLName.Local,
		Attrs:    make(map[string]string, len(raw.Attrs)),
		CharData: raw.CharData,
	}
	for _, a := range raw.Attrs {
		n.Attrs[a.Name.Local] = a.Value
	}
	for _, k := range raw.Kids {
		n.Kids = append(n.Kids, fromRaw(k))
	}
	return n
}

// Root returns the document's single root element.
func (d Document) Root() Node { return d.root }

// Children returns every direct child element named name, in document order.
func (n Node) Children(name string) []Node {
	var out []Node
	for _, k := range n.Kids {
		if k.Name == name {
			out = append(out, k)
		}
	}
	return out
}

// Child returns the first direct child element named name and whether it
// was found. When required is true and the element is absent, the caller
// is expected to raise its own FormatError carrying request context this
// package does not have (verb/URI).
func (n Node) Child(name string, required bool) (Node, bool) {
	for _, k := range n.Kids {
		if k.Name == name {
			return k, true
		}
	}
	return Node{}, false
}

// Attribute returns the value of attribute name, and whether it was present.
func (n Node) Attribute(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// Text returns n's own character data, trimmed of surrounding whitespace.
func (n Node) Text() string {
	return strings.TrimSpace(n.CharData)
}
