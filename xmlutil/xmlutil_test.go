package xmlutil_test

import (
	"testing"

	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/xmlutil"
)

const listBody = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Prefix>backup/</Prefix>
  <KeyCount>2</KeyCount>
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>tok-123</NextContinuationToken>
  <Contents><Key>backup/a</Key><Size>10</Size><ETag>"abc"</ETag></Contents>
  <Contents><Key>backup/b</Key><Size>20</Size><ETag>"def"</ETag></Contents>
</ListBucketResult>`

func TestParseListBucketResult(t *testing.T) {
	doc, err := xmlutil.FromBytes([]byte(listBody))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root := doc.Root()
	if root.Name != "ListBucketResult" {
		t.Fatalf("root name = %q", root.Name)
	}
	prefix, ok := root.Child("Prefix", true)
	if !ok || prefix.Text() != "backup/" {
		t.Fatalf("prefix = %+v ok=%v", prefix, ok)
	}
	tok, ok := root.Child("NextContinuationToken", true)
	if !ok || tok.Text() != "tok-123" {
		t.Fatalf("token = %+v", tok)
	}
	contents := root.Children("Contents")
	if len(contents) != 2 {
		t.Fatalf("contents = %d", len(contents))
	}
	key0, _ := contents[0].Child("Key", true)
	if key0.Text() != "backup/a" {
		t.Fatalf("key0 = %q", key0.Text())
	}
}

func TestMalformedXMLIsFormatError(t *testing.T) {
	_, err := xmlutil.FromBytes([]byte("<unterminated>"))
	if !cmn.Is(err, cmn.FormatError) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestAttributeLookup(t *testing.T) {
	doc, err := xmlutil.FromBytes([]byte(`<Part num="1"><ETag>"xyz"</ETag></Part>`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	v, ok := doc.Root().Attribute("num")
	if !ok || v != "1" {
		t.Fatalf("attr = %q ok=%v", v, ok)
	}
	if _, ok := doc.Root().Attribute("missing"); ok {
		t.Fatalf("expected missing attribute to report ok=false")
	}
}
