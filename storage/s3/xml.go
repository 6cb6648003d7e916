package s3

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dwsteele/pgbackrest-core/cmn"
	"github.com/dwsteele/pgbackrest-core/storage"
	"github.com/dwsteele/pgbackrest-core/xmlutil"
)

// listPage is the parsed form of a GET ?list-type=2 response (spec §4.11),
// shaped after ais/s3compat's ListObjectResult/ObjInfo but read instead of
// written.
type listPage struct {
	files         []storage.Info
	commonPrefix  []string
	nextToken     string
	isTruncated   bool
}

func parseListPage(body []byte, prefixLen int) (listPage, error) {
	doc, err := xmlutil.FromBytes(body)
	if err != nil {
		return listPage{}, err
	}
	root := doc.Root()

	var page listPage
	if trunc, ok := root.Child("IsTruncated", true); ok {
		page.isTruncated = trunc.Text() == "true"
	}
	if tok, ok := root.Child("NextContinuationToken", true); ok {
		page.nextToken = tok.Text()
	}

	for _, c := range root.Children("Contents") {
		key, _ := c.Child("Key", true)
		sizeNode, _ := c.Child("Size", true)
		modNode, _ := c.Child("LastModified", true)
		etagNode, _ := c.Child("ETag", true)

		size, _ := strconv.ParseInt(sizeNode.Text(), 10, 64)
		mtime := parseS3Time(modNode.Text())

		name := key.Text()
		if prefixLen <= len(name) {
			name = name[prefixLen:]
		}
		page.files = append(page.files, storage.Info{
			Name:    name,
			Kind:    storage.File,
			Size:    size,
			ModTime: mtime,
			Mode:    0640,
			User:    strings.Trim(etagNode.Text(), `"`),
		})
	}

	for _, p := range root.Children("CommonPrefixes") {
		prefixNode, _ := p.Child("Prefix", true)
		name := prefixNode.Text()
		if prefixLen <= len(name) {
			name = name[prefixLen:]
		}
		page.commonPrefix = append(page.commonPrefix, strings.TrimSuffix(name, "/"))
	}
	return page, nil
}

func parseS3Time(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// initiateMultipartResult is the parsed form of a POST ?uploads= response.
type initiateMultipartResult struct {
	UploadID string
}

func parseInitiateMultipart(body []byte) (initiateMultipartResult, error) {
	doc, err := xmlutil.FromBytes(body)
	if err != nil {
		return initiateMultipartResult{}, err
	}
	idNode, ok := doc.Root().Child("UploadId", true)
	if !ok {
		return initiateMultipartResult{}, cmn.NewErr(cmn.ProtocolError, "initiate multipart response missing UploadId")
	}
	return initiateMultipartResult{UploadID: idNode.Text()}, nil
}

// completedPart is one (PartNumber, ETag) pair the completion body lists.
type completedPart struct {
	Number int
	ETag   string
}

// completeMultipartBody renders spec §6's exact completion XML shape, parts
// in ascending PartNumber order (spec P6).
func completeMultipartBody(parts []completedPart) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString("<CompleteMultipartUpload>\n")
	for _, p := range parts {
		fmt.Fprintf(&sb, "  <Part><PartNumber>%d</PartNumber><ETag>%s</ETag></Part>\n", p.Number, p.ETag)
	}
	sb.WriteString("</CompleteMultipartUpload>")
	return []byte(sb.String())
}

// deleteBatchBody renders spec §6's bulk-delete XML body in quiet mode.
func deleteBatchBody(keys []string) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString("<Delete><Quiet>true</Quiet>\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "  <Object><Key>%s</Key></Object>\n", k)
	}
	sb.WriteString("</Delete>")
	return []byte(sb.String())
}

// parseDeleteErrors extracts every per-object <Error> entry from a bulk
// delete response (spec §9's Open Question: aggregate all, not just the
// first).
func parseDeleteErrors(body []byte) ([]string, error) {
	doc, err := xmlutil.FromBytes(body)
	if err != nil {
		return nil, err
	}
	var errs []string
	for _, e := range doc.Root().Children("Error") {
		key, _ := e.Child("Key", true)
		code, _ := e.Child("Code", true)
		msg, _ := e.Child("Message", true)
		errs = append(errs, fmt.Sprintf("%s: %s (%s)", key.Text(), msg.Text(), code.Text()))
	}
	return errs, nil
}

// s3Error is the parsed form of S3's XML error response body.
type s3Error struct {
	Code    string
	Message string
}

func parseS3Error(body []byte) s3Error {
	doc, err := xmlutil.FromBytes(body)
	if err != nil {
		return s3Error{Code: "Unknown", Message: string(body)}
	}
	code, _ := doc.Root().Child("Code", true)
	msg, _ := doc.Root().Child("Message", true)
	return s3Error{Code: code.Text(), Message: msg.Text()}
}
