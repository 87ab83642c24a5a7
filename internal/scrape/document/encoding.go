package document

import (
	"bytes"
	"fmt"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

const fallbackEncoding = "windows-1252"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LookupEncoding returns the canonical name of an encoding label. Labels follow the
// WHATWG table, so iso-8859-1 resolves to windows-1252.
func LookupEncoding(label string) (string, bool) {
	label = strings.TrimSpace(strings.Trim(label, `"'`))
	if label == "" {
		return "", false
	}
	enc, name := charset.Lookup(label)
	if enc == nil {
		return "", false
	}
	return name, true
}

// Decode converts content from the named encoding to UTF-8.
func Decode(content []byte, label string) ([]byte, error) {
	name, ok := LookupEncoding(label)
	if !ok {
		return nil, fmt.Errorf("unknown encoding %q", label)
	}
	if name == "utf-8" {
		return bytes.TrimPrefix(content, utf8BOM), nil
	}
	enc, _ := charset.Lookup(name)
	decoded, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return decoded, nil
}

// ContentTypeCharset returns the encoding declared in a Content-Type header value.
func ContentTypeCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	name, _ := LookupEncoding(params["charset"])
	return name
}

// Sniff guesses the encoding of an undeclared body.
func Sniff(content []byte) string {
	if utf8.Valid(content) {
		return "utf-8"
	}
	result, err := chardet.NewTextDetector().DetectBest(content)
	if err != nil || result == nil {
		return fallbackEncoding
	}
	name, ok := LookupEncoding(result.Charset)
	if !ok {
		return fallbackEncoding
	}
	return name
}

// MetaCharset inspects the <meta> declarations of a parsed HTML document.
func MetaCharset(root Node) string {
	metas, err := root.Query("//head/meta")
	if err != nil {
		return ""
	}
	for _, meta := range metas {
		var declared string
		if equiv, ok := meta.Attr("http-equiv"); ok && strings.EqualFold(equiv, "content-type") {
			content, _ := meta.Attr("content")
			declared = ContentTypeCharset(content)
		}
		if value, ok := meta.Attr("charset"); ok && value != "" {
			declared = value
		}
		if declared == "" {
			continue
		}
		name, _ := LookupEncoding(declared)
		return name
	}
	return ""
}

var xmlDeclRegex = regexp.MustCompile(`^\s*<\?xml[^>]*?encoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)

// XMLDeclCharset reads the encoding of an XML prolog.
func XMLDeclCharset(content []byte) string {
	m := xmlDeclRegex.FindSubmatch(bytes.TrimPrefix(content, utf8BOM))
	if m == nil {
		return ""
	}
	name, _ := LookupEncoding(string(m[1]))
	return name
}
