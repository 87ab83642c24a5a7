package document

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xmlquery"
)

// ParseHTML builds a tree out of content encoded with the given encoding.
func ParseHTML(content []byte, encoding string) (HTMLNode, error) {
	decoded, err := Decode(content, encoding)
	if err != nil {
		return HTMLNode{}, err
	}
	root, err := htmlquery.Parse(bytes.NewReader(decoded))
	if err != nil {
		return HTMLNode{}, fmt.Errorf("parse html: %w", err)
	}
	return HTMLNode{node: root}, nil
}

var xmlDeclEncoding = regexp.MustCompile(`(<\?xml[^>]*?)\s+encoding\s*=\s*["'][^"']*["']`)

// ParseXML builds a tree out of content. With an empty encoding the prolog
// declaration is honored, otherwise content is decoded first.
func ParseXML(content []byte, encoding string) (XMLNode, error) {
	if encoding != "" {
		decoded, err := Decode(content, encoding)
		if err != nil {
			return XMLNode{}, err
		}
		content = xmlDeclEncoding.ReplaceAll(decoded, []byte("$1"))
	}
	root, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return XMLNode{}, fmt.Errorf("parse xml: %w", err)
	}
	return XMLNode{node: root}, nil
}

// ParseJSON decodes content into plain maps and slices, numbers are kept as
// json.Number so that amounts never pass through a float.
func ParseJSON(content []byte, encoding string) (any, error) {
	decoded, err := Decode(content, encoding)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(decoded))
	decoder.UseNumber()

	var out any
	err = decoder.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return out, nil
}

type CSVOptions struct {
	// Comma is the field delimiter, ',' when zero.
	Comma rune
	// Header is the 1-based line holding column names, lines before it are
	// skipped. Zero means the document has no header.
	Header     int
	LazyQuotes bool
	Comment    rune
}

// ParseCSV returns the rows of content, as []any of []any cells without a header,
// or []any of map[string]any keyed by column name with one.
func ParseCSV(content []byte, encoding string, opts CSVOptions) (any, error) {
	decoded, err := Decode(content, encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = opts.LazyQuotes
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}

	var header []string
	rows := []any{}
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if opts.Header > 0 && line < opts.Header {
			continue
		}
		if opts.Header > 0 && header == nil {
			header = record
			continue
		}

		if header == nil {
			cells := make([]any, len(record))
			for i, c := range record {
				cells[i] = c
			}
			rows = append(rows, cells)
			continue
		}
		row := make(map[string]any, len(header))
		for i, c := range record {
			if i >= len(header) {
				break
			}
			row[header[i]] = c
		}
		rows = append(rows, row)
	}
	return rows, nil
}
