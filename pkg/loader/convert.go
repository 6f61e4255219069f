package loader

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"
)

// Convert turns raw file content into markdown. contentType may carry
// charset parameters; the extension of name breaks ties when the type
// is missing or generic.
func Convert(content []byte, contentType, name string) (string, error) {
	kind := mediaType(contentType)
	if kind == "" || kind == "application/octet-stream" {
		kind = mediaType(typeFromName(name))
	}

	switch kind {
	case "text/markdown", "text/x-markdown":
		return string(content), nil
	case "text/csv", "application/csv":
		return csvToMarkdown(content, path.Base(name))
	case "text/plain", "":
		if kind == "" && !utf8.Valid(content) {
			return "", fmt.Errorf("%w: %q is not text", ErrUnsupportedFormat, name)
		}
		return string(content), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind)
	}
}

func mediaType(contentType string) string {
	t, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}

// csvToMarkdown renders CSV as one markdown table section. Ragged rows
// are padded to the header width; quoting follows the lenient parser
// settings used for user-supplied spreadsheets.
func csvToMarkdown(content []byte, name string) (string, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	width := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing csv %q: %w", name, err)
		}
		empty := true
		for _, field := range record {
			if strings.TrimSpace(field) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		rows = append(rows, record)
		if len(record) > width {
			width = len(record)
		}
	}
	if len(rows) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", name)
	writeRow(&b, rows[0], width)
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep, width)
	for _, row := range rows[1:] {
		writeRow(&b, row, width)
	}
	return b.String(), nil
}

func writeRow(b *strings.Builder, row []string, width int) {
	b.WriteString("|")
	for i := 0; i < width; i++ {
		cell := ""
		if i < len(row) {
			cell = strings.TrimSpace(row[i])
		}
		cell = strings.ReplaceAll(cell, "|", "\\|")
		cell = strings.ReplaceAll(cell, "\n", " ")
		b.WriteString(" " + cell + " |")
	}
	b.WriteString("\n")
}
