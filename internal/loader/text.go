package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

func loadText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// loadCSV renders each data row as "header: value" lines. Rows are separated
// by a blank line.
func loadCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return renderTable(rows), nil
}

// renderTable treats the first row as the header.
func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	header := rows[0]
	if len(rows) == 1 {
		return strings.Join(header, " ")
	}
	var b strings.Builder
	for i, row := range rows[1:] {
		if i > 0 {
			b.WriteString("\n")
		}
		for j, v := range row {
			key := fmt.Sprintf("column%d", j+1)
			if j < len(header) && strings.TrimSpace(header[j]) != "" {
				key = strings.TrimSpace(header[j])
			}
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// loadJSON flattens a JSON document into "path: value" lines in document
// order. Object keys are joined with dots and array elements are indexed.
func loadJSON(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(b) {
		return "", errors.New("invalid json")
	}
	var out strings.Builder
	flattenJSON(&out, "", gjson.ParseBytes(b))
	return out.String(), nil
}

func flattenJSON(out *strings.Builder, prefix string, v gjson.Result) {
	switch {
	case v.IsObject():
		v.ForEach(func(key, value gjson.Result) bool {
			flattenJSON(out, joinPath(prefix, key.String()), value)
			return true
		})
	case v.IsArray():
		for i, item := range v.Array() {
			flattenJSON(out, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	default:
		if prefix != "" {
			out.WriteString(prefix)
			out.WriteString(": ")
		}
		out.WriteString(v.String())
		out.WriteString("\n")
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
