package schema

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadCSV reads a delimited dataset with a header row. A leading byte-order mark is
// removed, quoting is lenient and rows may have any number of fields.
func ReadCSV(r io.Reader) (RawTable, error) {
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return RawTable{}, nil
		}
		return RawTable{}, fmt.Errorf("failed to read CSV header: %w", err)
	}

	table := RawTable{Header: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return RawTable{}, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if isEmptyRow(record) {
			continue
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}

// ParseCSV is ReadCSV over an in-memory file.
func ParseCSV(data []byte) (RawTable, error) {
	return ReadCSV(bytes.NewReader(data))
}

// WriteCSV writes the table as comma-separated text.
func WriteCSV(w io.Writer, t RawTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

func isEmptyRow(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
