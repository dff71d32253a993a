package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IngestResult is the raw content of one table's source file.
type IngestResult struct {
	Table   string
	Path    string
	Records []*RawRecord
	Columns []string
	Missing bool
	Bytes   int64
}

// RunDir is the directory holding one run date's source files.
func RunDir(dataDir, runDate string) string {
	return filepath.Join(dataDir, runDate)
}

// IngestTable reads <dataDir>/<runDate>/<file> for def. A missing file is
// not an error; it is reported through Missing.
func IngestTable(ctx context.Context, dataDir, runDate string, def TableDefinition) (*IngestResult, error) {
	path := filepath.Join(RunDir(dataDir, runDate), def.Info.FileName)
	res := &IngestResult{Table: def.Info.Key, Path: path}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		res.Missing = true
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r, counter := WrapSource(f)
	res.Records, res.Columns, err = ReadRecords(ctx, r, def.Info.Key, path)
	if err != nil {
		return nil, err
	}
	res.Bytes = counter.BytesRead
	return res, nil
}

// ReadRecords parses CSV from r. The first row is the header; header names
// are normalized and the first occurrence of a repeated name wins. Cells that
// are empty after cleaning become nil, everything else stays a string.
func ReadRecords(ctx context.Context, r io.Reader, table, sourceFile string) ([]*RawRecord, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header of %s: %w", sourceFile, err)
	}

	columns := headerColumns(header)
	idx := MakeHeaderIndex(columns)
	ordered := make([]string, 0, len(idx))
	for i, c := range columns {
		if idx[c] == i {
			ordered = append(ordered, c)
		}
	}

	var records []*RawRecord
	for {
		if len(records)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}

		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", sourceFile, err)
		}
		if isEmptyRow(row) {
			continue
		}

		line, _ := cr.FieldPos(0)
		rec := NewRawRecord(table, sourceFile, line)
		for _, col := range ordered {
			i := idx[col]
			if i >= len(row) || CleanCell(row[i]) == "" {
				rec.Set(col, nil)
				continue
			}
			rec.Set(col, row[i])
		}
		records = append(records, rec)
	}

	return records, ordered, nil
}

// headerColumns normalizes header names. Blank names get a positional name.
// A header that only collides with an earlier one after its punctuation was
// replaced gets a positional suffix; a true repeat keeps the shared name.
func headerColumns(header []string) []string {
	cols := make([]string, len(header))
	seen := make(map[string]string, len(header))
	for i, h := range header {
		name := NormalizeColumn(h)
		if name == "" {
			name = "column_" + itoa(i+1)
		}
		folded := strings.ReplaceAll(strings.ToLower(strings.Join(strings.Fields(CleanCell(h)), "_")), "-", "_")
		if prev, ok := seen[name]; ok && prev != folded {
			suffix := "_" + itoa(i+1)
			if len(name)+len(suffix) > maxColumnName {
				name = name[:maxColumnName-len(suffix)]
			}
			name += suffix
		}
		if _, ok := seen[name]; !ok {
			seen[name] = folded
		}
		cols[i] = name
	}
	return cols
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
