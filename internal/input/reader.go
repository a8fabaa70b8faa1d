package input

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"profile2site/internal/record"
)

// Known header names, in order of preference.
var (
	IDColumns     = []string{"clutch_profile_url", "profile_url", "source_url", "url", "identifier"}
	TargetColumns = []string{"target_url", "target"}
	NameColumns   = []string{"company_name", "name"}
)

// Options overrides header detection. Empty fields fall back to the known names.
type Options struct {
	IDColumn     string
	TargetColumn string
	NameColumn   string
}

// Schema records which column indices were matched.
type Schema struct {
	ID     int
	Target int
	Name   int
}

// ReadFile opens path and reads its rows.
func ReadFile(path string, opts Options) ([]record.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &record.MalformedInputError{Path: path, Reason: "cannot open", Err: err}
	}
	defer f.Close()

	rows, err := Read(f, opts)
	if err != nil {
		var malformed *record.MalformedInputError
		if errors.As(err, &malformed) {
			malformed.Path = path
		}
		return nil, err
	}
	return rows, nil
}

// Read parses a CSV with a header row. Fully blank rows are skipped; a row with a blank
// identifier cell is a MalformedInputError carrying its line number.
func Read(r io.Reader, opts Options) ([]record.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &record.MalformedInputError{Reason: "file is empty"}
	}
	if err != nil {
		return nil, &record.MalformedInputError{Line: 1, Reason: "cannot read header", Err: err}
	}

	schema, err := DetectSchema(header, opts)
	if err != nil {
		return nil, err
	}

	var rows []record.Row
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			line := 0
			if errors.As(err, &perr) {
				line = perr.Line
			}
			return nil, &record.MalformedInputError{Line: line, Reason: "cannot parse row", Err: err}
		}
		line, _ := cr.FieldPos(0)
		if blank(fields) {
			continue
		}

		id := cell(fields, schema.ID)
		if strings.TrimSpace(id) == "" {
			return nil, &record.MalformedInputError{Line: line, Reason: "row has no identifier"}
		}

		rows = append(rows, record.Row{
			ID:     id,
			Target: cell(fields, schema.Target),
			Name:   cell(fields, schema.Name),
			Line:   line,
		})
	}

	return rows, nil
}

// DetectSchema matches header names case-insensitively against the configured and known
// column names. Only the identifier column is mandatory.
func DetectSchema(header []string, opts Options) (Schema, error) {
	names := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.ToLower(strings.TrimSpace(h))
		if _, dup := names[h]; !dup {
			names[h] = i
		}
	}

	find := func(override string, known []string) int {
		if override != "" {
			if i, ok := names[strings.ToLower(override)]; ok {
				return i
			}
			return -1
		}
		for _, k := range known {
			if i, ok := names[k]; ok {
				return i
			}
		}
		return -1
	}

	s := Schema{
		ID:     find(opts.IDColumn, IDColumns),
		Target: find(opts.TargetColumn, TargetColumns),
		Name:   find(opts.NameColumn, NameColumns),
	}
	if s.ID < 0 {
		want := strings.Join(IDColumns, ", ")
		if opts.IDColumn != "" {
			want = opts.IDColumn
		}
		return s, &record.MalformedInputError{Line: 1, Reason: "no identifier column (want one of: " + want + ")"}
	}
	return s, nil
}

func cell(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
