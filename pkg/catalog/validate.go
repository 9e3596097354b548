package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nodalflow/pgcdc/pkg/pgoutput"
	"github.com/shopspring/decimal"
)

const pgTimestampLayout = "2006-01-02 15:04:05.999999-07"

// Validator converts a row keyed by column name -> raw wire cell into a row
// keyed by column name -> converted Go value, for one TableSchema. A
// Validator synthesised with keyOnly=true only accepts/emits the schema's
// key columns; spec.md's "dynamically synthesised row validator" becomes a
// static list of (name, required, converter) tuples here.
type Validator struct {
	table   string
	columns []ColumnDefinition
}

func newValidator(schema *TableSchema, keyOnly bool) *Validator {
	cols := schema.Columns
	if keyOnly {
		filtered := make([]ColumnDefinition, 0, len(cols))
		for _, c := range cols {
			if c.PartOfPkey {
				filtered = append(filtered, c)
			}
		}
		cols = filtered
	}
	return &Validator{table: schema.Table, columns: cols}
}

// Validate converts row (column name -> wire cell) according to this
// validator's column list. Unchanged-TOAST cells are omitted from the
// result rather than treated as data. Missing required (non-optional)
// columns fail with a *ValidationError.
func (v *Validator) Validate(row map[string]pgoutput.Cell) (map[string]any, error) {
	out := make(map[string]any, len(v.columns))

	for _, col := range v.columns {
		cell, present := row[col.Name]
		if !present {
			if !col.Optional {
				return nil, &ValidationError{Kind: ErrMissingRequiredColumn, Table: v.table, Column: col.Name}
			}
			continue
		}

		switch cell.Kind {
		case pgoutput.TupleNull:
			out[col.Name] = nil
		case pgoutput.TupleUnchangedTOAST:
			// omitted from the validated map; the wire reports this
			// column as present-but-unmodified, not as data.
			continue
		case pgoutput.TupleText:
			converted, err := convertValue(col.TypeName, string(cell.Text))
			if err != nil {
				return nil, fmt.Errorf("catalog: converting column %q of %q: %w", col.Name, v.table, err)
			}
			out[col.Name] = converted
		}
	}

	return out, nil
}

func convertValue(typeName, text string) (any, error) {
	switch {
	case typeName == "bigint" || typeName == "integer" || typeName == "smallint":
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil

	case typeName == "timestamp with time zone" || typeName == "timestamp without time zone":
		t, err := time.Parse(pgTimestampLayout, text)
		if err != nil {
			// some formats omit the fractional seconds or the offset
			if t2, err2 := time.Parse("2006-01-02 15:04:05-07", text); err2 == nil {
				return t2, nil
			}
			if t2, err2 := time.Parse("2006-01-02 15:04:05", text); err2 == nil {
				return t2, nil
			}
			return nil, err
		}
		return t, nil

	case typeName == "json" || typeName == "jsonb":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, err
		}
		return v, nil

	case strings.HasPrefix(typeName, "numeric"):
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, err
		}
		return d, nil

	default:
		return text, nil
	}
}
