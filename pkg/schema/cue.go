package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// LoadCUE parses descriptors from CUE source. Types are declared as a
// struct under "types", keyed by type name, in declaration order:
//
//	types: Person: {
//		table:       "people"
//		primary_key: "id"
//		columns: [
//			{name: "id", type: "integer"},
//			{name: "name", type: "text", default: ""},
//		]
//	}
func LoadCUE(filename string, src []byte) ([]Descriptor, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil, nil
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []Descriptor
	for iter.Next() {
		d, err := parseCUEDescriptor(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func parseCUEDescriptor(name string, v cue.Value) (Descriptor, error) {
	d := Descriptor{Name: name}

	var err error
	if d.Table, err = optionalString(v, "table"); err != nil {
		return d, err
	}
	if d.PrimaryKey, err = optionalString(v, "primary_key"); err != nil {
		return d, err
	}
	if d.Extends, err = optionalString(v, "extends"); err != nil {
		return d, err
	}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return d, &LoadError{
			Field:   name + ".columns",
			Message: "columns are required",
			Pos:     v.Pos(),
		}
	}
	colIter, err := colsVal.List()
	if err != nil {
		return d, formatCUEError(err)
	}
	for colIter.Next() {
		col, err := parseCUEColumn(name, colIter.Value())
		if err != nil {
			return d, err
		}
		d.Columns = append(d.Columns, col)
	}

	if ignVal := v.LookupPath(cue.ParsePath("ignored")); ignVal.Exists() {
		ignIter, err := ignVal.List()
		if err != nil {
			return d, formatCUEError(err)
		}
		for ignIter.Next() {
			s, err := ignIter.Value().String()
			if err != nil {
				return d, formatCUEError(err)
			}
			d.Ignored = append(d.Ignored, s)
		}
	}
	return d, nil
}

func parseCUEColumn(typeName string, v cue.Value) (ColumnSpec, error) {
	var col ColumnSpec

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return col, &LoadError{
			Field:   typeName + ".columns",
			Message: "column name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return col, formatCUEError(err)
	}
	col.Name = name

	if col.Type, err = optionalString(v, "type"); err != nil {
		return col, err
	}
	if nv := v.LookupPath(cue.ParsePath("nullable")); nv.Exists() {
		if col.Nullable, err = nv.Bool(); err != nil {
			return col, formatCUEError(err)
		}
	}
	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		if col.Default, err = cueScalar(dv); err != nil {
			return col, err
		}
	}
	return col, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// cueScalar converts a concrete CUE scalar to its Go value.
func cueScalar(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		b, err := v.Bool()
		return b, formatCUEError(err)
	case cue.IntKind:
		n, err := v.Int64()
		return n, formatCUEError(err)
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		return f, formatCUEError(err)
	case cue.StringKind:
		s, err := v.String()
		return s, formatCUEError(err)
	case cue.BytesKind:
		b, err := v.Bytes()
		return b, formatCUEError(err)
	default:
		return nil, &LoadError{
			Field:   "default",
			Message: fmt.Sprintf("unsupported default kind %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// LoadError is a descriptor error with source position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
