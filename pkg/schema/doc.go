// Package schema describes model types: the table a type lives in, its
// primary-key column, its ordered typed columns and the fields that exist
// in memory only.
//
// Descriptors are plain data. They can be written in Go, loaded from YAML
// (LoadYAML) or from CUE (LoadCUE), or derived from a live table with
// PRAGMA table_info. Registering a Descriptor produces an immutable
// *ModelType that the rest of rowmodel keys its caches on.
//
// Scalar conversion between column values and Go values lives here too
// (Column.Coerce). It is deliberately small: text, integer, real, boolean
// and an opaque "other" kind.
package schema
