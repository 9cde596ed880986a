package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout shared by the YAML and CUE loaders.
type File struct {
	Types []Descriptor `yaml:"types" json:"types"`
}

// LoadYAML parses descriptors from a YAML (or JSON) document. Unknown keys
// are rejected.
func LoadYAML(data []byte) ([]Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}
	return f.Types, nil
}

// LoadFile reads descriptors from path, choosing the parser by extension:
// .cue uses LoadCUE, .yaml/.yml/.json use LoadYAML.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return LoadCUE(path, data)
	case ".yaml", ".yml", ".json":
		return LoadYAML(data)
	default:
		return nil, fmt.Errorf("schema file %s: unsupported extension", path)
	}
}

// LoadFiles loads every path in order and concatenates the descriptors.
func LoadFiles(paths ...string) ([]Descriptor, error) {
	var all []Descriptor
	for _, p := range paths {
		ds, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, ds...)
	}
	return all, nil
}
