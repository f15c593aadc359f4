package element

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDefinitions reads element definitions from path, choosing the decoder
// from the file extension (.json, .yaml, .yml or .xlsx).
func LoadDefinitions(path string) ([]Definition, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return ReadWorkbook(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening elements file: %w", err)
	}
	defer f.Close()

	var defs []Definition
	switch ext {
	case ".json":
		defs, err = ReadJSON(f)
	case ".yaml", ".yml":
		defs, err = ReadYAML(f)
	default:
		return nil, fmt.Errorf("unsupported elements file type %q (use .json, .yaml or .xlsx)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return defs, nil
}

// ReadJSON decodes either a bare array of definitions or an object with an
// "elements" array. Empty input yields ErrNoDefinitions; an empty array is
// a valid, empty element list.
func ReadJSON(r io.Reader) ([]Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrNoDefinitions
	}

	var defs []Definition
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, fmt.Errorf("decoding element list: %w", err)
		}
	} else {
		var wrapper struct {
			Elements []Definition `json:"elements"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("decoding elements object: %w", err)
		}
		defs = wrapper.Elements
	}
	return defs, nil
}

// ReadYAML decodes a YAML sequence of definitions or a mapping with an
// "elements" key.
func ReadYAML(r io.Reader) ([]Definition, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoDefinitions
		}
		return nil, fmt.Errorf("decoding YAML: %w", err)
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		doc = doc.Content[0]
	}

	var defs []Definition
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&defs); err != nil {
			return nil, fmt.Errorf("decoding element list: %w", err)
		}
	case yaml.MappingNode:
		var wrapper struct {
			Elements []Definition `yaml:"elements"`
		}
		if err := doc.Decode(&wrapper); err != nil {
			return nil, fmt.Errorf("decoding elements mapping: %w", err)
		}
		defs = wrapper.Elements
	default:
		return nil, fmt.Errorf("line %d: expected a list of elements", doc.Line)
	}
	return defs, nil
}

// WriteJSON encodes definitions in the calibrator export shape.
func WriteJSON(w io.Writer, defs []Definition) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(defs)
}

// WriteYAML encodes definitions as a YAML list.
func WriteYAML(w io.Writer, defs []Definition) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(defs); err != nil {
		return err
	}
	return enc.Close()
}
