// Package schema validates raw automation and scene documents against
// embedded JSON Schemas before they are decoded.
//
// The schemas catch shape errors (unknown keys, wrong types, bad
// operators) with precise locations. Cross-document rules such as scene
// references and cycles are checked by the owning packages.
package schema

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Document kinds.
const (
	Scene      = "scene.json"
	Automation = "automation.json"
)

// ErrInvalidDocument is returned when a document does not match its schema.
var ErrInvalidDocument = errors.New("schema: invalid document")

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// compile loads every embedded schema into one compiler so the automation
// schema can reference step definitions in the scene schema.
func compile() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for _, name := range []string{Scene, Automation} {
			raw, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("reading schema %s: %w", name, err)
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
			if err != nil {
				compileErr = fmt.Errorf("parsing schema %s: %w", name, err)
				return
			}
			if err := c.AddResource(name, doc); err != nil {
				compileErr = fmt.Errorf("adding schema %s: %w", name, err)
				return
			}
		}

		out := make(map[string]*jsonschema.Schema, 2)
		for _, name := range []string{Scene, Automation} {
			s, err := c.Compile(name)
			if err != nil {
				compileErr = fmt.Errorf("compiling schema %s: %w", name, err)
				return
			}
			out[name] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

// Validate checks a raw JSON document against the schema for kind
// (Scene or Automation).
func Validate(kind string, data []byte) error {
	schemas, err := compile()
	if err != nil {
		return err
	}
	s, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("schema: unknown document kind %q", kind)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}
