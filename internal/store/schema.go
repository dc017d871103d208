package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const documentSchemaURL = "https://flagkit.dev/schema/document.schema.json"

//go:embed document.schema.json
var documentSchema []byte

var compiledDocumentSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(documentSchema))
	if err != nil {
		return nil, fmt.Errorf("decode document schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add document schema: %w", err)
	}

	return compiler.Compile(documentSchemaURL)
})

// ValidateDocument checks data against the definition document schema. It
// is stricter than the parsers, which skip what they cannot use, and is
// meant for tooling that wants to reject a document before it ships. A blank
// document is valid.
func ValidateDocument(data []byte, format Format) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	schema, err := compiledDocumentSchema()
	if err != nil {
		return err
	}

	if format == FormatYAML {
		data, err = yamlToJSON(data)
		if err != nil {
			return err
		}
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("validate flag document: %w", err)
	}
	return nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	return out, nil
}
