// Package schema validates export payloads against the published JSON
// Schema, so external consumers can rely on a stable shape.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed export-v1.schema.json
var exportSchemaV1 []byte

var (
	exportOnce   sync.Once
	exportSchema *jsonschema.Schema
	exportErr    error
)

func compiledExportSchema() (*jsonschema.Schema, error) {
	exportOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("export-v1.schema.json", bytes.NewReader(exportSchemaV1)); err != nil {
			exportErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		exportSchema, exportErr = compiler.Compile("export-v1.schema.json")
	})
	return exportSchema, exportErr
}

// ValidateExport checks a JSON export document against the v1 export schema.
func ValidateExport(data []byte) error {
	schema, err := compiledExportSchema()
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("parse export: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("export schema violation: %w", err)
	}
	return nil
}
