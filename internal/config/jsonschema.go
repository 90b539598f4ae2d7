package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed config.schema.json
var schemaSource string

const schemaURL = "config.schema.json"

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func configSchema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaSource)); err != nil {
			compileErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// ValidateStructure checks a decoded document (from JSON or YAML) against
// the scenario file schema. Structural problems come back as
// *ValidationErrors keyed by the offending field.
func ValidateStructure(doc interface{}) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}

	normalized, err := normalize(doc)
	if err != nil {
		return err
	}

	err = schema.Validate(normalized)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Error())
	}
	return errs
}

// normalize round-trips doc through encoding/json so YAML-decoded values
// take the shapes the schema validator expects.
func normalize(doc interface{}) (interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("config is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// collectSchemaErrors flattens the leaves of a schema error tree.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(pointerToField(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// pointerToField turns "/scenarios/a/stages/0/target" into
// "scenarios.a.stages[0].target".
func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	var sb strings.Builder
	for i, part := range strings.Split(ptr, "/") {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		if isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
