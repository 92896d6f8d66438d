package config

import (
	_ "embed"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func documentSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", strings.NewReader(schemaJSON)); err != nil {
			compiledSchemaErr = errors.Wrap(err, "invalid config schema")
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("schema.json")
		compiledSchemaErr = errors.Wrap(compiledSchemaErr, "invalid config schema")
	})
	return compiledSchema, compiledSchemaErr
}

// validateDocument checks a decoded YAML or JSON document against the
// configuration schema. Schema violations are reported as ValidationErrors
// keyed by the JSON pointer of the offending value.
func validateDocument(raw interface{}) error {
	schema, err := documentSchema()
	if err != nil {
		return err
	}

	// YAML decodes into Go types the validator does not know (int, nested
	// maps); a JSON round trip normalizes them.
	data, err := json.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "config is not representable as JSON")
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.WithStack(err)
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return errors.Wrap(err, "failed to validate config")
	}

	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Message)
	}
	return errs
}

// collectSchemaErrors flattens the validator's error tree into leaf errors.
func collectSchemaErrors(verr *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(verr.Causes) == 0 {
		errs.Add(pointerToField(verr.InstanceLocation), verr.Message)
		return
	}
	for _, cause := range verr.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// pointerToField turns "/request/url" into "request.url".
func pointerToField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	return strings.ReplaceAll(pointer, "/", ".")
}
