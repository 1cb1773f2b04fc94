// Package artifacts maps each pipeline role to its structural schema and
// canonical on-disk filename, and validates incoming payloads against both the
// JSON Schema and the typed contract before anything is persisted. A payload
// that fails either validator is rejected whole; there is no partial accept.
package artifacts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tiger/filmgate/api/preprod"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// SchemaError reports a malformed or structurally invalid artifact payload.
type SchemaError struct {
	Role   preprod.Role
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("artifact for role %q failed schema validation: %s", e.Role, e.Detail)
}

// IsSchemaError reports whether err is a schema rejection.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}

// Entry describes one registered role: its schema document, canonical
// filename, and strict typed decoder.
type Entry struct {
	Filename   string
	schemaName string
	decode     func([]byte) (any, error)
}

var registry = map[preprod.Role]Entry{
	preprod.RoleShowrunner: {
		Filename:   "script.json",
		schemaName: "script.schema.json",
		decode:     decodeInto[preprod.Script],
	},
	preprod.RoleDirection: {
		Filename:   "script_review.json",
		schemaName: "script_review.schema.json",
		decode:     decodeInto[preprod.ScriptReview],
	},
	preprod.RoleDanceMapping: {
		Filename:   "image_prompt_package.json",
		schemaName: "image_prompt_package.schema.json",
		decode:     decodeInto[preprod.ImagePromptPackage],
	},
	preprod.RoleCinematograph: {
		Filename:   "selected_images.json",
		schemaName: "selected_images.schema.json",
		decode:     decodeInto[preprod.SelectedImages],
	},
	preprod.RoleAudio: {
		Filename:   "av_prompt_package.json",
		schemaName: "av_prompt_package.schema.json",
		decode:     decodeInto[preprod.AVPromptPackage],
	},
	preprod.RoleDryRunMetrics: {
		Filename:   "dryrun_metrics.json",
		schemaName: "dryrun_metrics.schema.json",
		decode:     decodeInto[preprod.DryRunMetrics],
	},
	preprod.RoleFinalMetrics: {
		Filename:   "final_metrics.json",
		schemaName: "final_metrics.schema.json",
		decode:     decodeInto[preprod.FinalMetrics],
	},
}

var (
	compileOnce sync.Once
	compiled    map[preprod.Role]*jsonschema.Schema
	compileErr  error
)

func compiledSchemas() (map[preprod.Role]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[preprod.Role]*jsonschema.Schema, len(registry))
		for role, entry := range registry {
			compiler := jsonschema.NewCompiler()
			raw, err := schemaFS.ReadFile("schemas/" + entry.schemaName)
			if err != nil {
				compileErr = fmt.Errorf("read embedded schema %s: %w", entry.schemaName, err)
				return
			}
			if err := compiler.AddResource(entry.schemaName, bytes.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", entry.schemaName, err)
				return
			}
			schema, err := compiler.Compile(entry.schemaName)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", entry.schemaName, err)
				return
			}
			compiled[role] = schema
		}
	})
	return compiled, compileErr
}

// KnownRole reports whether a role is registered.
func KnownRole(role preprod.Role) bool {
	_, ok := registry[role]
	return ok
}

// Filename returns the canonical per-iteration filename for a role's artifact.
func Filename(role preprod.Role) (string, error) {
	entry, ok := registry[role]
	if !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return entry.Filename, nil
}

// Validate checks a raw JSON payload for a role against the registered JSON
// Schema and the typed contract, returning the typed artifact on success.
func Validate(role preprod.Role, raw []byte) (any, error) {
	entry, ok := registry[role]
	if !ok {
		return nil, &SchemaError{Role: role, Detail: "unknown role"}
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &SchemaError{Role: role, Detail: fmt.Sprintf("payload is not valid JSON: %v", err)}
	}

	schemas, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	if err := schemas[role].Validate(payload); err != nil {
		return nil, &SchemaError{Role: role, Detail: err.Error()}
	}

	artifact, err := entry.decode(raw)
	if err != nil {
		return nil, &SchemaError{Role: role, Detail: err.Error()}
	}
	return artifact, nil
}

type validator interface {
	Validate() error
}

func decodeInto[T validator](raw []byte) (any, error) {
	var value T
	if err := strictUnmarshal(raw, &value); err != nil {
		return nil, err
	}
	if err := value.Validate(); err != nil {
		return nil, err
	}
	return value, nil
}

func strictUnmarshal(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return fmt.Errorf("unexpected trailing JSON payload")
	}
	return nil
}
