// Package schemavalidate compiles and validates JSON documents against the
// task/result schemas in schemas/, using santhosh-tekuri/jsonschema/v6 the
// same way the teacher validates generated workflow YAML — but pointed at
// local files instead of a remote SchemaStore URL, since these schemas are
// part of this repository's own contract.
package schemavalidate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	mu    sync.Mutex
	cache = map[string]*jsonschema.Schema{}
)

func compile(path string) (*jsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := cache[path]; ok {
		return s, nil
	}
	c := jsonschema.NewCompiler()
	s, err := c.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("schemavalidate: compiling %s: %w", path, err)
	}
	cache[path] = s
	return s, nil
}

// ValidateFile validates the JSON document at dataPath against the schema
// at schemaPath, returning the schema's own validation errors (one string
// per failure) on mismatch.
func ValidateFile(schemaPath, dataPath string) []string {
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return []string{err.Error()}
	}
	return ValidateBytes(schemaPath, data)
}

// ValidateBytes validates the raw JSON bytes against the schema at
// schemaPath.
func ValidateBytes(schemaPath string, data []byte) []string {
	schema, err := compile(schemaPath)
	if err != nil {
		return []string{err.Error()}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return flattenValidationError(err)
	}
	return nil
}

// flattenValidationError turns the library's multi-line validation error
// into one string per failing location, so callers can embed them in
// diagnostics or retry-feedback prompts individually.
func flattenValidationError(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
