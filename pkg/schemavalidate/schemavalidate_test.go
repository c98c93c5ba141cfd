package schemavalidate

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaPath(t *testing.T, name string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "schemas", name)
}

func TestValidateBytes_TaskValid(t *testing.T) {
	data := []byte(`{
		"id": "t1",
		"milestone_id": "m1",
		"kind": "execute",
		"intent": "add feature",
		"scope": {
			"allowed_globs": ["src/**"],
			"forbidden_globs": [],
			"allow_new_files": true,
			"allow_lockfile_changes": false
		},
		"diff_limits": {"max_files": 10, "max_lines": 200},
		"verification": {"fast": ["lint"], "slow": [], "parameters": {}}
	}`)
	errs := ValidateBytes(schemaPath(t, "task.schema.json"), data)
	assert.Empty(t, errs)
}

func TestValidateBytes_TaskMissingRequiredField(t *testing.T) {
	data := []byte(`{
		"id": "t1",
		"milestone_id": "m1",
		"kind": "execute",
		"intent": "add feature",
		"scope": {
			"allowed_globs": [],
			"forbidden_globs": [],
			"allow_new_files": true,
			"allow_lockfile_changes": false
		},
		"verification": {"fast": [], "slow": []}
	}`)
	errs := ValidateBytes(schemaPath(t, "task.schema.json"), data)
	assert.NotEmpty(t, errs)
}

func TestValidateBytes_InvalidJSON(t *testing.T) {
	errs := ValidateBytes(schemaPath(t, "task.schema.json"), []byte("{not json"))
	require.Len(t, errs, 1)
}

func TestValidateBytes_BuilderResultValid(t *testing.T) {
	data := []byte(`{"summary": "did the thing", "files_intended": ["a.go"]}`)
	errs := ValidateBytes(schemaPath(t, "builder_result.schema.json"), data)
	assert.Empty(t, errs)
}

func TestValidateBytes_BuilderResultMissingSummary(t *testing.T) {
	data := []byte(`{"files_intended": ["a.go"]}`)
	errs := ValidateBytes(schemaPath(t, "builder_result.schema.json"), data)
	assert.NotEmpty(t, errs)
}
