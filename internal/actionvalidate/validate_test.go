package actionvalidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/hostbridge/internal/types"
)

func defaultOpts() Options {
	return Options{
		MaxActions:     400,
		MaxSourceBytes: 1 << 20,
		SafeEditBytes:  64 << 10,
		Policy:         types.PolicyStandard,
		AllowedRoots:   []string{"game/"},
	}
}

func TestCanonicalizeMapsAliasesToCanonicalForm(t *testing.T) {
	a := Canonicalize(map[string]any{
		"type":    "SetSource",
		"target":  "game/ServerScriptService/Main",
		"content": "print(1)",
	})
	assert.Equal(t, types.ActionEditScript, a.Type)
	assert.Equal(t, "game/ServerScriptService/Main", a.Path)
	assert.Equal(t, "print(1)", a.Source)
}

func TestValidateRejectsOverMaxActions(t *testing.T) {
	opts := defaultOpts()
	opts.MaxActions = 1
	res := Validate([]map[string]any{
		{"type": "createInstance", "parentPath": "game/Workspace", "className": "Folder", "path": "game/Workspace/A"},
		{"type": "createInstance", "parentPath": "game/Workspace", "className": "Folder", "path": "game/Workspace/B"},
	}, opts)
	require.NotEmpty(t, res.Reasons)
	assert.Empty(t, res.Actions)
}

func TestValidateRequiresCreateInstanceFields(t *testing.T) {
	res := Validate([]map[string]any{
		{"type": "createInstance", "path": "game/Workspace/A"},
	}, defaultOpts())
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "createInstance requires")
}

func TestValidateBlocksDeleteUnderNonPowerPolicy(t *testing.T) {
	res := Validate([]map[string]any{
		{"type": "deleteInstance", "path": "game/Workspace/A"},
	}, defaultOpts())
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "power policy")
}

func TestValidateBlocksStructuralUnderSafePolicy(t *testing.T) {
	opts := defaultOpts()
	opts.Policy = types.PolicySafe
	res := Validate([]map[string]any{
		{"type": "createInstance", "parentPath": "game/Workspace", "className": "Folder", "path": "game/Workspace/A", "name": "A"},
	}, opts)
	require.NotEmpty(t, res.Reasons)
}

func TestValidateEditScriptRequiresModeAndSource(t *testing.T) {
	res := Validate([]map[string]any{
		{"type": "editScript", "path": "game/S"},
	}, defaultOpts())
	require.Len(t, res.Reasons, 2)
}

func TestValidateProtectedPathRejected(t *testing.T) {
	opts := defaultOpts()
	opts.ProtectedRoots = []string{"game/ServerStorage/Secrets"}
	res := Validate([]map[string]any{
		{"type": "setProperty", "path": "game/ServerStorage/Secrets/Key", "property": "Value", "value": "x"},
	}, opts)
	require.Len(t, res.Reasons, 1)
	assert.Contains(t, res.Reasons[0], "protected path")
}

func TestValidateExpectedHashMismatchTriggersResync(t *testing.T) {
	opts := defaultOpts()
	opts.Fingerprint = func(path string) (string, bool) { return "H1", true }
	res := Validate([]map[string]any{
		{"type": "editScript", "path": "game/S", "mode": "replace", "source": "x", "expectedHash": "H2"},
	}, opts)
	require.NotEmpty(t, res.Reasons)
	assert.True(t, res.NeedsResync)
}

func TestValidateExpectedHashMissingCacheTriggersResync(t *testing.T) {
	opts := defaultOpts()
	opts.Fingerprint = func(path string) (string, bool) { return "", false }
	res := Validate([]map[string]any{
		{"type": "editScript", "path": "game/S", "mode": "replace", "source": "x", "expectedHash": "H2"},
	}, opts)
	assert.True(t, res.NeedsResync)
	assert.Contains(t, res.Reasons[0], "no cached hash")
}

func TestValidateAcceptsWellFormedTransaction(t *testing.T) {
	res := Validate([]map[string]any{
		{"type": "createInstance", "parentPath": "game/Workspace", "className": "Folder", "path": "game/Workspace/A", "name": "A"},
	}, defaultOpts())
	assert.Empty(t, res.Reasons)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, types.ActionCreateInstance, res.Actions[0].Type)
}
