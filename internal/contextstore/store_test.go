package contextstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/hostbridge/internal/semantic"
	"github.com/hostbridge/hostbridge/internal/types"
)

func key() types.ContextKey {
	return types.ContextKey{Scope: types.Scope{PlaceID: 1, SessionID: "s1"}, ProjectKey: "default"}
}

func opts() Options {
	return Options{DeltaMaxItems: 100, SemanticOpts: semantic.DefaultOptions()}
}

func TestExportFirstSnapshotIsVersionOneWithFullDelta(t *testing.T) {
	s := New(nil, opts())
	snap := &types.ContextSnapshot{
		Tree:    []types.TreeNode{{Path: "game/ServerScriptService"}},
		Scripts: []types.ScriptEntry{{Path: "game/ServerScriptService/A", Source: "print(1)"}},
	}

	res, err := s.Export(key(), snap)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, int64(1), res.ContextVersion)

	latest, err := s.Latest(key())
	require.NoError(t, err)
	assert.Equal(t, []string{"game/ServerScriptService/A"}, latest.Delta.ScriptsAdded)
}

func TestExportWithMatchingFingerprintIsUnchanged(t *testing.T) {
	s := New(nil, opts())
	snap := &types.ContextSnapshot{Meta: types.ContextMeta{Fingerprint: "fp1"}}

	_, err := s.Export(key(), snap)
	require.NoError(t, err)

	res, err := s.Export(key(), snap)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", res.Status)
}

func TestExportBumpsVersionAndComputesDeltaOnChange(t *testing.T) {
	s := New(nil, opts())
	first := &types.ContextSnapshot{
		Scripts: []types.ScriptEntry{{Path: "A", Source: "print(1)"}, {Path: "B", Source: "print(2)"}},
	}
	_, err := s.Export(key(), first)
	require.NoError(t, err)

	second := &types.ContextSnapshot{
		Scripts: []types.ScriptEntry{{Path: "A", Source: "print(99)"}, {Path: "C", Source: "print(3)"}},
	}
	res, err := s.Export(key(), second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.ContextVersion)

	latest, err := s.Latest(key())
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, latest.Delta.ScriptsAdded)
	assert.Equal(t, []string{"B"}, latest.Delta.ScriptsRemoved)
	assert.Equal(t, []string{"A"}, latest.Delta.ScriptsChanged)
}

func TestDiffModeCarriesOverMatchingSource(t *testing.T) {
	s := New(nil, opts())
	first := &types.ContextSnapshot{
		Scripts: []types.ScriptEntry{{Path: "A", SHA1: "h1", Source: "print(1)"}},
	}
	_, err := s.Export(key(), first)
	require.NoError(t, err)

	diff := &types.ContextSnapshot{
		Meta:    types.ContextMeta{Mode: types.ContextModeDiff},
		Scripts: []types.ScriptEntry{{Path: "A", SHA1: "h1"}},
	}
	_, err = s.Export(key(), diff)
	require.NoError(t, err)

	script, err := s.Script(key(), "A")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", script.Source)
}

func TestScriptReturnsSourceOmittedWhenDiffOmitsUnmatchedSource(t *testing.T) {
	s := New(nil, opts())
	first := &types.ContextSnapshot{Scripts: []types.ScriptEntry{{Path: "A", SHA1: "h1", Source: "print(1)"}}}
	_, err := s.Export(key(), first)
	require.NoError(t, err)

	diff := &types.ContextSnapshot{
		Meta:    types.ContextMeta{Mode: types.ContextModeDiff},
		Scripts: []types.ScriptEntry{{Path: "A", SHA1: "h2", SourceOmittedReason: "diff"}},
	}
	_, err = s.Export(key(), diff)
	require.NoError(t, err)

	_, err = s.Script(key(), "A")
	require.Error(t, err)
	assert.Equal(t, types.KindSourceOmitted, err.(*types.APIError).Kind)
}

func TestLatestWithoutExportReturnsNoContext(t *testing.T) {
	s := New(nil, opts())
	_, err := s.Latest(key())
	require.Error(t, err)
	assert.Equal(t, types.KindNoContext, err.(*types.APIError).Kind)
}

func TestMemoryRoundTripAndEmptyMemoryError(t *testing.T) {
	s := New(nil, opts())
	_, err := s.Memory(key())
	require.Error(t, err)
	assert.Equal(t, types.KindNoMemory, err.(*types.APIError).Kind)

	s.SetMemory(key(), "remember this")
	mem, err := s.Memory(key())
	require.NoError(t, err)
	assert.Equal(t, "remember this", mem.Text)

	s.SetMemory(key(), "")
	_, err = s.Memory(key())
	require.Error(t, err)
	assert.Equal(t, types.KindEmptyMemory, err.(*types.APIError).Kind)
}

func TestResetClearsSnapshotAndMemory(t *testing.T) {
	s := New(nil, opts())
	_, err := s.Export(key(), &types.ContextSnapshot{})
	require.NoError(t, err)
	s.SetMemory(key(), "note")

	require.NoError(t, s.Reset(key()))

	_, err = s.Latest(key())
	require.Error(t, err)
	_, err = s.Memory(key())
	require.Error(t, err)
}

func TestPendingRequestIsConsumedOnce(t *testing.T) {
	s := New(nil, opts())
	s.RequestExport(key(), types.ContextRequest{ProjectKey: "default", IncludeSources: true})

	req, ok := s.PendingRequest(key())
	require.True(t, ok)
	assert.True(t, req.IncludeSources)

	_, ok = s.PendingRequest(key())
	assert.False(t, ok)
}
