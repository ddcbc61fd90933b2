package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbridge/hostbridge/internal/types"
)

const sampleSource = `
local DataStoreService = game:GetService("DataStoreService")
local Utils = require(game.ReplicatedStorage.Utils)

local function onPlayerAdded(player)
	print(player.Name)
end

function computeScore(a, b)
	return a + b
end
`

func TestBuildIndexDerivesServicesRequiresAndSymbols(t *testing.T) {
	snap := &types.ContextSnapshot{
		Scripts: []types.ScriptEntry{
			{Path: "game/ServerScriptService/Main", ClassName: "Script", Source: sampleSource},
		},
	}

	idx := BuildIndex("ctx1", 1, snap, DefaultOptions())
	require.Len(t, idx.Scripts, 1)

	sem := idx.Scripts[0]
	assert.Contains(t, sem.Services, "DataStoreService")
	assert.Contains(t, sem.Requires, "game.ReplicatedStorage.Utils")
	assert.ElementsMatch(t, []string{"onPlayerAdded", "computeScore"}, sem.Symbols)
	assert.Contains(t, sem.Tags, "server")
	assert.Contains(t, sem.Tags, "datastore")
}

func TestBuildIndexSummaryScriptCountMatchesAnalyzedScripts(t *testing.T) {
	snap := &types.ContextSnapshot{
		Scripts: []types.ScriptEntry{
			{Path: "game/ServerScriptService/A", ClassName: "Script", Source: sampleSource},
			{Path: "game/ServerScriptService/B", ClassName: "Script", Source: "print(2)"},
			{Path: "game/ServerScriptService/C", ClassName: "Script", SourceTruncated: true},
		},
	}

	idx := BuildIndex("ctx1", 1, snap, DefaultOptions())
	assert.Equal(t, idx.Summary.ScriptCount, len(idx.Scripts))
	assert.Equal(t, 2, idx.Summary.ScriptCount)
}

func TestFingerprintFallbackChain(t *testing.T) {
	assert.Equal(t, "H1", Fingerprint(types.ScriptEntry{SHA1: "H1"}))
	assert.Equal(t, "sha1:f36c28972be9cd625bfda7a61a114cb2ed6a0436", Fingerprint(types.ScriptEntry{Source: "print(1)"}))
	assert.Equal(t, "bytes:42", Fingerprint(types.ScriptEntry{Bytes: 42}))
	assert.Equal(t, "unknown", Fingerprint(types.ScriptEntry{}))
}

func TestExtractKeywordsSkipsShortAndStopWords(t *testing.T) {
	kws := extractKeywords("the do if a bb ccc dddd dddd", 20)
	assert.NotContains(t, kws, "the")
	assert.NotContains(t, kws, "do")
	assert.NotContains(t, kws, "a")
	assert.NotContains(t, kws, "bb")
	assert.Contains(t, kws, "dddd")
}
