package codexbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hostbridge/hostbridge/internal/types"
)

func TestClassifyScenarioMatchesKeywords(t *testing.T) {
	assert.Equal(t, types.ScenarioRollback, classifyScenario("please rollback the last change", 5))
	assert.Equal(t, types.ScenarioRefactor, classifyScenario("refactor this module", 5))
	assert.Equal(t, types.ScenarioReview, classifyScenario("review my obby kill brick", 5))
	assert.Equal(t, types.ScenarioGeneral, classifyScenario("add a coin spawner", 5))
}

func TestClassifyScenarioFallsBackToGreenfieldWithNoScripts(t *testing.T) {
	assert.Equal(t, types.ScenarioGreenfield, classifyScenario("add a coin spawner", 0))
}

func TestBuildFocusPackCapsScriptsAndBytes(t *testing.T) {
	snap := &types.ContextSnapshot{
		Scripts: []types.ScriptEntry{
			{Path: "A", Source: "0123456789"},
			{Path: "B", Source: "abcdefghij"},
			{Path: "C", Source: "zzzzzzzzzz"},
		},
		Delta: &types.Delta{ScriptsChanged: []string{"A", "B", "C"}},
	}

	focus := buildFocusPack(snap, 2, 4)
	assert.Len(t, focus, 2)
	assert.Equal(t, "0123", focus[0].Preview)
	assert.True(t, focus[0].Truncated)
}

func TestBuildPacksAttachesScenarioSpecificPack(t *testing.T) {
	packs := buildPacks(types.ScenarioGreenfield, types.JobContext{})
	assert.Contains(t, packs, "analysis")
	assert.Contains(t, packs, "blueprint")
}
