package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/ end to end.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			runner := &Runner{}
			result, err := runner.Run(context.Background(), scenario)
			require.NoError(t, err)
			require.NoError(t, Check(result, scenario.Assertions))
		})
	}
}

func TestRunner_ExpectErrorMismatch(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "decision_path.yaml"))
	require.NoError(t, err)

	// The first decision succeeds, so demanding an error must fail the
	// run.
	scenario.Steps[0].ExpectError = "NOTHING_TO_REWIND"

	runner := &Runner{}
	_, err = runner.Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected error NOTHING_TO_REWIND")
}

func TestRunner_UnknownEdgeLabel(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "decision_path.yaml"))
	require.NoError(t, err)
	scenario.Steps[0].Edge = "Go sideways"

	runner := &Runner{}
	_, err = runner.Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no edge labeled "Go sideways"`)
}

func TestRunner_EventTimestampsAdvancePerStep(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "decision_path.yaml"))
	require.NoError(t, err)

	runner := &Runner{}
	result, err := runner.Run(context.Background(), scenario)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(result.Events), 2)
	for i := 1; i < len(result.Events); i++ {
		assert.False(t, result.Events[i].At.Before(result.Events[i-1].At),
			"event %d precedes event %d", i, i-1)
	}
}
