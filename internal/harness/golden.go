package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/objrewrite/internal/canonical"
)

// Snapshot renders a scenario result as canonical JSON for golden file
// comparison. The snapshot holds the scenario name, the fetch list, the
// output tree and the error message; absent parts are omitted.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := map[string]any{
		"scenario": scenarioName,
	}
	if result.Fields != nil {
		snapshot["fields"] = result.Fields
	}
	if result.Output != nil {
		snapshot["output"] = result.Output
	}
	if result.Error != "" {
		snapshot["error"] = result.Error
	}
	return canonical.Marshal(snapshot)
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot be executed. Expectation
// mismatches and golden differences fail t.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, e)
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
