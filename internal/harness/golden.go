package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

const goldenDir = "testdata/golden"

// TraceSnapshot is the golden file body for one scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// marshal renders indented JSON with a trailing newline. encoding/json sorts
// map keys, so event args are stable across runs.
func (s *TraceSnapshot) marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs scenario and checks its trace against
// testdata/golden/<name>.golden. A mismatch fails t; the returned error is
// reserved for scenarios that could not run. Pass -update to rewrite the
// fixtures.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden checks an existing result against the fixture for name.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	body, err := (&TraceSnapshot{ScenarioName: name, Trace: result.Trace}).marshal()
	if err != nil {
		return err
	}
	goldie.New(t, goldie.WithFixtureDir(goldenDir), goldie.WithNameSuffix(".golden")).
		Assert(t, name, body)
	return nil
}
