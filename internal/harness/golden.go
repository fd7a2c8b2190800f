package harness

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string
	Traces       map[string][]TraceEvent
}

// Render writes one block per subscriber, subscribers sorted by name.
func (s TraceSnapshot) Render() []byte {
	names := make([]string, 0, len(s.Traces))
	for name := range s.Traces {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", s.ScenarioName)
	for _, name := range names {
		fmt.Fprintf(&b, "subscriber: %s\n", name)
		for _, ev := range s.Traces[name] {
			fmt.Fprintf(&b, "  %s\n", ev)
		}
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its traces against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot run. Trace mismatches fail t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Traces: result.Traces}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot.Render())
}
