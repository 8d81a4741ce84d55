package scenario

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/chrono/internal/canon"
)

// Snapshot renders a result's trace as canonical JSON. The bytes are
// stable across runs and backends.
func Snapshot(name string, result *Result) ([]byte, error) {
	return canon.Marshal(snapshotValue(name, result))
}

// Digest returns the domain-separated hash of a result's trace.
func Digest(name string, result *Result) (string, error) {
	return canon.Digest(canon.DomainTrace, snapshotValue(name, result))
}

func snapshotValue(name string, result *Result) map[string]any {
	trace := make([]any, len(result.Trace))
	for i, te := range result.Trace {
		trace[i] = te.canonical()
	}
	return map[string]any{
		"scenario_name": name,
		"trace":         trace,
	}
}

func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq":     e.Seq,
		"op":      e.Op,
		"block":   e.Block,
		"outcome": e.Outcome,
	}
	if e.Caller != "" {
		m["caller"] = e.Caller
	}
	if e.Value > 0 {
		m["value"] = e.Value
	}
	if len(e.Args) > 0 {
		m["args"] = e.Args
	}
	if e.Result != nil {
		m["result"] = e.Result
	}
	if len(e.Events) > 0 {
		events := make([]any, len(e.Events))
		for i, ev := range e.Events {
			events[i] = ev
		}
		m["events"] = events
	}
	return m
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/scenario -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
