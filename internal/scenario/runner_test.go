package scenario

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backends = []string{BackendMemory, BackendSQLite}

func loadTestdata(t *testing.T, name, backend string) *Scenario {
	t.Helper()
	s, err := Load(filepath.Join("testdata", name+".yaml"))
	require.NoError(t, err)
	s.Backend = backend
	return s
}

func TestRun_Testdata(t *testing.T) {
	for _, name := range []string{"lifecycle", "failures", "bounds", "exhaustion"} {
		for _, backend := range backends {
			t.Run(name+"/"+backend, func(t *testing.T) {
				result, err := Run(loadTestdata(t, name, backend))
				require.NoError(t, err)
				assert.True(t, result.Pass, "errors: %v", result.Errors)
				assert.Empty(t, result.Errors)
			})
		}
	}
}

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"lifecycle", "failures"} {
		for _, backend := range backends {
			t.Run(name+"/"+backend, func(t *testing.T) {
				result, err := RunWithGolden(t, loadTestdata(t, name, backend))
				require.NoError(t, err)
				assert.True(t, result.Pass, "errors: %v", result.Errors)
			})
		}
	}
}

func TestRun_BackendsAgree(t *testing.T) {
	for _, name := range []string{"lifecycle", "failures", "bounds", "exhaustion"} {
		t.Run(name, func(t *testing.T) {
			var digests []string
			for _, backend := range backends {
				result, err := Run(loadTestdata(t, name, backend))
				require.NoError(t, err)
				d, err := Digest(name, result)
				require.NoError(t, err)
				digests = append(digests, d)
			}
			assert.Equal(t, digests[0], digests[1])
		})
	}
}

func TestRun_ReportsMismatches(t *testing.T) {
	s, err := Parse([]byte(`
name: wrong
description: every expectation here is wrong
start_block: 10
accounts: {alice: 10}
steps:
  - op: create
    caller: alice
    value: 10
    args: {recipient: bob, message: hi, duration: 5}
    expect: {id: 3}
  - op: open
    caller: bob
    args: {id: 0}
  - op: count
    expect: {error: CapsuleNotFound}
assertions:
  - {type: count, equals: 2}
  - {type: balance, account: bob, equals: 10}
  - {type: absent, id: 0}
  - {type: event_count, equals: 5}
  - {type: event_order, kinds: [CapsuleOpened, CapsuleCreated]}
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 8)
	assert.Contains(t, result.Errors[0], "steps[0] (create): id = 0, expected 3")
	assert.Contains(t, result.Errors[1], "steps[1] (open): outcome CapsuleIsStillLocked, expected ok")
	assert.Contains(t, result.Errors[2], "steps[2] (count): outcome ok, expected CapsuleNotFound")
	assert.Contains(t, result.Errors[3], "Assertion failed: count")
	assert.Contains(t, result.Errors[4], "bob balance 0")
	assert.Contains(t, result.Errors[5], "capsule 0 present=true")
	assert.Contains(t, result.Errors[6], "5 any notifications")
	assert.Contains(t, result.Errors[7], "Assertion failed: event_order")
}

func TestRun_HexAccounts(t *testing.T) {
	// Hex of an unnamed account renders back as the hex the scenario used.
	hex := "0x" + "11111111111111111111111111111111" + "11111111111111111111111111111111"
	s, err := Parse([]byte(`
name: hex
description: hex accounts round trip
steps:
  - op: create
    caller: alice
    args: {recipient: "` + hex + `", message: m, duration: 1}
  - op: list
    args: {account: "` + hex + `"}
    expect: {ids: [0]}
assertions:
  - {type: present, id: 0}
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, hex, result.Trace[0].Args["recipient"])
	assert.Equal(t, hex, result.Trace[1].Args["account"])
}

func TestRun_HeightRegressionAborts(t *testing.T) {
	at := uint32(3)
	s := &Scenario{
		Name:        "regress",
		Description: "at below the current height",
		StartBlock:  10,
		Steps:       []Step{{Op: OpCount, At: &at}},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0] (count)")
}

func TestSnapshot_Stable(t *testing.T) {
	result, err := Run(loadTestdata(t, "lifecycle", BackendMemory))
	require.NoError(t, err)

	a, err := Snapshot("lifecycle", result)
	require.NoError(t, err)
	b, err := Snapshot("lifecycle", result)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `"scenario_name":"lifecycle"`)
}
