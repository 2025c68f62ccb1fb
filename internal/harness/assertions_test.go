package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Action: ActionOpen, Case: CaseSuccess},
		{Seq: 2, Action: ActionAdd, Args: map[string]any{"key": "color", "value": "red"}, Case: CaseSuccess},
		{Seq: 3, Action: ActionGet, Args: map[string]any{"key": "color"}, Case: CaseSuccess},
		{Seq: 4, Action: ActionAdd, Args: map[string]any{"key": "color", "value": "blue"}, Case: CaseSuccess},
	}
}

// evalOne evaluates a against sampleTrace and returns the failure, if any.
func evalOne(t *testing.T, a Assertion) *AssertionError {
	t.Helper()
	failed := EvaluateAssertions(&AssertionContext{Ctx: context.Background(), Trace: sampleTrace(), DefaultApp: DefaultApp}, []Assertion{a})
	if len(failed) == 0 {
		return nil
	}
	require.Len(t, failed, 1)
	return failed[0]
}

func TestTraceAssertions(t *testing.T) {
	tests := []struct {
		name    string
		a       Assertion
		wantGot string // empty when the assertion holds
	}{
		{"contains exact args", Assertion{Type: AssertTraceContains, Action: ActionAdd, Args: map[string]any{"key": "color", "value": "blue"}}, ""},
		{"contains args subset", Assertion{Type: AssertTraceContains, Action: ActionAdd, Args: map[string]any{"value": "red"}}, ""},
		{"contains without args", Assertion{Type: AssertTraceContains, Action: ActionGet}, ""},
		{"contains wrong args", Assertion{Type: AssertTraceContains, Action: ActionAdd, Args: map[string]any{"value": "green"}}, "none in trace"},
		{"contains missing action", Assertion{Type: AssertTraceContains, Action: ActionStatus}, "none in trace"},

		{"order adjacent", Assertion{Type: AssertTraceOrder, Actions: []string{ActionOpen, ActionAdd, ActionGet}}, ""},
		{"order with gaps", Assertion{Type: AssertTraceOrder, Actions: []string{ActionOpen, ActionGet}}, ""},
		{"order repeated action", Assertion{Type: AssertTraceOrder, Actions: []string{ActionAdd, ActionGet, ActionAdd}}, ""},
		{"order reversed", Assertion{Type: AssertTraceOrder, Actions: []string{ActionGet, ActionOpen}}, "no kv.open step after seq 3"},
		{"order too many repeats", Assertion{Type: AssertTraceOrder, Actions: []string{ActionAdd, ActionAdd, ActionAdd}}, "no kv.add step after seq 4"},
		{"order missing first", Assertion{Type: AssertTraceOrder, Actions: []string{ActionList, ActionOpen}}, "no kv.list step"},

		{"count exact", Assertion{Type: AssertTraceCount, Action: ActionAdd, Count: 2}, ""},
		{"count zero", Assertion{Type: AssertTraceCount, Action: ActionStatus, Count: 0}, ""},
		{"count filtered by args", Assertion{Type: AssertTraceCount, Action: ActionAdd, Args: map[string]any{"value": "red"}, Count: 1}, ""},
		{"count too low", Assertion{Type: AssertTraceCount, Action: ActionAdd, Count: 3}, "2"},
		{"count too high", Assertion{Type: AssertTraceCount, Action: ActionAdd, Count: 1}, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failure := evalOne(t, tt.a)
			if tt.wantGot == "" {
				assert.Nil(t, failure)
				return
			}
			require.NotNil(t, failure)
			assert.Equal(t, tt.a.Type, failure.Type)
			assert.Equal(t, tt.wantGot, failure.Got)
		})
	}
}

func TestEvaluateAssertions_ReportsEachFailureInOrder(t *testing.T) {
	actx := &AssertionContext{Ctx: context.Background(), Trace: sampleTrace(), DefaultApp: DefaultApp}
	failed := EvaluateAssertions(actx, []Assertion{
		{Type: AssertTraceContains, Action: ActionAdd},
		{Type: AssertTraceCount, Action: ActionGet, Count: 5},
		{Type: "eventually"},
		{Type: AssertFinalState, Key: "color"},
	})

	require.Len(t, failed, 3)
	assert.Equal(t, "assertion[1] trace_count: want 5 kv.get step(s), got 1", failed[0].Error())
	assert.Equal(t, `assertion[2] eventually: want a known assertion type, got "eventually"`, failed[1].Error())
	assert.Equal(t, "assertion[3] final_state: want demo/color absent, got namespace never opened", failed[2].Error())
}

func TestFinalStateAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "final_state",
		Description: "Final state reads through the open namespace",
		App:         DefaultApp,
		Flow: []FlowStep{
			{Invoke: ActionOpen},
			{Invoke: ActionAdd, Args: map[string]any{"key": "color", "value": "red"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Key: "color", Value: str("red")},
			{Type: AssertFinalState, Key: "color", Value: str("blue")},
			{Type: AssertFinalState, Key: "color"},
			{Type: AssertFinalState, Key: "shape", Value: str("round")},
			{Type: AssertFinalState, Key: "shape"},
			{Type: AssertFinalState, App: "other", Key: "color"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		`assertion[1] final_state: want demo/color = "blue", got "red"`,
		`assertion[2] final_state: want demo/color absent, got "red"`,
		`assertion[3] final_state: want demo/shape = "round", got key not found`,
		`assertion[5] final_state: want other/color absent, got namespace never opened`,
	}, result.Errors)
}

func TestMatchArgs_SubsetSemantics(t *testing.T) {
	actual := map[string]any{"height": uint64(7), "key": "k", "keys": []string{"a", "b"}}

	tests := []struct {
		expected map[string]any
		want     bool
	}{
		{nil, true},
		{map[string]any{}, true},
		{map[string]any{"height": 7}, true},
		{map[string]any{"keys": []any{"a", "b"}}, true},
		{map[string]any{"height": 8}, false},
		{map[string]any{"value": "v"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchArgs(actual, tt.expected), "%v", tt.expected)
	}
	assert.False(t, matchArgs(nil, map[string]any{"key": "k"}))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(nil, nil))
	assert.False(t, valuesEqual(nil, 0))
	assert.False(t, valuesEqual("x", nil))
	assert.True(t, valuesEqual(uint64(3), 3))
	assert.True(t, valuesEqual("blue", "blue"))
	assert.False(t, valuesEqual("blue", "red"))
}
