package harness

import (
	"context"
	"fmt"

	"github.com/roach88/ledgerkv/internal/kv"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Index int    // position in the scenario's assertions list
	Type  string // assertion type
	Want  string
	Got   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion[%d] %s: want %s, got %s", e.Index, e.Type, e.Want, e.Got)
}

// AssertionContext is what assertions are evaluated against.
type AssertionContext struct {
	Ctx        context.Context
	Trace      []TraceEvent
	DBs        map[string]*kv.DB // open namespaces by name, for final_state
	DefaultApp string
}

// checkFunc returns the wanted and observed descriptions and whether they
// agree.
type checkFunc func(actx *AssertionContext, a Assertion) (want, got string, ok bool)

var checks = map[string]checkFunc{
	AssertTraceContains: checkTraceContains,
	AssertTraceOrder:    checkTraceOrder,
	AssertTraceCount:    checkTraceCount,
	AssertFinalState:    checkFinalState,
}

// EvaluateAssertions runs every assertion and returns the failures in
// scenario order.
func EvaluateAssertions(actx *AssertionContext, assertions []Assertion) []*AssertionError {
	var failed []*AssertionError
	for i, a := range assertions {
		check, known := checks[a.Type]
		if !known {
			failed = append(failed, &AssertionError{Index: i, Type: a.Type, Want: "a known assertion type", Got: fmt.Sprintf("%q", a.Type)})
			continue
		}
		if want, got, ok := check(actx, a); !ok {
			failed = append(failed, &AssertionError{Index: i, Type: a.Type, Want: want, Got: got})
		}
	}
	return failed
}

// stepMatches reports whether ev is a step of action whose args include args.
func stepMatches(ev TraceEvent, action string, args map[string]any) bool {
	return ev.Action == action && matchArgs(ev.Args, args)
}

func checkTraceContains(actx *AssertionContext, a Assertion) (string, string, bool) {
	want := fmt.Sprintf("a %s step with args %v", a.Action, a.Args)
	for _, ev := range actx.Trace {
		if stepMatches(ev, a.Action, a.Args) {
			return want, "", true
		}
	}
	return want, "none in trace", false
}

// checkTraceOrder requires Actions to occur as a subsequence of the trace:
// each one at some step after the step matched for its predecessor.
func checkTraceOrder(actx *AssertionContext, a Assertion) (string, string, bool) {
	want := fmt.Sprintf("%v in order", a.Actions)
	next := 0
	var lastSeq int64
	for i, action := range a.Actions {
		found := false
		for ; next < len(actx.Trace); next++ {
			if actx.Trace[next].Action == action {
				lastSeq = actx.Trace[next].Seq
				next++
				found = true
				break
			}
		}
		if !found {
			if i == 0 {
				return want, fmt.Sprintf("no %s step", action), false
			}
			return want, fmt.Sprintf("no %s step after seq %d", action, lastSeq), false
		}
	}
	return want, "", true
}

// checkTraceCount counts steps of Action whose args include Args.
func checkTraceCount(actx *AssertionContext, a Assertion) (string, string, bool) {
	n := 0
	for _, ev := range actx.Trace {
		if stepMatches(ev, a.Action, a.Args) {
			n++
		}
	}
	return fmt.Sprintf("%d %s step(s)", a.Count, a.Action), fmt.Sprintf("%d", n), n == a.Count
}

// checkFinalState reads Key through the open namespace. A nil Value asserts
// the key is absent.
func checkFinalState(actx *AssertionContext, a Assertion) (string, string, bool) {
	app := a.App
	if app == "" {
		app = actx.DefaultApp
	}
	want := fmt.Sprintf("%s/%s absent", app, a.Key)
	if a.Value != nil {
		want = fmt.Sprintf("%s/%s = %q", app, a.Key, *a.Value)
	}

	db, open := actx.DBs[app]
	if !open {
		return want, "namespace never opened", false
	}
	rec, err := db.Get(actx.Ctx, a.Key)
	switch {
	case kv.IsNotFound(err):
		return want, "key not found", a.Value == nil
	case err != nil:
		return want, fmt.Sprintf("read error: %v", err), false
	case a.Value == nil:
		return want, fmt.Sprintf("%q", rec.Value), false
	default:
		return want, fmt.Sprintf("%q", rec.Value), rec.Value == *a.Value
	}
}

// matchArgs reports whether every expected field is present in actual with an
// equal value. Extra fields in actual are ignored.
func matchArgs(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values by their printed form, so a YAML int
// matches a uint64 height and a YAML list matches a []string.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}
