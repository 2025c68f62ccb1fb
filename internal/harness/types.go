package harness

import (
	"fmt"

	"github.com/roach88/ledgerkv/internal/ledger"
)

// TraceEvent records one executed step: the action, its arguments and the
// outcome the store produced.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
	Case   string         `json:"case"`
	Result map[string]any `json:"result,omitempty"`
}

// Result is what a scenario run produced. Pass is false as soon as any
// expect clause or assertion fails. Resolver counts namespace lookups; it
// is not part of the golden trace.
type Result struct {
	Pass     bool                 `json:"pass"`
	Trace    []TraceEvent         `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
	Resolver ledger.ResolverStats `json:"resolver"`
}

func newResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// Failf records a failure.
func (r *Result) Failf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

func (r *Result) record(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
