package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultApp is the namespace steps use when they name none.
const DefaultApp = "demo"

// Scenario is a scripted session against a fresh local ledger.
// Setup steps prepare the ledger, flow steps drive the store and the
// assertions check the resulting trace and final contents.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// App is the default namespace for steps without an "app" arg.
	App string `yaml:"app,omitempty"`

	// Lookback overrides the anchor lookback window for every open.
	Lookback *uint64 `yaml:"lookback,omitempty"`

	// Incremental opens namespaces with snapshot reconciliation.
	Incremental bool `yaml:"incremental,omitempty"`

	// Setup runs before the flow. Setup steps must succeed.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow is the main sequence, each step optionally checked against an
	// expected outcome.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and contents.
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep is a single action used in Setup.
type ActionStep struct {
	Action string         `yaml:"action"`
	Args   map[string]any `yaml:"args"`
}

// FlowStep invokes an action and optionally validates its outcome.
type FlowStep struct {
	Invoke string         `yaml:"invoke"`
	Args   map[string]any `yaml:"args"`
	Expect *ExpectClause  `yaml:"expect,omitempty"`
}

// ExpectClause is the expected outcome of a flow step.
type ExpectClause struct {
	// Case is the expected outcome: Success, NotFound, Degraded or Error.
	Case string `yaml:"case"`

	// Result is a subset match against the step's result fields.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final contents of a namespace.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args is a subset match used by trace_contains.
	Args map[string]any `yaml:"args,omitempty"`

	// Count is used by trace_count.
	Count int `yaml:"count,omitempty"`

	// Actions is the expected order used by trace_order.
	Actions []string `yaml:"actions,omitempty"`

	// App, Key and Value are used by final_state. A nil Value asserts the
	// key is absent.
	App   string  `yaml:"app,omitempty"`
	Key   string  `yaml:"key,omitempty"`
	Value *string `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Actions understood by the harness.
const (
	ActionMine        = "ledger.mine"
	ActionSubmitRaw   = "ledger.submit_raw"
	ActionFailSubmits = "ledger.fail_submits"
	ActionOpen        = "kv.open"
	ActionAdd         = "kv.add"
	ActionGet         = "kv.get"
	ActionList        = "kv.list"
	ActionStatus      = "kv.status"
)

// Outcome cases.
const (
	CaseSuccess  = "Success"
	CaseNotFound = "NotFound"
	CaseDegraded = "Degraded"
	CaseError    = "Error"
)

var knownActions = map[string]bool{
	ActionMine:        true,
	ActionSubmitRaw:   true,
	ActionFailSubmits: true,
	ActionOpen:        true,
	ActionAdd:         true,
	ActionGet:         true,
	ActionList:        true,
	ActionStatus:      true,
}

var knownCases = map[string]bool{
	CaseSuccess:  true,
	CaseNotFound: true,
	CaseDegraded: true,
	CaseError:    true,
}

// LoadScenario reads and validates the scenario file at path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// ParseScenario decodes scenario YAML, rejecting unknown fields, and
// validates it. Every validation problem is reported, not just the first.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if s.App == "" {
		s.App = DefaultApp
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// problems accumulates validation failures.
type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

func (s *Scenario) validate() error {
	var p problems
	if s.Name == "" {
		p.addf("name: required")
	}
	if s.Description == "" {
		p.addf("description: required")
	}
	if len(s.Flow) == 0 {
		p.addf("flow: at least one step required")
	}
	if len(s.Assertions) == 0 {
		p.addf("assertions: at least one required")
	}

	for i, step := range s.Setup {
		checkAction(&p, fmt.Sprintf("setup[%d].action", i), step.Action)
	}
	for i, step := range s.Flow {
		checkAction(&p, fmt.Sprintf("flow[%d].invoke", i), step.Invoke)
		if step.Expect == nil {
			continue
		}
		switch c := step.Expect.Case; {
		case c == "":
			p.addf("flow[%d].expect.case: required", i)
		case !knownCases[c]:
			p.addf("flow[%d].expect.case: unknown case %q", i, c)
		}
	}
	for i, a := range s.Assertions {
		a.validate(&p, fmt.Sprintf("assertions[%d]", i))
	}
	return errors.Join(p...)
}

func checkAction(p *problems, field, action string) {
	switch {
	case action == "":
		p.addf("%s: required", field)
	case !knownActions[action]:
		p.addf("%s: unknown action %q", field, action)
	}
}

// validate checks the fields a's type needs.
func (a Assertion) validate(p *problems, field string) {
	switch a.Type {
	case "":
		p.addf("%s.type: required", field)
	case AssertTraceContains:
		if a.Action == "" {
			p.addf("%s.action: required by %s", field, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			p.addf("%s.actions: required by %s", field, a.Type)
		}
	case AssertTraceCount:
		if a.Action == "" {
			p.addf("%s.action: required by %s", field, a.Type)
		}
		if a.Count < 0 {
			p.addf("%s.count: must not be negative", field)
		}
	case AssertFinalState:
		if a.Key == "" {
			p.addf("%s.key: required by %s", field, a.Type)
		}
	default:
		p.addf("%s.type: unknown type %q", field, a.Type)
	}
}
