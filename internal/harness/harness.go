package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/ledgerkv/internal/kv"
	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/scan"
	"github.com/roach88/ledgerkv/internal/store"
	"github.com/roach88/ledgerkv/internal/testutil"
)

// retryPolicy keeps injected faults cheap: three tries, no backoff.
var retryPolicy = ledger.RetryPolicy{Attempts: 3}

// resolverTTL outlives any scenario.
const resolverTTL = time.Hour

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and record ids.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	resolver *ledger.CachingResolver
	client   *testutil.FlakyClient
	clock    *testutil.DeterministicClock
	ids      *testutil.SequentialIDs
	logger   *slog.Logger
	dbs      map[string]*kv.DB
	seq      int64
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Create fresh in-memory ledger
// 2. Execute setup steps (each must succeed)
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions against the trace and final contents
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, testutil.DiscardLogger())
}

// RunContext is Run with an explicit context and logger.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		resolver: ledger.NewCachingResolver(st, resolverTTL),
		client:   testutil.NewFlakyClient(st),
		clock:    testutil.NewDeterministicClock(),
		ids:      testutil.NewSequentialIDs(""),
		logger:   logger,
		dbs:      make(map[string]*kv.DB),
	}

	result := newResult()
	for i, step := range scenario.Setup {
		event, err := h.execute(ctx, step.Action, step.Args)
		if err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
		result.record(event)
		if event.Case != CaseSuccess {
			return nil, fmt.Errorf("setup step %d: %s returned %s", i, step.Action, event.Case)
		}
	}

	for i, step := range scenario.Flow {
		event, err := h.execute(ctx, step.Invoke, step.Args)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		result.record(event)
		h.check(i, step, event, result)
	}

	actx := &AssertionContext{Ctx: ctx, Trace: result.Trace, DBs: h.dbs, DefaultApp: scenario.App}
	for _, failure := range EvaluateAssertions(actx, scenario.Assertions) {
		result.Failf("%s", failure)
	}
	result.Resolver = h.resolver.Stats()
	return result, nil
}

// check validates a flow step's outcome against its expect clause. Without
// one, only an Error outcome fails the step.
func (h *Harness) check(i int, step FlowStep, event TraceEvent, result *Result) {
	if step.Expect == nil {
		if event.Case == CaseError {
			result.Failf("flow[%d] %s: unexpected error (%v)", i, step.Invoke, event.Result["kind"])
		}
		return
	}
	if event.Case != step.Expect.Case {
		result.Failf("flow[%d] %s: expected case %s, got %s",
			i, step.Invoke, step.Expect.Case, event.Case)
		return
	}
	if !matchArgs(event.Result, step.Expect.Result) {
		result.Failf("flow[%d] %s: expected result %v, got %v",
			i, step.Invoke, step.Expect.Result, event.Result)
	}
}

// execute runs one action. The returned error is reserved for malformed
// steps; store failures become the event's case.
func (h *Harness) execute(ctx context.Context, action string, args map[string]any) (TraceEvent, error) {
	h.seq++
	event := TraceEvent{Seq: h.seq, Action: action, Args: args, Case: CaseSuccess}

	var (
		res map[string]any
		err error
	)
	switch action {
	case ActionMine:
		res, err = h.mine(ctx, args)
	case ActionSubmitRaw:
		res, err = h.submitRaw(ctx, args)
	case ActionFailSubmits:
		res, err = h.failSubmits(args)
	case ActionOpen:
		res, err = h.open(ctx, args)
	case ActionAdd:
		res, err = h.add(ctx, args)
	case ActionGet:
		res, err = h.get(ctx, args)
	case ActionList:
		res, err = h.list(ctx, args)
	case ActionStatus:
		res, err = h.status(ctx, args)
	default:
		return TraceEvent{}, fmt.Errorf("unknown action %q", action)
	}

	var stepErr *stepError
	switch {
	case errors.As(err, &stepErr):
		return TraceEvent{}, err
	case kv.IsNotFound(err):
		event.Case = CaseNotFound
	case kv.IsDegradedWrite(err):
		event.Case = CaseDegraded
	case err != nil:
		event.Case = CaseError
		res = map[string]any{"kind": errorKind(err)}
		h.logger.Debug("step failed", "action", action, "error", err)
	}
	event.Result = res
	return event, nil
}

func (h *Harness) mine(ctx context.Context, args map[string]any) (map[string]any, error) {
	n, err := argUint(args, "blocks")
	if err != nil {
		return nil, err
	}
	tip, err := h.store.Mine(ctx, n)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tip": tip}, nil
}

// submitRaw submits data verbatim, bypassing the record codec.
func (h *Harness) submitRaw(ctx context.Context, args map[string]any) (map[string]any, error) {
	data, err := argString(args, "data")
	if err != nil {
		return nil, err
	}
	appID, err := h.resolver.ResolveOrCreate(ctx, h.appArg(args))
	if err != nil {
		return nil, err
	}
	height, err := h.client.Submit(ctx, appID, []byte(data))
	if err != nil {
		return nil, err
	}
	return map[string]any{"height": height}, nil
}

func (h *Harness) failSubmits(args map[string]any) (map[string]any, error) {
	count, err := argUint(args, "count")
	if err != nil {
		return nil, err
	}
	var after uint64
	if _, ok := args["after"]; ok {
		if after, err = argUint(args, "after"); err != nil {
			return nil, err
		}
	}
	h.client.FailSubmitsAfter(int(after), int(count))
	return nil, nil
}

func (h *Harness) open(ctx context.Context, args map[string]any) (map[string]any, error) {
	app := h.appArg(args)
	opts := []kv.Option{
		kv.WithRetryPolicy(retryPolicy),
		kv.WithScanOptions(scan.WithRetryPolicy(retryPolicy)),
		kv.WithIncremental(h.scenario.Incremental),
		kv.WithClock(h.clock.Now),
		kv.WithIDGenerator(h.ids),
		kv.WithLogger(h.logger),
	}
	if h.scenario.Lookback != nil {
		opts = append(opts, kv.WithLookback(*h.scenario.Lookback))
	}

	db, err := kv.Open(ctx, h.client, h.resolver, app, opts...)
	if err != nil {
		return nil, err
	}
	h.dbs[app] = db

	a := db.Anchor()
	res := map[string]any{
		"app":          app,
		"app_id":       uint32(db.Namespace().AppID),
		"outcome":      a.Outcome.String(),
		"start_height": a.StartHeight,
	}
	if a.Race != nil {
		res["competing"] = a.Race.Anchors
	}
	return res, nil
}

func (h *Harness) add(ctx context.Context, args map[string]any) (map[string]any, error) {
	db, err := h.db(args)
	if err != nil {
		return nil, err
	}
	key, err := argString(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := argString(args, "value")
	if err != nil {
		return nil, err
	}
	rec, err := db.Add(ctx, key, value)
	if err != nil && !kv.IsDegradedWrite(err) {
		return nil, err
	}
	return map[string]any{
		"key":    rec.Key,
		"value":  rec.Value,
		"id":     rec.ID,
		"height": rec.Pos.Height,
	}, err
}

func (h *Harness) get(ctx context.Context, args map[string]any) (map[string]any, error) {
	db, err := h.db(args)
	if err != nil {
		return nil, err
	}
	key, err := argString(args, "key")
	if err != nil {
		return nil, err
	}
	rec, err := db.Get(ctx, key)
	if kv.IsNotFound(err) {
		return map[string]any{"key": key}, err
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"key":    rec.Key,
		"value":  rec.Value,
		"id":     rec.ID,
		"height": rec.Pos.Height,
		"index":  rec.Pos.Index,
	}, nil
}

func (h *Harness) list(ctx context.Context, args map[string]any) (map[string]any, error) {
	db, err := h.db(args)
	if err != nil {
		return nil, err
	}
	recs, err := db.List(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return map[string]any{"count": len(recs), "keys": keys}, nil
}

func (h *Harness) status(ctx context.Context, args map[string]any) (map[string]any, error) {
	db, err := h.db(args)
	if err != nil {
		return nil, err
	}
	st, err := db.Status(ctx)
	if err != nil {
		return nil, err
	}
	res := map[string]any{
		"tip":          st.Tip,
		"start_height": st.StartHeight,
		"outcome":      st.Outcome.String(),
		"keys":         st.Keys,
	}
	if st.HasMetadata {
		res["record_count"] = st.Metadata.RecordCount
	}
	return res, nil
}

func (h *Harness) appArg(args map[string]any) string {
	if app, ok := args["app"].(string); ok && app != "" {
		return app
	}
	return h.scenario.App
}

func (h *Harness) db(args map[string]any) (*kv.DB, error) {
	app := h.appArg(args)
	db, ok := h.dbs[app]
	if !ok {
		return nil, &stepError{msg: fmt.Sprintf("namespace %q is not open (add a %s step)", app, ActionOpen)}
	}
	return db, nil
}

// stepError reports a malformed step rather than a store failure.
type stepError struct{ msg string }

func (e *stepError) Error() string { return e.msg }

func argString(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", &stepError{msg: fmt.Sprintf("missing arg %q", name)}
	}
	s, ok := v.(string)
	if !ok {
		return "", &stepError{msg: fmt.Sprintf("arg %q must be a string, got %T", name, v)}
	}
	return s, nil
}

func argUint(args map[string]any, name string) (uint64, error) {
	v, ok := args[name]
	if !ok {
		return 0, &stepError{msg: fmt.Sprintf("missing arg %q", name)}
	}
	switch n := v.(type) {
	case int:
		if n >= 0 {
			return uint64(n), nil
		}
	case int64:
		if n >= 0 {
			return uint64(n), nil
		}
	case uint64:
		return n, nil
	}
	return 0, &stepError{msg: fmt.Sprintf("arg %q must be a non-negative integer, got %v", name, v)}
}

// errorKind classifies a store failure for the trace.
func errorKind(err error) string {
	switch {
	case errors.Is(err, kv.ErrEmptyKey):
		return "empty_key"
	case ledger.IsResolutionError(err):
		return "resolution"
	case ledger.IsSubmitError(err):
		return "submit"
	case scan.IsScanError(err), ledger.IsFetchError(err):
		return "fetch"
	default:
		return "other"
	}
}
