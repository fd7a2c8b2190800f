package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/message"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent // the subscriber's trace, when relevant
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", ev)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the final engine state.
type AssertionContext struct {
	Engine *engine.Engine
	Labels map[string]*message.Message
	Ctx    context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertEventCount:
		return assertEventCount(result.Traces[a.Subscriber], a)
	case AssertEventOrder:
		return assertEventOrder(result.Traces[a.Subscriber], a)
	case AssertLiveCount:
		return assertLiveCount(actx, a)
	case AssertMessage:
		return assertMessage(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertEventCount checks that exactly Count events of type Event were seen.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Type == a.Event {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%d %s event(s) for %s", a.Count, a.Event, a.Subscriber),
		Actual:   fmt.Sprintf("%d", n),
		Trace:    trace,
	}
}

// assertEventOrder checks that the subscriber saw exactly Events, in order.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	got := make([]string, len(trace))
	for i, ev := range trace {
		got[i] = ev.Type
	}
	if strings.Join(got, ",") == strings.Join(a.Events, ",") {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("%v", a.Events),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    trace,
	}
}

// assertLiveCount checks the number of live records, tombstones included,
// in one of a fid's sets.
func assertLiveCount(actx *AssertionContext, a Assertion) error {
	set, err := message.ParseSetType(a.Set)
	if err != nil {
		return err
	}
	msgs, err := actx.Engine.GetMessagesBySet(actx.Ctx, message.Fid(a.Fid), set)
	if err != nil {
		return fmt.Errorf("live_count: %w", err)
	}
	if len(msgs) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertLiveCount,
		Expected: fmt.Sprintf("%d record(s) in fid %d %s set", a.Count, a.Fid, a.Set),
		Actual:   fmt.Sprintf("%d", len(msgs)),
	}
}

// assertMessage checks whether a labelled message is stored.
func assertMessage(actx *AssertionContext, a Assertion) error {
	m, ok := actx.Labels[a.Label]
	if !ok {
		return fmt.Errorf("message: unknown label %q", a.Label)
	}
	_, err := actx.Engine.GetMessage(actx.Ctx, m.Hash)
	present := err == nil
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("message: %w", err)
	}
	if present == *a.Present {
		return nil
	}
	return &AssertionError{
		Type:     AssertMessage,
		Expected: fmt.Sprintf("%s present=%t", a.Label, *a.Present),
		Actual:   fmt.Sprintf("present=%t", present),
	}
}
