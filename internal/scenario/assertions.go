package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/chrono/internal/capsule"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, te := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", te.Seq, te.Op, te.Args, te.Outcome)
	}
	return buf.String()
}

// evaluateAssertions checks every assertion and returns one message per failure.
func evaluateAssertions(ctx context.Context, b *backend, assertions []Assertion, trace []TraceEvent) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, b, a, trace); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, b *backend, a Assertion, trace []TraceEvent) error {
	switch a.Type {
	case AssertCount:
		n, err := b.capsules.Count(ctx)
		if err != nil {
			return err
		}
		if uint64(n) != *a.Equals {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("count %d", *a.Equals),
				Actual:   fmt.Sprintf("count %d", n),
				Trace:    trace,
			}
		}

	case AssertBalance:
		account, err := resolveAccount(a.Account)
		if err != nil {
			return err
		}
		balance, err := b.host.Balance(ctx, account)
		if err != nil {
			return err
		}
		if uint64(balance) != *a.Equals {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s balance %d", a.Account, *a.Equals),
				Actual:   fmt.Sprintf("%s balance %d", a.Account, balance),
				Trace:    trace,
			}
		}

	case AssertPresent, AssertAbsent:
		_, ok, err := b.capsules.Get(ctx, capsule.ID(*a.ID))
		if err != nil {
			return err
		}
		if want := a.Type == AssertPresent; ok != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("capsule %d %s", *a.ID, a.Type),
				Actual:   fmt.Sprintf("capsule %d present=%t", *a.ID, ok),
				Trace:    trace,
			}
		}

	case AssertEventCount:
		var n uint64
		for _, ev := range b.recorder.Events() {
			if a.Kind == "" || string(ev.Kind()) == a.Kind {
				n++
			}
		}
		if n != *a.Equals {
			kind := a.Kind
			if kind == "" {
				kind = "any"
			}
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d %s notifications", *a.Equals, kind),
				Actual:   fmt.Sprintf("%d", n),
				Trace:    trace,
			}
		}

	case AssertEventOrder:
		kinds := b.recorder.Kinds()
		pos := 0
		for _, want := range a.Kinds {
			for pos < len(kinds) && string(kinds[pos]) != want {
				pos++
			}
			if pos == len(kinds) {
				return &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("notifications in order: %v", a.Kinds),
					Actual:   fmt.Sprintf("%v", kinds),
					Trace:    trace,
				}
			}
			pos++
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
