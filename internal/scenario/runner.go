package scenario

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/chrono/internal/capsule"
	"github.com/roach88/chrono/internal/ledger"
)

// Run executes a scenario against a fresh backend and returns the result.
//
// Step outcomes that differ from their expect clause and failed
// assertions are reported in the result. An error is returned only when
// the scenario cannot be executed at all.
func Run(s *Scenario) (*Result, error) {
	ctx := context.Background()

	names, err := collectNames(s)
	if err != nil {
		return nil, fmt.Errorf("resolve accounts: %w", err)
	}

	b, err := newBackend(ctx, s)
	if err != nil {
		return nil, err
	}
	defer b.close()

	result := NewResult()
	for i, st := range s.Steps {
		te, err := runStep(ctx, b, names, i, st)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, st.Op, err)
		}
		result.Trace = append(result.Trace, te)
		for _, msg := range checkExpect(i, st, te) {
			result.AddError(msg)
		}
	}

	for _, msg := range evaluateAssertions(ctx, b, s.Assertions, result.Trace) {
		result.AddError(msg)
	}
	return result, nil
}

func runStep(ctx context.Context, b *backend, names accountNames, index int, st Step) (TraceEvent, error) {
	if st.RejectTransfers != nil {
		b.host.RejectTransfers(*st.RejectTransfers)
	}
	if st.At != nil {
		if err := b.setHeight(ctx, capsule.BlockNumber(*st.At)); err != nil {
			return TraceEvent{}, err
		}
	}
	height, err := b.height(ctx)
	if err != nil {
		return TraceEvent{}, err
	}

	te := TraceEvent{
		Seq:   int64(index + 1),
		Op:    st.Op,
		Block: uint32(height),
		Value: st.Value,
	}

	var caller capsule.AccountID
	if st.Caller != "" {
		caller, err = resolveAccount(st.Caller)
		if err != nil {
			return TraceEvent{}, err
		}
		te.Caller = names.name(caller)
	}

	before := len(b.recorder.Events())

	var opErr error
	switch st.Op {
	case OpCreate:
		recipient, err := resolveAccount(st.Args.Recipient)
		if err != nil {
			return TraceEvent{}, err
		}
		te.Args = map[string]any{
			"recipient": names.name(recipient),
			"message":   st.Args.Message,
			"duration":  st.Args.Duration,
		}
		var id capsule.ID
		opErr = b.host.Call(ctx, caller, capsule.Amount(st.Value), func(ctx context.Context, env capsule.Env) error {
			var err error
			id, err = b.capsules.Create(ctx, env, recipient, []byte(st.Args.Message), capsule.BlockNumber(st.Args.Duration))
			return err
		})
		te.Result = map[string]any{"id": uint64(id)}

	case OpOpen:
		te.Args = map[string]any{"id": st.Args.ID}
		opErr = b.host.Call(ctx, caller, 0, func(ctx context.Context, env capsule.Env) error {
			return b.capsules.Open(ctx, env, capsule.ID(st.Args.ID))
		})

	case OpGet:
		te.Args = map[string]any{"id": st.Args.ID}
		var (
			c  capsule.Capsule
			ok bool
		)
		c, ok, opErr = b.capsules.Get(ctx, capsule.ID(st.Args.ID))
		te.Result = capsuleResult(names, c, ok)

	case OpCount:
		var n capsule.ID
		n, opErr = b.capsules.Count(ctx)
		te.Result = map[string]any{"count": uint64(n)}

	case OpList:
		account, err := resolveAccount(st.Args.Account)
		if err != nil {
			return TraceEvent{}, err
		}
		te.Args = map[string]any{"account": names.name(account)}
		var entries []capsule.Entry
		entries, opErr = b.capsules.List(ctx, account)
		ids := make([]any, len(entries))
		for i, e := range entries {
			ids[i] = uint64(e.ID)
		}
		te.Result = map[string]any{"ids": ids}

	case OpAdvance:
		te.Args = map[string]any{"blocks": st.Args.Blocks}
		var h capsule.BlockNumber
		h, opErr = b.advance(ctx, capsule.BlockNumber(st.Args.Blocks))
		te.Result = map[string]any{"height": uint32(h)}

	default:
		return TraceEvent{}, fmt.Errorf("unknown op %q", st.Op)
	}

	te.Outcome, err = outcomeOf(opErr)
	if err != nil {
		return TraceEvent{}, err
	}
	if te.Outcome != OutcomeOK {
		te.Result = nil
	}

	for _, ev := range b.recorder.Events()[before:] {
		te.Events = append(te.Events, renderEvent(names, ev))
	}
	return te, nil
}

// outcomeOf classifies an operation error. Errors that are neither capsule
// nor ledger errors mean the backend failed and are returned as is.
func outcomeOf(err error) (string, error) {
	if err == nil {
		return OutcomeOK, nil
	}
	if code := capsule.CodeOf(err); code != "" {
		return string(code), nil
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "InsufficientFunds", nil
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return "BalanceOverflow", nil
	case errors.Is(err, ledger.ErrEscrowCaller):
		return "EscrowCaller", nil
	case errors.Is(err, ledger.ErrSelfTransfer):
		return "SelfTransfer", nil
	case errors.Is(err, ledger.ErrHeightOverflow):
		return "HeightOverflow", nil
	}
	return "", err
}

func capsuleResult(names accountNames, c capsule.Capsule, ok bool) map[string]any {
	if !ok {
		return map[string]any{"found": false}
	}
	return map[string]any{
		"found":        true,
		"creator":      names.name(c.Creator),
		"recipient":    names.name(c.Recipient),
		"message":      string(c.Message),
		"unlock_block": uint32(c.UnlockBlock),
		"value_locked": uint64(c.ValueLocked),
	}
}

func renderEvent(names accountNames, ev capsule.Event) map[string]any {
	m := map[string]any{
		"kind": string(ev.Kind()),
		"id":   uint64(ev.Capsule()),
	}
	switch e := ev.(type) {
	case capsule.Created:
		m["from"] = names.name(e.From)
		m["to"] = names.name(e.To)
		m["unlock_block"] = uint32(e.UnlockBlock)
	case capsule.Opened:
		m["by"] = names.name(e.By)
	}
	return m
}

// checkExpect compares a step's trace entry with its expect clause.
func checkExpect(index int, st Step, te TraceEvent) []string {
	prefix := fmt.Sprintf("steps[%d] (%s)", index, st.Op)

	want := st.Expect
	if want == nil {
		want = &Expect{}
	}
	wantOutcome := OutcomeOK
	if want.Error != "" {
		wantOutcome = want.Error
	}
	if te.Outcome != wantOutcome {
		return []string{fmt.Sprintf("%s: outcome %s, expected %s", prefix, te.Outcome, wantOutcome)}
	}
	if te.Outcome != OutcomeOK {
		return nil
	}

	var errs []string
	check := func(field string, expected any) {
		got := te.Result[field]
		if !reflect.DeepEqual(got, expected) {
			errs = append(errs, fmt.Sprintf("%s: %s = %v, expected %v", prefix, field, got, expected))
		}
	}
	if want.ID != nil {
		check("id", *want.ID)
	}
	if want.Count != nil {
		check("count", *want.Count)
	}
	if want.Found != nil {
		check("found", *want.Found)
	}
	if want.Message != nil {
		check("message", *want.Message)
	}
	if want.UnlockBlock != nil {
		check("unlock_block", *want.UnlockBlock)
	}
	if want.ValueLocked != nil {
		check("value_locked", *want.ValueLocked)
	}
	if want.IDs != nil {
		ids := make([]any, len(want.IDs))
		for i, id := range want.IDs {
			ids[i] = id
		}
		check("ids", ids)
	}
	if want.Height != nil {
		check("height", *want.Height)
	}
	return errs
}
