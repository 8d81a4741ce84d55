package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chrono/internal/capsule"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	After int64
	Limit int
}

type eventView struct {
	Seq       int64             `json:"seq"`
	ID        string            `json:"id"`
	Kind      capsule.EventKind `json:"kind"`
	CapsuleID capsule.ID        `json:"capsule_id"`
	Event     capsule.Event     `json:"event"`
}

type eventsView struct {
	Events []eventView `json:"events"`
}

func (v eventsView) String() string {
	if len(v.Events) == 0 {
		return "no events"
	}
	lines := make([]string, len(v.Events))
	for i, e := range v.Events {
		switch ev := e.Event.(type) {
		case capsule.Created:
			lines[i] = fmt.Sprintf("%d %s capsule=%d from=%s to=%s unlock_block=%d",
				e.Seq, e.Kind, ev.ID, ev.From, ev.To, ev.UnlockBlock)
		case capsule.Opened:
			lines[i] = fmt.Sprintf("%d %s capsule=%d by=%s", e.Seq, e.Kind, ev.ID, ev.By)
		default:
			lines[i] = fmt.Sprintf("%d %s capsule=%d", e.Seq, e.Kind, e.CapsuleID)
		}
	}
	return strings.Join(lines, "\n")
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List emitted capsule notifications",
		Long: `List CapsuleCreated and CapsuleOpened notifications in emission order.

Use --after with the last seen seq to page through the outbox.

Examples:
  chrono events
  chrono events --after 10 --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only show events with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	records, err := sess.store.Events(commandContext(cmd), opts.After, opts.Limit)
	if err != nil {
		return sess.fail(err)
	}

	view := eventsView{Events: make([]eventView, 0, len(records))}
	for _, rec := range records {
		ev, err := rec.Open()
		if err != nil {
			return sess.fail(fmt.Errorf("event %d: %w", rec.Seq, err))
		}
		view.Events = append(view.Events, eventView{
			Seq:       rec.Seq,
			ID:        rec.ID,
			Kind:      rec.Kind,
			CapsuleID: rec.CapsuleID,
			Event:     ev,
		})
	}
	return sess.out.Success(view)
}
