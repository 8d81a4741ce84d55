package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chrono/internal/capsule"
)

// capsuleView is the output form of a capsule.
type capsuleView struct {
	ID          capsule.ID          `json:"id"`
	Creator     capsule.AccountID   `json:"creator"`
	Recipient   capsule.AccountID   `json:"recipient"`
	Message     string              `json:"message"`
	UnlockBlock capsule.BlockNumber `json:"unlock_block"`
	ValueLocked capsule.Amount      `json:"value_locked"`
	Unlocked    bool                `json:"unlocked"`
}

func newCapsuleView(id capsule.ID, c capsule.Capsule, height capsule.BlockNumber) capsuleView {
	return capsuleView{
		ID:          id,
		Creator:     c.Creator,
		Recipient:   c.Recipient,
		Message:     string(c.Message),
		UnlockBlock: c.UnlockBlock,
		ValueLocked: c.ValueLocked,
		Unlocked:    c.Unlocked(height),
	}
}

func (v capsuleView) String() string {
	state := "locked"
	if v.Unlocked {
		state = "unlocked"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "capsule %d (%s)\n", v.ID, state)
	fmt.Fprintf(&b, "  creator:      %s\n", v.Creator)
	fmt.Fprintf(&b, "  recipient:    %s\n", v.Recipient)
	fmt.Fprintf(&b, "  unlock block: %d\n", v.UnlockBlock)
	fmt.Fprintf(&b, "  value locked: %d\n", v.ValueLocked)
	fmt.Fprintf(&b, "  message:      %q", v.Message)
	return b.String()
}

// commandContext returns the command's context, or Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func parseID(arg string) (capsule.ID, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid capsule id %q", arg), err)
	}
	return capsule.ID(n), nil
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	As          string
	To          string
	Message     string
	MessageFile string
	Value       uint64
	Duration    uint32
}

type createdView struct {
	ID          capsule.ID          `json:"id"`
	UnlockBlock capsule.BlockNumber `json:"unlock_block"`
	ValueLocked capsule.Amount      `json:"value_locked"`
}

func (v createdView) String() string {
	return fmt.Sprintf("capsule %d created, unlocks at block %d with %d locked", v.ID, v.UnlockBlock, v.ValueLocked)
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Lock a message and value for a recipient",
		Long: `Lock a message and attached value for a recipient until the current
block plus --duration.

The attached value is debited from the caller into escrow and released
to the recipient when the capsule is opened.

Example:
  chrono create --as alice --to bob --message "Hello Bob!" --duration 10 --value 500`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "caller account (name or 0x hex)")
	cmd.Flags().StringVar(&opts.To, "to", "", "recipient account (name or 0x hex)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "message to lock")
	cmd.Flags().StringVar(&opts.MessageFile, "message-file", "", "read the message from a file")
	cmd.Flags().Uint64Var(&opts.Value, "value", 0, "value to lock")
	cmd.Flags().Uint32Var(&opts.Duration, "duration", 0, "blocks until the capsule unlocks")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	caller, err := parseAccountFlag("as", opts.As)
	if err != nil {
		return err
	}
	recipient, err := parseAccountFlag("to", opts.To)
	if err != nil {
		return err
	}
	message := []byte(opts.Message)
	if opts.MessageFile != "" {
		if opts.Message != "" {
			return NewExitError(ExitCommandError, "--message and --message-file are mutually exclusive")
		}
		message, err = os.ReadFile(opts.MessageFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read message file", err)
		}
	}

	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := commandContext(cmd)
	var id capsule.ID
	err = sess.host.Call(ctx, caller, capsule.Amount(opts.Value), func(ctx context.Context, env capsule.Env) error {
		var err error
		id, err = sess.capsules.Create(ctx, env, recipient, message, capsule.BlockNumber(opts.Duration))
		return err
	})
	if err != nil {
		return sess.fail(err)
	}

	// Report what was stored rather than recomputing it.
	c, ok, err := sess.capsules.Get(ctx, id)
	if err != nil {
		return sess.fail(err)
	}
	if !ok {
		return sess.fail(fmt.Errorf("capsule %d missing after create", id))
	}
	return sess.out.Success(createdView{ID: id, UnlockBlock: c.UnlockBlock, ValueLocked: c.ValueLocked})
}

// OpenOptions holds flags for the open command.
type OpenOptions struct {
	*RootOptions
	As string
}

type openedView struct {
	ID       capsule.ID        `json:"id"`
	By       capsule.AccountID `json:"by"`
	Released capsule.Amount    `json:"released"`
	Message  string            `json:"message"`
}

func (v openedView) String() string {
	return fmt.Sprintf("capsule %d opened, %d released\n  message: %q", v.ID, v.Released, v.Message)
}

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "open <id>",
		Short: "Open an unlocked capsule",
		Long: `Open an unlocked capsule as its recipient. The locked value is released
to the recipient and the capsule is deleted.

Example:
  chrono open 0 --as bob`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "caller account (name or 0x hex)")

	return cmd
}

func runOpen(opts *OpenOptions, arg string, cmd *cobra.Command) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	caller, err := parseAccountFlag("as", opts.As)
	if err != nil {
		return err
	}

	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := commandContext(cmd)
	var opened capsule.Capsule
	err = sess.host.Call(ctx, caller, 0, func(ctx context.Context, env capsule.Env) error {
		c, ok, err := sess.capsules.Get(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			opened = c
		}
		return sess.capsules.Open(ctx, env, id)
	})
	if err != nil {
		return sess.fail(err)
	}

	return sess.out.Success(openedView{
		ID:       id,
		By:       caller,
		Released: opened.ValueLocked,
		Message:  string(opened.Message),
	})
}

type notFoundView struct {
	ID    capsule.ID `json:"id"`
	Found bool       `json:"found"`
}

func (v notFoundView) String() string {
	return fmt.Sprintf("capsule %d not found", v.ID)
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "get <id>",
		Short:         "Show a capsule",
		Long:          "Show a capsule that has not been opened yet. Opened and unknown capsules are reported as not found.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runGet(opts *RootOptions, arg string, cmd *cobra.Command) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}

	sess, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := commandContext(cmd)
	c, ok, err := sess.capsules.Get(ctx, id)
	if err != nil {
		return sess.fail(err)
	}
	if !ok {
		return sess.out.Success(notFoundView{ID: id})
	}
	height, err := sess.store.BlockNumber(ctx)
	if err != nil {
		return sess.fail(err)
	}
	return sess.out.Success(newCapsuleView(id, c, height))
}

type countView struct {
	Count capsule.ID `json:"count"`
}

func (v countView) String() string {
	return strconv.FormatUint(uint64(v.Count), 10)
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count",
		Short:         "Show how many capsules were ever created",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			n, err := sess.capsules.Count(commandContext(cmd))
			if err != nil {
				return sess.fail(err)
			}
			return sess.out.Success(countView{Count: n})
		},
	}
}

type listView struct {
	Account  capsule.AccountID `json:"account"`
	Capsules []capsuleView     `json:"capsules"`
}

func (v listView) String() string {
	if len(v.Capsules) == 0 {
		return fmt.Sprintf("no capsules for %s", v.Account)
	}
	parts := make([]string, len(v.Capsules))
	for i, c := range v.Capsules {
		parts[i] = c.String()
	}
	return strings.Join(parts, "\n")
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <account>",
		Short: "List live capsules created by or addressed to an account",
		Example: `  chrono list alice
  chrono list 0x5f2c...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := capsule.ParseAccount(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid account", err)
			}

			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := commandContext(cmd)
			entries, err := sess.capsules.List(ctx, account)
			if err != nil {
				return sess.fail(err)
			}
			height, err := sess.store.BlockNumber(ctx)
			if err != nil {
				return sess.fail(err)
			}

			view := listView{Account: account, Capsules: []capsuleView{}}
			for _, e := range entries {
				view.Capsules = append(view.Capsules, newCapsuleView(e.ID, e.Capsule, height))
			}
			return sess.out.Success(view)
		},
	}
}
