package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/chrono/internal/capsule"
)

type balanceView struct {
	Account capsule.AccountID `json:"account"`
	Balance capsule.Amount    `json:"balance"`
}

func (v balanceView) String() string {
	return fmt.Sprintf("%s: %d", v.Account, v.Balance)
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <account> <amount>",
		Short: "Credit an account from outside the ledger",
		Long: `Credit an account with new value. Funding is how value enters the
ledger before it can be attached to a capsule.

Example:
  chrono fund alice 1000`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := capsule.ParseAccount(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid account", err)
			}
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid amount %q", args[1]), err)
			}

			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := commandContext(cmd)
			if err := sess.host.Fund(ctx, account, capsule.Amount(amount)); err != nil {
				return sess.fail(err)
			}
			balance, err := sess.host.Balance(ctx, account)
			if err != nil {
				return sess.fail(err)
			}
			return sess.out.Success(balanceView{Account: account, Balance: balance})
		},
	}
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "balance <account>",
		Short:         "Show an account balance",
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

			balance, err := sess.host.Balance(commandContext(cmd), account)
			if err != nil {
				return sess.fail(err)
			}
			return sess.out.Success(balanceView{Account: account, Balance: balance})
		},
	}
}

type heightView struct {
	Height capsule.BlockNumber `json:"height"`
}

func (v heightView) String() string {
	return fmt.Sprintf("block %d", v.Height)
}

// NewChainCommand creates the chain command with its height, advance and
// set subcommands.
func NewChainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect or move the block height",
		Long: `Inspect or move the block height capsules unlock against.

The height only moves forward.

Examples:
  chrono chain height
  chrono chain advance 10
  chrono chain set 500`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "height",
		Short:         "Show the current block height",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			h, err := sess.store.BlockNumber(commandContext(cmd))
			if err != nil {
				return sess.fail(err)
			}
			return sess.out.Success(heightView{Height: h})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "advance <blocks>",
		Short:         "Advance the block height",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseBlock(args[0])
			if err != nil {
				return err
			}

			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			h, err := sess.store.Advance(commandContext(cmd), n)
			if err != nil {
				return sess.fail(err)
			}
			sess.logger.Debug("advanced block height", "blocks", n, "height", h)
			return sess.out.Success(heightView{Height: h})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "set <height>",
		Short:         "Set the block height",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseBlock(args[0])
			if err != nil {
				return err
			}

			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.store.SetHeight(commandContext(cmd), h); err != nil {
				return sess.fail(err)
			}
			return sess.out.Success(heightView{Height: h})
		},
	})

	return cmd
}

func parseBlock(arg string) (capsule.BlockNumber, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid block count %q", arg), err)
	}
	return capsule.BlockNumber(n), nil
}
