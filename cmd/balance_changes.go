package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chinmay1088/rethx/reth"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newBalanceChangesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "balance-changes <block>",
		Aliases: []string{"balances"},
		Short:   "Show the ETH balances changed by a block",
		Long: `Show every account whose ETH balance was changed by a block, with the
value reported by the node in wei and in ETH.

The block is a decimal height, a 0x quantity, a block hash or one of
latest, earliest, pending, safe and finalized.

Examples:
  rethx balance-changes latest        # Latest block
  rethx balance-changes 21000000      # Block by height
  rethx balance-changes 0xabc... --json`,
		Args: cobra.ExactArgs(1),
		RunE: a.runBalanceChanges,
	}
	cmd.Flags().Bool("json", false, "Print the changes as JSON")
	return cmd
}

func (a *app) runBalanceChanges(cmd *cobra.Command, args []string) error {
	block, err := reth.ParseBlockID(args[0])
	if err != nil {
		return err
	}
	jsonFlag, _ := cmd.Flags().GetBool("json")

	client, closeClient, err := a.dial(cmd.Context())
	if err != nil {
		return err
	}
	defer closeClient()

	ctx, cancel := a.callContext(cmd.Context())
	defer cancel()
	changes, err := client.GetBalanceChangesInBlock(ctx, block)
	if err != nil {
		return fmt.Errorf("failed to fetch balance changes: %w", err)
	}
	slog.Debug("Fetched balance changes", "block", describeBlock(block), "accounts", len(changes))

	out := cmd.OutOrStdout()
	if jsonFlag {
		data, err := json.MarshalIndent(changes, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode balance changes: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "💰 Balance changes in block %s\n", describeBlock(block))
	if len(changes) == 0 {
		fmt.Fprintln(out, "   No balance changes")
		return nil
	}
	fmt.Fprintf(out, "📊 Accounts: %d\n", len(changes))
	fmt.Fprintln(out)
	for _, addr := range sortedAddresses(changes) {
		value := changes[addr]
		fmt.Fprintf(out, "🔷 %s\n", addr.Hex())
		fmt.Fprintf(out, "   %s (%s)\n", color.GreenString(formatEther(value)), formatWei(value))
	}
	return nil
}
