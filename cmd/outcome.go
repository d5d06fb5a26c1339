package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/chinmay1088/rethx/reth"
	"github.com/spf13/cobra"
)

func newOutcomeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcome <block>",
		Short: "Re-execute a block and print its execution outcome",
		Long: `Ask the node to re-execute a block and print the resulting execution
outcome (receipts, state changes and requests) as JSON.

With --count the node re-executes that many consecutive blocks starting at
<block> and returns their merged outcome.

Examples:
  rethx outcome latest
  rethx outcome 21000000 --count 10`,
		Args: cobra.ExactArgs(1),
		RunE: a.runOutcome,
	}
	cmd.Flags().Uint64("count", 0, "Number of consecutive blocks to re-execute")
	return cmd
}

func (a *app) runOutcome(cmd *cobra.Command, args []string) error {
	block, err := reth.ParseBlockID(args[0])
	if err != nil {
		return err
	}
	var count *uint64
	if cmd.Flags().Changed("count") {
		n, _ := cmd.Flags().GetUint64("count")
		count = &n
	}

	client, closeClient, err := a.dial(cmd.Context())
	if err != nil {
		return err
	}
	defer closeClient()

	ctx, cancel := a.callContext(cmd.Context())
	defer cancel()
	outcome, err := client.GetBlockExecutionOutcome(ctx, block, count)
	if err != nil {
		return fmt.Errorf("failed to fetch execution outcome: %w", err)
	}

	out := cmd.OutOrStdout()
	if outcome == nil {
		fmt.Fprintf(out, "ℹ️  No execution outcome for block %s\n", describeBlock(block))
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, outcome, "", "  "); err != nil {
		return fmt.Errorf("failed to format execution outcome: %w", err)
	}
	fmt.Fprintln(out, buf.String())
	return nil
}
