package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chinmay1088/rethx/config"
	"github.com/chinmay1088/rethx/reth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/holiman/uint256"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <from> <to>",
		Short: "Summarize balance changes over a block range",
		Long: `Fetch the balance changes of every block in the inclusive range <from>..<to>
and print, per account, how many blocks changed its balance and the value
reported by the highest of them.

Blocks are fetched concurrently. The scan stops at the first failed call.

Examples:
  rethx scan 21000000 21000099
  rethx scan 0x1406f40 0x1406fa3 --concurrency 16`,
		Args: cobra.ExactArgs(2),
		RunE: a.runScan,
	}
	cmd.Flags().Int("concurrency", 0, "Number of blocks fetched at once (default 8)")
	_ = a.v.BindPFlag(config.KeyScanConcurrency, cmd.Flags().Lookup("concurrency"))
	return cmd
}

type accountSummary struct {
	Blocks    int
	LastBlock uint64
	Value     *uint256.Int
}

type scanResult struct {
	mu       sync.Mutex
	accounts map[common.Address]*accountSummary
}

func (r *scanResult) add(height uint64, changes reth.BalanceChanges) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, value := range changes {
		s, ok := r.accounts[addr]
		if !ok {
			s = &accountSummary{}
			r.accounts[addr] = s
		}
		s.Blocks++
		if s.Value == nil || height >= s.LastBlock {
			s.LastBlock = height
			s.Value = value
		}
	}
}

func (a *app) runScan(cmd *cobra.Command, args []string) error {
	from, err := parseHeight(args[0])
	if err != nil {
		return err
	}
	to, err := parseHeight(args[1])
	if err != nil {
		return err
	}
	if to < from {
		return fmt.Errorf("invalid range: %d is below %d", to, from)
	}
	// Both ends are at most math.MaxInt64, so the block count fits an int64.
	blocks := int64(to-from) + 1

	client, closeClient, err := a.dial(cmd.Context())
	if err != nil {
		return err
	}
	defer closeClient()

	slog.Info("Scanning balance changes", "range", fmt.Sprintf("[%d, %d]", from, to), "concurrency", a.cfg.Scan.Concurrency)
	bar := progressbar.NewOptions64(
		blocks,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("Scanning blocks..."),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	result := &scanResult{accounts: make(map[common.Address]*accountSummary)}
	if err := a.scanBlocks(cmd.Context(), client, from, to, result, bar); err != nil {
		return err
	}
	if err := bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📊 Balance changes in blocks %d..%d\n", from, to)
	fmt.Fprintf(out, "   Blocks: %d\n", blocks)
	fmt.Fprintf(out, "   Accounts: %d\n", len(result.accounts))
	fmt.Fprintln(out)
	for _, addr := range sortedAddresses(result.accounts) {
		s := result.accounts[addr]
		fmt.Fprintf(out, "🔷 %s\n", addr.Hex())
		fmt.Fprintf(out, "   Changed in %d block(s), last in block %d: %s (%s)\n",
			s.Blocks, s.LastBlock, color.GreenString(formatEther(s.Value)), formatWei(s.Value))
	}
	return nil
}

func (a *app) scanBlocks(ctx context.Context, client reth.API, from, to uint64, result *scanResult, bar *progressbar.ProgressBar) error {
	eg, egCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, a.cfg.Scan.Concurrency)

	for height := from; ; height++ {
		if egCtx.Err() != nil {
			break
		}

		blockHeight := height
		sem <- struct{}{}

		eg.Go(func() error {
			defer func() { <-sem }()

			block, err := reth.BlockNumber(blockHeight)
			if err != nil {
				return err
			}
			callCtx, cancel := a.callContext(egCtx)
			defer cancel()
			changes, err := client.GetBalanceChangesInBlock(callCtx, block)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Error("Failed to fetch balance changes", "height", blockHeight, "error", err)
				}
				return fmt.Errorf("failed to fetch balance changes of block %d: %w", blockHeight, err)
			}
			result.add(blockHeight, changes)

			if err := bar.Add(1); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
			return nil
		})

		if height == to {
			break
		}
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
