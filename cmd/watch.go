package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chinmay1088/rethx/config"
	"github.com/chinmay1088/rethx/metrics"
	"github.com/chinmay1088/rethx/reth"
	"github.com/chinmay1088/rethx/sink"
	"github.com/ethereum/go-ethereum"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Notification streams
const (
	StreamChain     = "chain"
	StreamPersisted = "persisted"
)

// Sink kinds
const (
	SinkStdout = "stdout"
	SinkRedis  = "redis"
)

const metricsNamespace = "rethx"

var errInvalidPersistedBlock = errors.New("invalid persisted block notification: null payload")

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch chain|persisted",
		Short: "Follow chain or persisted block notifications",
		Long: `Subscribe over websocket and forward every notification to a sink until
interrupted or until the subscription fails.

Streams:
  chain        Chain notifications (commits, reorgs and reverts) as raw JSON
  persisted    Number and hash of every block persisted to disk

Sinks:
  stdout       One JSON object per line (default)
  redis        Appended to the configured redis stream

Examples:
  rethx watch persisted
  rethx watch chain --sink redis --metrics-addr :9100
  rethx watch persisted --limit 10`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{StreamChain, StreamPersisted},
		RunE:      a.runWatch,
	}
	cmd.Flags().String("sink", SinkStdout, "Where notifications go: stdout or redis")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Int("limit", 0, "Stop after this many notifications (0 means no limit)")
	_ = a.v.BindPFlag(config.KeyMetricsAddr, cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, args []string) error {
	stream := strings.ToLower(args[0])
	if stream != StreamChain && stream != StreamPersisted {
		return fmt.Errorf("invalid stream: %s. Use 'chain' or 'persisted'", stream)
	}
	sinkKind, _ := cmd.Flags().GetString("sink")
	limit, _ := cmd.Flags().GetInt("limit")
	metricsAddr := a.v.GetString(config.KeyMetricsAddr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		a.metrics = metrics.NewRPCMetrics(reg, metricsNamespace)
		srv, err := metrics.StartServer(ctx, metricsAddr, reg)
		if err != nil {
			return err
		}
		defer srv.Wait()
		defer stop()
	}

	s, err := newSink(ctx, sinkKind, a.cfg.Redis, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("Failed to close sink", "error", err)
		}
	}()

	client, closeClient, err := a.dialPubSub(ctx)
	if err != nil {
		return err
	}
	defer closeClient()

	slog.Info("Watching notifications", "stream", stream, "sink", sinkKind, "url", a.cfg.WSURL)
	switch stream {
	case StreamChain:
		ch := make(chan json.RawMessage)
		sub, err := client.SubscribeChainNotifications(ctx, ch)
		if err != nil {
			return fmt.Errorf("failed to subscribe to chain notifications: %w", err)
		}
		return forward(ctx, sub, ch, limit, s.PushChainNotification)
	default:
		ch := make(chan *reth.PersistedBlock)
		sub, err := client.SubscribePersistedBlock(ctx, ch)
		if err != nil {
			return fmt.Errorf("failed to subscribe to persisted blocks: %w", err)
		}
		return forward(ctx, sub, ch, limit, func(ctx context.Context, block *reth.PersistedBlock) error {
			// A null payload decodes to a nil block.
			if block == nil {
				return errInvalidPersistedBlock
			}
			slog.Debug("Block persisted", "number", block.Number, "hash", block.Hash)
			return s.PushPersistedBlock(ctx, block)
		})
	}
}

func newSink(ctx context.Context, kind string, cfg config.RedisConfig, w io.Writer) (sink.Sink, error) {
	switch strings.ToLower(kind) {
	case SinkStdout:
		return sink.NewJSONLines(w), nil
	case SinkRedis:
		return sink.NewRedisStreams(ctx, cfg)
	}
	return nil, fmt.Errorf("invalid sink: %s. Use 'stdout' or 'redis'", kind)
}

// forward pushes notifications from ch until ctx is done, the subscription
// ends or limit notifications have been pushed.
func forward[T any](ctx context.Context, sub ethereum.Subscription, ch <-chan T, limit int, push func(context.Context, T) error) error {
	defer sub.Unsubscribe()

	for n := 0; limit <= 0 || n < limit; n++ {
		select {
		case <-ctx.Done():
			slog.Info("Watch stopped")
			return nil
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errors.New("subscription closed by the node")
			}
			return fmt.Errorf("subscription failed: %w", err)
		case v := <-ch:
			if err := push(ctx, v); err != nil {
				return err
			}
		}
	}
	return nil
}
