package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chinmay1088/rethx/metrics"
	"github.com/chinmay1088/rethx/reth"
	"github.com/chinmay1088/rethx/wsrpc"
	"github.com/ethereum/go-ethereum/rpc"
)

// dial connects to the request/response endpoint, falling back to the
// websocket endpoint when no HTTP URL is configured.
func (a *app) dial(ctx context.Context) (*reth.Client, func(), error) {
	url := a.cfg.HTTPURL
	if url == "" {
		url = a.cfg.WSURL
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	slog.Debug("Connecting to node", "url", url)
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return reth.NewClient(metrics.Instrument(c, a.metrics)), c.Close, nil
}

// dialPubSub opens the websocket connection used for subscriptions.
func (a *app) dialPubSub(ctx context.Context) (*reth.PubSubClient, func(), error) {
	if a.cfg.WSURL == "" {
		return nil, nil, errors.New("no websocket endpoint configured. Run 'rethx endpoint ws <url>' first")
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	slog.Debug("Connecting to node", "url", a.cfg.WSURL)
	c, err := wsrpc.Dial(ctx, a.cfg.WSURL, wsrpc.WithLogger(slog.Default()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", a.cfg.WSURL, err)
	}
	return reth.NewPubSubClient(metrics.InstrumentPubSub(c, a.metrics)), c.Close, nil
}

// callContext bounds a single call by the configured timeout.
func (a *app) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.Timeout)
}
