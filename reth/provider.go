package reth

import (
	"context"
	"encoding/json"

	"github.com/chinmay1088/rethx/wsrpc"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
)

// Provider performs JSON-RPC request/response calls.
type Provider interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// PubSubProvider additionally opens subscriptions by their exact method name.
// Notifications are decoded into the element type of channel.
type PubSubProvider interface {
	Provider
	Subscribe(ctx context.Context, method string, channel any, args ...any) (ethereum.Subscription, error)
}

// API is the set of reth calls available over any transport.
type API interface {
	GetBalanceChangesInBlock(ctx context.Context, block BlockID) (BalanceChanges, error)
	GetBlockExecutionOutcome(ctx context.Context, block BlockID, count *uint64) (json.RawMessage, error)
}

// PubSubAPI adds the reth subscriptions, which need a transport with push support.
type PubSubAPI interface {
	API
	SubscribeChainNotifications(ctx context.Context, ch chan<- json.RawMessage) (ethereum.Subscription, error)
	SubscribePersistedBlock(ctx context.Context, ch chan<- *PersistedBlock) (ethereum.Subscription, error)
}

var (
	_ Provider       = (*rpc.Client)(nil)
	_ PubSubProvider = (*wsrpc.Client)(nil)

	_ API       = (*Client)(nil)
	_ PubSubAPI = (*PubSubClient)(nil)
)

// Client implements API on top of a Provider.
type Client struct {
	p     Provider
	close func()
}

// NewClient creates a client that issues its calls through p.
func NewClient(p Provider) *Client {
	return &Client{p: p}
}

// Dial connects to a node over any transport go-ethereum supports (http, ws or ipc).
func Dial(ctx context.Context, rawurl string) (*Client, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return &Client{p: c, close: c.Close}, nil
}

// Close closes the underlying connection if the client owns it.
func (c *Client) Close() {
	if c.close != nil {
		c.close()
	}
}

// PubSubClient implements PubSubAPI on top of a PubSubProvider.
type PubSubClient struct {
	*Client
	ps PubSubProvider
}

// NewPubSubClient creates a client that issues calls and subscriptions through p.
func NewPubSubClient(p PubSubProvider) *PubSubClient {
	return &PubSubClient{Client: NewClient(p), ps: p}
}

// DialPubSub opens a websocket connection to a node.
func DialPubSub(ctx context.Context, rawurl string, opts ...wsrpc.Option) (*PubSubClient, error) {
	c, err := wsrpc.Dial(ctx, rawurl, opts...)
	if err != nil {
		return nil, err
	}
	client := NewPubSubClient(c)
	client.close = c.Close
	return client, nil
}
