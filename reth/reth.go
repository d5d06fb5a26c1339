package reth

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GetBalanceChangesInBlock returns every ETH balance changed by the block.
func (c *Client) GetBalanceChangesInBlock(ctx context.Context, block BlockID) (BalanceChanges, error) {
	var result BalanceChanges
	err := c.p.CallContext(ctx, &result, MethodGetBalanceChangesInBlock, blockIDArg(block))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBlockExecutionOutcome re-executes a block and returns its execution outcome:
// receipts, state changes and EIP-7685 requests.
//
// If count is non-nil the node re-executes count consecutive blocks starting at
// block and returns the merged outcome. A nil result means the node has no
// outcome for the request.
func (c *Client) GetBlockExecutionOutcome(ctx context.Context, block BlockID, count *uint64) (json.RawMessage, error) {
	var result *json.RawMessage
	err := c.p.CallContext(ctx, &result, MethodGetBlockExecutionOutcome, blockIDArg(block), (*hexutil.Uint64)(count))
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return *result, nil
}

// SubscribeChainNotifications subscribes to the node's chain notifications
// (commits, reorgs and reverts) as raw JSON.
func (c *PubSubClient) SubscribeChainNotifications(ctx context.Context, ch chan<- json.RawMessage) (ethereum.Subscription, error) {
	return c.ps.Subscribe(ctx, MethodSubscribeChainNotifications, ch)
}

// SubscribePersistedBlock subscribes to persisted block notifications.
//
// A notification with the block number and hash is emitted when a new block is
// persisted to disk.
func (c *PubSubClient) SubscribePersistedBlock(ctx context.Context, ch chan<- *PersistedBlock) (ethereum.Subscription, error) {
	return c.ps.Subscribe(ctx, MethodSubscribePersistedBlock, ch)
}
