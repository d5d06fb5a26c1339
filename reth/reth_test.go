package reth_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/chinmay1088/rethx/internal/testnode"
	"github.com/chinmay1088/rethx/reth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	addr1 = common.HexToAddress("0x1000000000000000000000000000000000000001")
	addr2 = common.HexToAddress("0x2000000000000000000000000000000000000002")
	hash1 = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	hash2 = common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func dialHTTP(t *testing.T, node *testnode.Node) *reth.Client {
	t.Helper()
	client, err := reth.Dial(testContext(t), node.URL())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func dialWS(t *testing.T, node *testnode.Node) *reth.PubSubClient {
	t.Helper()
	client, err := reth.DialPubSub(testContext(t), node.WSURL())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func blockNumber(t *testing.T, n uint64) reth.BlockID {
	t.Helper()
	id, err := reth.BlockNumber(n)
	require.NoError(t, err)
	return id
}

func requireParams(t *testing.T, req testnode.Request, want ...string) {
	t.Helper()
	require.Len(t, req.Params, len(want))
	for i, w := range want {
		require.JSONEq(t, w, string(req.Params[i]), "param %d", i)
	}
}

func TestGetBalanceChangesInBlock(t *testing.T) {
	node := testnode.New(t)
	node.HandleResult(reth.MethodGetBalanceChangesInBlock, `{
		"0x1000000000000000000000000000000000000001": "0x64",
		"0x2000000000000000000000000000000000000002": "0x0"
	}`)
	client := dialHTTP(t, node)

	changes, err := client.GetBalanceChangesInBlock(testContext(t), blockNumber(t, 100))
	require.NoError(t, err)
	require.Equal(t, reth.BalanceChanges{
		addr1: uint256.NewInt(100),
		addr2: uint256.NewInt(0),
	}, changes)

	reqs := node.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, reth.MethodGetBalanceChangesInBlock, reqs[0].Method)
	requireParams(t, reqs[0], `"0x64"`)
}

func TestGetBalanceChangesInBlockNoCaching(t *testing.T) {
	node := testnode.New(t)
	node.HandleResult(reth.MethodGetBalanceChangesInBlock, `{}`)
	client := dialHTTP(t, node)

	for range 3 {
		changes, err := client.GetBalanceChangesInBlock(testContext(t), reth.LatestBlock())
		require.NoError(t, err)
		require.Empty(t, changes)
	}
	require.Len(t, node.RequestsFor(reth.MethodGetBalanceChangesInBlock), 3)
}

func TestBlockIDEncoding(t *testing.T) {
	tests := map[string]struct {
		id   reth.BlockID
		want string
	}{
		"number": {
			id:   blockNumber(t, 100),
			want: `"0x64"`,
		},
		"genesis": {
			id:   blockNumber(t, 0),
			want: `"0x0"`,
		},
		"latest": {
			id:   reth.LatestBlock(),
			want: `"latest"`,
		},
		"finalized": {
			id:   rpc.BlockNumberOrHashWithNumber(rpc.FinalizedBlockNumber),
			want: `"finalized"`,
		},
		"hash": {
			id:   reth.BlockHash(hash1, false),
			want: `"` + hash1.Hex() + `"`,
		},
		"canonical hash": {
			id:   reth.BlockHash(hash1, true),
			want: `{"blockHash":"` + hash1.Hex() + `","requireCanonical":true}`,
		},
		"zero value": {
			id:   reth.BlockID{},
			want: `"latest"`,
		},
	}

	for description, test := range tests {
		t.Run(description, func(t *testing.T) {
			node := testnode.New(t)
			node.HandleResult(reth.MethodGetBalanceChangesInBlock, `{}`)
			client := dialHTTP(t, node)

			_, err := client.GetBalanceChangesInBlock(testContext(t), test.id)
			require.NoError(t, err)

			reqs := node.Requests()
			require.Len(t, reqs, 1)
			requireParams(t, reqs[0], test.want)
		})
	}
}

func TestBlockNumberOutOfRange(t *testing.T) {
	for _, n := range []uint64{math.MaxInt64 + 1, math.MaxUint64 - 1, math.MaxUint64} {
		_, err := reth.BlockNumber(n)
		require.ErrorIs(t, err, reth.ErrBlockNumberRange, "height %d", n)

		_, err = reth.ParseBlockID(strconv.FormatUint(n, 10))
		require.ErrorIs(t, err, reth.ErrBlockNumberRange, "height %d", n)

		_, err = reth.ParseBlockID("0x" + strconv.FormatUint(n, 16))
		require.Error(t, err, "height %d", n)
	}

	id := blockNumber(t, math.MaxInt64)
	number, ok := id.Number()
	require.True(t, ok)
	require.Equal(t, rpc.BlockNumber(math.MaxInt64), number)
}

func TestGetBlockExecutionOutcome(t *testing.T) {
	three := uint64(3)
	tests := map[string]struct {
		count      *uint64
		result     string
		wantParams []string
		want       string
	}{
		"no count, no outcome": {
			result:     `null`,
			wantParams: []string{`"0x64"`, `null`},
		},
		"count of three, merged outcome": {
			count:      &three,
			result:     `{"receipts":[[],[],[]],"bundle":{"state":{}},"firstBlock":100,"requests":[]}`,
			wantParams: []string{`"0x64"`, `"0x3"`},
			want:       `{"receipts":[[],[],[]],"bundle":{"state":{}},"firstBlock":100,"requests":[]}`,
		},
	}

	for description, test := range tests {
		t.Run(description, func(t *testing.T) {
			node := testnode.New(t)
			node.HandleResult(reth.MethodGetBlockExecutionOutcome, test.result)
			client := dialHTTP(t, node)

			outcome, err := client.GetBlockExecutionOutcome(testContext(t), blockNumber(t, 100), test.count)
			require.NoError(t, err)
			if test.want == "" {
				require.Nil(t, outcome)
			} else {
				require.JSONEq(t, test.want, string(outcome))
			}

			reqs := node.Requests()
			require.Len(t, reqs, 1)
			require.Equal(t, reth.MethodGetBlockExecutionOutcome, reqs[0].Method)
			requireParams(t, reqs[0], test.wantParams...)
		})
	}
}

func TestRemoteErrorsAreReturnedUnmodified(t *testing.T) {
	for _, method := range []string{reth.MethodGetBalanceChangesInBlock, reth.MethodGetBlockExecutionOutcome} {
		t.Run(method, func(t *testing.T) {
			node := testnode.New(t)
			node.Handle(method, func([]json.RawMessage) (any, *testnode.Error) {
				return nil, &testnode.Error{Code: -32001, Message: "block not found"}
			})
			client := dialHTTP(t, node)

			var err error
			if method == reth.MethodGetBalanceChangesInBlock {
				_, err = client.GetBalanceChangesInBlock(testContext(t), blockNumber(t, 7))
			} else {
				_, err = client.GetBlockExecutionOutcome(testContext(t), blockNumber(t, 7), nil)
			}
			require.Error(t, err)
			require.Equal(t, "block not found", err.Error())

			var rpcErr rpc.Error
			require.True(t, errors.As(err, &rpcErr))
			require.Equal(t, -32001, rpcErr.ErrorCode())

			require.Len(t, node.RequestsFor(method), 1, "failed calls must not be retried")
		})
	}
}

func TestMalformedResponse(t *testing.T) {
	node := testnode.New(t)
	node.HandleResult(reth.MethodGetBalanceChangesInBlock, `{"not-an-address":"0x1"}`)
	client := dialHTTP(t, node)

	_, err := client.GetBalanceChangesInBlock(testContext(t), blockNumber(t, 1))
	require.Error(t, err)
	require.Len(t, node.Requests(), 1)
}

func TestHTTPClientHasNoSubscriptions(t *testing.T) {
	node := testnode.New(t)
	client := dialHTTP(t, node)

	var api any = client
	_, ok := api.(reth.PubSubAPI)
	require.False(t, ok)
	_, ok = api.(reth.API)
	require.True(t, ok)
}

func TestCallsOverWebsocket(t *testing.T) {
	node := testnode.New(t)
	node.HandleResult(reth.MethodGetBalanceChangesInBlock, `{"0x1000000000000000000000000000000000000001":"0xde0b6b3a7640000"}`)
	node.HandleResult(reth.MethodGetBlockExecutionOutcome, `null`)
	client := dialWS(t, node)

	changes, err := client.GetBalanceChangesInBlock(testContext(t), blockNumber(t, 5))
	require.NoError(t, err)
	want, err := uint256.FromHex("0xde0b6b3a7640000")
	require.NoError(t, err)
	require.Equal(t, reth.BalanceChanges{addr1: want}, changes)

	outcome, err := client.GetBlockExecutionOutcome(testContext(t), blockNumber(t, 5), nil)
	require.NoError(t, err)
	require.Nil(t, outcome)

	requireParams(t, node.RequestsFor(reth.MethodGetBlockExecutionOutcome)[0], `"0x5"`, `null`)
}

func TestSubscribePersistedBlock(t *testing.T) {
	node := testnode.New(t)
	node.HandleSubscription(reth.MethodSubscribePersistedBlock)
	client := dialWS(t, node)

	ch := make(chan *reth.PersistedBlock)
	sub, err := client.SubscribePersistedBlock(testContext(t), ch)
	require.NoError(t, err)

	reqs := node.RequestsFor(reth.MethodSubscribePersistedBlock)
	require.Len(t, reqs, 1)
	require.Empty(t, reqs[0].Params)

	node.Notify(reth.MethodSubscribePersistedBlock, map[string]any{"number": 101, "hash": hash1})
	node.Notify(reth.MethodSubscribePersistedBlock, map[string]any{"number": "0x66", "hash": hash2})

	for _, want := range []reth.PersistedBlock{{Number: 101, Hash: hash1}, {Number: 102, Hash: hash2}} {
		select {
		case got := <-ch:
			require.Equal(t, want, *got)
		case err := <-sub.Err():
			t.Fatalf("subscription failed: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for notification")
		}
	}

	sub.Unsubscribe()
	require.Eventually(t, func() bool {
		return node.ActiveSubscriptions(reth.MethodSubscribePersistedBlock) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, node.RequestsFor("reth_unsubscribePersistedBlock"), 1)

	_, open := <-sub.Err()
	require.False(t, open)
}

func TestSubscribeChainNotifications(t *testing.T) {
	node := testnode.New(t)
	node.HandleSubscription(reth.MethodSubscribeChainNotifications)
	client := dialWS(t, node)

	ch := make(chan json.RawMessage, 8)
	sub, err := client.SubscribeChainNotifications(testContext(t), ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reqs := node.RequestsFor(reth.MethodSubscribeChainNotifications)
	require.Len(t, reqs, 1)
	require.Empty(t, reqs[0].Params)

	payloads := []string{
		`{"Committed":{"new":{"blocks":{},"execution_outcome":{}}}}`,
		`{"Reorged":{"old":{"blocks":{}},"new":{"blocks":{}}}}`,
		`{"Reverted":{"old":{"blocks":{}}}}`,
	}
	for _, p := range payloads {
		node.Notify(reth.MethodSubscribeChainNotifications, json.RawMessage(p))
	}
	for _, want := range payloads {
		select {
		case got := <-ch:
			require.JSONEq(t, want, string(got))
		case err := <-sub.Err():
			t.Fatalf("subscription failed: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for notification")
		}
	}
}

func TestSubscriptionEndsWhenConnectionDrops(t *testing.T) {
	node := testnode.New(t)
	node.HandleSubscription(reth.MethodSubscribePersistedBlock)
	client := dialWS(t, node)

	ch := make(chan *reth.PersistedBlock)
	sub, err := client.SubscribePersistedBlock(testContext(t), ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	node.DropConnections()
	select {
	case err := <-sub.Err():
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not report the dropped connection")
	}

	// A dropped subscription is not restarted.
	require.Len(t, node.RequestsFor(reth.MethodSubscribePersistedBlock), 1)
}
