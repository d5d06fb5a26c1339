package reth

// reth-specific JSON-RPC extensions
//
// Files:
//   config.go    - remote method names
//   types.go     - block identifiers, balance changes, persisted block notifications
//   provider.go  - provider capabilities, Client/PubSubClient and dialing
//   reth.go      - the reth_* calls
//
// Usage:
//   client, err := reth.Dial(ctx, "http://127.0.0.1:8545")
//   block, err := reth.BlockNumber(100)
//   changes, err := client.GetBalanceChangesInBlock(ctx, block)
//
//   ws, err := reth.DialPubSub(ctx, "ws://127.0.0.1:8546")
//   blocks := make(chan *reth.PersistedBlock)
//   sub, err := ws.SubscribePersistedBlock(ctx, blocks)
