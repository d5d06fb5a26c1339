package reth

// reth namespace methods
const (
	MethodGetBalanceChangesInBlock    = "reth_getBalanceChangesInBlock"
	MethodGetBlockExecutionOutcome    = "reth_getBlockExecutionOutcome"
	MethodSubscribeChainNotifications = "reth_subscribeChainNotifications"
	MethodSubscribePersistedBlock     = "reth_subscribePersistedBlock"
)
