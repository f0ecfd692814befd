package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ConnectSourceMessage]    = (*ConnectSourceCommand)(nil)
	_ gocmd.Commander[CompleteConnectMessage]  = (*CompleteConnectCommand)(nil)
	_ gocmd.Commander[StoreTokensMessage]      = (*StoreTokensCommand)(nil)
	_ gocmd.Commander[DisconnectSourceMessage] = (*DisconnectSourceCommand)(nil)
	_ gocmd.Commander[SetPrimarySourceMessage] = (*SetPrimarySourceCommand)(nil)
	_ gocmd.Commander[SetPriorityMessage]      = (*SetPriorityCommand)(nil)
	_ gocmd.Commander[SyncSourceMessage]       = (*SyncSourceCommand)(nil)
	_ gocmd.Commander[SyncAllMessage]          = (*SyncAllCommand)(nil)
	_ gocmd.Commander[IngestBatchMessage]      = (*IngestBatchCommand)(nil)
	_ gocmd.Commander[SweepOAuthStatesMessage] = (*SweepOAuthStatesCommand)(nil)
)
