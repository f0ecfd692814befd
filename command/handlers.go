package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/sync"
)

// TokenMutatingService is the token lifecycle surface the connect and
// disconnect commands delegate to.
type TokenMutatingService interface {
	BeginConnect(ctx context.Context, customerID string, source core.SourceType, redirectURI string, scopes []string) (string, error)
	CompleteConnect(ctx context.Context, state string, code string) (core.ConnectedSource, error)
	StoreTokens(ctx context.Context, customerID string, source core.SourceType, tokenSet core.TokenSet, sourceUserID string) (core.ConnectedSource, error)
	Disconnect(ctx context.Context, customerID string, source core.SourceType) error
	SetPrimarySource(ctx context.Context, customerID string, source core.SourceType) error
	SweepOAuthStates(ctx context.Context) (int, error)
}

// SyncMutatingService is the orchestration surface the sync commands
// delegate to.
type SyncMutatingService interface {
	SyncSource(ctx context.Context, customerID string, source core.SourceType, opts sync.Options) (core.SyncRun, error)
	SyncAll(ctx context.Context, customerID string, opts sync.Options) ([]sync.SourceStatus, error)
	IngestBatch(ctx context.Context, customerID string, source core.SourceType, batch sync.RecordBatch) (core.SyncRun, error)
}

// PriorityMutatingService stores per-customer source priority overrides.
type PriorityMutatingService interface {
	Put(ctx context.Context, priority core.SourcePriority) error
}

type ConnectSourceCommand struct {
	service TokenMutatingService
}

func NewConnectSourceCommand(service TokenMutatingService) *ConnectSourceCommand {
	return &ConnectSourceCommand{service: service}
}

func (c *ConnectSourceCommand) Execute(ctx context.Context, msg ConnectSourceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	authURL, err := c.service.BeginConnect(ctx, msg.CustomerID, msg.Source, msg.RedirectURI, msg.Scopes)
	if err != nil {
		return err
	}
	storeResult(ctx, authURL)
	return nil
}

type CompleteConnectCommand struct {
	service TokenMutatingService
}

func NewCompleteConnectCommand(service TokenMutatingService) *CompleteConnectCommand {
	return &CompleteConnectCommand{service: service}
}

func (c *CompleteConnectCommand) Execute(ctx context.Context, msg CompleteConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	connected, err := c.service.CompleteConnect(ctx, msg.State, msg.Code)
	if err != nil {
		return err
	}
	storeResult(ctx, connected)
	return nil
}

type StoreTokensCommand struct {
	service TokenMutatingService
}

func NewStoreTokensCommand(service TokenMutatingService) *StoreTokensCommand {
	return &StoreTokensCommand{service: service}
}

func (c *StoreTokensCommand) Execute(ctx context.Context, msg StoreTokensMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	connected, err := c.service.StoreTokens(ctx, msg.CustomerID, msg.Source, msg.Tokens, msg.SourceUserID)
	if err != nil {
		return err
	}
	storeResult(ctx, connected)
	return nil
}

type DisconnectSourceCommand struct {
	service TokenMutatingService
}

func NewDisconnectSourceCommand(service TokenMutatingService) *DisconnectSourceCommand {
	return &DisconnectSourceCommand{service: service}
}

func (c *DisconnectSourceCommand) Execute(ctx context.Context, msg DisconnectSourceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	return c.service.Disconnect(ctx, msg.CustomerID, msg.Source)
}

type SetPrimarySourceCommand struct {
	service TokenMutatingService
}

func NewSetPrimarySourceCommand(service TokenMutatingService) *SetPrimarySourceCommand {
	return &SetPrimarySourceCommand{service: service}
}

func (c *SetPrimarySourceCommand) Execute(ctx context.Context, msg SetPrimarySourceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	return c.service.SetPrimarySource(ctx, msg.CustomerID, msg.Source)
}

type SetPriorityCommand struct {
	service PriorityMutatingService
}

func NewSetPriorityCommand(service PriorityMutatingService) *SetPriorityCommand {
	return &SetPriorityCommand{service: service}
}

func (c *SetPriorityCommand) Execute(ctx context.Context, msg SetPriorityMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: priority service is required")
	}
	return c.service.Put(ctx, msg.Priority)
}

type SyncSourceCommand struct {
	service SyncMutatingService
}

func NewSyncSourceCommand(service SyncMutatingService) *SyncSourceCommand {
	return &SyncSourceCommand{service: service}
}

func (c *SyncSourceCommand) Execute(ctx context.Context, msg SyncSourceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	run, err := c.service.SyncSource(ctx, msg.CustomerID, msg.Source, msg.Options)
	if err != nil {
		return err
	}
	storeResult(ctx, run)
	return nil
}

type SyncAllCommand struct {
	service SyncMutatingService
}

func NewSyncAllCommand(service SyncMutatingService) *SyncAllCommand {
	return &SyncAllCommand{service: service}
}

func (c *SyncAllCommand) Execute(ctx context.Context, msg SyncAllMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	statuses, err := c.service.SyncAll(ctx, msg.CustomerID, msg.Options)
	if err != nil {
		return err
	}
	storeResult(ctx, statuses)
	return nil
}

type IngestBatchCommand struct {
	service SyncMutatingService
}

func NewIngestBatchCommand(service SyncMutatingService) *IngestBatchCommand {
	return &IngestBatchCommand{service: service}
}

func (c *IngestBatchCommand) Execute(ctx context.Context, msg IngestBatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	run, err := c.service.IngestBatch(ctx, msg.CustomerID, msg.Source, msg.Batch)
	if err != nil {
		return err
	}
	storeResult(ctx, run)
	return nil
}

type SweepOAuthStatesCommand struct {
	service TokenMutatingService
}

func NewSweepOAuthStatesCommand(service TokenMutatingService) *SweepOAuthStatesCommand {
	return &SweepOAuthStatesCommand{service: service}
}

func (c *SweepOAuthStatesCommand) Execute(ctx context.Context, msg SweepOAuthStatesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	swept, err := c.service.SweepOAuthStates(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, swept)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
