package command

import (
	"strings"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/sync"
)

const (
	TypeConnectSource    = "wearables.command.source.connect"
	TypeCompleteConnect  = "wearables.command.source.connect.complete"
	TypeStoreTokens      = "wearables.command.source.tokens.store"
	TypeDisconnectSource = "wearables.command.source.disconnect"
	TypeSetPrimarySource = "wearables.command.source.set_primary"
	TypeSetPriority      = "wearables.command.priority.set"
	TypeSyncSource       = "wearables.command.sync.source"
	TypeSyncAll          = "wearables.command.sync.all"
	TypeIngestBatch      = "wearables.command.sync.ingest"
	TypeSweepOAuthStates = "wearables.command.oauth_states.sweep"
)

type ConnectSourceMessage struct {
	CustomerID  string
	Source      core.SourceType
	RedirectURI string
	Scopes      []string
}

func (ConnectSourceMessage) Type() string { return TypeConnectSource }

func (m ConnectSourceMessage) Validate() error {
	if strings.TrimSpace(m.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if err := m.Source.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid source type")
	}
	if strings.TrimSpace(m.RedirectURI) == "" {
		return commandValidationError("redirect_uri", "redirect uri is required")
	}
	return nil
}

type CompleteConnectMessage struct {
	State string
	Code  string
}

func (CompleteConnectMessage) Type() string { return TypeCompleteConnect }

func (m CompleteConnectMessage) Validate() error {
	if strings.TrimSpace(m.State) == "" {
		return commandValidationError("state", "oauth state is required")
	}
	if strings.TrimSpace(m.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type StoreTokensMessage struct {
	CustomerID   string
	Source       core.SourceType
	Tokens       core.TokenSet
	SourceUserID string
}

func (StoreTokensMessage) Type() string { return TypeStoreTokens }

func (m StoreTokensMessage) Validate() error {
	if strings.TrimSpace(m.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if err := m.Source.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid source type")
	}
	if err := m.Tokens.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid token set")
	}
	return nil
}

type DisconnectSourceMessage struct {
	CustomerID string
	Source     core.SourceType
}

func (DisconnectSourceMessage) Type() string { return TypeDisconnectSource }

func (m DisconnectSourceMessage) Validate() error {
	if strings.TrimSpace(m.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if err := m.Source.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid source type")
	}
	return nil
}

type SetPrimarySourceMessage struct {
	CustomerID string
	Source     core.SourceType
}

func (SetPrimarySourceMessage) Type() string { return TypeSetPrimarySource }

func (m SetPrimarySourceMessage) Validate() error {
	if strings.TrimSpace(m.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if err := m.Source.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid source type")
	}
	return nil
}

type SetPriorityMessage struct {
	Priority core.SourcePriority
}

func (SetPriorityMessage) Type() string { return TypeSetPriority }

func (m SetPriorityMessage) Validate() error {
	if strings.TrimSpace(m.Priority.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if err := m.Priority.DataType.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid data type")
	}
	if len(m.Priority.Ordered) == 0 {
		return commandValidationError("ordered", "priority ordering requires at least one source")
	}
	for _, source := range m.Priority.Ordered {
		if err := source.Validate(); err != nil {
			return commandWrapValidation(err, "command: invalid source in priority ordering")
		}
	}
	return nil
}

type SyncSourceMessage struct {
	CustomerID string
	Source     core.SourceType
	Options    sync.Options
}

func (SyncSourceMessage) Type() string { return TypeSyncSource }

func (m SyncSourceMessage) Validate() error {
	if strings.TrimSpace(m.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if err := m.Source.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid source type")
	}
	for _, dataType := range m.Options.DataTypes {
		if err := dataType.Validate(); err != nil {
			return commandWrapValidation(err, "command: invalid data type")
		}
	}
	return nil
}

type SyncAllMessage struct {
	CustomerID string
	Options    sync.Options
}

func (SyncAllMessage) Type() string { return TypeSyncAll }

func (m SyncAllMessage) Validate() error {
	if strings.TrimSpace(m.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	for _, dataType := range m.Options.DataTypes {
		if err := dataType.Validate(); err != nil {
			return commandWrapValidation(err, "command: invalid data type")
		}
	}
	return nil
}

type IngestBatchMessage struct {
	CustomerID string
	Source     core.SourceType
	Batch      sync.RecordBatch
}

func (IngestBatchMessage) Type() string { return TypeIngestBatch }

func (m IngestBatchMessage) Validate() error {
	if strings.TrimSpace(m.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if err := m.Source.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid source type")
	}
	return nil
}

type SweepOAuthStatesMessage struct{}

func (SweepOAuthStatesMessage) Type() string { return TypeSweepOAuthStates }

func (SweepOAuthStatesMessage) Validate() error { return nil }
