package sqlstore

import "github.com/goliatone/go-wearables/core"

var (
	_ core.SourceStore  = (*SourceStore)(nil)
	_ core.SyncRunStore = (*SyncRunStore)(nil)
)
