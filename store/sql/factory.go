package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	sourceStore         *SourceStore
	priorityStore       *PriorityStore
	recordStore         *RecordStore
	syncRunStore        *SyncRunStore
	rateLimitStateStore *RateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.sourceStore != nil && f.recordStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) SourceStore() *SourceStore {
	if f == nil {
		return nil
	}
	return f.sourceStore
}

func (f *RepositoryFactory) PriorityStore() *PriorityStore {
	if f == nil {
		return nil
	}
	return f.priorityStore
}

func (f *RepositoryFactory) RecordStore() *RecordStore {
	if f == nil {
		return nil
	}
	return f.recordStore
}

func (f *RepositoryFactory) SyncRunStore() *SyncRunStore {
	if f == nil {
		return nil
	}
	return f.syncRunStore
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

func (f *RepositoryFactory) initStores() error {
	sourceRepo := repository.NewRepository[*connectedSourceRecord](f.db, connectedSourceHandlers())
	if validator, ok := sourceRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid connected source repository wiring: %w", err)
		}
	}

	syncRunRepo := repository.NewRepository[*syncRunRecord](f.db, syncRunHandlers())
	if validator, ok := syncRunRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid sync run repository wiring: %w", err)
		}
	}

	f.sourceStore = &SourceStore{
		db:   f.db,
		repo: sourceRepo,
	}
	f.syncRunStore = &SyncRunStore{
		db:   f.db,
		repo: syncRunRepo,
	}

	priorityStore, err := NewPriorityStore(f.db)
	if err != nil {
		return err
	}
	f.priorityStore = priorityStore
	recordStore, err := NewRecordStore(f.db)
	if err != nil {
		return err
	}
	f.recordStore = recordStore
	rateLimitStateStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateLimitStateStore = rateLimitStateStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
