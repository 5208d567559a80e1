package database

import (
	"context"
	"fmt"

	"essay-grader/internal/config"
	"essay-grader/internal/services"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

// MemoryDSN selects the in-process account store in place of PostgreSQL
const MemoryDSN = "memory"

// OpenTaskStore returns the task store selected by TASK_STORE
func OpenTaskStore(cfg *config.Config, hub *sentry.Hub) (services.TaskStore, error) {
	switch cfg.TaskStore.Backend {
	case "mongo":
		return NewMongoTaskStore(cfg.MongoDB)
	case "badger":
		return NewBadgerTaskStore(cfg.TaskStore.BadgerPath, hub)
	case "memory":
		log.Warn("using in-memory task store, tasks are lost on restart and not shared between processes")
		return services.NewTaskService(), nil
	default:
		return nil, fmt.Errorf("unknown task store %q", cfg.TaskStore.Backend)
	}
}

// OpenAccounts returns the account repository for POSTGRES_DSN. A nil
// repository means accounts and billing are disabled. The returned func
// releases the connection pool.
func OpenAccounts(ctx context.Context, cfg config.PostgresConfig) (services.AccountRepository, func(), error) {
	switch cfg.DSN {
	case "":
		return nil, func() {}, nil
	case MemoryDSN:
		log.Warn("using in-memory account store, balances are lost on restart")
		return services.NewMemoryAccountStore(), func() {}, nil
	}

	pool, err := NewPool(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate accounts schema: %w", err)
	}
	return NewAccountStore(pool), pool.Close, nil
}
