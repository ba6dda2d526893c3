package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/investigator/internal/audit"
	"github.com/sells-group/investigator/internal/catalog"
	"github.com/sells-group/investigator/internal/investigate"
	"github.com/sells-group/investigator/internal/notify"
	"github.com/sells-group/investigator/internal/registry"
	"github.com/sells-group/investigator/internal/resilience"
	"github.com/sells-group/investigator/internal/rules"
	"github.com/sells-group/investigator/internal/store"
)

// appEnv holds the wired core services shared by commands.
type appEnv struct {
	Store    store.Store
	Registry *registry.Registry
	Orch     *investigate.Orchestrator
	Auditor  *audit.Auditor
}

// Close waits for in-flight runs, then releases the store.
func (e *appEnv) Close() {
	e.Orch.Wait()
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "investigator.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv opens and migrates the store, seeds the type catalog, and wires
// the registry, orchestrator and auditor. A nil publisher discards events.
func initEnv(ctx context.Context, events notify.Publisher) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	defs := catalog.Builtin()
	if cfg.Catalog.Path != "" {
		overlay, err := catalog.LoadOverlay(cfg.Catalog.Path)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		defs = catalog.Overlay(defs, overlay)
	}

	engines := rules.Default()
	cat, err := catalog.Seed(ctx, st, defs, engines)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if events == nil {
		events = notify.Nop{}
	}
	reg := registry.New(st, cat, events)
	orch := investigate.New(st, reg, engines, events,
		investigate.WithRetry(resilience.FromAppendConfig(cfg.Investigate.AppendRetries, cfg.Investigate.AppendBackoffMs)),
	)

	return &appEnv{
		Store:    st,
		Registry: reg,
		Orch:     orch,
		Auditor:  audit.New(st, cfg.Audit.Concurrency),
	}, nil
}
