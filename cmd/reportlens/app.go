package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reportlens/internal/backend"
	"reportlens/internal/catalog"
	"reportlens/internal/config"
	"reportlens/internal/engine"
	"reportlens/internal/logging"
	"reportlens/internal/memory"
	"reportlens/internal/ontology"
	"reportlens/internal/oracle"
)

// app holds everything a command needs, wired once per invocation.
type app struct {
	cfg      *config.Config
	ont      *ontology.Catalog
	provider *catalog.Provider
	watcher  *catalog.Watcher
	local    *backend.LocalBackend
	sessions *memory.SessionStore
	engine   *engine.Engine
}

// loadApp builds the application graph. The oracle is only constructed when
// the command actually plans turns, so catalog and seed work offline.
func loadApp(needOracle bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Initialize(logging.Options{
		DebugMode:  debugMode || cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
		Directory:  cfg.Logging.Directory,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	ont := ontology.Default()
	idx, err := loadIndex(ont, cfg)
	if err != nil {
		return nil, err
	}
	provider := catalog.NewProvider(idx)

	local, err := backend.NewLocalBackend(backendPath(cfg))
	if err != nil {
		return nil, err
	}
	sessions, err := memory.NewSessionStore(cfg.Memory.DatabasePath)
	if err != nil {
		local.Close()
		return nil, err
	}

	a := &app{cfg: cfg, ont: ont, provider: provider, local: local, sessions: sessions}

	if cfg.Catalog.Watch {
		watcher, err := catalog.NewWatcher(ont, provider, cfg.Catalog.Path, cfg.Catalog.FreshnessHours)
		if err != nil {
			logging.Catalog("catalog watch unavailable: %v", err)
		} else if err := watcher.Start(); err != nil {
			logging.Catalog("catalog watch failed to start: %v", err)
		} else {
			a.watcher = watcher
		}
	}

	if needOracle {
		client, err := oracle.NewClient(context.Background(), oracle.Config{
			APIKey:  cfg.Oracle.APIKey,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.GetOracleTimeout(),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("oracle unavailable (set REPORTLENS_ORACLE_API_KEY): %w", err)
		}
		a.engine = engine.New(cfg, ont, provider, client, local, local, local, sessions)
	}
	return a, nil
}

func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.local != nil {
		a.local.Close()
	}
}

// loadIndex reads the catalog file, falling back to the last good snapshot
// when the file is missing or invalid.
func loadIndex(ont *ontology.Catalog, cfg *config.Config) (*catalog.Index, error) {
	idx, fileErr := catalog.LoadFile(ont, cfg.Catalog.Path, cfg.Catalog.FreshnessHours)
	if fileErr == nil {
		if store, err := catalog.NewSnapshotStore(cfg.Catalog.SnapshotDB); err == nil {
			if err := store.Save(idx); err != nil {
				logging.Catalog("snapshot save failed: %v", err)
			}
			store.Close()
		}
		return idx, nil
	}

	store, err := catalog.NewSnapshotStore(cfg.Catalog.SnapshotDB)
	if err != nil {
		return nil, fmt.Errorf("catalog file unusable (%v) and no snapshot: %w", fileErr, err)
	}
	defer store.Close()
	idx, err = store.Load()
	if err != nil {
		return nil, fmt.Errorf("catalog file unusable (%v) and snapshot load failed: %w", fileErr, err)
	}
	logging.Catalog("using snapshot catalog after file error: %v", fileErr)
	return idx, nil
}

func backendPath(cfg *config.Config) string {
	dir := strings.TrimSuffix(cfg.Memory.DatabasePath, "sessions.db")
	if dir == cfg.Memory.DatabasePath {
		return ".reportlens/backend.db"
	}
	return dir + "backend.db"
}

func runAsk(cmd *cobra.Command, args []string) error {
	app, err := loadApp(true)
	if err != nil {
		return err
	}
	defer app.Close()

	message := strings.Join(args, " ")
	payload, err := app.engine.RunTurn(cmd.Context(), sessionID, message)
	if err != nil {
		return err
	}
	fmt.Println(renderPayload(payload))
	return nil
}

func runContinue(cmd *cobra.Command, args []string) error {
	app, err := loadApp(true)
	if err != nil {
		return err
	}
	defer app.Close()

	rec, err := app.sessions.Load(sessionID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Pending == nil {
		return fmt.Errorf("session %q: %w", sessionID, memory.ErrNoPendingState)
	}

	payload, err := app.engine.RunTurn(cmd.Context(), sessionID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(renderPayload(payload))
	return nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	app, err := loadApp(false)
	if err != nil {
		return err
	}
	defer app.Close()

	idx := app.provider.Current()
	fmt.Println(renderCatalogSummary(idx))
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	app, err := loadApp(false)
	if err != nil {
		return err
	}
	defer app.Close()

	path := fixturesPath
	if path == "" && len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("fixture file required")
	}
	set, err := backend.LoadFixtureFile(path)
	if err != nil {
		return err
	}
	if err := app.local.Seed(set); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Seeded %d report fixtures and %d entities from %s\n",
		len(set.Reports), len(set.Entities), path)
	return nil
}
