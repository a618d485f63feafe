package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ledgerproto/ledgerd/pkg/builder"
	"github.com/ledgerproto/ledgerd/pkg/config"
	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/events"
	"github.com/ledgerproto/ledgerd/pkg/log"
	"github.com/ledgerproto/ledgerd/pkg/metrics"
	"github.com/ledgerproto/ledgerd/pkg/pool"
	"github.com/ledgerproto/ledgerd/pkg/query"
	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/supervisor"
	"github.com/ledgerproto/ledgerd/pkg/validator"
	"github.com/ledgerproto/ledgerd/pkg/vm"
)

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ledgerd",
	Short:   "ledgerd runs a single execution node for the constraint-checking protocol",
	Version: Version,
	RunE:    run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("config", "", "path to a YAML config file; CLI flags override its values")
	flags.String("db", "", "storage backend: memory, bolt, or sql")
	flags.String("db-dsn", "", "backend connection parameter (bolt data directory or sql DSN)")
	flags.Duration("tick-period", 0, "block builder tick period")
	flags.Int("max-solutions-per-block", 0, "cap on solutions folded into one block (0 = unbounded)")
	flags.Uint64("gas-per-op-ceiling", 0, "per-operation gas ceiling for predicate execution")
	flags.String("vm-engine", "", "predicate VM engine: stack or wasm")
	flags.String("query-addr", "", "listen address for the debug query HTTP surface")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "emit logs as JSON instead of console format")
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(&cfg, flags)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logLevel := log.Level(cfg.Log.Level)
	log.Init(log.Config{Level: logLevel, JSONOutput: cfg.Log.JSON})
	metrics.SetVersion(Version)
	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage backend: %w", err)
	}
	defer closeStore()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	eventingStore := storage.NewEventingStore(store, broker)

	readVM, constraintVM := buildVM(cfg.VM.Engine)

	valid := validator.New(readVM, constraintVM, validator.Config{
		GasLimit:        cfg.Validator.GasLimit,
		GasPerOpCeiling: cfg.Validator.GasPerOpCeiling,
	})

	p := pool.New(eventingStore, valid, pool.Config{
		MaxSolutionParts: cfg.Pool.MaxSolutionParts,
		MaxSolutionBytes: cfg.Pool.MaxSolutionBytes,
		MaxAgeBlocks:     cfg.Pool.MaxAgeBlocks,
	})
	sweeper := pool.NewSweeper(p, eventingStore, cfg.Builder.TickPeriod.Std())

	build := builder.New(eventingStore, p, valid, builder.Config{
		TickPeriod:           cfg.Builder.TickPeriod.Std(),
		MaxSolutionsPerBlock: cfg.Builder.MaxSolutionsPerBlock,
	})
	build.SetPublisher(broker)

	collector := metrics.NewCollector(func(ctx context.Context) (int, uint64, error) {
		solutions, err := p.List(ctx, storage.Page{})
		if err != nil {
			return 0, 0, err
		}
		latest, err := eventingStore.LatestBlockNumber(ctx)
		if err != nil {
			return 0, 0, err
		}
		return len(solutions), latest, nil
	})

	sup := supervisor.New(eventingStore, build, sweeper, collector, supervisor.Config{
		MetricsReportInterval: cfg.MetricsReportInterval.Std(),
	})

	metrics.RegisterComponent("storage", true, string(cfg.DB.Backend))
	metrics.RegisterComponent("builder", true, "starting")

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	metrics.RegisterComponent("builder", true, "running")

	svc := query.New(eventingStore, valid, readVM)
	queryServer := &http.Server{Addr: cfg.Query.ListenAddr, Handler: query.NewRouter(svc)}
	queryErrCh := make(chan error, 1)
	go func() {
		if err := queryServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			queryErrCh <- err
		}
	}()
	logger.Info().Str("addr", cfg.Query.ListenAddr).Msg("query surface listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-queryErrCh:
		logger.Error().Err(err).Msg("query server failed")
		sup.Stop()
		return err
	}

	sup.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := queryServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("query server shutdown did not complete cleanly")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// applyFlagOverrides mutates cfg in place with every flag the operator
// actually set, leaving config-file (or default) values for the rest.
func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("db") {
		db, _ := flags.GetString("db")
		cfg.DB.Backend = config.Backend(db)
	}
	if flags.Changed("db-dsn") {
		cfg.DB.DSN, _ = flags.GetString("db-dsn")
	}
	if flags.Changed("tick-period") {
		d, _ := flags.GetDuration("tick-period")
		cfg.Builder.TickPeriod = config.Duration(d)
	}
	if flags.Changed("max-solutions-per-block") {
		cfg.Builder.MaxSolutionsPerBlock, _ = flags.GetInt("max-solutions-per-block")
	}
	if flags.Changed("gas-per-op-ceiling") {
		cfg.Validator.GasPerOpCeiling, _ = flags.GetUint64("gas-per-op-ceiling")
	}
	if flags.Changed("vm-engine") {
		cfg.VM.Engine, _ = flags.GetString("vm-engine")
	}
	if flags.Changed("query-addr") {
		cfg.Query.ListenAddr, _ = flags.GetString("query-addr")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	switch cfg.DB.Backend {
	case config.BackendMemory:
		return storage.NewMemStore(), func() {}, nil
	case config.BackendBolt:
		store, err := storage.NewBoltStore(cfg.DB.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.BackendSQL:
		store, err := storage.NewSQLStore(ctx, storage.SQLStoreConfig{DSN: cfg.DB.DSN})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, errs.Consistencyf(nil, "unknown db backend %q", cfg.DB.Backend)
	}
}

func buildVM(engine string) (vm.StateReadVM, vm.ConstraintVM) {
	if engine == "wasm" {
		w := vm.NewWasmVM()
		return w, w
	}
	s := vm.NewStackVM()
	return s, s
}
