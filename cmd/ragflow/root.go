package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/engine"
	"github.com/xraph/ragflow/store"
	"github.com/xraph/ragflow/store/memory"
	"github.com/xraph/ragflow/store/postgres"
	redisstore "github.com/xraph/ragflow/store/redis"
)

// Version is the CLI version.
const Version = "0.1.0"

// app carries what the persistent pre-run resolved for the subcommands.
type app struct {
	cfgFile string
	envFile string
	debug   bool

	settings *settings
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "ragflow",
		Short:         "Durable RAG query orchestrator",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./ragflow.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("ragflow {{.Version}}\n")

	root.AddCommand(
		newServeCmd(a),
		newQueryCmd(a),
		newReplayCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
		if env := os.Getenv("APP_ENV"); env != "" {
			_ = godotenv.Overload(a.envFile + "." + env)
		}
	}

	s, err := loadSettings(a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), s.Log, a.debug)
	if err != nil {
		return err
	}
	a.settings = s
	a.logger = logger
	return nil
}

// openStore connects the configured store and migrates it.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	cfg := a.settings.Store
	switch cfg.Driver {
	case "", "memory":
		s = memory.New()
	case "redis":
		opts, parseErr := goredis.ParseURL(cfg.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("redis url: %w", parseErr)
		}
		s = redisstore.New(goredis.NewClient(opts), redisstore.WithLogger(a.logger))
	case "postgres":
		s, err = postgres.New(ctx, cfg.URL, postgres.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
	}
	a.logger.Debug("store ready", slog.String("driver", cfg.Driver))
	return s, nil
}

// newEngine builds the orchestrator and wires the engine on the configured
// store. The caller owns Start and Stop.
func (a *app) newEngine(ctx context.Context) (*engine.Engine, error) {
	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	o, err := ragflow.New(
		ragflow.WithConfig(a.settings.Orchestrator),
		ragflow.WithStore(s),
		ragflow.WithLogger(a.logger),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	eng, err := engine.Build(o,
		engine.WithRAGConfig(a.settings.RAG),
		engine.WithQueueConfig(a.settings.Queues...),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return eng, nil
}
