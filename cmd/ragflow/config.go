package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/queue"
	"github.com/xraph/ragflow/rag"
)

const envPrefix = "RAGFLOW"

// settings is the file and environment configuration of the binary.
type settings struct {
	Orchestrator ragflow.Config `mapstructure:"orchestrator"`
	RAG          rag.Config     `mapstructure:"rag"`
	Queues       []queue.Config `mapstructure:"queues"`
	Store        storeSettings  `mapstructure:"store"`
	Server       serverSettings `mapstructure:"server"`
	Log          logSettings    `mapstructure:"log"`
}

type storeSettings struct {
	// Driver is memory, redis or postgres.
	Driver string `mapstructure:"driver"`
	// URL is the redis:// or postgres:// connection string.
	URL string `mapstructure:"url"`
}

type serverSettings struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type logSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func defaultSettings() settings {
	return settings{
		Orchestrator: ragflow.DefaultConfig(),
		RAG:          rag.DefaultConfig(),
		Store:        storeSettings{Driver: "memory"},
		Server: serverSettings{
			Addr:         ":8000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log: logSettings{Level: "info", Format: "text"},
	}
}

// loadSettings reads path (or ragflow.yaml from the working directory or
// ./config when path is empty) and applies RAGFLOW_* environment overrides.
// A missing default file is not an error.
func loadSettings(path string) (*settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Scalar keys must be known to viper for environment overrides to
	// reach Unmarshal.
	s := defaultSettings()
	for key, val := range map[string]any{
		"orchestrator.task_queue":             s.Orchestrator.TaskQueue,
		"orchestrator.concurrency":            s.Orchestrator.Concurrency,
		"orchestrator.poll_interval":          s.Orchestrator.PollInterval,
		"orchestrator.shutdown_timeout":       s.Orchestrator.ShutdownTimeout,
		"orchestrator.workflow":               s.Orchestrator.Workflow,
		"orchestrator.run_key_prefix":         s.Orchestrator.RunKeyPrefix,
		"orchestrator.unique_run_keys":        s.Orchestrator.UniqueRunKeys,
		"orchestrator.default_step_timeout":   s.Orchestrator.DefaultStepTimeout,
		"orchestrator.max_attempts":           s.Orchestrator.MaxAttempts,
		"orchestrator.retry_backoff":          s.Orchestrator.RetryBackoff,
		"orchestrator.retry_initial_interval": s.Orchestrator.RetryInitialInterval,
		"orchestrator.retry_max_interval":     s.Orchestrator.RetryMaxInterval,
		"orchestrator.codec":                  s.Orchestrator.Codec,
		"orchestrator.run_lease":              s.Orchestrator.RunLease,
		"rag.generator":                       s.RAG.Generator,
		"rag.model":                           s.RAG.Model,
		"rag.base_url":                        s.RAG.BaseURL,
		"rag.api_key_env":                     s.RAG.APIKeyEnv,
		"rag.top_k":                           s.RAG.TopK,
		"store.driver":                        s.Store.Driver,
		"store.url":                           s.Store.URL,
		"server.addr":                         s.Server.Addr,
		"server.read_timeout":                 s.Server.ReadTimeout,
		"server.write_timeout":                s.Server.WriteTimeout,
		"server.idle_timeout":                 s.Server.IdleTimeout,
		"log.level":                           s.Log.Level,
		"log.format":                          s.Log.Format,
	} {
		v.SetDefault(key, val)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ragflow")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &s, nil
}

// newLogger builds the process logger. debug forces the debug level.
func newLogger(w io.Writer, cfg logSettings, debug bool) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
