package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"patternpress/internal/config"
	"patternpress/internal/ledger"
	"patternpress/internal/logging"
	"patternpress/internal/perception"
	"patternpress/internal/pipeline"
)

// newLLMClient is replaced in tests.
var newLLMClient = perception.NewClientFromConfig

// app holds the global flags and what PersistentPreRunE builds from them.
type app struct {
	configPath string
	verbose    bool
	outputDir  string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.outputDir != "" {
		if cfg.Paths.Ledger == config.DefaultConfig().Paths.Ledger {
			cfg.Paths.Ledger = filepath.Join(a.outputDir, ".press", "ledger.db")
		}
		cfg.Paths.OutputDir = a.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}
	a.cfg = cfg

	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if a.verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	a.logger, err = zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if a.verbose {
		logging.Attach(a.logger)
	}
	if err := logging.Initialize(cfg.Paths.OutputDir, cfg.Logging.ToLogging()); err != nil {
		return err
	}
	logging.Boot("Config %s: provider=%s output=%s lock=%s", a.configPath, cfg.LLM.Provider, cfg.Paths.OutputDir, cfg.Lock.Backend)
	return nil
}

func (a *app) teardown() {
	if a.verbose {
		logging.Attach(nil)
	}
	logging.CloseAll()
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// context bounds a command by --timeout and cancels it on SIGINT or SIGTERM.
func (a *app) context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (a *app) openLedger() (*ledger.Ledger, error) {
	return ledger.Open(a.cfg.Paths.Ledger)
}

// orchestrator wires the configured store, lock, ledger and, when withLLM is
// set, the derivation client. A client that cannot be built is logged and
// left out so cached stages still run.
func (a *app) orchestrator(ctx context.Context, withLLM bool) (*pipeline.Orchestrator, func(), error) {
	l, err := a.openLedger()
	if err != nil {
		return nil, nil, err
	}

	var deriver pipeline.Deriver
	if withLLM {
		client, err := newLLMClient(ctx, a.cfg)
		if err != nil {
			logging.BootWarn("No LLM client: %v", err)
			a.logger.Warn("LLM client unavailable; only cached stages can run", zap.Error(err))
		} else {
			deriver = perception.NewDeriverFromConfig(perception.NewTracingClient(client, l), a.cfg)
		}
	}

	orch, closeLock, err := pipeline.NewFromConfig(a.cfg, deriver, l)
	if err != nil {
		_ = l.Close()
		return nil, nil, err
	}
	return orch, func() {
		if err := closeLock(); err != nil {
			logging.PipelineWarn("close lock backend: %v", err)
		}
		_ = l.Close()
	}, nil
}
