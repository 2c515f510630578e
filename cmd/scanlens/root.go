package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"scanlens/config"
	"scanlens/internal/logger"
	"scanlens/internal/runs"
)

const defaultConfigName = "scanlens.yml"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	runsDir    string
	logLevel   string
}

// app is the loaded configuration and logger for one command invocation.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

// newRootCmd creates the root scanlens command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "scanlens",
		Short:         "Scan run journals, snapshots and live tails",
		Long:          "scanlens records scan runs as append-only event journals and serves\ngraph snapshots, paginated events and live tails of them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to scanlens.yml")
	cmd.PersistentFlags().StringVar(&opts.runsDir, "runs-dir", "", "runs root (overrides config and "+config.RunsDirEnv+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log to stderr at this level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunsCmd(opts),
		newSnapshotCmd(opts),
		newEventsCmd(opts),
		newTailCmd(opts),
		newEmitCmd(opts),
		newIngestCmd(opts),
		newWatchCmd(opts),
	)

	return cmd
}

func findConfigFile(configArg string) string {
	if configArg != "" {
		return configArg
	}

	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), defaultConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func (o *rootOptions) load() (*app, error) {
	path := findConfigFile(o.configPath)
	if o.configPath != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.runsDir != "" {
		dir, err := config.ResolvePath(o.runsDir)
		if err != nil {
			return nil, fmt.Errorf("resolve runs dir: %w", err)
		}
		cfg.ScanLens.Runs.Dir = dir
	}

	logCfg := cfg.ScanLens.Logging
	if o.logLevel != "" {
		logCfg.Enabled = true
		logCfg.Level = o.logLevel
		logCfg.Console = true
	}
	log, err := logger.New(logger.Options{
		Enabled: logCfg.Enabled,
		Level:   logCfg.Level,
		File:    logCfg.File,
		Console: logCfg.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) service() *runs.Service {
	s := a.cfg.ScanLens
	return runs.NewService(runs.Options{
		Root:         s.Runs.Dir,
		MaxPageSize:  s.Server.MaxPageSize,
		PollInterval: s.Tail.PollInterval,
		UseFsnotify:  s.Tail.UseFsnotify == nil || *s.Tail.UseFsnotify,
	}, a.log)
}

func (a *app) close() {
	_ = a.log.Close()
}
