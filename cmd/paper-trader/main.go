package main

import (
	"fmt"
	"os"
	"path/filepath"

	"paper-trader/internal/cli"
	"paper-trader/internal/config"
	"paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/store"
)

func main() {
	configDir := configDirFromArgs(os.Args[1:])

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		File:       cfg.Log.File,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	})

	if configDir == "" {
		configDir = config.DefaultConfigDir()
	}
	dataStore, err := store.NewSQLiteStore(filepath.Join(configDir, "trader.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer dataStore.Close()

	app := cli.NewApp(cfg, logger, dataStore)
	rootCmd := cli.NewRootCmd(app)

	if err := rootCmd.Execute(); err != nil {
		if re, ok := errors.IsRiskError(err); ok {
			fmt.Fprintf(os.Stderr, "Error: %s\n", re.Error())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// configDirFromArgs extracts --config before cobra parsing, since the
// store and logger need it ahead of command dispatch.
func configDirFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if len(arg) > len("--config=") && arg[:len("--config=")] == "--config=" {
			return arg[len("--config="):]
		}
	}
	return ""
}
