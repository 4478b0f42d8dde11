// eventrouter runs the publish/subscribe event router.
// Usage: eventrouter --config configs/eventrouter.example.yaml
//
// Without --config the built-in defaults are used.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/rickgao/eventrouter/internal/config"
	"github.com/rickgao/eventrouter/internal/server"
	"github.com/rickgao/eventrouter/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 0, "override the listen port")
	multiQueue := flag.Bool("multi-queue", false, "use the per-priority queue strategy")
	logLevel := flag.String("log-level", "", "override log_level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *multiQueue {
		cfg.UseMultiQueue = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	info := version.Get()
	logger.Info("starting event router",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configPath,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create router", "error", err)
		os.Exit(1)
	}

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("event router exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.RouterConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}
