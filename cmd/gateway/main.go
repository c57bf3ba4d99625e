package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/soundrift/gateway/internal/config"
	"github.com/soundrift/gateway/internal/gateway"
	"github.com/soundrift/gateway/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the gateway config file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(gateway.Version)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewWithConfig(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(cfg)
	srv := gateway.NewServer(gw, cfg)

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
			gw.ReloadRoutes(next.Routes)
		})
		if err != nil {
			logging.Warn("config watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	if err := srv.Run(ctx); err != nil {
		logging.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.NewLoader().Load(path)
}
