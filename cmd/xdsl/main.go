package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"xdsl/internal/infrastructure/config"
	"xdsl/internal/infrastructure/logger"
	"xdsl/internal/infrastructure/svc"
)

const defaultConfig = "configs/config.toml"

func main() {
	logger.Setup("info", false)

	configPath := flag.String("config", defaultConfig, "path to config.toml")
	loop := flag.Bool("loop", false, "run on the configured schedule instead of once")
	health := flag.Bool("health", false, "print a store health report and exit")
	flag.Parse()

	path := *configPath
	if path == defaultConfig {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("config", path).Msg("load config failed")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.JSON)
	if *loop {
		cfg.App.Mode = config.ModeLoop
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service initialization failed")
	}

	code := 0
	switch {
	case *health:
		code = runHealth(ctx, sc)
	case cfg.App.Mode == config.ModeLoop:
		runLoop(ctx, sc)
	default:
		code = runOnce(ctx, sc)
	}

	if err := sc.Close(); err != nil {
		log.Warn().Err(err).Msg("close resources")
	}
	os.Exit(code)
}

// runOnce prints the batch report as JSON on stdout.
func runOnce(ctx context.Context, sc *svc.ServiceContext) int {
	rctx, cancel := context.WithTimeout(ctx, time.Duration(sc.Config.App.RunTimeoutSec)*time.Second)
	defer cancel()

	rep, err := sc.Orchestrator.RunBatch(rctx)
	if err != nil {
		log.Error().Err(err).Msg("batch failed")
		return 1
	}
	printJSON(rep)
	return 0
}

func runHealth(ctx context.Context, sc *svc.ServiceContext) int {
	rep, err := sc.Health.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("health check failed")
		return 1
	}
	printJSON(rep)
	if rep.CriticalCount > 0 {
		return 2
	}
	return 0
}

func runLoop(ctx context.Context, sc *svc.ServiceContext) {
	sc.StartStreams(ctx)

	if sc.HTTP != nil {
		go func() {
			if err := sc.HTTP.Start(); err != nil {
				log.Error().Err(err).Msg("status server exited")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sc.HTTP.Shutdown(sctx)
		}()
	}

	log.Info().
		Str("schedule", sc.Config.App.Schedule).
		Str("backend", sc.Config.State.Backend).
		Bool("http", sc.HTTP != nil).
		Msg("xdsl started")

	if err := sc.Monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("monitor service exited")
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("encode output failed")
	}
}
