package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"FinFusion/internal/di"
	"FinFusion/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	check := flag.Bool("check", false, "validate the config, print the resolved feeds and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *check {
		fmt.Printf("environment=%s symbols=%s exchanges=%s backfill=%s\n",
			cfg.Environment, strings.Join(cfg.Symbols, ","), strings.Join(enabledExchanges(cfg), ","), cfg.Bars.BackfillSource)
		return
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until SIGINT/SIGTERM
	err = app.Run(context.Background())
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

func enabledExchanges(cfg *config.Config) []string {
	var out []string
	if cfg.Exchanges.Binance.Enabled {
		out = append(out, "binance")
	}
	if cfg.Exchanges.Bybit.Enabled {
		out = append(out, "bybit")
	}
	if cfg.Exchanges.OKX.Enabled {
		out = append(out, "okx")
	}
	return out
}
