package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"facturador/internal/adapters/cli"
	"facturador/internal/adapters/web"
	"facturador/internal/app"
	"facturador/internal/config"
	"facturador/internal/core"
	"facturador/internal/db"
	"facturador/internal/fiscal"
	"facturador/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	authority := fiscal.NewClient(cfg.FiscalBaseURL, cfg.FiscalToken, cfg.FiscalCUIT, cfg.FiscalTimeout, log)
	ledger := core.NewLedger(pool)
	orders := core.NewOrderService(pool, ledger, authority, cfg.PointOfSale, log)
	reporting := core.NewReporting(pool)
	svc := app.New(orders, ledger, reporting)

	deps := cli.Deps{
		Cfg:     cfg,
		Log:     log,
		Pool:    pool,
		Svc:     svc,
		Handler: web.NewHandler(svc, log, cfg.AllowedOrigins),
	}
	return cli.Execute(ctx, deps)
}
