package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"max.com/perpvault/pkg/config"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/logger"
	"max.com/perpvault/pkg/simulation"
)

func main() {
	app := &cli.App{
		Name:     "simulation",
		HelpName: "simulation",
		Usage:    "LP vault funding / delayed order / liquidation simulator",
		Commands: []*cli.Command{
			{
				Name:     "run",
				HelpName: "run",
				Usage:    "Run the full scenario against an in-process vault",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "eg. ./perpvault.yml (defaults + PERPVAULT_* env when empty)",
					},
					&cli.IntFlag{
						Name:    "steps",
						Aliases: []string{"n"},
						Usage:   "simulated hours after positions are opened",
						Value:   12,
					},
					&cli.BoolFlag{
						Name:  "hold",
						Usage: "keep the metrics endpoint up after the run until SIGINT",
					},
				},
				Action: run,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger.Initialize(cfg.App.LogLevel)
	log := logger.For("simulation")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := simulation.Build(ctx, cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}
	defer func() {
		if err := sys.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	var server *http.Server
	if sys.Metrics != nil {
		server = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           sys.Metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint up")
	}

	report, err := sys.Run(ctx, c.Int("steps"))
	if err != nil {
		return err
	}

	log.Info().
		Int("steps", report.Steps).
		Int("liquidations", report.Liquidations).
		Str("final_price", fixedpoint.Format(report.FinalPrice)).
		Str("lp_liquidity", fixedpoint.Format(report.State.Pool.LpTotalDepositedLiquidity)).
		Str("open_interest", fixedpoint.Format(report.State.Global.TotalOpenedPositions)).
		Msg("simulation finished")
	for t, n := range report.EventCounts {
		log.Info().Str("event", string(t)).Int("count", n).Msg("events")
	}

	if server != nil {
		if c.Bool("hold") {
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
	return nil
}
