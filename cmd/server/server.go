package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dasim/internal/api"
	"dasim/internal/config"
	dasimNet "dasim/internal/net"
	"dasim/internal/sim"
	"dasim/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	envPath := flag.String("env", "", "Path to a .env file (default ./.env)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(cfg.LogLevel())
	if cfg.Logging.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// Setup the simulation and its matching engine.
	simulation, err := sim.New(*cfg)
	if err != nil {
		return err
	}

	var st *store.Store
	var recorder *store.Recorder
	if cfg.Store.Path != "" {
		if st, err = store.Open(cfg.Store.Path); err != nil {
			return err
		}
		defer st.Close()
		recorder = store.NewRecorder(st)
		if err := recorder.Start(simulation); err != nil {
			return err
		}
	}

	// Setup the TCP gateway and the HTTP API.
	gateway := dasimNet.New(cfg.Gateway.Address, cfg.Gateway.Port, uint(cfg.Gateway.Workers), simulation)
	simulation.AddObserver(gateway)
	apiServer := api.NewServer(simulation, st, cfg.API.AllowedOrigins)

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error {
		return gateway.Run(ctx)
	})
	t.Go(func() error {
		err := apiServer.Start(ctx, cfg.API.Address)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	t.Go(func() error {
		err := simulation.Run(ctx)
		if recorder != nil {
			if ferr := recorder.Finish(simulation); ferr != nil {
				log.Error().Err(ferr).Msg("unable to store results")
			}
		}
		if err != nil {
			return err
		}
		logResults(simulation)
		// Keep serving the finished run until asked to stop.
		<-t.Dying()
		return nil
	})

	<-t.Dying()
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func logResults(simulation *sim.Simulation) {
	log.Info().Float64("price", simulation.FinalPrice()).Msg("final price")
	for _, r := range simulation.Results() {
		log.Info().
			Str("id", r.ID).
			Str("kind", r.Kind).
			Float64("balance", r.Balance).
			Int64("position", r.Position).
			Int("trades", r.Trades).
			Float64("wealth", r.Wealth).
			Msg("result")
	}
}
