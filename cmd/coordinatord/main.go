package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blindmix/coordinator/internal/config"
	"github.com/blindmix/coordinator/internal/core/application"
	coordinatorhttp "github.com/blindmix/coordinator/internal/transport/http"
	log "github.com/sirupsen/logrus"
)

//nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	deps, err := cfg.Build()
	if err != nil {
		log.WithError(err).Fatal("failed to build infrastructure")
	}

	coordinator := application.NewCoordinator(cfg.Config, deps.ChainOracle, deps.BanStore, deps.BlindSigner, deps.TxBuilder, deps.Scheduler)

	log.Info("starting coordinator...")
	if err := coordinator.Start(); err != nil {
		log.WithError(err).Fatal("failed to start coordinator")
	}
	log.RegisterExitHandler(coordinator.Stop)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: coordinatorhttp.New(coordinator),
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, os.Interrupt)
	<-sigChan

	log.Info("shutting down...")
	_ = srv.Close()
	log.Exit(0)
}
