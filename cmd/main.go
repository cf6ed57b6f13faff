package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"extruderctl"
	"extruderctl/internal/auth"
	"extruderctl/internal/config"
	"extruderctl/internal/control"
	"extruderctl/internal/datalog"
	"extruderctl/internal/handlers"
	"extruderctl/internal/hardware"
	"extruderctl/internal/logger"
	"extruderctl/internal/metrics"
	"extruderctl/internal/repository"
	"extruderctl/internal/repository/db"
	"extruderctl/internal/server"
)

const controlJoinTimeout = 3 * time.Second

func main() {
	// load config.yml first so the logger gets the configured level
	cfg, warnings, err := config.Load("configs", "config")
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	log := logger.Get(cfg.Server.LogLevel)
	for _, w := range warnings {
		log.Warnw("config", "warning", w)
	}

	// open DB
	database, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := database.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(database, cfg.Alarms.Path)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	hal := hardware.NewSim()
	defer func() {
		if cerr := hal.Close(); cerr != nil {
			log.Errorw("failed to close hardware", "err", cerr)
		}
	}()

	csvLog := datalog.NewCSVLogger(cfg.Logging.Dir)

	ctl := control.New(hal, cfg, repos.Alarms, eventRecorder{repos.EventRepo}, csvLog, m, log)
	authService := auth.NewService(repos.Auth, cfg.Auth.SigningKey, cfg.TokenTTL())

	apiHandler := handlers.NewHandler(ctl, authService, repos.EventRepo, csvLog, registry, log)

	// context for the control loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlDone := make(chan struct{})
	go func() {
		defer close(controlDone)
		ctl.Run(ctx)
	}()

	// start HTTP server
	srv := &server.Server{}
	go func() {
		if err := srv.Run(cfg.Server.Port, apiHandler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()

	waitForShutdown(cancel, controlDone, ctl, srv, log)
}

// eventRecorder adapts the repository event log to the controller's sink.
type eventRecorder struct {
	repo repository.EventRepo
}

func (r eventRecorder) Record(e extruderctl.Event) error {
	return r.repo.Append(context.Background(), e)
}

// waitForShutdown listens for termination signals, stops the control loop
// (which de-energizes all outputs), then drains the HTTP server.
func waitForShutdown(cancel context.CancelFunc, controlDone <-chan struct{}, ctl *control.Controller, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop the control loop and wait for outputs to reach their safe state
	cancel()
	select {
	case <-controlDone:
	case <-time.After(controlJoinTimeout):
		// the loop normally de-energizes on exit; do it from here instead
		log.Errorw("control loop did not stop in time, forcing outputs off")
		ctl.ForceSafeOutputs()
	}

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
