// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rivergate/jobqueue/internal/adminapi"
	"github.com/rivergate/jobqueue/internal/config"
	"github.com/rivergate/jobqueue/internal/cronhook"
	"github.com/rivergate/jobqueue/internal/jobqueue"
	"github.com/rivergate/jobqueue/internal/obs"
	"github.com/rivergate/jobqueue/internal/reaper"
	"github.com/rivergate/jobqueue/internal/registry"
	"github.com/rivergate/jobqueue/internal/worker"
)

var version = "dev"

// DeliverEmailArgs is the fixture handler argument shape for the
// "DeliverEmail" job class on the "mailer" queue, demonstrating the
// typed-registration path a host application's own handlers would use.
type DeliverEmailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

type deliverEmailHandler struct{}

func (deliverEmailHandler) Perform(ctx context.Context, args DeliverEmailArgs) error {
	if args.To == "" {
		return fmt.Errorf("deliver_email: missing recipient")
	}
	return nil
}

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Observability.LogFile != "" {
		log = obs.NewRotatingLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	} else {
		log, err = obs.NewLogger(cfg.Observability.LogLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := jobqueue.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("build backend failed", obs.Err(err))
	}
	defer q.Close()

	if err := jobqueue.Converge(ctx, cfg, q.Backend()); err != nil {
		log.Fatal("converge failed", obs.Err(err))
	}

	reg := registry.New()
	if err := registry.Register[DeliverEmailArgs](reg, "DeliverEmail", deliverEmailHandler{}); err != nil {
		log.Fatal("register handler failed", obs.Err(err))
	}
	q.SetRegistry(reg)

	metricsSrv := obs.StartMetricsServer(cfg, q.Backend().Ping)
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	var scheduler *cronhook.Scheduler
	if cfg.Cron.Enabled {
		scheduler, err = cronhook.New(cfg, q, log)
		if err != nil {
			log.Fatal("cron setup failed", obs.Err(err))
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	rep := reaper.New(cfg, q.Backend(), log)
	go rep.Run(ctx)

	if cfg.AdminAPI.Enabled {
		srv := adminapi.NewServer(q.Backend(), log, cfg.AdminAPI.RequestsPerSecond)
		go func() {
			if err := srv.ListenAndServe(cfg.AdminAPI.Addr); err != nil {
				log.Warn("admin api exited", obs.Err(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			log.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(cfg.Worker.ShutdownTimeout + 5*time.Second):
		}
	}()

	pool := worker.New(cfg, q.Backend(), reg, log, cfg.Worker.Tags)
	if err := pool.Run(ctx); err != nil {
		log.Fatal("worker pool error", obs.Err(err))
	}
}
