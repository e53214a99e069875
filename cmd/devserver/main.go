package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go-bridge/internal/config"
	"go-bridge/internal/logging"
	"go-bridge/internal/otel"
	"go-bridge/peer"
	"go-bridge/server"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:      "devserver",
		Usage:     "serve HTTP through a single spawned worker",
		ArgsUsage: "-- <worker command> [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "The address for the HTTP server to listen on.",
				Value:   ":8080",
				EnvVars: []string{"BRIDGE_DEVSERVER_ADDR"},
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to devserver.json. Defaults to the project root.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("missing worker command, pass it after --")
	}

	boot := logging.Bootstrap().Sugar()
	envCfg, err := config.Load(boot)
	if err != nil {
		return err
	}

	logger, err := logging.New(envCfg.LogLevel, envCfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar().Named("devserver")

	codec, err := server.CodecByName(envCfg.Codec)
	if err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	root := projectRoot(wd)
	cfgPath := c.String("config")
	if cfgPath == "" {
		cfgPath = filepath.Join(root, configFileName)
	}
	cfg := loadConfig(cfgPath, sugar.Named("config"))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing := envCfg.Tracing()
	tracing.ServiceName = "go-bridge-devserver"
	shutdownTracing, err := otel.Setup(ctx, tracing)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			sugar.Warnw("tracing shutdown failed", "error", err)
		}
	}()

	args := c.Args().Slice()
	proc, err := peer.Start(args[0], args[1:],
		peer.WithDir(cfg.WorkerDir),
		peer.WithMaxRequests(cfg.MaxRequestsPerWorker),
		peer.WithRequestTimeout(time.Duration(cfg.RequestTimeoutMs)*time.Millisecond),
		peer.WithCodec(codec),
		peer.WithMaxFrameSize(envCfg.MaxFrameBytes()),
		peer.WithLogger(sugar.Named("worker")),
	)
	if err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer func() {
		if err := proc.Stop(); err != nil {
			sugar.Warnw("worker stop", "error", err)
		}
	}()

	fe := newFrontend(proc, root, cfg.Static, sugar.Named("http"))
	httpSrv := &http.Server{
		Addr:    c.String("addr"),
		Handler: fe.routes(),
	}

	go func() {
		<-ctx.Done()
		sugar.Info("[shutdown] signal received, shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			sugar.Errorw("[shutdown] http server shutdown error", "error", err)
		} else {
			sugar.Info("[shutdown] http server shut down cleanly")
		}
	}()

	sugar.Infow("listening",
		"addr", httpSrv.Addr,
		"worker", args,
		"worker_pid", proc.Pid(),
		"codec", codec.Name(),
		"timeout_ms", cfg.RequestTimeoutMs,
		"max_requests", cfg.MaxRequestsPerWorker,
		"max_frame_size", humanize.IBytes(uint64(envCfg.MaxFrameBytes())),
	)
	for _, rule := range cfg.Static {
		sugar.Infof("static %s → %s", rule.Prefix, filepath.Join(root, rule.Dir))
	}

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
