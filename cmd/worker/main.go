package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go-bridge/internal/config"
	"go-bridge/internal/logging"
	"go-bridge/internal/otel"
	"go-bridge/internal/static"
	"go-bridge/relay"
	"go-bridge/server"
	"go-bridge/worker"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "worker",
		Usage: "serve framed requests from stdin, answering on stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "routes",
				Usage: "Path to a JSON routes file.",
			},
			&cli.StringFlag{
				Name:  "static-dir",
				Usage: "Directory served for --static-prefix, relative to the working directory.",
			},
			&cli.StringFlag{
				Name:  "static-prefix",
				Usage: "URL prefix mapped to --static-dir.",
				Value: "/static/",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Reload the routes file when it changes.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	boot := logging.Bootstrap().Sugar()

	cfg, err := config.Load(boot)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar().Named("worker")

	codec, err := server.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	shutdown, err := otel.Setup(ctx, cfg.Tracing())
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			sugar.Warnw("tracing shutdown failed", "error", err)
		}
	}()

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	var rules []static.Rule
	if dir := c.String("static-dir"); dir != "" {
		rules = append(rules, static.Rule{Prefix: c.String("static-prefix"), Dir: dir})
	}

	routesPath := c.String("routes")
	a, err := newApp(root, routesPath, rules, sugar.Named("routes"))
	if err != nil {
		return err
	}

	r := relay.NewStreamRelay(os.Stdin, os.Stdout, relay.WithMaxFrameSize(cfg.MaxFrameBytes()))
	w := worker.New(r, worker.WithLogger(sugar.Named("wire")))
	srv := server.New(w, server.HandlerDispatcher(a),
		server.WithLogger(sugar.Named("serve")),
		server.WithCodec(codec),
		server.WithStrictFrames(cfg.StrictFrames),
	)
	a.stats = srv.Stats

	sugar.Infow("worker ready",
		"pid", os.Getpid(),
		"codec", codec.Name(),
		"strict_frames", cfg.StrictFrames,
		"max_frame_size", humanize.IBytes(uint64(r.MaxFrameSize())),
	)

	return serve(ctx, srv, a, routesPath, c.Bool("watch"), sugar)
}

// serve runs the request loop and, when asked, the routes watcher. The
// watcher stops once the loop returns.
func serve(ctx context.Context, srv *server.Server, a *app, routesPath string, watch bool, log *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx)
	})
	if watch && routesPath != "" {
		g.Go(func() error {
			if err := watchRoutes(gctx, routesPath, a.reload, log.Named("watch")); err != nil {
				log.Errorw("routes watcher stopped", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
