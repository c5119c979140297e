// Package main runs the cooperative localizer, either over a recorded bag or live over nanomsg.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/coloc/internal/trajfile"
	"go.viam.com/coloc/localization"
	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/posegraph"
	"go.viam.com/coloc/ros"
	"go.viam.com/coloc/transport"
)

const (
	flagConfig  = "config"
	flagDebug   = "debug"
	flagLogFile = "log-file"
	flagPlot    = "plot"
	flagTrace   = "trace"
	flagSensors = "sensors"
	flagListen  = "listen"
	flagMetrics = "metrics"
)

func main() {
	var logger logging.Logger

	app := &cli.App{
		Name:  "localizer",
		Usage: "cooperative pose graph localization from odometry, UWB ranges and IMU",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "load configuration from `FILE`",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write JSON logs to `FILE`",
			},
		},
		Before: func(c *cli.Context) error {
			switch {
			case c.String(flagLogFile) != "":
				logger = logging.NewFileLogger("localizer", c.String(flagLogFile), c.Bool(flagDebug))
			case c.Bool(flagDebug):
				logger = logging.NewDebugLogger("localizer")
			default:
				logger = logging.NewLogger("localizer")
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				//nolint:errcheck
				logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "replay",
				Usage:     "replay a recorded bag through the localizer",
				ArgsUsage: "<bag>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "save a PNG of the optimized path to `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagTrace,
						Usage: "log every dispatched message and published pose",
					},
				},
				Action: func(c *cli.Context) error {
					return replayAction(c, logger)
				},
			},
			{
				Name:  "serve",
				Usage: "localize live from sensor publishers",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     flagSensors,
						Usage:    "nanomsg `ADDRESS`es publishing measurements",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagListen,
						Usage: "nanomsg `ADDRESS` the optimized pose and path are published on",
						Value: "tcp://127.0.0.1:40899",
					},
					&cli.StringFlag{
						Name:  flagMetrics,
						Usage: "serve prometheus metrics on `ADDRESS`",
						Value: "localhost:9464",
					},
				},
				Action: func(c *cli.Context) error {
					return serveAction(c, logger)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func publishers(cfg *localization.Config, clk clock.Clock, extra ...localization.Publisher) (localization.MultiPublisher, func() error, error) {
	pubs := localization.MultiPublisher(extra)
	closers := []func() error{}
	if cfg.OutputPrefix != "" {
		maxIterations := cfg.MaxIterations
		if maxIterations == 0 {
			maxIterations = localization.DefaultMaxIterations
		}
		w, err := trajfile.New(cfg.OutputPrefix, maxIterations, clk)
		if err != nil {
			return nil, nil, err
		}
		pubs = append(pubs, w)
		closers = append(closers, w.Close)
	}
	return pubs, func() error {
		var err error
		for _, c := range closers {
			err = multierr.Combine(err, c())
		}
		return err
	}, nil
}

func replayAction(c *cli.Context, logger logging.Logger) (err error) {
	if c.Args().Len() != 1 {
		return errors.New("replay needs exactly one bag file")
	}
	cfg, err := readConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	rb, err := ros.ReadBag(c.Args().First())
	if err != nil {
		return err
	}
	topics := ros.DefaultTopics()
	msgs, err := ros.BagMessages(rb, topics)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return errors.Errorf("bag has no messages on %v", topics.Names())
	}

	// seed vertices are stamped at the start of the recording
	clk := clock.NewMock()
	clk.Set(msgs[0].Stamp)

	pubs, closePubs, err := publishers(cfg, clock.New())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closePubs())
	}()

	summary := &solveSummary{}
	loc, err := localization.NewLocalizer(
		cfg,
		posegraph.NewGraph(logger.Sublogger("graph")),
		pubs,
		logger,
		localization.WithClock(clk),
		localization.WithSolveObserver(summary.observe),
	)
	if err != nil {
		return err
	}

	ctx := c.Context
	if c.Bool(flagTrace) {
		ctx = logging.EnableDebugMode(ctx, "replay")
	}
	start := time.Now()
	stats, err := ros.Replay(ctx, loc, topics, msgs, logger)
	if err != nil {
		return err
	}
	logger.Infow("replayed bag", "messages", stats.Total(), "took", time.Since(start),
		"span", stats.Last.Sub(stats.First))
	summary.log(logger)

	if last, ok := loc.LastPublished(); ok {
		fmt.Fprintf(c.App.Writer, "%s\n", trajfile.Line(last))
	}
	if file := c.String(flagPlot); file != "" {
		path, err := loc.Path(loc.SelfID())
		if err != nil {
			return err
		}
		if err := plotPath(path, cfg, file); err != nil {
			return err
		}
		logger.Infow("saved path plot", "file", file)
	}
	return nil
}

func serveAction(c *cli.Context, logger logging.Logger) (err error) {
	cfg, err := readConfig(c.String(flagConfig))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := localization.NewMetrics(reg)

	out, err := transport.NewPublisher(c.String(flagListen))
	if err != nil {
		return err
	}
	pubs, closePubs, err := publishers(cfg, clock.New(), out)
	if err != nil {
		return multierr.Combine(err, out.Close())
	}
	defer func() {
		err = multierr.Combine(err, closePubs(), out.Close())
	}()

	summary := &solveSummary{}
	loc, err := localization.NewLocalizer(
		cfg,
		posegraph.NewGraph(logger.Sublogger("graph")),
		pubs,
		logger,
		localization.WithMetrics(metrics),
		localization.WithSolveObserver(summary.observe),
	)
	if err != nil {
		return err
	}

	sub, err := transport.NewSubscriber(c.Context, c.StringSlice(flagSensors), ros.DefaultTopics(), loc,
		logger.Sublogger("transport"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, sub.Close())
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              c.String(flagMetrics),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	logger.Infow("serving", "metrics", srv.Addr, "publish", c.String(flagListen))

	select {
	case <-c.Context.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "metrics server failed")
		}
	}
	summary.log(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
