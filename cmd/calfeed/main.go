package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/automaxprocs/maxprocs"

	"calfeed/internal/config"
	"calfeed/internal/feed"
	"calfeed/internal/ics"
	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
	"calfeed/internal/model"
	"calfeed/internal/normalize"
	"calfeed/internal/probe"
	"calfeed/internal/upstream"
	"calfeed/internal/web"
)

const shutdownGrace = 5 * time.Second

type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	flags := parseFlags()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		appLog.Debug("maxprocs", "msg", format, "args", args)
	})); err != nil {
		appLog.Error("failed to set GOMAXPROCS", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.Log.Level = "debug"
	}

	if err := appLog.Configure(conf.Log.Level, conf.Log.Format); err != nil {
		appLog.Error("failed to configure logger", err)
		os.Exit(1)
	}
	defer appLog.Sync()

	appLog.Info("calfeed starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"upstream_timeout", conf.Upstream.Timeout.String(),
		"probe_cron", conf.ProbeCron(),
	)

	if err := run(conf, flags.debug); err != nil {
		appLog.Error("calfeed exited with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("calfeed exiting")
}

func run(conf *config.Config, debug bool) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	sites := make(map[string]model.Geo, len(conf.Sites))
	for _, s := range conf.Sites {
		sites[s.Code] = model.Geo{Lat: s.Lat, Lon: s.Lon}
	}

	m := metrics.New()
	client := upstream.NewClient(upstream.Config{
		LessonsURL: conf.Upstream.LessonsURL,
		ExamsURL:   conf.Upstream.ExamsURL,
		School:     conf.Upstream.School,
	}, conf.Upstream.Timeout)

	siteTable := model.NewSiteTable(sites)
	appLog.Info("site table loaded", "sites", siteTable.Len())

	normalizer := normalize.New(normalize.Options{
		Location:    loc,
		Sites:       siteTable,
		Institution: conf.Institution,
		ClosureTag:  conf.Upstream.ClosureTag,
	})
	assembler := ics.NewAssembler(ics.Options{
		ProductID: conf.Calendar.ProductID,
		Name:      conf.Calendar.Name,
		Timezone:  conf.Timezone,
	})
	feeds := feed.NewService(client, normalizer, assembler, m)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready, stopProbe, err := startProbe(ctx, conf, client, m)
	if err != nil {
		return err
	}
	defer stopProbe()

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := web.NewServer(conf, feeds, ready, m).HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// startProbe schedules the upstream probe. With the probe disabled it
// returns a nil Readiness, so /ready always answers 200.
func startProbe(ctx context.Context, conf *config.Config, p probe.Pinger, m *metrics.Service) (web.Readiness, func(), error) {
	pr := probe.New(p, m, conf.Upstream.Timeout)
	err := pr.Start(ctx, conf.ProbeCron())
	switch {
	case errors.Is(err, probe.ErrNoSchedule):
		appLog.Info("upstream probe disabled")
		return nil, func() {}, nil
	case err != nil:
		return nil, nil, err
	}
	return pr, pr.Stop, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calfeed/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and gin debug mode")

	flag.Parse()

	return cfg
}
