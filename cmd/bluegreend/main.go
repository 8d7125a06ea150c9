package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/ragchat/bluegreen/pkg/build"
	"github.com/ragchat/bluegreen/pkg/config"
	"github.com/ragchat/bluegreen/pkg/daemon"
	"github.com/ragchat/bluegreen/pkg/deploy"
	"github.com/ragchat/bluegreen/pkg/event"
	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/fleet/docker"
	"github.com/ragchat/bluegreen/pkg/fleet/ecs"
	"github.com/ragchat/bluegreen/pkg/fleet/local"
	"github.com/ragchat/bluegreen/pkg/history"
	daemonhttp "github.com/ragchat/bluegreen/pkg/http/daemon"
	"github.com/ragchat/bluegreen/pkg/job"
	"github.com/ragchat/bluegreen/pkg/pipeline"
	"github.com/ragchat/bluegreen/pkg/probe"
	"github.com/ragchat/bluegreen/pkg/router"
	"github.com/ragchat/bluegreen/pkg/router/alb"
	"github.com/ragchat/bluegreen/pkg/service"
)

var version string

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  bluegreend is a blue-green deployment daemon.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}
	var (
		listenAddr     = fs.StringP("listen", "l", ":3030", "Listen address for API clients and metrics")
		configPath     = fs.StringP("config", "c", "bluegreen.yaml", "Path to the deployment config file")
		databaseSource = fs.String("database-source", "", `Database source name for the event archive, e.g. "postgres://user@host/db"; leave empty to keep events in memory only`)
		jobTimeout     = fs.Duration("job-timeout", time.Hour, "Abort a pipeline run that takes longer than this")
		cacheSize      = fs.Int("run-cache-size", 100, "Number of recent run statuses to keep for polling")
		probeRPS       = fs.Float64("probe-rps", 50, "Maximum sustained rate of health probes, in requests per second")
		probeBurst     = fs.Int("probe-burst", 10, "Burst of health probes allowed over the sustained rate")
		versionFlag    = fs.BoolP("version", "v", false, "Print the version and exit")
	)
	fs.Parse(os.Args)

	if version == "" {
		version = "unversioned"
	}
	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	// Logger component.
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger.Log("version", version)

	// Config component. Everything else hangs off the service catalog
	// and the resolved per-service deploy settings.
	var (
		cfg      config.Config
		catalog  service.Catalog
		settings map[string]deploy.Settings
	)
	{
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Log("stage", "config", "err", err)
			os.Exit(1)
		}
		catalog = cfg.Catalog()
		settings, err = cfg.Settings()
		if err != nil {
			logger.Log("stage", "config", "err", err)
			os.Exit(1)
		}
		logger.Log("config", *configPath, "services", strings.Join(catalog.Names(), ","))
	}

	// Fleet manager component.
	var fm fleet.Manager
	{
		logger := log.With(logger, "component", "fleet")
		switch cfg.Fleet.Type {
		case config.FleetLocal:
			fm = local.NewFleet(time.Duration(cfg.Fleet.Local.StartupDelay))
			logger.Log("fleet", "local", "startup-delay", time.Duration(cfg.Fleet.Local.StartupDelay))
		case config.FleetDocker:
			prober := probe.NewProber(*probeRPS, *probeBurst, logger)
			f, err := docker.NewFleet(cfg.Fleet.Docker.Host, cfg.Fleet.Docker.Network, catalog, prober, logger)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			fm = f
			logger.Log("fleet", "docker", "network", cfg.Fleet.Docker.Network)
		case config.FleetECS:
			fm = ecs.NewFleet(ecs.Config{
				Region:           cfg.Fleet.ECS.Region,
				Cluster:          cfg.Fleet.ECS.Cluster,
				Subnets:          cfg.Fleet.ECS.Subnets,
				SecurityGroups:   cfg.Fleet.ECS.SecurityGroups,
				AssignPublicIP:   cfg.Fleet.ECS.AssignPublicIP,
				ExecutionRoleARN: cfg.Fleet.ECS.ExecutionRoleARN,
				CPU:              cfg.Fleet.ECS.CPU,
				Memory:           cfg.Fleet.ECS.Memory,
				TargetGroups:     cfg.Fleet.ECS.TargetGroups,
			}, catalog, logger)
			logger.Log("fleet", "ecs", "cluster", cfg.Fleet.ECS.Cluster, "region", cfg.Fleet.ECS.Region)
		}
	}

	// Traffic router component.
	var rt router.Router
	{
		logger := log.With(logger, "component", "router")
		switch cfg.Router.Type {
		case config.RouterInMem:
			rt = router.NewInMem()
			logger.Log("router", "inmem")
		case config.RouterALB:
			rt = alb.NewRouter(alb.Config{
				Region:       cfg.Router.ALB.Region,
				ListenerARN:  cfg.Router.ALB.ListenerARN,
				TargetGroups: cfg.Router.ALB.TargetGroups,
			})
			logger.Log("router", "alb", "listener", cfg.Router.ALB.ListenerARN)
		}
	}

	// Event archive component.
	var archive history.DB
	{
		logger := log.With(logger, "component", "history")
		if *databaseSource == "" {
			archive = history.NewMem()
			logger.Log("archive", "memory")
		} else {
			u, err := url.Parse(*databaseSource)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			db, err := history.NewSQL(driverForScheme(u.Scheme), *databaseSource, logger)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			archive = db
			logger.Log("archive", u.Scheme)
		}
	}

	// Event fan-out: every event lands in the archive and goes to any
	// connected watchers.
	var (
		broker *event.Broker
		events event.EventWriter
	)
	{
		broker = event.NewBroker()
		events = event.MultiWriter(archive, broker)
	}

	// Deployment engine component.
	var engine *deploy.Engine
	{
		engine = deploy.New(fm, rt, events, log.With(logger, "component", "deploy"))
	}

	// Pipeline controller component.
	var controller *pipeline.Controller
	{
		controller = &pipeline.Controller{
			Sourcer:  build.PinSourcer{},
			Builder:  build.TagBuilder{},
			Deployer: engine,
			Catalog:  catalog,
			Settings: settings,
			Events:   events,
			Logger:   log.With(logger, "component", "pipeline"),
		}
	}

	// Job queue component; runs execute here, one at a time.
	var (
		stop  = make(chan struct{})
		wg    = &sync.WaitGroup{}
		queue *job.Queue
		cache *job.StatusCache
	)
	{
		queue = job.NewQueue(stop, wg)
		cache = &job.StatusCache{Size: *cacheSize}
	}

	// Daemon component.
	var d *daemon.Daemon
	{
		d = &daemon.Daemon{
			V:              version,
			Catalog:        catalog,
			Fleet:          fm,
			Router:         rt,
			Pipeline:       controller,
			Deployer:       engine,
			Jobs:           queue,
			JobStatusCache: cache,
			History:        archive,
			Logger:         log.With(logger, "component", "daemon"),
			JobTimeout:     *jobTimeout,
		}
		wg.Add(1)
		go d.Loop(stop, wg, log.With(logger, "component", "daemon", "loop", "jobs"))
	}

	// Mechanical components.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	// HTTP transport component.
	go func() {
		logger.Log("addr", *listenAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/", daemonhttp.NewHandler(d, daemonhttp.NewRouter(), broker))
		errc <- http.ListenAndServe(*listenAddr, mux)
	}()

	// Go!
	logger.Log("exit", <-errc)

	// Let a run in progress finish before quitting.
	close(stop)
	wg.Wait()
}

// The archive schema is written for postgres; both URL schemes lib/pq
// accepts map to the one registered driver.
func driverForScheme(scheme string) string {
	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return scheme
	}
}
