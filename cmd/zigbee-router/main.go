// Command zigbee-router brings up a Zigbee router node: it registers the
// configured device profile with the network stack and drives
// commissioning until the node has joined a network.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"zigbee-go-router/internal/commissioning"
	"zigbee-go-router/internal/events"
	"zigbee-go-router/internal/ncp"
	"zigbee-go-router/internal/profile"
	"zigbee-go-router/internal/sim"
	"zigbee-go-router/internal/stack"
	"zigbee-go-router/internal/store"
	"zigbee-go-router/internal/web"
	"zigbee-go-router/internal/zcl"
	"zigbee-go-router/internal/zcl/clusters"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// nodeStatus is what /api/status, MQTT and scripts see.
type nodeStatus struct {
	commissioning.Snapshot
	Backend     string `json:"backend"`
	Fingerprint string `json:"fingerprint"`
	BootID      string `json:"boot_id"`
	Version     string `json:"version"`
}

type options struct {
	configPath   string
	simulate     bool
	factoryReset bool
	showVersion  bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("zigbee-router", flag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	fs.BoolVar(&opts.simulate, "simulate", false, "use the in-process simulated stack instead of the NCP")
	fs.BoolVar(&opts.factoryReset, "factory-reset", false, "erase network state before starting")
	fs.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		if fs.Changed("config") {
			return opts, fmt.Errorf("config path given twice")
		}
		opts.configPath = fs.Arg(0)
	default:
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args()[1:], " "))
	}
	return opts, nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		bootLogger.Error("parse flags", "err", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println("zigbee-router", version)
		return
	}

	// The default path may be absent; an explicit one must exist.
	cfg, err := loadConfig(opts.configPath, opts.configPath != "config.yaml")
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if opts.simulate {
		cfg.Backend = backendSim
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	bootID := uuid.NewString()
	logger.Info("zigbee-router starting", "version", version, "backend", cfg.Backend, "boot_id", bootID)

	registry := zcl.NewRegistry(logger)
	if err := clusters.RegisterStandard(registry); err != nil {
		logger.Error("register clusters", "err", err)
		os.Exit(1)
	}

	desc, err := profile.Build(cfg.Device, registry)
	if err != nil {
		logger.Error("build device descriptor", "err", err)
		os.Exit(1)
	}
	fp, err := desc.Fingerprint()
	if err != nil {
		logger.Error("fingerprint descriptor", "err", err)
		os.Exit(1)
	}
	logger.Info("device descriptor built", "endpoints", len(desc.Endpoints), "fingerprint", fp.Short())

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetHistoryLimit(cfg.Store.HistoryLimit)

	bus := events.NewBus(logger)
	jr := newJournal(db, bootID, logger)
	jr.Start(bus)

	backend, err := newBackend(cfg, db, logger)
	if err != nil {
		logger.Error("create backend", "err", err)
		os.Exit(1)
	}

	if opts.factoryReset {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := backend.FactoryReset(ctx)
		cancel()
		if err != nil {
			logger.Error("factory reset", "err", err)
			backend.Close()
			os.Exit(1)
		}
		logger.Info("factory reset done")
		bus.Emit(events.Event{Type: events.EventFactoryReset, Data: map[string]interface{}{"backend": cfg.Backend}})
	}

	if err := backend.RegisterDevice(desc); err != nil {
		logger.Error("register device", "err", err)
		backend.Close()
		os.Exit(1)
	}

	var machine *commissioning.Machine
	loop := stack.NewLoop(func(sig stack.Signal) { machine.HandleSignal(sig) }, logger)
	machine = commissioning.NewMachine(backend, loop, logger,
		commissioning.WithRetryPolicy(cfg.Retry.policy()),
		commissioning.WithEmitter(bus),
	)

	status := func() interface{} {
		return nodeStatus{
			Snapshot:    machine.Snapshot(),
			Backend:     cfg.Backend,
			Fingerprint: fp.String(),
			BootID:      bootID,
			Version:     version,
		}
	}

	// Start automation engine (no-op when built with no_automation tag).
	auto := initAutomation(cfg, bus, status, logger)

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(cfg, desc, bootID, bus, status, logger)

	var webServer *web.Server
	var httpServer *http.Server
	if cfg.Web.Listen != "" {
		webOpts := []web.ServerOption{web.WithVersion(version), web.WithHistory(db)}
		if cfg.Web.APIKey != "" {
			webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
		}
		if len(cfg.Web.AllowedOrigins) > 0 {
			webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
		}
		webServer, err = web.NewServer(desc, status, bus, logger, webOpts...)
		if err != nil {
			logger.Error("create web server", "err", err)
			os.Exit(1)
		}
		httpServer = &http.Server{
			Addr:         cfg.Web.Listen,
			Handler:      webServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Info("web server starting", "addr", cfg.Web.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	if err := backend.Start(loop); err != nil {
		logger.Error("start backend", "err", err)
		stop()
		<-loopDone
		backend.Close()
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := backend.Close(); err != nil {
		logger.Warn("close backend", "err", err)
	}
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("event loop", "err", err)
	}
	auto.Stop()
	mqtt.Stop()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "err", err)
		}
		webServer.Stop()
	}
	jr.Stop()

	logger.Info("goodbye", "phase", machine.Snapshot().Phase.String())
}

func newBackend(cfg *Config, st store.Store, logger *slog.Logger) (stack.Stack, error) {
	switch cfg.Backend {
	case backendSim:
		logger.Info("using simulated stack", "channel", cfg.Sim.Channel, "pan_id", fmt.Sprintf("0x%04X", cfg.Sim.PanID))
		return sim.New(st, cfg.Sim, logger)
	case backendNCP:
		logger.Info("using ZBOSS NCP", "port", cfg.NCP.Port, "baud", cfg.NCP.BaudRate)
		return ncp.Open(cfg.NCP, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend: %q", cfg.Backend)
	}
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
