package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"floradaemon/internal/config"
	"floradaemon/internal/daemon"
	"floradaemon/internal/events"
	"floradaemon/internal/logging"
	"floradaemon/internal/metrics"
	"floradaemon/internal/miflora"
	"floradaemon/internal/mqtt"
	"floradaemon/internal/polling"
	"floradaemon/internal/report"
	"floradaemon/internal/status"
)

// Version is set at build time via -ldflags "-X main.Version=vX.Y.Z"
var Version = "dev"

const eventHistory = 200

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config.yaml")
	configDir := flag.String("config-dir", "", "Directory containing config.yaml and an optional .env")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("floradaemon %s\n", Version)
		return 0
	}

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "floradaemon: %v\n", err)
		return 2
	}
	logger := logging.New(os.Stderr, level)

	path, err := config.FindConfig(*configPath, *configDir)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to locate configuration")
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("Failed to load configuration")
		return 1
	}
	for _, w := range cfg.Warnings() {
		logger.Warn().Str("file", path).Msg(w)
	}
	logger.Info().Msgf("Configuration loaded: %s", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Fatal error")
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	encoder, err := report.NewEncoder(cfg.Mode(), cfg.BaseTopic(), cfg.Period())
	if err != nil {
		return err
	}

	backend, err := miflora.NewBLEBackend(cfg.General.Adapter)
	if err != nil {
		return fmt.Errorf("bluetooth adapter %s: %w", cfg.General.Adapter, err)
	}

	handles := cfg.Registry().All()
	targets := make([]daemon.Target, 0, len(handles))
	for _, h := range handles {
		targets = append(targets, daemon.Target{
			Handle: h,
			Device: miflora.NewPoller(h.Address, backend, cfg.CacheTimeout()),
		})
	}

	var sink daemon.Sink
	if cfg.Mode().UsesBus() {
		sessions, err := mqtt.NewSessions(mqtt.Config{
			Host:        cfg.MQTT.Hostname,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			KeepAlive:   cfg.KeepAlive(),
			UseTLS:      cfg.MQTT.TLS,
			TLSCACert:   cfg.MQTT.TLSCACert,
			TLSCertFile: cfg.MQTT.TLSCertFile,
			TLSKeyFile:  cfg.MQTT.TLSKeyFile,
			Will:        encoder.Will(),
		}, encoder.Sessions(handles), logging.Component(logger, "mqtt"))
		if err != nil {
			return err
		}
		defer sessions.Disconnect()

		if err := sessions.Connect(); err != nil {
			return err
		}
		sink = mqtt.NewPublisher(sessions, logging.Component(logger, "mqtt"))
	} else {
		sink = mqtt.NewPrinter(os.Stdout)
	}

	collector := metrics.New()
	store := events.NewStore(eventHistory)
	hub := status.NewHub(logging.Component(logger, "status"))

	if listen := cfg.Status.Listen; listen != "" {
		srv := status.NewServer(cfg.Registry(), collector.Handler(), store, hub, Version, logging.Component(logger, "status"))
		go func() {
			if err := srv.Run(ctx, listen); err != nil {
				logger.Error().Err(err).Str("addr", listen).Msg("Status server failed")
			}
		}()
		printAccessURLs(listen)
	}

	engine := polling.NewEngine(logging.Component(logger, "poller"))
	scheduler := daemon.New(targets, engine, encoder, sink, daemon.Options{
		Daemon:    cfg.Daemon.Enabled,
		Period:    cfg.Period(),
		Observers: []daemon.Observer{collector, store, hub},
	}, logging.Component(logger, "daemon"))

	return scheduler.Run(ctx)
}

// getLocalIPs returns all local IP addresses
func getLocalIPs() []string {
	var ips []string

	interfaces, err := net.Interfaces()
	if err != nil {
		return ips
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			ips = append(ips, ip.String())
		}
	}

	return ips
}

// printAccessURLs prints the status endpoints for a listen address
func printAccessURLs(listen string) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return
	}

	hosts := []string{host}
	if host == "" || host == "0.0.0.0" {
		hosts = getLocalIPs()
		if len(hosts) == 0 {
			hosts = []string{"localhost"}
		}
	}

	var b strings.Builder
	b.WriteString("\nStatus endpoints:\n")
	for _, h := range hosts {
		fmt.Fprintf(&b, "  http://%s/api/sensors\n", net.JoinHostPort(h, port))
	}
	fmt.Fprintln(os.Stderr, b.String())
}
