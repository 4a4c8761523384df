package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/segcache/internal/cache"
	"github.com/dokzlo13/segcache/internal/config"
	"github.com/dokzlo13/segcache/internal/lua"
	"github.com/dokzlo13/segcache/internal/metrics"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if flag.NArg() > 0 {
		cfg.Script = flag.Arg(0)
	}

	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	if err := run(signalContext(), cfg); err != nil {
		log.Fatal().Err(err).Msg("segcache failed")
	}
}

// loadConfig reads path, falling back to defaults when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("config", path).Msg("Configuration file not found, using defaults")
		return config.Default(), nil
	}
	return cfg, err
}

func run(ctx context.Context, cfg *config.Config) error {
	var opts []cache.Option
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		opts = append(opts, cache.WithMetrics(metrics.New(reg)))
	}

	conn := cache.New(cfg.Cache.StorageOptions(), opts...)
	settings := conn.Settings()
	log.Info().
		Str("connection", conn.ID()).
		Str("engine", settings.Engine).
		Str("base", settings.Base).
		Str("partition", settings.Partition).
		Msg("Starting segcache")

	if err := conn.Start(ctx); err != nil {
		return err
	}

	rt := lua.NewRuntime(conn)
	scriptErr := rt.LoadScript(ctx, cfg.Script)
	rt.Close()

	if err := conn.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	if cfg.Metrics.Enabled {
		logMetrics(reg)
	}
	return scriptErr
}

// logMetrics writes every gathered sample as one log line.
func logMetrics(reg prometheus.Gatherer) {
	families, err := reg.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to gather metrics")
		return
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			event := log.Info().Str("metric", mf.GetName())
			for _, lp := range m.GetLabel() {
				event = event.Str(lp.GetName(), lp.GetValue())
			}
			event.Float64("value", sampleValue(mf.GetType(), m)).Msg("Metric")
		}
	}
}

func sampleValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return m.GetUntyped().GetValue()
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
