package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	mb "github.com/TwoMental/modbus-devices"
	"github.com/TwoMental/modbus-devices/config"
	"github.com/TwoMental/modbus-devices/devices"
	"github.com/TwoMental/modbus-devices/mqtt"
)

func main() {
	path := flag.String("config", "config.yaml", "path of the YAML configuration")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if err := run(*path, logger); err != nil {
		logger.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func run(path string, logger zerolog.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	level, _ := zerolog.ParseLevel(cfg.Log.Level)
	logger = logger.Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := mb.NewMetrics(reg)
	if err != nil {
		return err
	}
	common := []mb.Option{mb.WithLogger(logger), mb.WithMetrics(metrics)}

	transports := make(map[string]*mb.ModbusTransport, len(cfg.Transports))
	for _, tc := range cfg.Transports {
		opts := append(tc.Options(), common...)
		var t *mb.ModbusTransport
		if tc.Type == config.TransportTCP {
			t = mb.NewModbusTCP(tc.Host, tc.Port, opts...)
		} else {
			t = mb.NewModbusRTU(tc.Device, opts...)
		}
		if err := t.Conn(); err != nil {
			return errors.Wrapf(err, "transport %s", tc.Name)
		}
		defer t.Close()
		transports[tc.Name] = t
	}

	var client *mqtt.Client
	if cfg.MQTT.Server != "" {
		client = mqtt.New(mqtt.Config{
			Server:    cfg.MQTT.Server,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			WillTopic: cfg.MQTT.Prefix + "/bridge/availability",
		}, logger)
		defer client.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, dc := range cfg.Devices {
		model, _ := devices.Lookup(dc.Model)
		dev, err := mb.NewDevice(dc.Name, model, transports[dc.Transport], append(dc.Options(), common...)...)
		if err != nil {
			return err
		}

		var onCycle func(mb.CycleResult)
		if client != nil {
			bridge := mqtt.NewBridge(dev, client, cfg.MQTT.Prefix, logger)
			if err := bridge.Start(ctx); err != nil {
				// kept by the client, retried on reconnect
				logger.Warn().Err(err).Str("device", dc.Name).Msg("subscribe")
			}
			onCycle = func(res mb.CycleResult) {
				if err := bridge.Publish(res); err != nil {
					logger.Warn().Err(err).Str("device", dev.Name()).Msg("publish")
				}
			}
		}

		interval := dc.Interval
		g.Go(func() error {
			err := dev.Run(ctx, interval, onCycle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		logger.Info().Str("device", dc.Name).Str("model", dc.Model).Dur("interval", interval).Msg("polling")
	}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
		g.Go(func() error {
			logger.Info().Str("listen", cfg.Metrics.Listen).Msg("serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if client != nil {
		if err := client.Publish(cfg.MQTT.Prefix+"/bridge/availability", 1, true, "online"); err != nil {
			logger.Warn().Err(err).Msg("publish availability")
		}
	}

	err = g.Wait()
	logger.Info().Msg("stopped")
	return err
}
