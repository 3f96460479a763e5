package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Supple-build/slidebridge/internal/homekit"
	"github.com/Supple-build/slidebridge/internal/mqtt"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})

	configPath := flag.String("config", "config.yaml", "config.yaml file path")
	flag.Parse()

	if err := loadConfig(&Cfg, *configPath); err != nil {
		logrus.Fatal(err)
	}

	level, err := logrus.ParseLevel(Cfg.LogLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := clientFromConfig()

	shutters, err := shuttersFromConfig(ctx, client)
	if err != nil {
		logrus.Fatal(err)
	}
	if len(shutters) == 0 {
		logrus.Fatal("no slides configured or discovered")
	}

	sessions, err := sessionsFromConfig(client, shutters)
	if err != nil {
		logrus.Fatal(err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if Cfg.MQTT.Enabled {
		startMQTT(ctx, sessions)
	}

	if Cfg.HomeKit.Enabled {
		coverings := make([]*homekit.WindowCovering, 0, len(sessions))
		for _, s := range sessions {
			coverings = append(coverings, homekit.NewWindowCovering(ctx, s.shutter, s.device.Key()))
		}
		g.Go(func() error {
			return homekit.Serve(ctx, homekit.Config{
				Name:        Cfg.HomeKit.Name,
				Pin:         Cfg.HomeKit.Pin,
				StoragePath: Cfg.HomeKit.StoragePath,
				Port:        Cfg.HomeKit.Port,
			}, coverings)
		})
	}

	if Cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(ctx, Cfg.Metrics.Addr)
		})
	}

	// Sessions seed concurrently.
	var seeds sync.WaitGroup
	for _, s := range sessions {
		seeds.Add(1)
		go func(s session) {
			defer seeds.Done()
			if err := s.shutter.Start(ctx); err != nil {
				logrus.Warnf("%s, waiting for the next poll", err)
			}
		}(s)
	}
	seeds.Wait()

	logrus.Infof("%d slides running", len(sessions))

	<-ctx.Done()
	logrus.Info("shutting down")

	for _, s := range sessions {
		s.shutter.Close()
	}

	if err := g.Wait(); err != nil {
		logrus.Error(err)
	}
}

func startMQTT(ctx context.Context, sessions []session) {
	var bridges []*mqtt.Bridge
	opts := pahoOptsFromConfig()
	opts.OnConnect = func(m paho.Client) {
		logrus.Info("MQTT broker connected")
		subscribe(ctx, m, bridges)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logrus.Errorf("MQTT broker connection lost: %s", err.Error())
	}

	m := paho.NewClient(opts)
	if token := m.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatal(token.Error())
	}

	for _, s := range sessions {
		bridge := mqtt.NewBridge(m, s.shutter)
		if err := bridge.SetMetadata(s.cfg.MQTTBridge.Metadata); err != nil {
			logrus.Fatal(err)
		}
		bridges = append(bridges, bridge)
	}
	subscribe(ctx, m, bridges)

	go func() {
		<-ctx.Done()
		m.Disconnect(250)
		logrus.Info("MQTT broker disconnected")
	}()
}

func subscribe(ctx context.Context, m paho.Client, bridges []*mqtt.Bridge) {
	for _, bridge := range bridges {
		if Cfg.HASS.Enabled {
			entity := mqtt.NewHACoverFromMQTTBridge(bridge)
			if err := mqtt.PublishHAAutoDiscovery(m, Cfg.HASS.TopicPrefix, entity); err != nil {
				logrus.Error(err)
			}
		}

		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logrus.Infof("metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
