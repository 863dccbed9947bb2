package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"robodash-go/internal/bridge"
	"robodash-go/internal/capture"
	"robodash-go/internal/config"
	"robodash-go/internal/metrics"
	"robodash-go/internal/server"
	"robodash-go/internal/session"
	"robodash-go/internal/simulator"
	"robodash-go/internal/tap"
)

func main() {
	configPath := preScanConfig(os.Args[1:])
	cfg, file, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "robodash: %v\n", err)
		os.Exit(2)
	}

	fs := pflag.NewFlagSet("robodash", pflag.ExitOnError)
	fs.StringP("config", "c", configPath, "Path to the dashboard YAML config")
	cfg.AddFlags(fs)
	_ = fs.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "robodash: %v\n", err)
		os.Exit(2)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "robodash: logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()
	if file != "" {
		log.Info("loaded config", zap.String("file", file))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := server.NewHub(cfg, log.Named("ui"), m)
	notifiers := session.Notifiers{hub}

	if cfg.TapEndpoint != "" {
		t, err := tap.Open(cfg.TapEndpoint, log.Named("tap"))
		switch {
		case errors.Is(err, tap.ErrDisabled):
			log.Warn("telemetry tap requested but not built in", zap.String("endpoint", cfg.TapEndpoint))
		case err != nil:
			log.Error("telemetry tap", zap.String("endpoint", cfg.TapEndpoint), zap.Error(err))
		default:
			notifiers = append(notifiers, t)
			defer func() { _ = t.Close() }()
		}
	}

	var recorder bridge.Recorder
	if cfg.CaptureDir != "" {
		w, err := capture.NewWriter(cfg.CaptureDir, "bridge")
		if err != nil {
			log.Error("capture disabled", zap.String("dir", cfg.CaptureDir), zap.Error(err))
		} else {
			log.Info("capturing bridge frames", zap.String("file", w.Path()))
			recorder = w
			defer func() { _ = w.Close() }()
		}
	}

	sess := session.New(session.Options{
		Channels: cfg.Channels,
		Surfaces: cfg.Surfaces,
		Bridge: bridge.Options{
			Compression:  cfg.Compression,
			QueueLength:  cfg.QueueLength,
			ThrottleRate: cfg.ThrottleRate,
			Recorder:     recorder,
		},
		TopicCheck: cfg.TopicCheck,
		Logger:     log.Named("session"),
		Metrics:    m,
		Notifier:   notifiers,
	})

	if cfg.Mock {
		go simulator.Run(ctx, sess, cfg.MockInterval, time.Now().UnixNano())
	}
	if file != "" {
		go func() {
			err := config.Watch(ctx, file, log.Named("config"), func(ch config.Channels) {
				sess.SetChannels(ch)
				log.Info("channel config reloaded; applies on next connect")
			})
			if err != nil {
				log.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}
	if cfg.AutoConnect {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.AutoConnectDelay):
			}
			if err := sess.Connect(ctx, cfg.BridgeURL); err != nil {
				log.Warn("auto-connect failed", zap.String("url", cfg.BridgeURL), zap.Error(err))
			}
		}()
	}

	printAccessURLs(cfg.Port)

	if err := hub.Run(ctx, sess); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
	if err := sess.Disconnect(); err != nil {
		log.Warn("disconnect on shutdown", zap.Error(err))
	}
}

// preScanConfig finds --config before the full flag set exists, since the
// file supplies the flag defaults.
func preScanConfig(args []string) string {
	pre := pflag.NewFlagSet("robodash", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	path := pre.StringP("config", "c", "", "")
	_ = pre.Parse(args)
	return *path
}

func newLogger(cfg config.AppConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func printAccessURLs(port int) {
	const width = 80
	sep := strings.Repeat("=", width)
	ip := localIP()
	fmt.Println()
	fmt.Println(sep)
	fmt.Println(center(" ROBODASH - ACCESS INFORMATION ", width))
	fmt.Println(sep)
	fmt.Printf("Local access:     http://localhost:%d\n", port)
	fmt.Printf("Network access:   http://%s:%d\n", ip, port)
	fmt.Printf("Mobile devices:   Connect to the same network and enter: %s:%d\n", ip, port)
	fmt.Println(sep)
	fmt.Println(center(" NOTE: Make sure rosbridge_server is running on the ROS master ", width))
	fmt.Println(center(" (typically: roslaunch rosbridge_server rosbridge_websocket.launch) ", width))
	fmt.Println(sep)
	fmt.Println()
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	return strings.Repeat("=", left) + s + strings.Repeat("=", width-len(s)-left)
}

// localIP returns the address of the interface used for outbound traffic.
// No packet is sent.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "localhost"
}
