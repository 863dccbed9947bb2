package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kkyr/fig"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix   = "ROBODASH"
	DefaultFile = "dashboard.yaml"
)

// Channel is one bridge topic and the message type it is subscribed with.
// An empty Topic disables the channel.
type Channel struct {
	Topic string `fig:"topic"`
	Type  string `fig:"type"`
}

type Channels struct {
	Camera1     Channel `fig:"camera1"`
	Camera2     Channel `fig:"camera2"`
	CameraSpeed Channel `fig:"camera_speed"`
	LidarSpeed  Channel `fig:"lidar_speed"`
	Odometer    Channel `fig:"odometer"`
	Detection   Channel `fig:"detection"`
}

// Surfaces holds the initial pixel sizes of the display surfaces. Browsers
// resize them to their layout once connected.
type Surfaces struct {
	Width           int `fig:"width"`
	Height          int `fig:"height"`
	DetectionWidth  int `fig:"detection_width"`
	DetectionHeight int `fig:"detection_height"`
}

type AppConfig struct {
	Port             int           `fig:"port"`
	BridgeURL        string        `fig:"bridge_url"`
	Compression      string        `fig:"compression"`
	QueueLength      int           `fig:"queue_length"`
	ThrottleRate     int           `fig:"throttle_rate"`
	AutoConnect      bool          `fig:"auto_connect"`
	AutoConnectDelay time.Duration `fig:"auto_connect_delay"`
	Mock             bool          `fig:"mock"`
	MockInterval     time.Duration `fig:"mock_interval"`
	TopicCheck       bool          `fig:"topic_check"`
	TapEndpoint      string        `fig:"tap_endpoint"`
	CaptureDir       string        `fig:"capture_dir"`
	LogLevel         string        `fig:"log_level"`
	Debug            bool          `fig:"debug"`
	Channels         Channels      `fig:"channels"`
	Surfaces         Surfaces      `fig:"surfaces"`
}

func Default() AppConfig {
	return AppConfig{
		Port:             5000,
		BridgeURL:        "ws://localhost:9090",
		Compression:      "none",
		QueueLength:      1,
		AutoConnect:      false,
		AutoConnectDelay: time.Second,
		Mock:             true,
		MockInterval:     2 * time.Second,
		TopicCheck:       true,
		LogLevel:         "info",
		Channels: Channels{
			Camera1:     Channel{Topic: "/camera1/image_raw", Type: "sensor_msgs/Image"},
			Camera2:     Channel{Topic: "/camera2/image_raw", Type: "sensor_msgs/Image"},
			CameraSpeed: Channel{Topic: "/camera_speed", Type: "std_msgs/Float32"},
			LidarSpeed:  Channel{Topic: "/lidar_speed", Type: "std_msgs/Float32"},
			Odometer:    Channel{Topic: "/odometer", Type: "std_msgs/Float32"},
			Detection:   Channel{Topic: "", Type: "sensor_msgs/Image"},
		},
		Surfaces: Surfaces{
			Width:           640,
			Height:          360,
			DetectionWidth:  640,
			DetectionHeight: 360,
		},
	}
}

// Load builds the configuration from defaults, a .env file, the YAML config
// file and ROBODASH_* environment variables, in that order. It returns the
// config file that was used, or "" when none was found.
func Load(path string) (AppConfig, string, error) {
	// optional
	_ = godotenv.Load()

	cfg := Default()
	file := Resolve(path)
	if path != "" && file == "" {
		return cfg, "", fmt.Errorf("config file %s: %w", path, fig.ErrFileNotFound)
	}

	var err error
	if file == "" {
		err = fig.Load(&cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
	} else {
		err = fig.Load(&cfg, fig.File(filepath.Base(file)), fig.Dirs(filepath.Dir(file)), fig.UseEnv(EnvPrefix))
	}
	if err != nil {
		return cfg, file, fmt.Errorf("load config: %w", err)
	}
	return cfg, file, cfg.Validate()
}

// Resolve finds the config file: path itself when given, otherwise
// dashboard.yaml in the working directory or ./configs.
func Resolve(path string) string {
	candidates := []string{path}
	if path == "" {
		candidates = []string{DefaultFile, filepath.Join("configs", DefaultFile)}
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			if abs, err := filepath.Abs(c); err == nil {
				return abs
			}
			return c
		}
	}
	return ""
}

// AddFlags binds command line flags to c, using its current values as the
// flag defaults so that flags override everything loaded before.
func (c *AppConfig) AddFlags(fs *pflag.FlagSet) *AppConfig {
	fs.IntVarP(&c.Port, "port", "p", c.Port, "HTTP port for the dashboard UI")
	fs.StringVarP(&c.BridgeURL, "bridge", "b", c.BridgeURL, "rosbridge websocket URL")
	fs.StringVar(&c.Compression, "compression", c.Compression, "rosbridge compression: none or cbor")
	fs.IntVar(&c.QueueLength, "queue-length", c.QueueLength, "rosbridge per-topic queue length")
	fs.IntVar(&c.ThrottleRate, "throttle-rate", c.ThrottleRate, "rosbridge throttle rate in ms")
	fs.BoolVar(&c.AutoConnect, "auto-connect", c.AutoConnect, "Connect to the bridge at startup")
	fs.DurationVar(&c.AutoConnectDelay, "auto-connect-delay", c.AutoConnectDelay, "Delay before auto-connect")
	fs.BoolVar(&c.Mock, "mock", c.Mock, "Show simulated data until the first connection")
	fs.BoolVar(&c.TopicCheck, "topic-check", c.TopicCheck, "Warn about channels the bridge does not advertise")
	fs.StringVar(&c.TapEndpoint, "tap", c.TapEndpoint, "ZMQ PUB endpoint for the telemetry tap (empty disables)")
	fs.StringVar(&c.CaptureDir, "capture-dir", c.CaptureDir, "Record raw bridge frames into this directory (empty disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Human readable development logging")
	fs.StringVar(&c.Channels.Camera1.Topic, "camera1-topic", c.Channels.Camera1.Topic, "Camera 1 image topic")
	fs.StringVar(&c.Channels.Camera2.Topic, "camera2-topic", c.Channels.Camera2.Topic, "Camera 2 image topic")
	fs.StringVar(&c.Channels.CameraSpeed.Topic, "camera-speed-topic", c.Channels.CameraSpeed.Topic, "Camera speed topic")
	fs.StringVar(&c.Channels.LidarSpeed.Topic, "lidar-speed-topic", c.Channels.LidarSpeed.Topic, "LIDAR speed topic")
	fs.StringVar(&c.Channels.Odometer.Topic, "odometer-topic", c.Channels.Odometer.Topic, "Odometer topic")
	fs.StringVar(&c.Channels.Detection.Topic, "detection-topic", c.Channels.Detection.Topic, "Detection image topic (empty disables)")
	return c
}

func (c AppConfig) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if err := ValidateBridgeURL(c.BridgeURL); err != nil {
		errs = append(errs, err)
	}
	switch c.Compression {
	case "", "none", "cbor":
	default:
		errs = append(errs, fmt.Errorf("unsupported compression %q", c.Compression))
	}
	if c.Surfaces.Width < 1 || c.Surfaces.Height < 1 ||
		c.Surfaces.DetectionWidth < 1 || c.Surfaces.DetectionHeight < 1 {
		errs = append(errs, errors.New("surface sizes must be positive"))
	}
	if c.MockInterval <= 0 {
		errs = append(errs, errors.New("mock_interval must be positive"))
	}
	return errors.Join(errs...)
}

func ValidateBridgeURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("bridge url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("bridge url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("bridge url %q: missing host", raw)
	}
	return nil
}
