// Package config loads and validates the process configuration for the
// encoder harness: the immutable EncoderConfig the control core consumes,
// plus process-level knobs (logging, backend dispatch, output sinks).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/h264encoder/internal/h264"
)

type Config struct {
	Encoder h264.EncoderConfig `mapstructure:"encoder"`

	// Blocking selects the blocking policy of the encoder's output queues.
	// When set, every internal poll waits on the head promise; otherwise
	// only results that are already ready are surfaced.
	Blocking bool `mapstructure:"blocking"`

	// Logging configuration
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Software backend dispatch
	BackendWorkers   int `mapstructure:"backend_workers"`
	BackendQueueSize int `mapstructure:"backend_queue_size"`

	// Output sinks
	OutputFile      string `mapstructure:"output_file"`
	WSSinkURL       string `mapstructure:"ws_sink_url"`
	RTPSinkAddr     string `mapstructure:"rtp_sink_addr"`
	RTPMtu          int    `mapstructure:"rtp_mtu"`
	RTPPayloadType  uint8  `mapstructure:"rtp_payload_type"`
	RTPSSRC         uint32 `mapstructure:"rtp_ssrc"`
	ArchiveS3Bucket string `mapstructure:"archive_s3_bucket"`
	ArchiveS3Region string `mapstructure:"archive_s3_region"`
	ArchiveS3Prefix string `mapstructure:"archive_s3_prefix"`

	MetricsIntervalSeconds int `mapstructure:"metrics_interval_seconds"`
}

func Default() *Config {
	return &Config{
		Encoder: h264.EncoderConfig{
			Bitrate:    h264.Bitrate{ConstantBitsPerSecond: 2_000_000},
			Framerate:  30,
			Resolution: h264.Resolution{Width: 1280, Height: 720},
			Profile:    h264.ProfileBaseline,
			Level:      h264.L41,
			PredStructure: h264.PredictionStructure{
				Kind:     h264.LowDelay,
				LowDelay: &h264.LowDelayParams{Tail: 1, Limit: 2048},
			},
			DefaultQP: 26,
		},
		LogLevel:  "info",
		LogFormat: "text",

		BackendWorkers:   4,
		BackendQueueSize: 64,

		OutputFile:     "out.h264",
		RTPMtu:         1200,
		RTPPayloadType: 96,
		RTPSSRC:        0x4813,

		MetricsIntervalSeconds: 5,
	}
}

// Load reads configuration from path (or the default search locations when
// path is empty), layered over Default(). A missing config file is not an
// error when no explicit path was given: the defaults apply. H264ENC_*
// environment variables override only keys that the config file also sets.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("H264ENC")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("h264ctl")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "h264ctl"))
		}
	}

	cfg := Default()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
