package config

import (
	"fmt"
	"strings"

	"github.com/breeze-rmm/h264encoder/internal/h264"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors
// found. Dangerous zero-values that would make the encoder panic are
// clamped to safe defaults instead of reported.
func (c *Config) Validate() []error {
	var errs []error

	if c.Encoder.DefaultQP > 51 {
		errs = append(errs, fmt.Errorf("encoder.default_qp %d out of range [0..51]", c.Encoder.DefaultQP))
	}
	if c.Encoder.Framerate == 0 {
		errs = append(errs, fmt.Errorf("encoder.framerate must be positive"))
	}
	if c.Encoder.Resolution.Width == 0 || c.Encoder.Resolution.Height == 0 {
		errs = append(errs, fmt.Errorf("encoder.resolution %dx%d must be positive in both dimensions",
			c.Encoder.Resolution.Width, c.Encoder.Resolution.Height))
	}
	if c.Encoder.Bitrate.ConstantBitsPerSecond == 0 {
		errs = append(errs, fmt.Errorf("encoder.bitrate.constant_bps must be positive"))
	}

	switch c.Encoder.PredStructure.Kind {
	case h264.LowDelay:
		params := c.Encoder.PredStructure.LowDelay
		if params == nil {
			errs = append(errs, fmt.Errorf("encoder.pred_structure.low_delay parameters missing"))
			break
		}
		if params.Tail == 0 {
			errs = append(errs, fmt.Errorf("encoder.pred_structure.low_delay.tail must be positive"))
		}
		if params.Limit == 0 {
			errs = append(errs, fmt.Errorf("encoder.pred_structure.low_delay.limit must be positive"))
		}
		if params.Limit != 0 && params.Tail >= params.Limit {
			errs = append(errs, fmt.Errorf("encoder.pred_structure.low_delay.tail %d must be smaller than limit %d",
				params.Tail, params.Limit))
		}
	case h264.GroupOfPictures:
		params := c.Encoder.PredStructure.GroupOfPictures
		if params == nil {
			errs = append(errs, fmt.Errorf("encoder.pred_structure.group_of_pictures parameters missing"))
			break
		}
		if params.Limit == 0 {
			errs = append(errs, fmt.Errorf("encoder.pred_structure.group_of_pictures.limit must be positive"))
		}
		if params.Limit != 0 && uint32(params.Size)+1 >= uint32(params.Limit) {
			errs = append(errs, fmt.Errorf("encoder.pred_structure.group_of_pictures.size %d leaves no room for a P frame within limit %d",
				params.Size, params.Limit))
		}
	default:
		errs = append(errs, fmt.Errorf("encoder.pred_structure.kind %d unknown", c.Encoder.PredStructure.Kind))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug/info/warn/error", c.LogLevel))
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not one of text/json", c.LogFormat))
	}

	if c.BackendWorkers < 1 {
		c.BackendWorkers = 1
	}
	if c.BackendQueueSize < 1 {
		c.BackendQueueSize = 1
	}
	if c.RTPMtu < 576 {
		c.RTPMtu = 1200
	}
	if c.MetricsIntervalSeconds < 1 {
		c.MetricsIntervalSeconds = 5
	}

	if c.ArchiveS3Bucket != "" && c.ArchiveS3Region == "" {
		errs = append(errs, fmt.Errorf("archive_s3_region is required when archive_s3_bucket is set"))
	}

	return errs
}
