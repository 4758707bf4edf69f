package config

import (
	"strings"
	"testing"

	"github.com/breeze-rmm/h264encoder/internal/h264"
)

func TestValidateDefaultIsClean(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config should validate cleanly, got %v", errs)
	}
}

func TestValidateQPRange(t *testing.T) {
	cfg := Default()
	cfg.Encoder.DefaultQP = 52
	errs := cfg.Validate()
	if !containsError(errs, "default_qp") {
		t.Fatalf("expected default_qp error, got %v", errs)
	}
}

func TestValidateZeroResolution(t *testing.T) {
	cfg := Default()
	cfg.Encoder.Resolution.Height = 0
	errs := cfg.Validate()
	if !containsError(errs, "resolution") {
		t.Fatalf("expected resolution error, got %v", errs)
	}
}

func TestValidateMissingPredParams(t *testing.T) {
	cfg := Default()
	cfg.Encoder.PredStructure = h264.PredictionStructure{Kind: h264.GroupOfPictures}
	errs := cfg.Validate()
	if !containsError(errs, "group_of_pictures") {
		t.Fatalf("expected group_of_pictures error, got %v", errs)
	}
}

func TestValidateTailLimitOrdering(t *testing.T) {
	cfg := Default()
	cfg.Encoder.PredStructure.LowDelay = &h264.LowDelayParams{Tail: 8, Limit: 4}
	errs := cfg.Validate()
	if !containsError(errs, "tail") {
		t.Fatalf("expected tail/limit error, got %v", errs)
	}
}

func TestValidateClampsDispatchKnobs(t *testing.T) {
	cfg := Default()
	cfg.BackendWorkers = 0
	cfg.BackendQueueSize = -3
	cfg.Validate()
	if cfg.BackendWorkers != 1 || cfg.BackendQueueSize != 1 {
		t.Fatalf("expected dispatch knobs clamped to 1, got workers=%d queue=%d",
			cfg.BackendWorkers, cfg.BackendQueueSize)
	}
}

func TestValidateArchiveNeedsRegion(t *testing.T) {
	cfg := Default()
	cfg.ArchiveS3Bucket = "captures"
	errs := cfg.Validate()
	if !containsError(errs, "archive_s3_region") {
		t.Fatalf("expected archive_s3_region error, got %v", errs)
	}
}

func containsError(errs []error, substr string) bool {
	for _, err := range errs {
		if strings.Contains(err.Error(), substr) {
			return true
		}
	}
	return false
}
