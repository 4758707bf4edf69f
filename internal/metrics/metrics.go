// Package metrics tracks encoder throughput counters and periodically logs
// them together with host CPU/memory samples.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/breeze-rmm/h264encoder/internal/telemetry"
)

var log = telemetry.L("metrics")

// EncoderMetrics tracks real-time performance data for an encoding run.
type EncoderMetrics struct {
	mu sync.RWMutex

	FramesSubmitted     uint64
	FramesCoded         uint64
	FramesReconstructed uint64
	KeyframesCoded      uint64

	TotalBytesOut  uint64
	LastFrameSize  int
	LastEncodeTime time.Duration

	startTime time.Time
}

func New() *EncoderMetrics {
	return &EncoderMetrics{startTime: time.Now()}
}

func (m *EncoderMetrics) RecordSubmit() {
	m.mu.Lock()
	m.FramesSubmitted++
	m.mu.Unlock()
}

func (m *EncoderMetrics) RecordCoded(size int, d time.Duration, keyframe bool) {
	m.mu.Lock()
	m.FramesCoded++
	m.TotalBytesOut += uint64(size)
	m.LastFrameSize = size
	m.LastEncodeTime = d
	if keyframe {
		m.KeyframesCoded++
	}
	m.mu.Unlock()
}

func (m *EncoderMetrics) RecordReconstruction() {
	m.mu.Lock()
	m.FramesReconstructed++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters plus derived rates.
type Snapshot struct {
	FramesSubmitted     uint64
	FramesCoded         uint64
	FramesReconstructed uint64
	KeyframesCoded      uint64
	TotalBytesOut       uint64
	LastFrameSize       int
	LastEncodeTime      time.Duration
	FPS                 float64
	BitsPerSecond       float64
}

func (m *EncoderMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.startTime).Seconds()
	s := Snapshot{
		FramesSubmitted:     m.FramesSubmitted,
		FramesCoded:         m.FramesCoded,
		FramesReconstructed: m.FramesReconstructed,
		KeyframesCoded:      m.KeyframesCoded,
		TotalBytesOut:       m.TotalBytesOut,
		LastFrameSize:       m.LastFrameSize,
		LastEncodeTime:      m.LastEncodeTime,
	}
	if elapsed > 0 {
		s.FPS = float64(m.FramesCoded) / elapsed
		s.BitsPerSecond = float64(m.TotalBytesOut) * 8 / elapsed
	}
	return s
}

// LogPeriodically emits one combined encoder/host line every interval until
// ctx is cancelled. Host sampling failures are skipped, not fatal.
func (m *EncoderMetrics) LogPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.Snapshot()
			attrs := []any{
				"frames_coded", s.FramesCoded,
				"keyframes", s.KeyframesCoded,
				"bytes_out", s.TotalBytesOut,
				"fps", s.FPS,
				"bps", s.BitsPerSecond,
			}
			if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
				attrs = append(attrs, "host_cpu_pct", percents[0])
			}
			if vm, err := mem.VirtualMemory(); err == nil {
				attrs = append(attrs, "host_mem_pct", vm.UsedPercent)
			}
			log.Info("encode progress", attrs...)
		}
	}
}
