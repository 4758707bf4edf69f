package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/breeze-rmm/h264encoder/internal/archive"
	"github.com/breeze-rmm/h264encoder/internal/config"
	"github.com/breeze-rmm/h264encoder/internal/encoder"
	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/metrics"
	"github.com/breeze-rmm/h264encoder/internal/nal"
	"github.com/breeze-rmm/h264encoder/internal/predictor"
	"github.com/breeze-rmm/h264encoder/internal/queue"
	"github.com/breeze-rmm/h264encoder/internal/softwarebackend"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
	"github.com/breeze-rmm/h264encoder/internal/transport/rtpout"
	"github.com/breeze-rmm/h264encoder/internal/transport/wsout"
)

func runEncode() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if structure != "" {
		if err := overrideStructure(cfg, structure); err != nil {
			return err
		}
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		return fmt.Errorf("%d invalid configuration value(s)", len(errs))
	}

	initLogging(cfg)

	backend := softwarebackend.New(cfg.BackendWorkers, cfg.BackendQueueSize)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		backend.Close(ctx)
	}()

	enc := encoder.New[softwarebackend.Picture, *softwarebackend.Reference](
		backend, buildPredictor(&cfg.Encoder), blockingMode(cfg))

	sink, closeSink, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	stats := metrics.New()
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go stats.LogPeriodically(metricsCtx, time.Duration(cfg.MetricsIntervalSeconds)*time.Second)

	producer := &countingProducer{
		inner: encoder.SyntheticProducer{Resolution: cfg.Encoder.Resolution, Count: frameCount},
		stats: stats,
	}

	start := time.Now()
	err = encoder.RunToCompletion(enc, producer, func(buf h264.CodedBitstreamBuffer) error {
		stats.RecordCoded(len(buf.Bitstream), time.Since(start), isKeyframe(buf.Bitstream))
		return sink(buf)
	})
	if err != nil {
		return err
	}

	s := stats.Snapshot()
	log.Info("encode finished",
		"frames", s.FramesCoded,
		"keyframes", s.KeyframesCoded,
		"bytes_out", s.TotalBytesOut,
		"elapsed", time.Since(start))
	return nil
}

func overrideStructure(cfg *config.Config, name string) error {
	switch name {
	case "low_delay":
		cfg.Encoder.PredStructure = h264.PredictionStructure{
			Kind:     h264.LowDelay,
			LowDelay: &h264.LowDelayParams{Tail: 1, Limit: 2048},
		}
	case "group_of_pictures":
		cfg.Encoder.PredStructure = h264.PredictionStructure{
			Kind:            h264.GroupOfPictures,
			GroupOfPictures: &h264.GroupOfPicturesParams{Size: 2, Limit: 256},
		}
	default:
		return fmt.Errorf("unknown prediction structure %q", name)
	}
	return nil
}

func buildPredictor(cfg *h264.EncoderConfig) predictor.Predictor[softwarebackend.Picture, *softwarebackend.Reference] {
	if cfg.PredStructure.Kind == h264.GroupOfPictures {
		return predictor.NewGroupOfPictures[softwarebackend.Picture, *softwarebackend.Reference](cfg)
	}
	return predictor.NewLowDelay[softwarebackend.Picture, *softwarebackend.Reference](cfg)
}

func blockingMode(cfg *config.Config) queue.Mode {
	if cfg.Blocking {
		return queue.Blocking
	}
	return queue.NonBlocking
}

// buildSink composes the configured outputs: the Annex-B file, plus the
// optional WebSocket, RTP, and archive sinks.
func buildSink(cfg *config.Config) (encoder.FrameSink, func(), error) {
	var sinks []encoder.FrameSink
	var closers []func()

	if cfg.OutputFile != "" {
		f, err := os.Create(cfg.OutputFile)
		if err != nil {
			return nil, nil, fmt.Errorf("create output file: %w", err)
		}
		closers = append(closers, func() { f.Close() })
		sinks = append(sinks, fileSink(f))
	}

	if cfg.WSSinkURL != "" {
		ws, err := wsout.New(cfg.WSSinkURL)
		if err != nil {
			return nil, nil, err
		}
		ws.Start()
		closers = append(closers, ws.Stop)
		sinks = append(sinks, func(buf h264.CodedBitstreamBuffer) error {
			ws.Send(buf)
			return nil
		})
	}

	if cfg.RTPSinkAddr != "" {
		rtp, err := rtpout.New(cfg.RTPSinkAddr, cfg.RTPMtu, cfg.RTPPayloadType, cfg.RTPSSRC, cfg.Encoder.Framerate)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, rtp.Stop)
		sinks = append(sinks, rtp.Send)
	}

	if cfg.ArchiveS3Bucket != "" {
		store, err := archive.NewS3Store(context.Background(), cfg.ArchiveS3Bucket, cfg.ArchiveS3Region)
		if err != nil {
			return nil, nil, err
		}
		arch := archive.New(store, cfg.ArchiveS3Prefix)
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := arch.Flush(ctx); err != nil {
				log.Warn("archive flush failed", telemetry.KeyError, err)
			}
		})
		sinks = append(sinks, func(buf h264.CodedBitstreamBuffer) error {
			return arch.Append(context.Background(), buf)
		})
	}

	sink := func(buf h264.CodedBitstreamBuffer) error {
		for _, s := range sinks {
			if err := s(buf); err != nil {
				return err
			}
		}
		return nil
	}
	closeAll := func() {
		// Close in reverse order of opening: the archive flush runs first
		// and the output file is closed last.
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return sink, closeAll, nil
}

func fileSink(w io.Writer) encoder.FrameSink {
	return func(buf h264.CodedBitstreamBuffer) error {
		_, err := w.Write(buf.Bitstream)
		return err
	}
}

func isKeyframe(bitstream []byte) bool {
	units := nal.Split(bitstream)
	return len(units) > 0 && units[0].Type == nal.TypeSPS
}

// countingProducer wraps the synthetic producer to feed the metrics
// snapshot as frames are submitted.
type countingProducer struct {
	inner encoder.SyntheticProducer
	stats *metrics.EncoderMetrics
}

func (p *countingProducer) Next() (h264.FrameMetadata, any, bool) {
	meta, handle, ok := p.inner.Next()
	if ok {
		p.stats.RecordSubmit()
	}
	return meta, handle, ok
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = io.MultiWriter(os.Stdout, f)
		}
	}
	telemetry.Init(cfg.LogFormat, cfg.LogLevel, output)
}
