package encoder

import (
	"github.com/breeze-rmm/h264encoder/internal/h264"
)

// FrameProducer yields raw frames to feed the encoder. Next returns false
// when the stream is exhausted.
type FrameProducer interface {
	Next() (h264.FrameMetadata, any, bool)
}

// FrameSink receives each coded frame as it becomes available, in encode
// order.
type FrameSink func(h264.CodedBitstreamBuffer) error

// RunToCompletion feeds every frame the producer yields through Encode,
// polling coded output into sink as it goes, then drains the encoder and
// delivers whatever remains. It is the whole simple encode loop: callers
// that need interleaving control drive Encode/Poll/Drain themselves.
func RunToCompletion[P any, R any](e *StatelessEncoder[P, R], producer FrameProducer, sink FrameSink) error {
	for {
		meta, handle, ok := producer.Next()
		if !ok {
			break
		}
		if err := e.Encode(meta, handle); err != nil {
			return err
		}
		if err := pollInto(e, sink); err != nil {
			return err
		}
	}

	if err := e.Drain(); err != nil {
		return err
	}
	return pollInto(e, sink)
}

func pollInto[P any, R any](e *StatelessEncoder[P, R], sink FrameSink) error {
	for {
		buf, err := e.Poll()
		if err != nil {
			return err
		}
		if buf == nil {
			return nil
		}
		if sink != nil {
			if err := sink(*buf); err != nil {
				return err
			}
		}
	}
}

// SyntheticProducer is a deterministic frame source: count frames at the
// given resolution with timestamps 0..count-1. The frame handle is the
// timestamp itself; software backends that don't read pixels need nothing
// more.
type SyntheticProducer struct {
	Resolution h264.Resolution
	Count      int

	next int
}

func (p *SyntheticProducer) Next() (h264.FrameMetadata, any, bool) {
	if p.next >= p.Count {
		return h264.FrameMetadata{}, nil, false
	}
	meta := h264.FrameMetadata{
		Timestamp:         uint64(p.next),
		DisplayResolution: p.Resolution,
	}
	handle := p.next
	p.next++
	return meta, handle, true
}
