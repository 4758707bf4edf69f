// Package encoder implements the StatelessEncoder: it binds a predictor, a
// backend, and the two output queues, and exposes the Encode/Poll/Drain
// client API.
package encoder

import (
	"github.com/breeze-rmm/h264encoder/internal/backend"
	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/predictor"
	"github.com/breeze-rmm/h264encoder/internal/promise"
	"github.com/breeze-rmm/h264encoder/internal/queue"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
)

var logEncoder = telemetry.L("encoder")

// slicePromise wraps a backend coded-slice promise with the frame's input
// metadata so Sync produces a client-visible CodedBitstreamBuffer.
type slicePromise struct {
	inner promise.Promise[[]byte]
	meta  h264.FrameMetadata
}

func (s *slicePromise) IsReady() bool { return s.inner.IsReady() }

func (s *slicePromise) Sync() (h264.CodedBitstreamBuffer, error) {
	bytes, err := s.inner.Sync()
	if err != nil {
		return h264.CodedBitstreamBuffer{}, err
	}
	return h264.CodedBitstreamBuffer{Metadata: s.meta, Bitstream: bytes}, nil
}

// referencePromise wraps a backend reconstruction promise; it passes the
// resolved DpbEntry through unchanged, since the backend already stamps it
// with the DpbEntryMeta the request was issued for.
type referencePromise[R any] struct {
	inner promise.Promise[h264.DpbEntry[R]]
}

func (r *referencePromise[R]) IsReady() bool { return r.inner.IsReady() }

func (r *referencePromise[R]) Sync() (h264.DpbEntry[R], error) { return r.inner.Sync() }

// StatelessEncoder couples a Predictor to a Backend. P is the backend's
// picture type; R is its reconstructed-reference handle type.
type StatelessEncoder[P any, R any] struct {
	backend   backend.Backend[P, R]
	predictor predictor.Predictor[P, R]

	outputQueue *queue.OutputQueue[h264.CodedBitstreamBuffer]
	reconQueue  *queue.OutputQueue[h264.DpbEntry[R]]

	codedQueue          []h264.CodedBitstreamBuffer
	predictorFrameCount int
}

// New constructs a StatelessEncoder. mode fixes the blocking policy of both
// internal output queues.
func New[P any, R any](b backend.Backend[P, R], p predictor.Predictor[P, R], mode queue.Mode) *StatelessEncoder[P, R] {
	return &StatelessEncoder[P, R]{
		backend:     b,
		predictor:   p,
		outputQueue: queue.New[h264.CodedBitstreamBuffer](mode),
		reconQueue:  queue.New[h264.DpbEntry[R]](mode),
	}
}

// Encode submits one raw input frame. The backend import happens
// synchronously; the resulting predictor verdict (if any) is submitted to
// the backend immediately.
func (e *StatelessEncoder[P, R]) Encode(meta h264.FrameMetadata, handle any) error {
	picture, err := e.backend.ImportPicture(meta, handle)
	if err != nil {
		return err
	}

	e.predictorFrameCount++
	logEncoder.Debug("frame imported", telemetry.KeyTimestamp, meta.Timestamp)

	reqs, err := e.predictor.NewFrame(picture, meta)
	if err != nil {
		return err
	}
	return e.submit(reqs)
}

// Poll is the non-blocking pull of the next coded frame, in order.
func (e *StatelessEncoder[P, R]) Poll() (*h264.CodedBitstreamBuffer, error) {
	if err := e.pump(queue.NonBlocking); err != nil {
		return nil, err
	}

	if len(e.codedQueue) == 0 {
		return nil, nil
	}

	buf := e.codedQueue[0]
	e.codedQueue = e.codedQueue[1:]
	return &buf, nil
}

// Drain blocks until every frame submitted so far is coded and available
// via Poll. It is non-destructive: it never forces a keyframe and never
// releases pictures the predictor still holds beyond what it already
// emitted.
func (e *StatelessEncoder[P, R]) Drain() error {
	logEncoder.Info("drain started")

	for e.predictorFrameCount > 0 || !e.reconQueue.IsEmpty() {
		if e.outputQueue.IsEmpty() && e.reconQueue.IsEmpty() && e.predictorFrameCount > 0 {
			reqs, err := e.predictor.Drain()
			if err != nil {
				return err
			}
			if err := e.submit(reqs); err != nil {
				return err
			}
		}
		if err := e.pump(queue.Blocking); err != nil {
			return err
		}
	}

	for !e.outputQueue.IsEmpty() {
		if err := e.pump(queue.Blocking); err != nil {
			return err
		}
	}

	logEncoder.Info("drain finished")
	return nil
}

// submit hands each request to the backend and files the resulting
// promises into both output queues, decrementing predictorFrameCount per
// request actually executed.
func (e *StatelessEncoder[P, R]) submit(reqs []predictor.Request[P, R]) error {
	for _, req := range reqs {
		reconP, codedP, err := e.backend.EncodeSlice(req)
		if err != nil {
			return err
		}

		e.outputQueue.Add(&slicePromise{inner: codedP, meta: req.InputMeta})
		e.reconQueue.Add(&referencePromise[R]{inner: reconP})
		e.predictorFrameCount--
	}
	return nil
}

// pump drains the coded output queue into codedQueue as far as it yields
// results, then drains the reconstruction queue, feeding each resolved
// entry back to the predictor until it returns NoOperation.
func (e *StatelessEncoder[P, R]) pump(mode queue.Mode) error {
	for {
		v, ok, err := e.outputQueue.Poll(mode)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		e.codedQueue = append(e.codedQueue, v)
	}

	for {
		entry, ok, err := e.reconQueue.Poll(mode)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		reqs, err := e.predictor.Reconstructed(entry)
		if err != nil {
			return err
		}
		if err := e.submit(reqs); err != nil {
			return err
		}
		if len(reqs) == 0 {
			break
		}
	}

	return nil
}
