package predictor

import (
	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/nal"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
)

var logLowDelay = telemetry.L("predictor.lowdelay")

// LowDelay implements the IDR-then-P structure: a new sequence every Limit
// frames, each P referencing up to Tail immediate predecessors via
// RefList0. RefList1 is always empty.
type LowDelay[P any, R any] struct {
	config *h264.EncoderConfig
	tail   uint16
	limit  uint16

	counter uint16
	dpb     []*h264.DpbEntry[R] // oldest first; most recent is the tail element
	queue   []pendingFrame[P]

	sps *h264.Sps
	pps *h264.Pps
}

// NewLowDelay constructs a LowDelay predictor for cfg's LowDelay parameters.
func NewLowDelay[P any, R any](cfg *h264.EncoderConfig) *LowDelay[P, R] {
	params := cfg.PredStructure.LowDelay
	return &LowDelay[P, R]{
		config: cfg,
		tail:   params.Tail,
		limit:  params.Limit,
	}
}

func (l *LowDelay[P, R]) NewFrame(picture P, meta h264.FrameMetadata) ([]Request[P, R], error) {
	l.queue = append(l.queue, pendingFrame[P]{picture: picture, meta: meta})
	return l.tryEmit()
}

func (l *LowDelay[P, R]) Reconstructed(entry h264.DpbEntry[R]) ([]Request[P, R], error) {
	stored := entry
	l.dpb = append(l.dpb, &stored)
	return l.tryEmit()
}

// Drain never holds frames it could emit later: every pending frame is
// either immediately emittable or starved on references it will only ever
// receive via Reconstructed, so there is nothing for Drain to force.
func (l *LowDelay[P, R]) Drain() ([]Request[P, R], error) {
	return nil, h264.ErrInvalidInternalState
}

func (l *LowDelay[P, R]) tryEmit() ([]Request[P, R], error) {
	l.counter = l.counter % l.limit

	if len(l.queue) == 0 {
		return nil, nil
	}

	head := l.queue[0]
	l.queue = l.queue[1:]

	if l.counter == 0 || head.meta.ForceKeyframe {
		req := l.emitIDR(head)
		l.counter = 1
		return []Request[P, R]{req}, nil
	}

	minRefs := l.counter
	if uint16(l.tail) < minRefs {
		minRefs = l.tail
	}
	if uint16(len(l.dpb)) < minRefs {
		// Not enough references reconstructed yet: push the frame back to
		// the front of the pending queue and wait.
		l.queue = append([]pendingFrame[P]{head}, l.queue...)
		return nil, nil
	}

	req := l.emitP(head)
	return []Request[P, R]{req}, nil
}

func (l *LowDelay[P, R]) emitIDR(frame pendingFrame[P]) Request[P, R] {
	maxNumRefFrames := uint32(l.tail) + 1
	l.sps = h264.NewSps(*l.config, uint32(l.limit), maxNumRefFrames)
	l.pps = h264.NewPps(l.sps, l.config.DefaultQP, uint8(l.tail), 0)
	l.dpb = nil

	var headers []byte
	headers = l.sps.AppendNAL(headers, nal.StartCode3)
	headers = l.pps.AppendNAL(headers, nal.StartCode3)

	meta := h264.DpbEntryMeta{POC: 0, FrameNum: 0, IsReference: h264.IsReferenceShortTerm}

	logLowDelay.Info("emitting IDR", telemetry.KeyFrameNum, 0, telemetry.KeyPOC, 0)

	return &h264.BackendRequest[P, R]{
		SPS:            l.sps,
		PPS:            l.pps,
		Header:         h264.SliceHeader{SliceType: h264.SliceTypeI, PicOrderCntLsb: 0},
		Input:          frame.picture,
		InputMeta:      frame.meta,
		DPBMeta:        meta,
		RefList0:       nil,
		RefList1:       nil,
		NumMacroblocks: l.sps.NumMacroblocks(),
		IsIDR:          true,
		Config:         l.config,
		CodedOutput:    headers,
	}
}

func (l *LowDelay[P, R]) emitP(frame pendingFrame[P]) Request[P, R] {
	refList0 := make([]*h264.DpbEntry[R], len(l.dpb))
	// Most-recent-first: l.dpb is stored oldest-first, so reverse it.
	for i, e := range l.dpb {
		refList0[len(l.dpb)-1-i] = e
	}

	frameNum := uint32(l.counter)
	poc := uint16(l.counter) * 2
	meta := h264.DpbEntryMeta{POC: poc, FrameNum: frameNum, IsReference: h264.IsReferenceShortTerm}

	logLowDelay.Debug("emitting P", telemetry.KeyFrameNum, frameNum, telemetry.KeyPOC, poc)

	req := &h264.BackendRequest[P, R]{
		SPS:            l.sps,
		PPS:            l.pps,
		Header:         h264.SliceHeader{SliceType: h264.SliceTypeP, PicOrderCntLsb: poc},
		Input:          frame.picture,
		InputMeta:      frame.meta,
		DPBMeta:        meta,
		RefList0:       refList0,
		RefList1:       nil,
		NumMacroblocks: l.sps.NumMacroblocks(),
		IsIDR:          false,
		Config:         l.config,
		CodedOutput:    nil,
	}

	l.counter++

	// Evict oldest entries until len(dpb) <= tail-1; the new reconstruction
	// will fill the freed slot once it resolves.
	keep := int(l.tail) - 1
	if keep < 0 {
		keep = 0
	}
	if len(l.dpb) > keep {
		l.dpb = l.dpb[len(l.dpb)-keep:]
	}

	return req
}
