package predictor

import (
	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/nal"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
)

var logGOP = telemetry.L("predictor.gop")

// GroupOfPictures implements the I-P-B structure: a repeating pattern of
// one I, then (P, Size×B) chunks, starting over every Limit frames. B
// frames are submitted in display order after the P that anchors them
// (out-of-order encoding), with the P's POC shifted ahead to leave room
// for the intervening Bs.
type GroupOfPictures[P any, R any] struct {
	config *h264.EncoderConfig
	size   uint16
	limit  uint16

	pocCounter   uint32
	frameCounter uint32
	seqInputs    uint32

	queue         []pendingFrame[P]
	futureBFrames []pendingFrame[P]
	l0Ref         *h264.DpbEntry[R]
	idrRefPending *h264.DpbEntryMeta
	l1RefPending  *h264.DpbEntryMeta

	sps *h264.Sps
	pps *h264.Pps
}

// NewGroupOfPictures constructs a GroupOfPictures predictor for cfg's
// GroupOfPictures parameters.
func NewGroupOfPictures[P any, R any](cfg *h264.EncoderConfig) *GroupOfPictures[P, R] {
	params := cfg.PredStructure.GroupOfPictures
	return &GroupOfPictures[P, R]{
		config: cfg,
		size:   params.Size,
		limit:  params.Limit,
	}
}

func (g *GroupOfPictures[P, R]) NewFrame(picture P, meta h264.FrameMetadata) ([]Request[P, R], error) {
	g.queue = append(g.queue, pendingFrame[P]{picture: picture, meta: meta})
	return g.nextIPFrames(), nil
}

func (g *GroupOfPictures[P, R]) Reconstructed(entry h264.DpbEntry[R]) ([]Request[P, R], error) {
	stored := entry

	var out []Request[P, R]

	if g.idrRefPending != nil && *g.idrRefPending == entry.Meta {
		g.l0Ref = &stored
		g.idrRefPending = nil
		out = append(out, g.nextIPFrames()...)
		return out, nil
	}

	if g.l1RefPending != nil && *g.l1RefPending == entry.Meta {
		previousL0 := g.l0Ref
		newL1 := &stored

		for len(g.futureBFrames) > 0 {
			b := g.futureBFrames[0]
			g.futureBFrames = g.futureBFrames[1:]
			out = append(out, g.emitB(b, previousL0, newL1))
		}

		g.l0Ref = newL1
		g.l1RefPending = nil

		out = append(out, g.nextIPFrames()...)
		return out, nil
	}

	// A reconstruction that matches neither pending slot (e.g. one
	// delivered after a sequence reset) carries no new information for
	// this predictor.
	return nil, nil
}

// Drain pops the most recently buffered B frame and re-encodes it as a P to
// close out the current GOP, since it has no buffered future frame to
// anchor a real B against.
func (g *GroupOfPictures[P, R]) Drain() ([]Request[P, R], error) {
	if g.l1RefPending != nil {
		return nil, h264.ErrInvalidInternalState
	}
	if len(g.futureBFrames) == 0 {
		return nil, h264.ErrInvalidInternalState
	}
	if g.l0Ref == nil {
		return nil, h264.ErrInvalidInternalState
	}

	last := len(g.futureBFrames) - 1
	frame := g.futureBFrames[last]
	g.futureBFrames = g.futureBFrames[:last]

	return []Request[P, R]{g.emitP(frame)}, nil
}

// newSequence resets in-sequence counters and pending reference state for
// the start of a new GOP sequence.
func (g *GroupOfPictures[P, R]) newSequence() {
	g.frameCounter = 0
	g.pocCounter = 0
	g.seqInputs = 0
	g.l0Ref = nil
	g.idrRefPending = nil
	g.l1RefPending = nil
}

func (g *GroupOfPictures[P, R]) nextIPFrames() []Request[P, R] {
	var out []Request[P, R]

	for len(g.queue) > 0 {
		head := g.queue[0]

		// Periodic limit-bounded reset and force_keyframe both start a new
		// sequence, but only at a clean chunk boundary: buffered B frames
		// must drain against their anchor first or they would be lost.
		// With an open chunk and no anchor outstanding, the tail of the
		// buffer is repurposed as a closing P (same move as Drain) so the
		// remaining B frames get their l1 reference; with an anchor
		// already outstanding, its reconstruction will re-run this pump.
		needsReset := head.meta.ForceKeyframe || g.seqInputs >= uint32(g.limit)
		if needsReset && g.idrRefPending != nil {
			// The sequence just started; its IDR reconstruction will
			// re-run this pump.
			return out
		}
		if needsReset && g.l0Ref != nil {
			switch {
			case g.l1RefPending == nil && len(g.futureBFrames) == 0:
				g.newSequence()
			case g.l1RefPending == nil:
				last := len(g.futureBFrames) - 1
				closing := g.futureBFrames[last]
				g.futureBFrames = g.futureBFrames[:last]
				out = append(out, g.emitP(closing))
				return out
			default:
				return out
			}
		}

		switch {
		case g.l0Ref == nil && g.idrRefPending == nil:
			g.queue = g.queue[1:]
			g.seqInputs++
			out = append(out, g.emitIDR(head))
		case uint16(len(g.futureBFrames)) < g.size:
			g.queue = g.queue[1:]
			g.seqInputs++
			g.futureBFrames = append(g.futureBFrames, head)
		case g.l1RefPending == nil && g.l0Ref != nil:
			g.queue = g.queue[1:]
			g.seqInputs++
			out = append(out, g.emitP(head))
		default:
			return out
		}
	}

	return out
}

func (g *GroupOfPictures[P, R]) emitIDR(frame pendingFrame[P]) Request[P, R] {
	maxNumRefFrames := uint32(g.size) + 1
	g.sps = h264.NewSps(*g.config, uint32(g.limit), maxNumRefFrames)
	g.pps = h264.NewPps(g.sps, g.config.DefaultQP, 1, 1)

	var headers []byte
	headers = g.sps.AppendNAL(headers, nal.StartCode3)
	headers = g.pps.AppendNAL(headers, nal.StartCode3)

	poc := uint16(2 * g.pocCounter)
	frameNum := g.frameCounter
	meta := h264.DpbEntryMeta{POC: poc, FrameNum: frameNum, IsReference: h264.IsReferenceShortTerm}
	g.idrRefPending = &meta

	logGOP.Info("emitting IDR", telemetry.KeyFrameNum, frameNum, telemetry.KeyPOC, poc)

	g.pocCounter++
	g.frameCounter++

	return &h264.BackendRequest[P, R]{
		SPS:            g.sps,
		PPS:            g.pps,
		Header:         h264.SliceHeader{SliceType: h264.SliceTypeI, PicOrderCntLsb: poc},
		Input:          frame.picture,
		InputMeta:      frame.meta,
		DPBMeta:        meta,
		NumMacroblocks: g.sps.NumMacroblocks(),
		IsIDR:          true,
		Config:         g.config,
		CodedOutput:    headers,
	}
}

func (g *GroupOfPictures[P, R]) emitP(frame pendingFrame[P]) Request[P, R] {
	poc := uint16(2 * (g.pocCounter + uint32(g.size)))
	frameNum := g.frameCounter
	meta := h264.DpbEntryMeta{POC: poc, FrameNum: frameNum, IsReference: h264.IsReferenceShortTerm}
	g.l1RefPending = &meta

	logGOP.Debug("emitting P", telemetry.KeyFrameNum, frameNum, telemetry.KeyPOC, poc)

	req := &h264.BackendRequest[P, R]{
		SPS:            g.sps,
		PPS:            g.pps,
		Header:         h264.SliceHeader{SliceType: h264.SliceTypeP, PicOrderCntLsb: poc},
		Input:          frame.picture,
		InputMeta:      frame.meta,
		DPBMeta:        meta,
		RefList0:       []*h264.DpbEntry[R]{g.l0Ref},
		NumMacroblocks: g.sps.NumMacroblocks(),
		IsIDR:          false,
		Config:         g.config,
	}

	g.pocCounter++
	g.frameCounter++

	return req
}

func (g *GroupOfPictures[P, R]) emitB(frame pendingFrame[P], prevL0, newL1 *h264.DpbEntry[R]) Request[P, R] {
	// B frames do not advance frame_num: they carry the current counter
	// value (the slot the next P will claim) and are non-reference.
	poc := uint16(2 * (g.pocCounter - 1))
	frameNum := g.frameCounter

	logGOP.Debug("emitting B", telemetry.KeyFrameNum, frameNum, telemetry.KeyPOC, poc)

	req := &h264.BackendRequest[P, R]{
		SPS:            g.sps,
		PPS:            g.pps,
		Header:         h264.SliceHeader{SliceType: h264.SliceTypeB, PicOrderCntLsb: poc},
		Input:          frame.picture,
		InputMeta:      frame.meta,
		DPBMeta:        h264.DpbEntryMeta{POC: poc, FrameNum: frameNum, IsReference: h264.IsReferenceNo},
		RefList0:       []*h264.DpbEntry[R]{prevL0},
		RefList1:       []*h264.DpbEntry[R]{newL1},
		NumMacroblocks: g.sps.NumMacroblocks(),
		IsIDR:          false,
		Config:         g.config,
	}

	g.pocCounter++

	return req
}
