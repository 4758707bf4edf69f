package predictor

import (
	"errors"
	"testing"

	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/nal"
)

func lowDelayConfig(tail, limit uint16) *h264.EncoderConfig {
	return &h264.EncoderConfig{
		Bitrate:    h264.Bitrate{ConstantBitsPerSecond: 1_000_000},
		Framerate:  30,
		Resolution: h264.Resolution{Width: 64, Height: 64},
		Profile:    h264.ProfileBaseline,
		Level:      h264.L41,
		PredStructure: h264.PredictionStructure{
			Kind:     h264.LowDelay,
			LowDelay: &h264.LowDelayParams{Tail: tail, Limit: limit},
		},
		DefaultQP: 26,
	}
}

// driveLowDelay feeds n frames, delivering each emitted request's
// reconstruction straight back, and returns every request in emission
// order. forceAt marks input indices with force_keyframe set.
func driveLowDelay(t *testing.T, tail, limit uint16, n int, forceAt map[int]bool) []Request[int, int] {
	t.Helper()

	p := NewLowDelay[int, int](lowDelayConfig(tail, limit))
	var emitted []Request[int, int]

	feedback := func(reqs []Request[int, int]) {
		for len(reqs) > 0 {
			req := reqs[0]
			reqs = reqs[1:]
			emitted = append(emitted, req)

			more, err := p.Reconstructed(h264.DpbEntry[int]{Recon: len(emitted), Meta: req.DPBMeta})
			if err != nil {
				t.Fatal(err)
			}
			reqs = append(reqs, more...)
		}
	}

	for i := 0; i < n; i++ {
		meta := h264.FrameMetadata{Timestamp: uint64(i), ForceKeyframe: forceAt[i]}
		reqs, err := p.NewFrame(i, meta)
		if err != nil {
			t.Fatal(err)
		}
		feedback(reqs)
	}

	return emitted
}

func TestLowDelayIDRPlacement(t *testing.T) {
	emitted := driveLowDelay(t, 1, 4, 10, nil)
	if len(emitted) != 10 {
		t.Fatalf("emitted %d requests, want 10", len(emitted))
	}

	for i, req := range emitted {
		wantIDR := i%4 == 0
		if req.IsIDR != wantIDR {
			t.Errorf("frame %d: IsIDR = %v, want %v", i, req.IsIDR, wantIDR)
		}
	}
}

func TestLowDelayForceKeyframe(t *testing.T) {
	emitted := driveLowDelay(t, 2, 100, 10, map[int]bool{5: true})

	for i, req := range emitted {
		wantIDR := i == 0 || i == 5
		if req.IsIDR != wantIDR {
			t.Errorf("frame %d: IsIDR = %v, want %v", i, req.IsIDR, wantIDR)
		}
	}
}

func TestLowDelayReferenceRampUp(t *testing.T) {
	emitted := driveLowDelay(t, 3, 100, 10, nil)

	wantRefs := []int{0, 1, 2, 3, 3, 3, 3, 3, 3, 3}
	for i, req := range emitted {
		if len(req.RefList0) != wantRefs[i] {
			t.Errorf("frame %d: |ref_list_0| = %d, want %d", i, len(req.RefList0), wantRefs[i])
		}
		if len(req.RefList1) != 0 {
			t.Errorf("frame %d: ref_list_1 must stay empty, got %d", i, len(req.RefList1))
		}
	}
}

func TestLowDelayRefListMostRecentFirst(t *testing.T) {
	emitted := driveLowDelay(t, 3, 100, 6, nil)

	req := emitted[5]
	if len(req.RefList0) != 3 {
		t.Fatalf("|ref_list_0| = %d, want 3", len(req.RefList0))
	}
	for i := 0; i < len(req.RefList0)-1; i++ {
		if req.RefList0[i].Meta.FrameNum <= req.RefList0[i+1].Meta.FrameNum {
			t.Fatalf("ref_list_0 not most-recent-first: %v then %v",
				req.RefList0[i].Meta, req.RefList0[i+1].Meta)
		}
	}
}

func TestLowDelayPOCAndFrameNum(t *testing.T) {
	emitted := driveLowDelay(t, 1, 4, 12, nil)

	for i, req := range emitted {
		inSeq := uint32(i % 4)
		if req.DPBMeta.FrameNum != inSeq {
			t.Errorf("frame %d: frame_num = %d, want %d", i, req.DPBMeta.FrameNum, inSeq)
		}
		if req.DPBMeta.POC != uint16(inSeq*2) {
			t.Errorf("frame %d: poc = %d, want %d", i, req.DPBMeta.POC, inSeq*2)
		}
	}
}

func TestLowDelayStarvesWithoutReconstruction(t *testing.T) {
	p := NewLowDelay[int, int](lowDelayConfig(1, 100))

	reqs, err := p.NewFrame(0, h264.FrameMetadata{Timestamp: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || !reqs[0].IsIDR {
		t.Fatalf("expected immediate IDR, got %d requests", len(reqs))
	}
	idr := reqs[0]

	// Next frame has no reconstructed reference yet: nothing to emit.
	reqs, err = p.NewFrame(1, h264.FrameMetadata{Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected starvation, got %d requests", len(reqs))
	}

	// Delivering the IDR reconstruction releases the held frame as a P.
	reqs, err = p.Reconstructed(h264.DpbEntry[int]{Recon: 1, Meta: idr.DPBMeta})
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].IsIDR || len(reqs[0].RefList0) != 1 {
		t.Fatalf("expected one P referencing the IDR, got %+v", reqs)
	}
}

func TestLowDelayIDRSeedsHeaders(t *testing.T) {
	emitted := driveLowDelay(t, 1, 4, 5, nil)

	idr := emitted[0]
	units := nal.Split(idr.CodedOutput)
	if len(units) != 2 || units[0].Type != nal.TypeSPS || units[1].Type != nal.TypePPS {
		t.Fatalf("IDR coded_output = %s, want SPS then PPS", nal.Describe(idr.CodedOutput))
	}
	if idr.SPS.MaxFrameNum != 4 || idr.SPS.MaxNumRefFrames != 2 {
		t.Fatalf("SPS max_frame_num=%d max_num_ref_frames=%d, want 4 and 2",
			idr.SPS.MaxFrameNum, idr.SPS.MaxNumRefFrames)
	}

	p := emitted[1]
	if len(p.CodedOutput) != 0 {
		t.Fatalf("non-IDR coded_output must be empty, got %d bytes", len(p.CodedOutput))
	}
}

func TestLowDelayDrainFails(t *testing.T) {
	p := NewLowDelay[int, int](lowDelayConfig(1, 100))
	if _, err := p.Drain(); !errors.Is(err, h264.ErrInvalidInternalState) {
		t.Fatalf("Drain error = %v, want ErrInvalidInternalState", err)
	}
}
