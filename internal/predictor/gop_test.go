package predictor

import (
	"errors"
	"testing"

	"github.com/breeze-rmm/h264encoder/internal/h264"
)

func gopConfig(size, limit uint16) *h264.EncoderConfig {
	return &h264.EncoderConfig{
		Bitrate:    h264.Bitrate{ConstantBitsPerSecond: 1_000_000},
		Framerate:  30,
		Resolution: h264.Resolution{Width: 64, Height: 64},
		Profile:    h264.ProfileBaseline,
		Level:      h264.L41,
		PredStructure: h264.PredictionStructure{
			Kind:            h264.GroupOfPictures,
			GroupOfPictures: &h264.GroupOfPicturesParams{Size: size, Limit: limit},
		},
		DefaultQP: 26,
	}
}

// gopDriver feeds frames into a GroupOfPictures predictor and plays the
// backend: every emitted request's reconstruction is delivered back in
// submission order. It records the emission order and which references
// each request named.
type gopDriver struct {
	t *testing.T
	p *GroupOfPictures[int, int]

	emitted []Request[int, int]
	seen    map[h264.DpbEntryMeta]bool
}

func newGopDriver(t *testing.T, size, limit uint16) *gopDriver {
	return &gopDriver{
		t:    t,
		p:    NewGroupOfPictures[int, int](gopConfig(size, limit)),
		seen: map[h264.DpbEntryMeta]bool{},
	}
}

func (d *gopDriver) feedback(reqs []Request[int, int]) {
	for len(reqs) > 0 {
		req := reqs[0]
		reqs = reqs[1:]
		d.emitted = append(d.emitted, req)

		for _, ref := range append(append([]*h264.DpbEntry[int]{}, req.RefList0...), req.RefList1...) {
			if !d.seen[ref.Meta] {
				d.t.Fatalf("request for ts %d references undelivered entry %+v",
					req.InputMeta.Timestamp, ref.Meta)
			}
		}

		d.seen[req.DPBMeta] = true
		more, err := d.p.Reconstructed(h264.DpbEntry[int]{Recon: len(d.emitted), Meta: req.DPBMeta})
		if err != nil {
			d.t.Fatal(err)
		}
		reqs = append(reqs, more...)
	}
}

func (d *gopDriver) encode(n int, forceAt map[int]bool) {
	for i := 0; i < n; i++ {
		meta := h264.FrameMetadata{Timestamp: uint64(i), ForceKeyframe: forceAt[i]}
		reqs, err := d.p.NewFrame(i, meta)
		if err != nil {
			d.t.Fatal(err)
		}
		d.feedback(reqs)
	}
}

func (d *gopDriver) drain() {
	for {
		reqs, err := d.p.Drain()
		if errors.Is(err, h264.ErrInvalidInternalState) {
			return
		}
		if err != nil {
			d.t.Fatal(err)
		}
		d.feedback(reqs)
	}
}

func (d *gopDriver) timestamps() []uint64 {
	out := make([]uint64, len(d.emitted))
	for i, req := range d.emitted {
		out[i] = req.InputMeta.Timestamp
	}
	return out
}

func TestGopSubmissionOrder(t *testing.T) {
	d := newGopDriver(t, 2, 16)
	d.encode(8, nil)

	// B frames are submitted after the P that anchors them.
	want := []uint64{0, 3, 1, 2, 6, 4, 5}
	got := d.timestamps()
	if len(got) != len(want) {
		t.Fatalf("emitted %d requests (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("submission order %v, want %v", got, want)
		}
	}
}

func TestGopSliceTypes(t *testing.T) {
	d := newGopDriver(t, 2, 16)
	d.encode(8, nil)

	want := []h264.SliceType{
		h264.SliceTypeI, h264.SliceTypeP, h264.SliceTypeB, h264.SliceTypeB,
		h264.SliceTypeP, h264.SliceTypeB, h264.SliceTypeB,
	}
	for i, req := range d.emitted {
		if req.Header.SliceType != want[i] {
			t.Errorf("request %d: slice type %v, want %v", i, req.Header.SliceType, want[i])
		}
	}
}

func TestGopBFramePOCBetweenAnchors(t *testing.T) {
	d := newGopDriver(t, 2, 64)
	d.encode(8, nil)

	for i, req := range d.emitted {
		if req.Header.SliceType != h264.SliceTypeB {
			continue
		}
		l0 := req.RefList0[0].Meta.POC
		l1 := req.RefList1[0].Meta.POC
		if !(l0 < req.DPBMeta.POC && req.DPBMeta.POC < l1) {
			t.Errorf("request %d: B poc %d not strictly between anchors %d and %d",
				i, req.DPBMeta.POC, l0, l1)
		}
		if req.DPBMeta.IsReference != h264.IsReferenceNo {
			t.Errorf("request %d: B frame must be non-reference", i)
		}
	}
}

func TestGopFrameNumAdvancesOnlyOnReferences(t *testing.T) {
	d := newGopDriver(t, 2, 64)
	d.encode(8, nil)

	var lastPFrameNum uint32
	for i, req := range d.emitted {
		switch req.Header.SliceType {
		case h264.SliceTypeI:
			if req.DPBMeta.FrameNum != 0 {
				t.Errorf("request %d: IDR frame_num = %d, want 0", i, req.DPBMeta.FrameNum)
			}
			lastPFrameNum = 0
		case h264.SliceTypeP:
			if req.DPBMeta.FrameNum != lastPFrameNum+1 {
				t.Errorf("request %d: P frame_num = %d, want %d", i, req.DPBMeta.FrameNum, lastPFrameNum+1)
			}
			lastPFrameNum = req.DPBMeta.FrameNum
		case h264.SliceTypeB:
			// B frames carry the counter value without advancing it.
			if req.DPBMeta.FrameNum != lastPFrameNum+1 {
				t.Errorf("request %d: B frame_num = %d, want %d", i, req.DPBMeta.FrameNum, lastPFrameNum+1)
			}
		}
	}
}

func TestGopAtMostOneOutstandingL1(t *testing.T) {
	p := NewGroupOfPictures[int, int](gopConfig(2, 64))

	reqs, err := p.NewFrame(0, h264.FrameMetadata{Timestamp: 0})
	if err != nil {
		t.Fatal(err)
	}
	idr := reqs[0]

	more, err := p.Reconstructed(h264.DpbEntry[int]{Recon: 0, Meta: idr.DPBMeta})
	if err != nil {
		t.Fatal(err)
	}
	if len(more) != 0 {
		t.Fatalf("no frames pending, expected no requests, got %d", len(more))
	}

	// Feed a whole GOP chunk plus the next chunk's worth of frames without
	// delivering the P reconstruction: exactly one P may be emitted.
	var pCount int
	for i := 1; i <= 7; i++ {
		reqs, err := p.NewFrame(i, h264.FrameMetadata{Timestamp: uint64(i)})
		if err != nil {
			t.Fatal(err)
		}
		for _, req := range reqs {
			if req.Header.SliceType == h264.SliceTypeP {
				pCount++
			}
		}
	}
	if pCount != 1 {
		t.Fatalf("emitted %d P frames with the l1 reconstruction outstanding, want 1", pCount)
	}
}

func TestGopDrainClosesOpenChunk(t *testing.T) {
	d := newGopDriver(t, 2, 64)
	// I(0), then 1 and 2 buffered as future Bs; no P yet.
	d.encode(3, nil)
	if len(d.emitted) != 1 {
		t.Fatalf("expected only the IDR emitted, got %d", len(d.emitted))
	}

	d.drain()

	// Drain re-encodes the last buffered frame (2) as P; its
	// reconstruction releases frame 1 as a B.
	want := []uint64{0, 2, 1}
	got := d.timestamps()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drain order %v, want %v", got, want)
		}
	}
	if d.emitted[1].Header.SliceType != h264.SliceTypeP {
		t.Fatalf("closing frame slice type %v, want P", d.emitted[1].Header.SliceType)
	}
	if d.emitted[2].Header.SliceType != h264.SliceTypeB {
		t.Fatalf("released frame slice type %v, want B", d.emitted[2].Header.SliceType)
	}
}

func TestGopDrainWithoutBufferedFramesFails(t *testing.T) {
	p := NewGroupOfPictures[int, int](gopConfig(2, 64))
	if _, err := p.Drain(); !errors.Is(err, h264.ErrInvalidInternalState) {
		t.Fatalf("Drain error = %v, want ErrInvalidInternalState", err)
	}
}

func TestGopLimitStartsNewSequence(t *testing.T) {
	d := newGopDriver(t, 2, 4)
	d.encode(8, nil)
	d.drain()

	if got := len(d.emitted); got != 8 {
		t.Fatalf("emitted %d requests, want 8 (no frame may be dropped)", got)
	}

	var idrAt []uint64
	for _, req := range d.emitted {
		if req.IsIDR {
			idrAt = append(idrAt, req.InputMeta.Timestamp)
		}
	}
	if len(idrAt) != 2 || idrAt[0] != 0 || idrAt[1] != 4 {
		t.Fatalf("IDR timestamps = %v, want [0 4]", idrAt)
	}
}

func TestGopForceKeyframeStartsNewSequence(t *testing.T) {
	d := newGopDriver(t, 2, 64)
	d.encode(10, map[int]bool{5: true})
	d.drain()

	if got := len(d.emitted); got != 10 {
		t.Fatalf("emitted %d requests, want 10 (no frame may be dropped)", got)
	}

	var forced *h264.BackendRequest[int, int]
	for _, req := range d.emitted {
		if req.InputMeta.Timestamp == 5 {
			forced = req
		}
	}
	if forced == nil || !forced.IsIDR {
		t.Fatalf("frame 5 was not emitted as IDR: %+v", forced)
	}
}
