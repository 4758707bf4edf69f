// Package softwarebackend is a software-only Backend implementation. It does
// not compress pixels: it synthesizes a SEI NAL carrying the input frame's
// timestamp plus a placeholder slice NAL, which is exactly what the
// control-plane tests and the h264ctl demo need to observe ordering,
// header placement, and reference plumbing end to end.
//
// Slice work runs on a bounded worker pool, so promises genuinely resolve
// out of submission order under load; with zero workers the backend runs
// inline and returns already-resolved promises.
package softwarebackend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/breeze-rmm/h264encoder/internal/backend"
	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/nal"
	"github.com/breeze-rmm/h264encoder/internal/promise"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
	"github.com/breeze-rmm/h264encoder/internal/workerpool"
)

var log = telemetry.L("softwarebackend")

// Picture is the backend's imported-frame representation.
type Picture struct {
	Meta   h264.FrameMetadata
	Handle any
}

// Reference is the backend's reconstructed-picture handle. The software
// backend has no pixel data to reconstruct, so the handle carries only the
// identity of the slot it fills.
type Reference struct {
	Meta h264.DpbEntryMeta
}

var supportedFormats = map[string]bool{
	"":     true, // callers that don't describe a layout get the default
	"nv12": true,
	"i420": true,
}

// Backend implements backend.Backend[Picture, *Reference].
type Backend struct {
	pool     *workerpool.Pool
	seiUUID  [16]byte
	stopOnce sync.Once
}

// New creates a software backend dispatching on workers goroutines with a
// queue of queueSize pending slices. workers == 0 selects inline mode:
// EncodeSlice computes synchronously and returns already-resolved promises.
func New(workers, queueSize int) *Backend {
	b := &Backend{seiUUID: [16]byte(uuid.New())}
	if workers > 0 {
		b.pool = workerpool.New(workers, queueSize)
	}
	return b
}

// Close stops the dispatch pool, waiting for in-flight slices up to the
// context deadline. Inline backends have nothing to stop.
func (b *Backend) Close(ctx context.Context) {
	b.stopOnce.Do(func() {
		if b.pool != nil {
			b.pool.StopAccepting()
			b.pool.Drain(ctx)
		}
	})
}

func (b *Backend) ImportPicture(meta h264.FrameMetadata, handle any) (Picture, error) {
	if !supportedFormats[meta.Layout.Format] {
		return Picture{}, &h264.BackendError{
			Kind: h264.BackendErrorUnsupportedFormat,
			Err:  fmt.Errorf("pixel format %q", meta.Layout.Format),
		}
	}
	return Picture{Meta: meta, Handle: handle}, nil
}

func (b *Backend) EncodeSlice(req *h264.BackendRequest[Picture, *Reference]) (backend.ReconPromise[*Reference], backend.CodedPromise, error) {
	if !req.IsIDR && len(req.RefList0) == 0 {
		return nil, nil, &h264.BackendError{
			Kind: h264.BackendErrorOther,
			Err:  errors.New("non-IDR request with empty ref_list_0"),
		}
	}

	if b.pool == nil {
		entry, coded := b.runSlice(req)
		return promise.NewReady(entry), promise.NewReady(coded), nil
	}

	recon := newAsyncPromise[h264.DpbEntry[*Reference]]()
	coded := newAsyncPromise[[]byte]()

	ok := b.pool.Submit(func() {
		entry, bytes := b.runSlice(req)
		coded.resolve(bytes, nil)
		recon.resolve(entry, nil)
	})
	if !ok {
		return nil, nil, &h264.BackendError{
			Kind: h264.BackendErrorOutOfResources,
			Err:  errors.New("dispatch queue full"),
		}
	}

	return recon, coded, nil
}

// runSlice produces the coded bytes and the reconstruction entry for one
// request. CodedOutput arrives pre-seeded with SPS/PPS for IDR requests;
// the SEI timestamp NAL and the placeholder slice NAL are appended after.
func (b *Backend) runSlice(req *h264.BackendRequest[Picture, *Reference]) (h264.DpbEntry[*Reference], []byte) {
	out := req.CodedOutput

	sei := h264.Sei{UUID: b.seiUUID, Timestamp: req.InputMeta.Timestamp}
	out = sei.AppendNAL(out, nal.StartCode3)
	out = appendSliceNAL(out, req)

	log.Debug("slice encoded",
		telemetry.KeyFrameNum, req.DPBMeta.FrameNum,
		telemetry.KeyPOC, req.DPBMeta.POC,
		telemetry.KeyTimestamp, req.InputMeta.Timestamp)

	entry := h264.DpbEntry[*Reference]{
		Recon: &Reference{Meta: req.DPBMeta},
		Meta:  req.DPBMeta,
	}
	return entry, out
}

// appendSliceNAL writes the placeholder slice NAL: the correct unit type
// and ref_idc for the request, with a payload describing the slice header
// fields this core assigned. Not a decodable slice — a marker the tests
// and diagnostics can parse back.
func appendSliceNAL(buf []byte, req *h264.BackendRequest[Picture, *Reference]) []byte {
	unitType := byte(nal.TypeNonIDRSlice)
	if req.IsIDR {
		unitType = nal.TypeIDRSlice
	}
	refIdc := byte(0)
	if req.DPBMeta.IsReference != h264.IsReferenceNo {
		refIdc = 2
	}

	payload := []byte{
		byte(req.Header.SliceType),
		byte(req.DPBMeta.FrameNum),
		byte(req.Header.PicOrderCntLsb >> 8), byte(req.Header.PicOrderCntLsb),
		byte(len(req.RefList0)),
		byte(len(req.RefList1)),
	}
	return nal.AppendUnit(buf, nal.StartCode3, refIdc, unitType, payload)
}

type asyncPromise[T any] struct {
	done   chan struct{}
	result T
	err    error
}

func newAsyncPromise[T any]() *asyncPromise[T] {
	return &asyncPromise[T]{done: make(chan struct{})}
}

func (p *asyncPromise[T]) resolve(v T, err error) {
	p.result = v
	p.err = err
	close(p.done)
}

func (p *asyncPromise[T]) IsReady() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *asyncPromise[T]) Sync() (T, error) {
	<-p.done
	return p.result, p.err
}
