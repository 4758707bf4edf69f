// Package archive batches coded frames into per-sequence segments and
// persists each closed segment to a Store. A segment runs from one IDR to
// the frame before the next; Flush closes whatever is open at end of
// stream.
package archive

import (
	"context"
	"fmt"
	"path"

	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/nal"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
)

var log = telemetry.L("archive")

// Archiver accumulates frames between IDRs and uploads finished segments.
// It is driven from the encoder's Poll loop, single-goroutine.
type Archiver struct {
	store  Store
	prefix string

	segment  []byte
	startTS  uint64
	endTS    uint64
	frames   int
	hasOpen  bool
	uploaded int
}

func New(store Store, prefix string) *Archiver {
	return &Archiver{store: store, prefix: prefix}
}

// Append adds one coded frame. A frame opening a new sequence (its
// bitstream leads with an SPS NAL) first closes and uploads the running
// segment.
func (a *Archiver) Append(ctx context.Context, buf h264.CodedBitstreamBuffer) error {
	if startsSequence(buf.Bitstream) && a.hasOpen {
		if err := a.upload(ctx); err != nil {
			return err
		}
	}

	if !a.hasOpen {
		a.hasOpen = true
		a.startTS = buf.Metadata.Timestamp
		a.segment = a.segment[:0]
		a.frames = 0
	}

	a.segment = append(a.segment, buf.Bitstream...)
	a.endTS = buf.Metadata.Timestamp
	a.frames++
	return nil
}

// Flush uploads the currently open segment, if any.
func (a *Archiver) Flush(ctx context.Context) error {
	if !a.hasOpen {
		return nil
	}
	return a.upload(ctx)
}

// SegmentsUploaded reports how many segments have been persisted so far.
func (a *Archiver) SegmentsUploaded() int {
	return a.uploaded
}

func (a *Archiver) upload(ctx context.Context) error {
	key := path.Join(a.prefix, fmt.Sprintf("segment-%d-%d.h264", a.startTS, a.endTS))
	if err := a.store.Put(ctx, key, a.segment); err != nil {
		return err
	}

	log.Info("segment archived", "key", key, "frames", a.frames, "bytes", len(a.segment))
	a.uploaded++
	a.hasOpen = false
	return nil
}

// startsSequence reports whether the frame's bitstream opens with an SPS
// NAL, the marker this module places only at the head of IDR output.
func startsSequence(bitstream []byte) bool {
	units := nal.Split(bitstream)
	return len(units) > 0 && units[0].Type == nal.TypeSPS
}
