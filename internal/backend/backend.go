// Package backend declares the contract the control core consumes from an
// encoder backend (hardware or software): the two operations and the
// promise pair a compliant backend must return.
package backend

import (
	"github.com/breeze-rmm/h264encoder/internal/h264"
	"github.com/breeze-rmm/h264encoder/internal/promise"
)

// Backend transforms raw input handles into the backend's internal picture
// representation and executes slice encode requests. P is the backend's
// picture type; R is its reconstructed-reference-picture handle type.
//
// Neither returned promise is resolved before EncodeSlice returns, and the
// two may resolve in either order: the core routes them through independent
// queues (internal/queue) rather than assuming any ordering between them.
type Backend[P any, R any] interface {
	// ImportPicture converts a raw input handle into the backend's picture
	// type. It may fail with a BackendError of kind UnsupportedFormat,
	// UnsupportedProfile, OutOfResources, or Other.
	ImportPicture(meta h264.FrameMetadata, handle any) (P, error)

	// EncodeSlice enqueues req for execution and returns promises for its
	// reconstruction and its coded bitstream. The backend must append its
	// slice NAL bytes to req.CodedOutput (already seeded with headers for
	// IDR requests) and resolve the coded promise with the combined
	// buffer; the reconstruction promise resolves to the reference handle
	// paired with req.DPBMeta.
	EncodeSlice(req *h264.BackendRequest[P, R]) (ReconPromise[R], CodedPromise, error)
}

// ReconPromise resolves to a reconstructed reference picture handle paired
// with the DpbEntryMeta it was requested for.
type ReconPromise[R any] = promise.Promise[h264.DpbEntry[R]]

// CodedPromise resolves to the finalized coded bitstream bytes for one
// slice request.
type CodedPromise = promise.Promise[[]byte]
