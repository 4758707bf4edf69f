// Package predictor implements the decision engine contract and its two
// realizations: LowDelay and GroupOfPictures.
package predictor

import (
	"github.com/breeze-rmm/h264encoder/internal/h264"
)

// Request is one backend request a predictor emits. A nil or empty slice
// from any of the three operations below means no operation; there is no
// wrapper verdict type around it.
type Request[P any, R any] = *h264.BackendRequest[P, R]

// Predictor is the decision engine contract every prediction structure
// implements.
type Predictor[P any, R any] interface {
	// NewFrame appends the frame to the internal pending queue, then
	// attempts to emit requests.
	NewFrame(picture P, meta h264.FrameMetadata) ([]Request[P, R], error)

	// Reconstructed delivers a resolved reference to the predictor, then
	// attempts to emit requests.
	Reconstructed(entry h264.DpbEntry[R]) ([]Request[P, R], error)

	// Drain forces the predictor to emit at least one request if it still
	// holds pending frames; it fails with h264.ErrInvalidInternalState if
	// it has no way to do so.
	Drain() ([]Request[P, R], error)
}

// pendingFrame is one not-yet-encoded input held by a predictor's queue.
type pendingFrame[P any] struct {
	picture P
	meta    h264.FrameMetadata
}
