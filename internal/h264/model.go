// Package h264 holds the data model shared between the predictor, backend,
// and encoder layers: frame/encoder configuration, the decoded picture
// buffer's bookkeeping types, the value handed to the backend for each
// slice, and the Annex-B framing helpers that stand in for a full
// bitstream-syntax emitter.
package h264

// Resolution is a frame's pixel dimensions.
type Resolution struct {
	Width  uint32 `mapstructure:"width"`
	Height uint32 `mapstructure:"height"`
}

// PlaneLayout describes one image plane's placement within a frame buffer.
type PlaneLayout struct {
	Offset int
	Stride int
}

// FrameLayout describes a raw input frame's pixel format and per-plane
// placement.
type FrameLayout struct {
	Format string
	Planes []PlaneLayout
}

// FrameMetadata accompanies every raw input frame.
type FrameMetadata struct {
	// Timestamp is an opaque, monotonically non-decreasing value supplied
	// by the caller. It is carried through to CodedBitstreamBuffer
	// unchanged.
	Timestamp         uint64
	DisplayResolution Resolution
	Layout            FrameLayout
	ForceKeyframe     bool
}

// Bitrate models the rate-control target. Only constant-bitrate is
// supported: bitrate is expressed here, not enforced (rate control itself
// is out of scope).
type Bitrate struct {
	ConstantBitsPerSecond uint64 `mapstructure:"constant_bps"`
}

// PredictionStructureKind tags which of PredictionStructure's two variants
// is populated.
type PredictionStructureKind int

const (
	LowDelay PredictionStructureKind = iota
	GroupOfPictures
)

func (k PredictionStructureKind) String() string {
	switch k {
	case LowDelay:
		return "low_delay"
	case GroupOfPictures:
		return "group_of_pictures"
	default:
		return "unknown"
	}
}

// LowDelayParams configures the LowDelay prediction structure: IDR, then up
// to Limit-1 P frames each referencing up to Tail immediate predecessors,
// repeating every Limit frames.
type LowDelayParams struct {
	Tail  uint16 `mapstructure:"tail"`
	Limit uint16 `mapstructure:"limit"`
}

// GroupOfPicturesParams configures the GroupOfPictures prediction structure:
// I, then repeating (P, Size×B) chunks, repeating every Limit frames.
type GroupOfPicturesParams struct {
	Size  uint16 `mapstructure:"size"`
	Limit uint16 `mapstructure:"limit"`
}

// PredictionStructure selects one of the two supported GOP shapes. The
// flat, mapstructure-friendly layout decodes directly from the config
// layer; only the parameter struct matching Kind is consulted.
type PredictionStructure struct {
	Kind            PredictionStructureKind `mapstructure:"kind"`
	LowDelay        *LowDelayParams         `mapstructure:"low_delay"`
	GroupOfPictures *GroupOfPicturesParams  `mapstructure:"group_of_pictures"`
}

// EncoderConfig is immutable for the life of the encoder.
type EncoderConfig struct {
	Bitrate       Bitrate             `mapstructure:"bitrate"`
	Framerate     uint32              `mapstructure:"framerate"`
	Resolution    Resolution          `mapstructure:"resolution"`
	Profile       Profile             `mapstructure:"profile"`
	Level         Level               `mapstructure:"level"`
	PredStructure PredictionStructure `mapstructure:"pred_structure"`
	DefaultQP     uint8               `mapstructure:"default_qp"`
}

// IsReference tags whether a DPB entry is usable as a reference, and for how
// long. Only No and ShortTerm are produced by the two predictors this
// module implements.
type IsReference int

const (
	IsReferenceNo IsReference = iota
	IsReferenceShortTerm
	IsReferenceLongTerm
)

// DpbEntryMeta identifies a decoded picture buffer slot. Equality is
// structural (all fields comparable) and is used to match an incoming
// reconstruction promise back to the slot it was issued for.
type DpbEntryMeta struct {
	POC         uint16
	FrameNum    uint32
	IsReference IsReference
}

// DpbEntry pairs an opaque reconstructed-picture handle with its metadata.
// It is shared (by reference, via *DpbEntry[R]) between the predictor's DPB
// and every in-flight request that lists it as a reference; it stays alive
// as long as either retains it.
type DpbEntry[R any] struct {
	Recon R
	Meta  DpbEntryMeta
}

// BackendRequest is the value handed to the backend for one slice.
type BackendRequest[P any, R any] struct {
	SPS    *Sps
	PPS    *Pps
	Header SliceHeader

	// Input is the imported picture to encode.
	Input     P
	InputMeta FrameMetadata

	// DPBMeta is the metadata this request's reconstruction will carry.
	DPBMeta DpbEntryMeta

	RefList0 []*DpbEntry[R]
	RefList1 []*DpbEntry[R]

	NumMacroblocks int
	IsIDR          bool

	Config *EncoderConfig

	// CodedOutput is pre-seeded with already-synthesized headers (SPS/PPS
	// for IDR, empty otherwise). The backend appends its slice NAL data to
	// it and resolves the coded promise with the combined buffer.
	CodedOutput []byte
}

// CodedBitstreamBuffer is the client-visible output of one encoded frame.
type CodedBitstreamBuffer struct {
	Metadata  FrameMetadata
	Bitstream []byte
}

// NumMacroblocks derives the per-picture macroblock count from a resolution,
// assuming frame_mbs_only (no field coding).
func NumMacroblocks(res Resolution) int {
	widthMbs := ceilDiv(res.Width, 16)
	heightMbs := ceilDiv(res.Height, 16)
	return int(widthMbs) * int(heightMbs)
}

func ceilDiv(n, d uint32) uint32 {
	return (n + d - 1) / d
}
