package h264

// Profile is the H.264 profile_idc value (ITU-T H.264 Table A-1 family).
type Profile uint32

const (
	ProfileBaseline          Profile = 66
	ProfileMain              Profile = 77
	ProfileExtended          Profile = 88
	ProfileHigh              Profile = 100
	ProfileHigh10            Profile = 110
	ProfileHigh422P          Profile = 122
	ProfileHigh444Predictive Profile = 244
)

// Level is the H.264 level_idc value, expressed as level×10 (e.g. L3 = 30,
// L4.1 = 41) so levels compare with plain integer operators.
type Level uint32

const (
	L1  Level = 10
	L1B Level = 9
	L11 Level = 11
	L12 Level = 12
	L13 Level = 13
	L2  Level = 20
	L21 Level = 21
	L22 Level = 22
	L3  Level = 30
	L31 Level = 31
	L32 Level = 32
	L4  Level = 40
	L41 Level = 41
	L42 Level = 42
	L5  Level = 50
	L51 Level = 51
	L52 Level = 52
)

// SliceType is the H.264 slice_type value for the single-slice-per-picture
// model this encoder implements.
type SliceType int

const (
	SliceTypeP SliceType = iota
	SliceTypeB
	SliceTypeI
)

// Sps is a sequence parameter set. Every request within a sequence shares
// one immutable *Sps.
type Sps struct {
	SeqParameterSetID uint8
	ProfileIDC        Profile
	ChromaFormatIDC   uint8
	LevelIDC          Level

	MaxFrameNum       uint32
	PicOrderCntType   uint8
	MaxPicOrderCntLsb uint32
	MaxNumRefFrames   uint32

	FrameMbsOnly        bool
	Direct8x8Inference  bool
	PicWidthInMbs       uint32
	PicHeightInMapUnits uint32

	BitDepthLuma   uint8
	BitDepthChroma uint8

	AspectRatioWidth  uint32
	AspectRatioHeight uint32

	NumUnitsInTick uint32
	TimeScale      uint32
	FixedFrameRate bool
}

// NewSps builds the immutable SPS for a new sequence. maxFrameNum and
// maxNumRefFrames are supplied by the predictor (LowDelay uses limit and
// tail+1; GroupOfPictures uses limit and size+1).
func NewSps(cfg EncoderConfig, maxFrameNum uint32, maxNumRefFrames uint32) *Sps {
	chroma := uint8(1)
	if cfg.Profile == ProfileHigh422P {
		chroma = 2
	}

	return &Sps{
		SeqParameterSetID: 0,
		ProfileIDC:        cfg.Profile,
		ChromaFormatIDC:   chroma,
		LevelIDC:          cfg.Level,

		MaxFrameNum:       maxFrameNum,
		PicOrderCntType:   0,
		MaxPicOrderCntLsb: maxFrameNum * 2,
		MaxNumRefFrames:   maxNumRefFrames,

		FrameMbsOnly:        true,
		Direct8x8Inference:  cfg.Level >= L3,
		PicWidthInMbs:       ceilDiv(cfg.Resolution.Width, 16),
		PicHeightInMapUnits: ceilDiv(cfg.Resolution.Height, 16),

		BitDepthLuma:   8,
		BitDepthChroma: 8,

		AspectRatioWidth:  1,
		AspectRatioHeight: 1,

		NumUnitsInTick: 1,
		TimeScale:      cfg.Framerate * 2,
		FixedFrameRate: false,
	}
}

// NumMacroblocks returns the per-picture macroblock count implied by this
// SPS's width/height in map units.
func (s *Sps) NumMacroblocks() int {
	return int(s.PicWidthInMbs) * int(s.PicHeightInMapUnits)
}

// Pps is a picture parameter set, referencing the Sps it was built against.
type Pps struct {
	Sps *Sps

	PicParameterSetID uint8
	PicInitQP         uint8

	DeblockingFilterControlPresent bool
	NumRefIdxL0DefaultActive       uint8
	NumRefIdxL1DefaultActive       uint8
}

// NewPps builds a PPS referencing sps.
func NewPps(sps *Sps, qp uint8, numRefIdxL0, numRefIdxL1 uint8) *Pps {
	return &Pps{
		Sps:                            sps,
		PicParameterSetID:              0,
		PicInitQP:                      qp,
		DeblockingFilterControlPresent: true,
		NumRefIdxL0DefaultActive:       numRefIdxL0,
		NumRefIdxL1DefaultActive:       numRefIdxL1,
	}
}

// SliceHeader carries the per-slice fields this encoder assigns.
type SliceHeader struct {
	SliceType      SliceType
	FirstMbInSlice uint32
	PicOrderCntLsb uint16
}
