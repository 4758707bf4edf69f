package h264

import (
	"encoding/binary"

	"github.com/breeze-rmm/h264encoder/internal/nal"
)

// Sei is an unregistered-user-data SEI message carrying a UUID and the
// input frame's timestamp. The software backend stamps one into every
// coded slice so tests and downstream tools can recover frame identity.
type Sei struct {
	UUID      [16]byte
	Timestamp uint64
}

// AppendNAL appends this SPS as a NAL unit framed with a start code of the
// given length. It stands in for the real bitstream-syntax emitter: the
// payload here is a compact, self-describing encoding of the fields this
// module assigns, not a bit-exact Exp-Golomb RBSP (out of scope per §1).
func (s *Sps) AppendNAL(buf []byte, startCodeLen int) []byte {
	payload := make([]byte, 0, 32)
	payload = append(payload, s.SeqParameterSetID, byte(s.ProfileIDC), s.ChromaFormatIDC, byte(s.LevelIDC))
	payload = appendU32(payload, s.MaxFrameNum)
	payload = append(payload, s.PicOrderCntType)
	payload = appendU32(payload, s.MaxPicOrderCntLsb)
	payload = appendU32(payload, s.MaxNumRefFrames)
	payload = appendU32(payload, s.PicWidthInMbs)
	payload = appendU32(payload, s.PicHeightInMapUnits)
	return nal.AppendUnit(buf, startCodeLen, 3, nal.TypeSPS, payload)
}

// AppendNAL appends this PPS as a NAL unit framed with a start code of the
// given length.
func (p *Pps) AppendNAL(buf []byte, startCodeLen int) []byte {
	payload := []byte{
		p.PicParameterSetID,
		p.PicInitQP,
		boolByte(p.DeblockingFilterControlPresent),
		p.NumRefIdxL0DefaultActive,
		p.NumRefIdxL1DefaultActive,
	}
	return nal.AppendUnit(buf, startCodeLen, 3, nal.TypePPS, payload)
}

// AppendNAL appends this SEI message as a NAL unit: 16-byte UUID followed
// by the 8-byte little-endian timestamp.
func (s *Sei) AppendNAL(buf []byte, startCodeLen int) []byte {
	payload := make([]byte, 0, 24)
	payload = append(payload, s.UUID[:]...)
	payload = appendU64(payload, s.Timestamp)
	return nal.AppendUnit(buf, startCodeLen, 0, nal.TypeSEI, payload)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
