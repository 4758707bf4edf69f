// Package nal implements a minimal Annex-B NAL unit reader/writer. It stands
// in for the real bitstream-syntax emitter, which is an external
// collaborator outside this module's scope: it gets the framing (start
// codes, NAL header byte, unit boundaries) right, but does not attempt
// bit-exact Exp-Golomb RBSP encoding of every H.264 syntax element.
package nal

import "fmt"

// NAL unit types referenced by this module (ITU-T H.264 Table 7-1).
const (
	TypeNonIDRSlice = 1
	TypeIDRSlice    = 5
	TypeSEI         = 6
	TypeSPS         = 7
	TypePPS         = 8
	TypeAUD         = 9
)

// StartCode3 and StartCode4 are the two Annex-B start-code lengths this
// module's callers may request.
const (
	StartCode3 = 3
	StartCode4 = 4
)

// AppendStartCode appends an Annex-B start code of the given length (3 or 4
// bytes) to buf.
func AppendStartCode(buf []byte, length int) []byte {
	switch length {
	case StartCode3:
		return append(buf, 0x00, 0x00, 0x01)
	case StartCode4:
		return append(buf, 0x00, 0x00, 0x00, 0x01)
	default:
		panic(fmt.Sprintf("nal: invalid start code length %d", length))
	}
}

// AppendUnit appends a full NAL unit to buf: start code, one-byte header,
// the payload with emulation-prevention bytes inserted, and a trailing stop
// byte. The stop byte keeps a unit from ending in zeros, which would be
// indistinguishable from the next start code; Split strips both again.
func AppendUnit(buf []byte, startCodeLen int, refIdc byte, unitType byte, payload []byte) []byte {
	buf = AppendStartCode(buf, startCodeLen)
	header := (refIdc & 0x3) << 5
	header |= unitType & 0x1f
	buf = append(buf, header)

	zeros := 0
	for _, b := range payload {
		if zeros >= 2 && b <= 0x03 {
			buf = append(buf, 0x03)
			zeros = 0
		}
		buf = append(buf, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}

	return append(buf, stopByte)
}

const stopByte = 0x80

// Unit is a single parsed NAL unit: its type and RBSP-ish payload (header
// byte stripped, start code stripped).
type Unit struct {
	Type    byte
	RefIdc  byte
	Payload []byte
}

// Split walks an Annex-B byte stream and returns every NAL unit it finds,
// in stream order. Malformed trailing bytes after the last start code are
// ignored.
func Split(data []byte) []Unit {
	var units []Unit

	starts := findStartCodes(data)
	for i, s := range starts {
		unitStart := s.offset + s.length
		var unitEnd int
		if i+1 < len(starts) {
			unitEnd = starts[i+1].offset
		} else {
			unitEnd = len(data)
		}
		if unitStart >= unitEnd {
			continue
		}
		header := data[unitStart]
		units = append(units, Unit{
			Type:    header & 0x1f,
			RefIdc:  (header >> 5) & 0x3,
			Payload: unescapePayload(data[unitStart+1 : unitEnd]),
		})
	}
	return units
}

// unescapePayload undoes AppendUnit's framing: drops the trailing stop byte
// and removes emulation-prevention bytes.
func unescapePayload(raw []byte) []byte {
	if n := len(raw); n > 0 && raw[n-1] == stopByte {
		raw = raw[:n-1]
	}

	out := make([]byte, 0, len(raw))
	zeros := 0
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

type startCode struct {
	offset int
	length int
}

func findStartCodes(data []byte) []startCode {
	var found []startCode
	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		if data[i+2] == 0x01 {
			found = append(found, startCode{offset: i, length: 3})
			i += 2
			continue
		}
		if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
			found = append(found, startCode{offset: i, length: 4})
			i += 3
		}
	}
	return found
}

// Describe summarizes the NAL unit types found in data, e.g. "SPS:1 PPS:1
// IDR:1 SEI:3", in first-seen order. Used for diagnostics and test
// assertions about IDR placement.
func Describe(data []byte) string {
	counts := map[byte]int{}
	var order []byte
	for _, u := range Split(data) {
		if counts[u.Type] == 0 {
			order = append(order, u.Type)
		}
		counts[u.Type]++
	}

	out := ""
	for _, t := range order {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s:%d", typeName(t), counts[t])
	}
	return out
}

func typeName(t byte) string {
	switch t {
	case TypeSPS:
		return "SPS"
	case TypePPS:
		return "PPS"
	case TypeIDRSlice:
		return "IDR"
	case TypeNonIDRSlice:
		return "non-IDR"
	case TypeSEI:
		return "SEI"
	case TypeAUD:
		return "AUD"
	default:
		return fmt.Sprintf("type%d", t)
	}
}
