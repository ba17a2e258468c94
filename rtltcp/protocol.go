package rtltcp

import (
	"encoding/binary"
	"fmt"
)

// Command is the opcode byte of an rtl_tcp command frame.
type Command uint8

const (
	CmdSetFrequency      Command = 0x01
	CmdSetSampleRate     Command = 0x02
	CmdSetGainMode       Command = 0x03 // 0 = AGC, 1 = manual gain
	CmdSetGain           Command = 0x04 // tenths of a dB
	CmdSetFreqCorrection Command = 0x05 // signed ppm
)

// FrameSize is the length of every command frame on the wire.
const FrameSize = 5

func (c Command) String() string {
	switch c {
	case CmdSetFrequency:
		return "SET_FREQ"
	case CmdSetSampleRate:
		return "SET_SAMPLE_RATE"
	case CmdSetGainMode:
		return "SET_GAIN_MODE"
	case CmdSetGain:
		return "SET_GAIN"
	case CmdSetFreqCorrection:
		return "SET_FREQ_CORRECTION"
	default:
		return fmt.Sprintf("CMD_0x%02x", uint8(c))
	}
}

// EncodeCommand builds the 5-byte frame: opcode followed by a big-endian
// 32-bit parameter. The parameter is unsigned for every opcode except
// CmdSetFreqCorrection, which carries a signed value.
func EncodeCommand(cmd Command, value int64) [FrameSize]byte {
	var frame [FrameSize]byte
	frame[0] = byte(cmd)
	if cmd == CmdSetFreqCorrection {
		binary.BigEndian.PutUint32(frame[1:], uint32(int32(value)))
	} else {
		binary.BigEndian.PutUint32(frame[1:], uint32(value))
	}
	return frame
}

// DecodeCommand parses a frame produced by EncodeCommand. The returned value
// is sign-extended only for CmdSetFreqCorrection.
func DecodeCommand(frame []byte) (Command, int64, error) {
	if len(frame) < FrameSize {
		return 0, 0, fmt.Errorf("short command frame: %d bytes", len(frame))
	}
	cmd := Command(frame[0])
	raw := binary.BigEndian.Uint32(frame[1:FrameSize])
	if cmd == CmdSetFreqCorrection {
		return cmd, int64(int32(raw)), nil
	}
	return cmd, int64(raw), nil
}

// headerMagic prefixes the dongle information block rtl_tcp sends on accept.
const (
	headerMagic = "RTL0"
	headerSize  = 12
)

// TunerType identifies the tuner chip reported in the dongle header.
type TunerType uint32

const (
	TunerUnknown TunerType = iota
	TunerE4000
	TunerFC0012
	TunerFC0013
	TunerFC2580
	TunerR820T
	TunerR828D
)

func (t TunerType) String() string {
	switch t {
	case TunerE4000:
		return "E4000"
	case TunerFC0012:
		return "FC0012"
	case TunerFC0013:
		return "FC0013"
	case TunerFC2580:
		return "FC2580"
	case TunerR820T:
		return "R820T"
	case TunerR828D:
		return "R828D"
	default:
		return "unknown"
	}
}

// DongleInfo is the decoded 12-byte header.
type DongleInfo struct {
	Tuner     TunerType
	GainCount uint32
}

// EncodeHeader renders a dongle header as a server would send it.
func EncodeHeader(info DongleInfo) [headerSize]byte {
	var hdr [headerSize]byte
	copy(hdr[:4], headerMagic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(info.Tuner))
	binary.BigEndian.PutUint32(hdr[8:12], info.GainCount)
	return hdr
}

func decodeHeader(hdr []byte) DongleInfo {
	return DongleInfo{
		Tuner:     TunerType(binary.BigEndian.Uint32(hdr[4:8])),
		GainCount: binary.BigEndian.Uint32(hdr[8:12]),
	}
}
