// Package wire implements the AgriNode telemetry frame format: a fixed
// big-endian layout small enough for a LoRa payload and unambiguous enough
// to parse without a schema.
//
// Frame layout, offsets in bytes:
//
//	[0]     magic 0xAB
//	[1]     magic 0xCD
//	[2:4]   team id
//	[4:6]   node id
//	[6]     soil moisture %, rounded
//	[7:9]   temperature, (celsius+50)*10
//	[9]     relative humidity %, rounded
//	[10]    irrigation state ordinal
//	[11]    signal strength, dBm+128
//	[12:16] data timestamp, epoch seconds (extended format only)
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/agrinode-simulator/model"
)

const (
	Magic0 = 0xAB
	Magic1 = 0xCD

	HeaderLen        = 4
	CompactFrameLen  = 12
	ExtendedFrameLen = 16

	DefaultTeamID = 666
)

var (
	// ErrFormat marks frames whose magic bytes do not match.
	ErrFormat = errors.New("bad frame format")
	// ErrLength marks frames whose length does not match their format.
	ErrLength = errors.New("bad frame length")
	// ErrIrrigation marks frames carrying an undefined irrigation ordinal.
	ErrIrrigation = errors.New("unknown irrigation state")
)

// Format selects whether frames carry the trailing epoch timestamp.
type Format int

const (
	FormatCompact Format = iota
	FormatExtended
)

func (f Format) String() string {
	if f == FormatExtended {
		return "extended"
	}
	return "compact"
}

// FrameLen returns the exact byte length of frames in this format.
func (f Format) FrameLen() int {
	if f == FormatExtended {
		return ExtendedFrameLen
	}
	return CompactFrameLen
}

// DetectFormat infers the format from a raw frame length.
func DetectFormat(frame []byte) (Format, error) {
	switch len(frame) {
	case CompactFrameLen:
		return FormatCompact, nil
	case ExtendedFrameLen:
		return FormatExtended, nil
	}
	return FormatCompact, fmt.Errorf("frame is %d bytes: %w", len(frame), ErrLength)
}

// Telemetry is one decoded frame.
type Telemetry struct {
	TeamID          uint16
	NodeID          uint16
	SoilMoisturePct uint8
	AirTempC        float64
	AirHumidityPct  uint8
	Irrigation      model.IrrigationState
	SignalDBm       int16
	// DataTimestamp is zero on compact frames.
	DataTimestamp uint32
}

// Codec encodes and decodes frames for one team id and format.
type Codec struct {
	TeamID uint16
	Format Format
}

// NewCodec returns a codec for the given team id and format.
func NewCodec(teamID uint16, format Format) *Codec {
	return &Codec{TeamID: teamID, Format: format}
}

// FrameLen returns the exact byte length of frames this codec produces.
func (c *Codec) FrameLen() int {
	return c.Format.FrameLen()
}

// Encode serializes a node snapshot. signalDBm is the transmit-path signal
// estimate carried in the frame; it is clamped into int8 range before the
// +128 offset is applied.
func (c *Codec) Encode(n model.NodeState, signalDBm int16) []byte {
	buf := make([]byte, c.FrameLen())
	buf[0] = Magic0
	buf[1] = Magic1
	binary.BigEndian.PutUint16(buf[2:4], c.TeamID)
	binary.BigEndian.PutUint16(buf[4:6], n.NodeID)
	buf[6] = roundPct(n.SoilMoisturePct)
	binary.BigEndian.PutUint16(buf[7:9], uint16(encodeTemp(n.AirTempC)))
	buf[9] = roundPct(n.AirHumidityPct)
	buf[10] = uint8(n.Irrigation)
	buf[11] = encodeSignal(signalDBm)
	if c.Format == FormatExtended {
		binary.BigEndian.PutUint32(buf[12:16], n.DataTimestamp)
	}
	return buf
}

// Decode parses one frame. The buffer must match the codec's frame length
// exactly; truncated or padded input is rejected before any field parses.
func (c *Codec) Decode(frame []byte) (Telemetry, error) {
	var t Telemetry
	if len(frame) < HeaderLen {
		return t, fmt.Errorf("frame is %d bytes, need at least %d: %w", len(frame), HeaderLen, ErrLength)
	}
	if frame[0] != Magic0 || frame[1] != Magic1 {
		return t, fmt.Errorf("magic %#02x %#02x: %w", frame[0], frame[1], ErrFormat)
	}
	if len(frame) != c.FrameLen() {
		return t, fmt.Errorf("frame is %d bytes, want %d: %w", len(frame), c.FrameLen(), ErrLength)
	}
	irrigation := model.IrrigationState(frame[10])
	if !irrigation.Valid() {
		return t, fmt.Errorf("ordinal %d: %w", frame[10], ErrIrrigation)
	}

	t.TeamID = binary.BigEndian.Uint16(frame[2:4])
	t.NodeID = binary.BigEndian.Uint16(frame[4:6])
	t.SoilMoisturePct = frame[6]
	t.AirTempC = float64(int16(binary.BigEndian.Uint16(frame[7:9])))/10 - 50
	t.AirHumidityPct = frame[9]
	t.Irrigation = irrigation
	t.SignalDBm = int16(frame[11]) - 128
	if c.Format == FormatExtended {
		t.DataTimestamp = binary.BigEndian.Uint32(frame[12:16])
	}
	return t, nil
}

func roundPct(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return uint8(math.Round(v))
}

func encodeTemp(celsius float64) int16 {
	v := math.Round((celsius + 50) * 10)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

func encodeSignal(dbm int16) uint8 {
	if dbm < -128 {
		dbm = -128
	}
	if dbm > 127 {
		dbm = 127
	}
	return uint8(int(dbm) + 128)
}
