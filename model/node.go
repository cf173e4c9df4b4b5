package model

import "fmt"

// CropType identifies what a node's plot is planted with. Values are
// assigned round-robin at seeding time and never change afterwards.
type CropType int

const (
	CropSoybean CropType = iota
	CropMaize
	CropCoffee
	CropSugarCane
	CropCotton
)

var cropNames = [...]string{"SOYBEAN", "MAIZE", "COFFEE", "SUGAR_CANE", "COTTON"}

// NumCropTypes is the number of defined crops.
const NumCropTypes = len(cropNames)

func (c CropType) String() string {
	if c < 0 || int(c) >= NumCropTypes {
		return fmt.Sprintf("CROP(%d)", int(c))
	}
	return cropNames[c]
}

// IrrigationState is the actuator state carried in telemetry frames.
// The ordinals are part of the wire format and must not be reordered.
type IrrigationState uint8

const (
	IrrigationOff IrrigationState = 0
	IrrigationOn  IrrigationState = 1
	// IrrigationAuto is reserved for externally scheduled watering. The
	// control loop never produces it; the codec accepts it.
	IrrigationAuto  IrrigationState = 2
	IrrigationError IrrigationState = 3
)

func (s IrrigationState) String() string {
	switch s {
	case IrrigationOff:
		return "OFF"
	case IrrigationOn:
		return "ON"
	case IrrigationAuto:
		return "AUTO"
	case IrrigationError:
		return "ERROR"
	}
	return fmt.Sprintf("IRRIGATION(%d)", uint8(s))
}

// Valid reports whether the ordinal maps to a defined state.
func (s IrrigationState) Valid() bool {
	return s <= IrrigationError
}

// NodeState is the full simulated state of one field node.
type NodeState struct {
	NodeID uint16
	Crop   CropType

	SoilMoisturePct float64
	AirTempC        float64
	AirHumidityPct  float64

	Irrigation IrrigationState
	// NeedsIrrigation mirrors the last control-loop decision: the soil was
	// below the critical threshold while the valve was off.
	NeedsIrrigation bool

	// LastRSSIdBm is the downlink signal level observed at the last
	// confirmed transmission.
	LastRSSIdBm int16

	// SequenceNumber and TxCount advance only on confirmed transmissions.
	SequenceNumber uint32
	TxCount        uint32

	// LastUpdateMs is the monotonic-clock timestamp of the last dynamics
	// pass; DataTimestamp is the epoch-seconds equivalent, zero while no
	// valid wall-clock source is available. LastTxMs is the monotonic
	// timestamp of the last confirmed transmission, zero before the first.
	LastUpdateMs  uint64
	LastTxMs      uint64
	DataTimestamp uint32
}
