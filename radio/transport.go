// Package radio provides the uplink transports frames are written to:
// an in-process simulated channel and an MQTT bridge.
package radio

import "errors"

// Transport is a half-duplex uplink. BeginFrame, WriteBytes and EndFrame
// form one atomic transmission; interleaving transmissions on a single
// transport is a caller bug and reported as an error.
type Transport interface {
	// BeginFrame opens a new outgoing frame.
	BeginFrame() error
	// WriteBytes appends payload bytes to the open frame.
	WriteBytes(p []byte) error
	// EndFrame closes the frame and hands it to the link layer. With
	// wait=true it returns only once delivery is confirmed or rejected;
	// a nil return means the frame was accepted.
	EndFrame(wait bool) error

	// MeasureChannelActivity returns an instantaneous RSSI reading of
	// the shared channel in dBm. Higher readings mean more traffic.
	MeasureChannelActivity() int16
	// LastReceivedSignalLevel returns the RSSI of the most recent
	// downlink traffic in dBm.
	LastReceivedSignalLevel() int16
}

var (
	// ErrFrameOpen is returned by BeginFrame when a frame is already in
	// progress.
	ErrFrameOpen = errors.New("frame already open")
	// ErrNoFrame is returned by WriteBytes and EndFrame outside an open
	// frame.
	ErrNoFrame = errors.New("no open frame")
	// ErrNotDelivered is returned by EndFrame when the link layer did not
	// confirm the frame.
	ErrNotDelivered = errors.New("delivery not confirmed")
)
