package audio

import "time"

const (
	DefaultSampleRate = 8000
	DefaultFormat     = "mulaw"

	// FrameDuration is the playback pacing unit used for telephony streams.
	FrameDuration = 20 * time.Millisecond
)

// GetDefaultEncodingInfo returns the telephony encoding: 8 kHz mulaw.
func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	}

	return 0
}

// BytesFor returns the number of bytes needed to hold d of mono audio.
func (e EncodingInfo) BytesFor(d time.Duration) int {
	size := e.Format.ByteSize()
	if size <= 0 {
		return 0
	}
	return int(int64(e.SampleRate) * int64(size) * int64(d) / int64(time.Second))
}

// DurationOf is the inverse of BytesFor.
func (e EncodingInfo) DurationOf(n int) time.Duration {
	bytesPerSecond := e.SampleRate * e.Format.ByteSize()
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}

// Silence returns d worth of silence in this encoding.
func (e EncodingInfo) Silence(d time.Duration) []byte {
	chunk := make([]byte, e.BytesFor(d))
	for i := range chunk {
		chunk[i] = e.SilenceValue()
	}
	return chunk
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
