package audio

import (
	"strconv"
	"time"
)

const (
	DefaultSampleRate       = 16000
	DefaultOutputSampleRate = 24000
	DefaultChannels         = 1
	DefaultFormat           = "linear16"

	// DefaultFrameSamples is the number of samples per channel in a captured
	// frame.
	DefaultFrameSamples = 1024
)

// GetDefaultEncodingInfo returns the capture encoding expected by the live
// endpoint.
func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Format:     encodingFormat(DefaultFormat),
	}
}

// GetDefaultOutputEncodingInfo returns the encoding of synthesized audio sent
// back by the live endpoint.
func GetDefaultOutputEncodingInfo() EncodingInfo {
	return EncodingInfo{
		SampleRate: DefaultOutputSampleRate,
		Channels:   DefaultChannels,
		Format:     encodingFormat(DefaultFormat),
	}
}

type EncodingInfo struct {
	SampleRate int
	Channels   int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) channels() int {
	if e.Channels <= 0 {
		return 1
	}
	return e.Channels
}

// BytesPerSample returns the size of a single sample across all channels.
func (e EncodingInfo) BytesPerSample() int {
	size := e.Format.ByteSize()
	if size <= 0 {
		return 0
	}
	return size * e.channels()
}

// FrameBytes returns the byte length of a frame holding the given number of
// samples per channel.
func (e EncodingInfo) FrameBytes(samples int) int {
	return samples * e.BytesPerSample()
}

// Duration returns how long the given number of bytes plays for.
func (e EncodingInfo) Duration(byteCount int) time.Duration {
	bytesPerSample := e.BytesPerSample()
	if bytesPerSample == 0 || e.SampleRate == 0 {
		return 0
	}
	samples := byteCount / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(e.SampleRate)
}

// MimeType returns the mime type used by the live endpoint for raw PCM.
func (e EncodingInfo) MimeType() string {
	switch e.Format {
	case EncodingLinear16:
		return "audio/pcm;rate=" + strconv.Itoa(e.SampleRate)
	case EncodingMulaw:
		return "audio/x-mulaw;rate=" + strconv.Itoa(e.SampleRate)
	case EncodingALaw:
		return "audio/x-alaw;rate=" + strconv.Itoa(e.SampleRate)
	}
	return ""
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case encodingFormat("alaw"):
		return 0x55
	case encodingFormat("mulaw"):
		return 0xFF
	case encodingFormat("linear16"):
		return 0
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case encodingFormat("mulaw"), encodingFormat("alaw"):
		return 1
	case encodingFormat("linear16"):
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
