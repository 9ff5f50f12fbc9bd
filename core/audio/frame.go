package audio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDevice reports that an audio device could not be opened or was lost
// while streaming.
var ErrDevice = errors.New("audio device unavailable")

// DeviceError wraps a backend failure so callers can match it with
// errors.Is(err, ErrDevice).
func DeviceError(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrDevice)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDevice, err)
}

// Frame is an immutable chunk of PCM audio.
//
// Sequence is assigned by the capture stream that produced the frame and
// increases by one per frame starting from zero. Frames received from the
// remote side carry their arrival order instead.
type Frame struct {
	Sequence     uint64
	EncodingInfo EncodingInfo
	data         []byte
}

// NewFrame copies data into a new frame so the caller may reuse its buffer.
func NewFrame(sequence uint64, encodingInfo EncodingInfo, data []byte) Frame {
	owned := make([]byte, len(data))
	copy(owned, data)
	return Frame{Sequence: sequence, EncodingInfo: encodingInfo, data: owned}
}

// Data returns a copy of the frame's samples.
func (f Frame) Data() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// Bytes returns the frame's samples without copying. Callers must not modify
// the returned slice.
func (f Frame) Bytes() []byte { return f.data }

func (f Frame) Len() int { return len(f.data) }

func (f Frame) IsEmpty() bool { return len(f.data) == 0 }

// ParseMimeType reads encoding info out of mime types such as
// "audio/pcm;rate=24000". Unknown rates fall back to the given default.
func ParseMimeType(mimeType string, fallback EncodingInfo) EncodingInfo {
	info := fallback
	parts := strings.Split(mimeType, ";")
	switch strings.TrimSpace(strings.ToLower(parts[0])) {
	case "audio/pcm", "audio/l16":
		info.Format = EncodingLinear16
	case "audio/x-mulaw", "audio/mulaw":
		info.Format = EncodingMulaw
	case "audio/x-alaw", "audio/alaw":
		info.Format = EncodingALaw
	}

	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.ToLower(key) != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			info.SampleRate = rate
		}
	}

	return info
}
