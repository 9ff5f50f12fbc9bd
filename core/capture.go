package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-kiosk/core/audio"
)

// audioCapture turns device callbacks into fixed-size frames.
type audioCapture struct {
	device         AudioCaptureDevice
	frameSamples   int
	bufferedFrames int
	metrics        SessionMetrics
}

func newAudioCapture(device AudioCaptureDevice, limits sessionLimits, metrics SessionMetrics) *audioCapture {
	return &audioCapture{
		device:         device,
		frameSamples:   limits.captureFrameSamples,
		bufferedFrames: limits.captureBufferFrames,
		metrics:        metrics,
	}
}

// Start opens the device and returns a stream of frames numbered from zero.
// A device that cannot be opened yields an error matching [audio.ErrDevice].
func (c *audioCapture) Start(ctx context.Context) (*captureStream, error) {
	encodingInfo := c.device.CaptureEncodingInfo()
	if encodingInfo.IsZero() {
		encodingInfo = audio.GetDefaultEncodingInfo()
	}
	frameBytes := encodingInfo.FrameBytes(c.frameSamples)
	if frameBytes <= 0 {
		return nil, fmt.Errorf("unsupported capture encoding %q", encodingInfo.Format.Name())
	}

	stream := &captureStream{
		device:       c.device,
		encodingInfo: encodingInfo,
		frameBytes:   frameBytes,
		frames:       make(chan audio.Frame, c.bufferedFrames),
		done:         make(chan struct{}),
		metrics:      c.metrics,
	}

	if notifier, ok := c.device.(AudioDeviceLossNotifier); ok {
		notifier.OnDeviceLost(stream.fail)
	}

	if err := c.device.StartCapture(ctx, stream.onAudio); err != nil {
		stream.closeFrames()
		return nil, audio.DeviceError("start capture", err)
	}

	return stream, nil
}

type captureStream struct {
	device       AudioCaptureDevice
	encodingInfo audio.EncodingInfo
	frameBytes   int
	metrics      SessionMetrics

	mu       sync.Mutex
	pending  []byte
	sequence uint64
	stopped  bool
	err      error

	frames   chan audio.Frame
	done     chan struct{}
	stopOnce sync.Once
}

// Frames yields captured frames in capture order. It is closed by Stop or
// when the device is lost.
func (s *captureStream) Frames() <-chan audio.Frame { return s.frames }

// Err reports why the stream ended early, if it did.
func (s *captureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *captureStream) onAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.pending = append(s.pending, data...)
	consumed := 0
	for len(s.pending)-consumed >= s.frameBytes {
		frame := audio.NewFrame(s.sequence, s.encodingInfo, s.pending[consumed:consumed+s.frameBytes])
		select {
		case s.frames <- frame:
			s.sequence++
			consumed += s.frameBytes
			s.metrics.FrameCaptured()
		case <-s.done:
			s.pending = nil
			return
		}
	}
	s.pending = append(s.pending[:0], s.pending[consumed:]...)
}

// Stop releases the device. No frame is delivered after Stop returns.
func (s *captureStream) Stop() error {
	return s.stop(nil)
}

func (s *captureStream) fail(err error) {
	_ = s.stop(audio.DeviceError("capture", err))
}

func (s *captureStream) stop(cause error) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if stopErr := s.device.StopCapture(); stopErr != nil {
			err = fmt.Errorf("failed to stop capture device: %w", stopErr)
		}

		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		s.closeFrames()
	})
	return err
}

func (s *captureStream) closeFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.pending = nil
	close(s.frames)
}
