package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-kiosk/core/audio"
)

// Client captures and plays audio through PortAudio blocking streams. Input
// and output use separate streams so they can run at different rates.
type Client struct {
	bufferSize int

	captureEncoding  audio.EncodingInfo
	playbackEncoding audio.EncodingInfo

	inStream  *portaudio.Stream
	outStream *portaudio.Stream
	in        []int16
	out       []int16

	captureMu     sync.Mutex
	captureCancel context.CancelFunc
	captureDone   chan struct{}
	onDeviceLost  func(err error)

	playbackMu    sync.Mutex
	leftoverAudio []byte
	playing       bool
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, audio.DeviceError("initialize portaudio", err)
	}

	captureEncoding := audio.GetDefaultEncodingInfo()
	playbackEncoding := audio.GetDefaultOutputEncodingInfo()

	in := make([]int16, bufferSize)
	inStream, err := portaudio.OpenDefaultStream(1, 0, float64(captureEncoding.SampleRate), bufferSize, in)
	if err != nil {
		portaudio.Terminate()
		return nil, audio.DeviceError("open portaudio input stream", err)
	}

	out := make([]int16, bufferSize)
	outStream, err := portaudio.OpenDefaultStream(0, 1, float64(playbackEncoding.SampleRate), bufferSize, out)
	if err != nil {
		inStream.Close()
		portaudio.Terminate()
		return nil, audio.DeviceError("open portaudio output stream", err)
	}

	return &Client{
		bufferSize:       bufferSize,
		captureEncoding:  captureEncoding,
		playbackEncoding: playbackEncoding,
		inStream:         inStream,
		outStream:        outStream,
		in:               in,
		out:              out,
	}, nil
}

func (c *Client) CaptureEncodingInfo() audio.EncodingInfo  { return c.captureEncoding }
func (c *Client) PlaybackEncodingInfo() audio.EncodingInfo { return c.playbackEncoding }

func (c *Client) OnDeviceLost(callback func(err error)) {
	c.captureMu.Lock()
	c.onDeviceLost = callback
	c.captureMu.Unlock()
}

// StartCapture reads from the input stream on a background goroutine until
// StopCapture is called or a read fails.
func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.captureDone != nil {
		return nil
	}

	if err := c.inStream.Start(); err != nil {
		return audio.DeviceError("start portaudio input stream", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.captureCancel = cancel
	c.captureDone = done
	onDeviceLost := c.onDeviceLost

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := c.inStream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					continue
				}
				if ctx.Err() == nil && onDeviceLost != nil {
					go onDeviceLost(audio.DeviceError("read portaudio input stream", err))
				}
				return
			}

			audioBuffer := bytes.Buffer{}
			_ = binary.Write(&audioBuffer, binary.LittleEndian, c.in)
			if ctx.Err() != nil {
				return
			}
			onAudio(audioBuffer.Bytes())
		}
	}()
	return nil
}

func (c *Client) StopCapture() error {
	c.captureMu.Lock()
	cancel, done := c.captureCancel, c.captureDone
	c.captureCancel, c.captureDone = nil, nil
	c.captureMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := c.inStream.Stop()
	<-done
	if err != nil {
		return fmt.Errorf("failed to stop portaudio input stream: %w", err)
	}
	return nil
}

func (c *Client) StartPlayback(_ context.Context) error {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()
	if c.playing {
		return nil
	}
	if err := c.outStream.Start(); err != nil {
		return audio.DeviceError("start portaudio output stream", err)
	}
	c.playing = true
	return nil
}

func (c *Client) StopPlayback() error {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()
	if !c.playing {
		return nil
	}
	c.playing = false
	c.leftoverAudio = nil
	if err := c.outStream.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio output stream: %w", err)
	}
	return nil
}

// SendAudio writes whole buffers to the output stream and keeps the
// remainder for the next call. Writes block at device cadence.
func (c *Client) SendAudio(data []byte) error {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()
	if !c.playing {
		return fmt.Errorf("portaudio output stream not started")
	}

	bufferSize := c.bufferSize * 2
	pending := append(c.leftoverAudio, data...)
	for len(pending) >= bufferSize {
		if err := binary.Read(bytes.NewReader(pending[:bufferSize]), binary.LittleEndian, c.out); err != nil {
			return fmt.Errorf("failed to decode audio: %w", err)
		}
		if err := c.outStream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return audio.DeviceError("write portaudio output stream", err)
		}
		pending = pending[bufferSize:]
	}
	c.leftoverAudio = append([]byte(nil), pending...)
	return nil
}

func (c *Client) ClearBuffer() {
	c.playbackMu.Lock()
	c.leftoverAudio = nil
	c.playbackMu.Unlock()
}

// AwaitMark pads the remaining partial buffer with silence and writes it.
func (c *Client) AwaitMark() error {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()
	if !c.playing || len(c.leftoverAudio) == 0 {
		return nil
	}

	for i := range c.out {
		c.out[i] = 0
	}
	_ = binary.Read(bytes.NewReader(c.leftoverAudio[:len(c.leftoverAudio)&^1]), binary.LittleEndian, c.out[:len(c.leftoverAudio)/2])
	c.leftoverAudio = nil
	if err := c.outStream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return audio.DeviceError("write portaudio output stream", err)
	}
	return nil
}

func (c *Client) Close() error {
	err := errors.Join(c.StopCapture(), c.StopPlayback())
	err = errors.Join(err, c.inStream.Close(), c.outStream.Close(), portaudio.Terminate())
	return err
}
