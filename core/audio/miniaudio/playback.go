package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-kiosk/core/audio"
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig
	encodingInfo audio.EncodingInfo

	// maxBuffered caps how much audio SendAudio accepts ahead of the device.
	maxBuffered int

	leftoverAudio []byte
	marks         []playbackMark
	started       bool

	mu      sync.Mutex
	audioMu sync.Mutex
	space   *sync.Cond
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encodingInfo audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sampleRate := uint32(encodingInfo.SampleRate)
	format := malgo.FormatS16
	channels := encodingInfo.Channels
	if channels <= 0 {
		channels = 1
	}
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	c.audioContext = audioContext
	c.encodingInfo = encodingInfo
	c.maxBuffered = int(sampleRate) * bytesPerFrame / 2
	c.space = sync.NewCond(&c.audioMu)

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return audio.DeviceError("initialize playback device", err)
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return audio.DeviceError("start playback", fmt.Errorf("device not initialized"))
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return audio.DeviceError("start playback device", err)
	}

	c.audioMu.Lock()
	c.started = true
	c.audioMu.Unlock()
	return nil
}

func (c *playbackClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}

	c.audioMu.Lock()
	c.started = false
	c.audioMu.Unlock()

	if c.device.IsStarted() {
		if err := c.device.Stop(); err != nil {
			return fmt.Errorf("failed to stop playback device: %w", err)
		}
	}

	c.ClearBuffer()
	return nil
}

// SendAudio appends audio for the device to play. It blocks while more than
// maxBuffered bytes are waiting and returns early if the buffer is cleared or
// the device stops.
func (c *playbackClient) SendAudio(data []byte) error {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	for c.started && len(c.leftoverAudio) >= c.maxBuffered {
		c.space.Wait()
	}
	if !c.started {
		return fmt.Errorf("playback device not started")
	}

	c.leftoverAudio = append(c.leftoverAudio, data...)
	return nil
}

func (c *playbackClient) ClearBuffer() {
	c.audioMu.Lock()
	c.leftoverAudio = nil
	marks := c.marks
	c.marks = nil
	c.audioMu.Unlock()
	c.space.Broadcast()

	for _, mark := range marks {
		mark.callback(mark.name)
	}
}

// AwaitMark blocks until everything sent so far has been played.
func (c *playbackClient) AwaitMark() error {
	done := make(chan struct{})
	if err := c.Mark("", func(string) { close(done) }); err != nil {
		return err
	}
	<-done
	return nil
}

func (c *playbackClient) Mark(mark string, callback func(string)) error {
	c.audioMu.Lock()
	if !c.started || len(c.leftoverAudio) == 0 {
		c.audioMu.Unlock()
		callback(mark)
		return nil
	}
	c.marks = append(c.marks, playbackMark{
		name:     mark,
		position: len(c.leftoverAudio),
		callback: callback,
	})
	c.audioMu.Unlock()
	return nil
}

func (c *playbackClient) Uninit() error {
	_ = c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}

	c.device.Uninit()
	c.device = nil

	return nil
}

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.audioMu.Lock()
		n := copy(pOutput[:need], c.leftoverAudio)
		c.leftoverAudio = c.leftoverAudio[n:]
		for i := n; i < need; i++ {
			pOutput[i] = 0
		}
		passed := c.advanceMarksLocked(n)
		c.audioMu.Unlock()
		c.space.Broadcast()

		if len(passed) > 0 {
			go func() {
				for _, mark := range passed {
					mark.callback(mark.name)
				}
			}()
		}
	}
}

func (c *playbackClient) advanceMarksLocked(played int) []playbackMark {
	passedMarks := 0
	for i := range c.marks {
		c.marks[i].position -= played
		if c.marks[i].position <= 0 {
			passedMarks++
		}
	}
	if passedMarks == 0 {
		return nil
	}
	passed := c.marks[:passedMarks]
	c.marks = c.marks[passedMarks:]
	return passed
}
