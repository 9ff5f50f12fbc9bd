package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-kiosk/core/audio"
)

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig
	encodingInfo audio.EncodingInfo

	onAudio      func(audio []byte)
	onDeviceLost func(err error)
	stopping     bool

	mu         sync.Mutex
	callbackMu sync.RWMutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, encodingInfo audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format := malgo.FormatS16
	channels := encodingInfo.Channels
	if channels <= 0 {
		channels = 1
	}
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(encodingInfo.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	c.audioContext = audioContext
	c.encodingInfo = encodingInfo

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.callbackMu.RLock()
			onAudio := c.onAudio
			c.callbackMu.RUnlock()
			if onAudio != nil {
				onAudio(pInput[:n])
			}
		},
		Stop: c.deviceStopped,
	})
	if err != nil {
		return audio.DeviceError("initialize capture device", err)
	}

	return nil
}

func (c *captureClient) deviceStopped() {
	c.callbackMu.RLock()
	stopping := c.stopping
	onDeviceLost := c.onDeviceLost
	c.callbackMu.RUnlock()

	if stopping || onDeviceLost == nil {
		return
	}
	go onDeviceLost(audio.DeviceError("capture device stopped", nil))
}

func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return audio.DeviceError("start capture", fmt.Errorf("device not initialized"))
	} else if c.device.IsStarted() {
		return nil
	}

	c.callbackMu.Lock()
	c.onAudio = onAudio
	c.stopping = false
	c.callbackMu.Unlock()

	if err := c.device.Start(); err != nil {
		c.callbackMu.Lock()
		c.onAudio = nil
		c.callbackMu.Unlock()
		return audio.DeviceError("start capture device", err)
	}

	return nil
}

// Stop halts the device. Once it returns the data callback no longer
// forwards audio.
func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callbackMu.Lock()
	c.stopping = true
	c.onAudio = nil
	c.callbackMu.Unlock()

	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (c *captureClient) OnDeviceLost(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDeviceLost = callback
	c.callbackMu.Unlock()
}

func (c *captureClient) Uninit() error {
	_ = c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	return nil
}
