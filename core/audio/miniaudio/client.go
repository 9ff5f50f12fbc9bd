package miniaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-kiosk/core/audio"
)

// Client drives the default capture and playback devices through miniaudio.
// Capture runs at the live endpoint's input rate and playback at its output
// rate.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	playback     playbackClient
	capture      captureClient
}

func NewClient() (*Client, error) {
	return NewClientWithEncoding(audio.GetDefaultEncodingInfo(), audio.GetDefaultOutputEncodingInfo())
}

func NewClientWithEncoding(captureEncoding, playbackEncoding audio.EncodingInfo) (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) {},
	)
	if err != nil {
		return nil, audio.DeviceError("initialize audio context", err)
	}

	client := Client{
		audioContext: audioCtx,
	}

	if err := client.playback.Init(audioCtx, playbackEncoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.capture.Init(audioCtx, captureEncoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.capture.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.capture.Stop()
}

// OnDeviceLost registers a callback for capture devices that stop without
// StopCapture being called.
func (c *Client) OnDeviceLost(callback func(err error)) {
	c.capture.OnDeviceLost(callback)
}

func (c *Client) CaptureEncodingInfo() audio.EncodingInfo {
	return c.capture.encodingInfo
}

func (c *Client) StartPlayback(_ context.Context) error {
	return c.playback.Start()
}

func (c *Client) StopPlayback() error {
	return c.playback.Stop()
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playback.SendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playback.ClearBuffer()
}

func (c *Client) AwaitMark() error {
	return c.playback.AwaitMark()
}

func (c *Client) PlaybackEncodingInfo() audio.EncodingInfo {
	return c.playback.encodingInfo
}

func (c *Client) Close() error {
	err := errors.Join(c.capture.Uninit(), c.playback.Uninit())
	if c.audioContext != nil {
		if uninitErr := c.audioContext.Uninit(); uninitErr != nil {
			err = errors.Join(err, uninitErr)
		}
		c.audioContext.Free()
		c.audioContext = nil
	}
	return err
}
