package otoplayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/koscakluka/ema-kiosk/core/audio"
)

// Player is a playback-only device backed by oto. oto pulls audio through
// Read, so SendAudio only fills an internal buffer bounded by maxBuffered.
type Player struct {
	otoCtx       *oto.Context
	player       *oto.Player
	encodingInfo audio.EncodingInfo
	maxBuffered  int

	buf     []byte
	playing bool
	closed  bool
	marks   []func()

	mu   sync.Mutex
	cond *sync.Cond
}

func NewPlayer(encodingInfo audio.EncodingInfo) (*Player, error) {
	if encodingInfo.IsZero() {
		encodingInfo = audio.GetDefaultOutputEncodingInfo()
	}
	if encodingInfo.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported playback format %q", encodingInfo.Format.Name())
	}

	channels := encodingInfo.Channels
	if channels <= 0 {
		channels = 1
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   encodingInfo.SampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, audio.DeviceError("initialize oto context", err)
	}
	<-ready

	p := &Player{
		otoCtx:       otoCtx,
		encodingInfo: encodingInfo,
		maxBuffered:  encodingInfo.SampleRate * encodingInfo.BytesPerSample() / 2,
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

func (p *Player) PlaybackEncodingInfo() audio.EncodingInfo { return p.encodingInfo }

func (p *Player) StartPlayback(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("player closed")
	}
	if p.playing {
		return nil
	}
	p.playing = true
	p.player = p.otoCtx.NewPlayer(p)
	p.player.Play()
	return nil
}

func (p *Player) StopPlayback() error {
	p.mu.Lock()
	player := p.player
	p.player = nil
	p.playing = false
	p.buf = p.buf[:0]
	marks := p.marks
	p.marks = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, mark := range marks {
		mark()
	}
	if player != nil {
		player.Pause()
		return player.Close()
	}
	return nil
}

// SendAudio blocks while the internal buffer is full.
func (p *Player) SendAudio(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.playing && len(p.buf) >= p.maxBuffered {
		p.cond.Wait()
	}
	if !p.playing {
		return fmt.Errorf("player not started")
	}
	p.buf = append(p.buf, data...)
	p.cond.Broadcast()
	return nil
}

// Read implements io.Reader for oto. It returns silence while no audio is
// queued so the device keeps running.
func (p *Player) Read(out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if len(p.buf) == 0 && len(p.marks) > 0 {
		marks := p.marks
		p.marks = nil
		go func() {
			for _, mark := range marks {
				mark()
			}
		}()
	}
	p.cond.Broadcast()
	return len(out), nil
}

func (p *Player) ClearBuffer() {
	p.mu.Lock()
	p.buf = p.buf[:0]
	marks := p.marks
	p.marks = nil
	player := p.player
	p.cond.Broadcast()
	p.mu.Unlock()

	if player != nil {
		player.Pause()
		player.Play()
	}
	for _, mark := range marks {
		mark()
	}
}

// AwaitMark blocks until the internal buffer has been handed to oto.
func (p *Player) AwaitMark() error {
	p.mu.Lock()
	if !p.playing || len(p.buf) == 0 {
		p.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	p.marks = append(p.marks, func() { close(done) })
	p.mu.Unlock()

	<-done
	return nil
}

func (p *Player) Close() error {
	err := p.StopPlayback()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return err
}
