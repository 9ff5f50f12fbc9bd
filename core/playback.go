package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
)

var (
	// ErrPlaybackOverrun is returned by Enqueue when the queue stayed full for
	// longer than the overrun timeout.
	ErrPlaybackOverrun = errors.New("playback queue overrun")
	ErrPlaybackClosed  = errors.New("playback closed")
)

type queuedFrame struct {
	frame      audio.Frame
	generation uint64
}

// audioPlayback feeds frames to the device from a single worker, in the
// order they were enqueued.
type audioPlayback struct {
	device         AudioPlaybackDevice
	overrunTimeout time.Duration
	metrics        SessionMetrics

	// intakeMu is held for reading by Enqueue and for writing when intake
	// closes, so no frame slips in after closeIntake returns.
	intakeMu     sync.RWMutex
	intakeClosed bool
	intakeDone   chan struct{}
	intakeOnce   sync.Once

	queue      chan queuedFrame
	generation atomic.Uint64
	writeMu    sync.Mutex

	closeOnce  sync.Once
	closeErr   error
	workerDone chan struct{}
}

func newAudioPlayback(ctx context.Context, device AudioPlaybackDevice, limits sessionLimits, metrics SessionMetrics) (*audioPlayback, error) {
	if err := device.StartPlayback(ctx); err != nil {
		return nil, audio.DeviceError("start playback", err)
	}

	p := &audioPlayback{
		device:         device,
		overrunTimeout: limits.playbackOverrunTimeout,
		metrics:        metrics,
		intakeDone:     make(chan struct{}),
		queue:          make(chan queuedFrame, limits.playbackQueueSize),
		workerDone:     make(chan struct{}),
	}
	go p.processFrames()
	return p, nil
}

// Enqueue appends a frame to the playback queue. When the queue is full it
// waits up to the overrun timeout and then fails with [ErrPlaybackOverrun].
func (p *audioPlayback) Enqueue(ctx context.Context, frame audio.Frame) error {
	p.intakeMu.RLock()
	defer p.intakeMu.RUnlock()
	if p.intakeClosed {
		return ErrPlaybackClosed
	}

	item := queuedFrame{frame: frame, generation: p.generation.Load()}
	select {
	case p.queue <- item:
		return nil
	default:
	}

	timer := time.NewTimer(p.overrunTimeout)
	defer timer.Stop()
	select {
	case p.queue <- item:
		return nil
	case <-timer.C:
		p.metrics.PlaybackOverrun()
		return ErrPlaybackOverrun
	case <-p.intakeDone:
		return ErrPlaybackClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush discards every frame that has not been played yet, both queued and
// buffered in the device.
func (p *audioPlayback) Flush() {
	p.generation.Add(1)
	p.device.ClearBuffer()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.drainQueue()
	p.device.ClearBuffer()
}

func (p *audioPlayback) drainQueue() {
	for {
		select {
		case _, ok := <-p.queue:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (p *audioPlayback) closeIntake() {
	p.intakeOnce.Do(func() {
		close(p.intakeDone)
		p.intakeMu.Lock()
		p.intakeClosed = true
		p.intakeMu.Unlock()
	})
}

// Close stops accepting frames, plays out what is still queued and releases
// the device. The queue is empty when Close returns.
func (p *audioPlayback) Close() error {
	p.closeOnce.Do(func() {
		p.closeIntake()
		close(p.queue)
		<-p.workerDone

		if drainer, ok := p.device.(AudioPlaybackDrainer); ok {
			if err := drainer.AwaitMark(); err != nil {
				p.closeErr = fmt.Errorf("failed to drain playback device: %w", err)
			}
		}
		if err := p.device.StopPlayback(); err != nil {
			p.closeErr = errors.Join(p.closeErr, fmt.Errorf("failed to stop playback device: %w", err))
		}
	})
	return p.closeErr
}

// Len reports the number of frames waiting in the queue.
func (p *audioPlayback) Len() int { return len(p.queue) }

func (p *audioPlayback) processFrames() {
	defer close(p.workerDone)
	for item := range p.queue {
		p.play(item)
	}
}

func (p *audioPlayback) play(item queuedFrame) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if item.generation != p.generation.Load() {
		return
	}

	if err := p.device.SendAudio(item.frame.Bytes()); err != nil {
		logger.Warn("failed to send audio to playback device", "error", err, "sequence", item.frame.Sequence)
		return
	}
	p.metrics.FramePlayed()
}
