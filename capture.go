package voicert

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/memovoice/voicert-go/events"
	"github.com/memovoice/voicert-go/pcm"
)

// Capture bridges the audio-hardware execution context to the command
// encoder through a bounded chunk channel. The hardware side pushes, the
// encoder side pulls, so a stalled network send never blocks sample
// production. A chunk that was never handed to the encoder when the pipe
// goes down is dropped, not retried.
type Capture struct {
	latency time.Duration
	send    func(evt any) error
	logger  *slog.Logger

	mu      sync.Mutex
	chunks  chan []byte
	stop    chan struct{}
	drained chan struct{}
	running bool
}

func NewCapture(latency time.Duration, send func(evt any) error, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Capture{
		latency: latency,
		send:    send,
		logger:  logger,
	}
}

// Start opens a turn: samples read from src are cut into fixed latency-sized
// blocks, encoded to base64 PCM16 and handed to the encoder as
// input_audio_buffer.append commands. src is expected to produce wire-rate
// PCM16; device-rate sources go through a ResampleWriter first. A nil src
// opens a push-only turn fed through Push from hardware callbacks.
func (c *Capture) Start(src io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("capture: turn already open")
	}
	c.running = true
	c.chunks = make(chan []byte, 32)
	c.stop = make(chan struct{})
	c.drained = make(chan struct{})

	if src != nil {
		go c.produce(src, c.chunks, c.stop)
	}
	go c.consume(c.chunks, c.stop, c.drained)
	return nil
}

// Push hands one block of float samples straight from a hardware callback.
// It never blocks: when the channel is full the block is dropped and only
// transcript quality degrades.
func (c *Capture) Push(samples []float64) {
	c.mu.Lock()
	chunks, running := c.chunks, c.running
	c.mu.Unlock()
	if !running {
		return
	}
	select {
	case chunks <- pcm.FloatToPCM16(samples):
	default:
		c.logger.Debug("capture: dropping block, channel full")
	}
}

// Stop closes the turn: remaining handed-off chunks are flushed, an
// input_audio_buffer.commit is issued, and the source is released.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stop, drained := c.stop, c.drained
	c.chunks = nil
	c.mu.Unlock()

	close(stop)
	<-drained

	return c.send(events.NewInputAudioCommit())
}

func (c *Capture) produce(src io.Reader, chunks chan<- []byte, stop <-chan struct{}) {
	r := NewFixedAudioChunkReader(src, pcm.SampleRate, c.latency, pcm.BytesPerSample, pcm.Channels)
	buf := make([]byte, pcm.ChunkBytes(c.latency))

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-stop:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Error("capture read failed", slog.Any("err", err))
			}
			return
		}
	}
}

func (c *Capture) consume(chunks <-chan []byte, stop <-chan struct{}, drained chan<- struct{}) {
	defer close(drained)
	for {
		select {
		case chunk := <-chunks:
			c.append(chunk)
		case <-stop:
			// flush what was already handed over, then exit
			for {
				select {
				case chunk := <-chunks:
					c.append(chunk)
				default:
					return
				}
			}
		}
	}
}

func (c *Capture) append(chunk []byte) {
	evt := events.NewInputAudioAppend(pcm.EncodeBase64(chunk))
	if err := c.send(evt); err != nil {
		// the pipe is down; the chunk degrades the transcript, nothing more
		c.logger.Debug("capture append dropped", slog.Any("err", err))
	}
}
