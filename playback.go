package voicert

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/memovoice/voicert-go/pcm"
)

// Playback queues decoded assistant audio per conversation item and drains it
// to the output sink in delivery order. Interrupt discards everything queued
// and mutes the items seen so far, so chunks the server is still sending for
// an interrupted item are accumulated by the session but never played.
type Playback struct {
	mu     sync.Mutex
	queue  []AudioChunk
	muted  map[string]bool
	seen   map[string]bool
	notify chan struct{}

	sink   io.Writer
	buf    *ringbuffer.RingBuffer
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewPlayback drains into an internal blocking ring buffer sized for bufferFor
// of audio; the device side reads from Reader.
func NewPlayback(bufferFor time.Duration, logger *slog.Logger) *Playback {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	buf := ringbuffer.New(pcm.ChunkBytes(bufferFor) * 2).SetBlocking(true)
	p := newPlaybackWithSink(buf, logger)
	p.buf = buf
	return p
}

// newPlaybackWithSink is the test seam: the drain loop writes wherever sink
// points.
func newPlaybackWithSink(sink io.Writer, logger *slog.Logger) *Playback {
	p := &Playback{
		muted:  map[string]bool{},
		seen:   map[string]bool{},
		notify: make(chan struct{}, 1),
		sink:   sink,
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.drainLoop()
	return p
}

// Reader exposes the device side of the playback buffer.
func (p *Playback) Reader() io.Reader { return p.buf }

// Enqueue adds one chunk for itemID unless that item has been interrupted.
func (p *Playback) Enqueue(itemID string, chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seen[itemID] = true
	if p.muted[itemID] {
		return
	}
	p.queue = append(p.queue, AudioChunk{ItemID: itemID, PCM: chunk})

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Interrupt stops output now: every queued-but-unplayed chunk is discarded
// and every item seen so far is muted. Idempotent; a no-op on an empty queue
// leaves state identical to a single call.
func (p *Playback) Interrupt() {
	p.mu.Lock()
	p.queue = nil
	for id := range p.seen {
		p.muted[id] = true
	}
	p.mu.Unlock()

	if p.buf != nil {
		p.buf.Reset()
	}
}

// Pending reports the number of queued, unplayed chunks.
func (p *Playback) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the drain loop and releases the device reader.
func (p *Playback) Close() {
	p.once.Do(func() {
		close(p.done)
		if p.buf != nil {
			p.buf.CloseWriter()
		}
	})
}

func (p *Playback) drainLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			chunk := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()

			// an interrupt can land between the pop and the write; check the
			// mute flag again so the dequeued chunk doesn't slip through
			p.mu.Lock()
			skip := p.muted[chunk.ItemID]
			p.mu.Unlock()
			if skip {
				continue
			}

			if _, err := p.sink.Write(chunk.PCM); err != nil {
				p.logger.Error("playback write failed", slog.Any("err", err))
				return
			}
		}
	}
}
