package voicert

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingSink collects everything the drain loop writes.
type recordingSink struct {
	mu   sync.Mutex
	data []byte
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p...)
	return len(p), nil
}

func (s *recordingSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// stuckSink blocks every write until released, keeping chunks queued.
type stuckSink struct {
	release chan struct{}
	mu      sync.Mutex
	writes  int
}

func newStuckSink() *stuckSink { return &stuckSink{release: make(chan struct{})} }

func (s *stuckSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	<-s.release
	return len(p), nil
}

func (s *stuckSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func TestPlaybackDrainsInDeliveryOrder(t *testing.T) {
	sink := &recordingSink{}
	p := newPlaybackWithSink(sink, nil)
	defer p.Close()

	p.Enqueue("item_1", []byte{1, 2})
	p.Enqueue("item_1", []byte{3, 4})
	p.Enqueue("item_2", []byte{5, 6})

	require.Eventually(t, func() bool {
		return len(sink.bytes()) == 6
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, sink.bytes())
}

// Scenario: deltas for X queue up, the user starts speaking, the queue for X
// must empty immediately and stay empty even though the server keeps
// streaming X.
func TestInterruptDiscardsQueuedAndMutesItem(t *testing.T) {
	sink := newStuckSink()
	p := newPlaybackWithSink(sink, nil)
	defer p.Close()
	defer close(sink.release)

	p.Enqueue("item_x", []byte{1})
	p.Enqueue("item_x", []byte{2})
	p.Enqueue("item_x", []byte{3})

	// the drain loop picks up at most the first chunk and blocks on it
	require.Eventually(t, func() bool { return sink.writeCount() == 1 }, 2*time.Second, time.Millisecond)

	p.Interrupt()
	require.Equal(t, 0, p.Pending())

	// late deltas for the interrupted item are dropped at the door
	p.Enqueue("item_x", []byte{4})
	p.Enqueue("item_x", []byte{5})
	require.Equal(t, 0, p.Pending())

	// a fresh item is not affected
	p.Enqueue("item_y", []byte{6})
	require.Equal(t, 1, p.Pending())

	require.Equal(t, 1, sink.writeCount())
}

// A chunk already dequeued when the interrupt lands must not reach the sink:
// the drain loop re-checks the mute flag right before writing. Modeled by
// muting the item while its chunk is still waiting in the queue.
func TestDequeuedChunkOfMutedItemIsNotWritten(t *testing.T) {
	sink := &recordingSink{}
	p := newPlaybackWithSink(sink, nil)
	defer p.Close()

	p.mu.Lock()
	p.queue = append(p.queue, AudioChunk{ItemID: "item_x", PCM: []byte{1, 2}})
	p.seen["item_x"] = true
	p.muted["item_x"] = true
	p.mu.Unlock()
	p.notify <- struct{}{}

	// give the drain loop time to run the queue down
	require.Eventually(t, func() bool { return p.Pending() == 0 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sink.bytes())
}

func TestInterruptIsIdempotent(t *testing.T) {
	p := newPlaybackWithSink(&recordingSink{}, nil)
	defer p.Close()

	// interrupt with nothing queued is a no-op
	p.Interrupt()
	require.Equal(t, 0, p.Pending())

	// twice in a row leaves state identical to once
	p.Interrupt()
	p.Interrupt()
	require.Equal(t, 0, p.Pending())

	p.Enqueue("item_1", []byte{1, 2})
	require.Equal(t, 1, p.Pending())
}

func TestNewItemsPlayAfterInterrupt(t *testing.T) {
	sink := &recordingSink{}
	p := newPlaybackWithSink(sink, nil)
	defer p.Close()

	p.Enqueue("item_old", []byte{9, 9})
	p.Interrupt()

	p.Enqueue("item_new", []byte{1, 2, 3})
	require.Eventually(t, func() bool {
		return len(sink.bytes()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// nothing from the muted item may appear after the interrupt point
	b := sink.bytes()
	require.Equal(t, []byte{1, 2, 3}, b[len(b)-3:])
}
