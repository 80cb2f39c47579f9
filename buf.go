package voicert

import (
	"fmt"
	"io"
	"time"

	"github.com/memovoice/voicert-go/pcm"
)

// FixedChunkReader re-blocks an arbitrary byte stream into fixed-size chunks
// so the capture pipeline emits uniform latency-sized appends. The final
// chunk before EOF may be short.
type FixedChunkReader struct {
	r         io.Reader
	buf       []byte
	chunkSize int
	eof       bool
}

func NewFixedChunkReader(r io.Reader, chunkSize int) *FixedChunkReader {
	return &FixedChunkReader{
		r:         r,
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize*2),
	}
}

// NewFixedAudioChunkReader sizes chunks to span latency worth of audio.
func NewFixedAudioChunkReader(r io.Reader, sampleRate int, latency time.Duration, bytesPerSample, channels int) *FixedChunkReader {
	frames := int(float64(sampleRate) * latency.Seconds())
	return NewFixedChunkReader(r, frames*bytesPerSample*channels)
}

// NewWireChunkReader chunks a wire-rate PCM16 stream by latency.
func NewWireChunkReader(r io.Reader, latency time.Duration) *FixedChunkReader {
	return NewFixedChunkReader(r, pcm.ChunkBytes(latency))
}

func (f *FixedChunkReader) Read(p []byte) (int, error) {
	if len(p) < f.chunkSize {
		return 0, fmt.Errorf("buffer passed to Read must be at least %d bytes", f.chunkSize)
	}

	// fill until a full chunk is available or the source is exhausted
	for len(f.buf) < f.chunkSize && !f.eof {
		tmp := make([]byte, f.chunkSize)
		n, err := f.r.Read(tmp)
		if n > 0 {
			f.buf = append(f.buf, tmp[:n]...)
		}
		if err == io.EOF {
			f.eof = true
			break
		}
		if err != nil {
			return 0, err
		}
	}

	if len(f.buf) == 0 && f.eof {
		return 0, io.EOF
	}

	n := f.chunkSize
	if len(f.buf) < f.chunkSize {
		n = len(f.buf)
	}

	copy(p, f.buf[:n])
	f.buf = f.buf[n:]

	return n, nil
}
