package voicert

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/faiface/beep"

	"github.com/memovoice/voicert-go/pcm"
)

// Resampler converts PCM16 between sample rates. The wire contract is fixed
// at 24 kHz; resampling only happens at the device boundary.
type Resampler interface {
	Resample(pcmData []byte, fromRate, toRate int) ([]byte, error)
}

// LinearResampler interpolates between neighbouring samples. Good enough for
// speech; cheap enough for the capture path.
type LinearResampler struct{}

func (LinearResampler) Resample(pcmData []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate {
		return pcmData, nil
	}

	in := pcm.PCM16ToFloat(pcmData)
	if len(in) == 0 {
		return nil, nil
	}

	outLen := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	out := make([]float64, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}

	return pcm.FloatToPCM16(out), nil
}

// BeepResampler uses beep's windowed-sinc resampler for the playback path,
// where quality matters more than cost.
type BeepResampler struct {
	Quality int
}

func (r BeepResampler) Resample(pcmData []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate {
		return pcmData, nil
	}
	q := r.Quality
	if q == 0 {
		q = 3
	}
	return resampleBeep(pcmData, fromRate, toRate, q)
}

// ResampleWriter converts everything written to it from FromRate to ToRate
// before handing it to Sink.
type ResampleWriter struct {
	Sink      io.Writer
	FromRate  int
	ToRate    int
	Resampler Resampler
}

func (w *ResampleWriter) Write(p []byte) (int, error) {
	out, err := w.Resampler.Resample(p, w.FromRate, w.ToRate)
	if err != nil {
		return 0, err
	}
	if _, err := w.Sink.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

type pcmStreamer struct {
	data []int16
	pos  int
}

func newPCMStreamer(b []byte) *pcmStreamer {
	samples := make([]int16, len(b)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return &pcmStreamer{data: samples}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos >= len(s.data) {
			return i, false
		}
		val := float64(s.data[s.pos]) / 32768.0
		samples[i][0] = val
		samples[i][1] = val // duplicate mono to stereo
		s.pos++
	}
	return len(samples), true
}

func (s *pcmStreamer) Err() error { return nil }

func resampleBeep(pcmData []byte, fromRate, toRate, quality int) ([]byte, error) {
	streamer := newPCMStreamer(pcmData)

	resampler := beep.Resample(quality, beep.SampleRate(fromRate), beep.SampleRate(toRate), streamer)

	buf := new(bytes.Buffer)
	sample := make([][2]float64, 1024)

	for {
		n, ok := resampler.Stream(sample)
		for i := 0; i < n; i++ {
			mono := (sample[i][0] + sample[i][1]) / 2.0
			int16Val := int16(mono * 32767)
			if err := binary.Write(buf, binary.LittleEndian, int16Val); err != nil {
				return nil, err
			}
		}
		if !ok {
			break
		}
	}

	return buf.Bytes(), nil
}
