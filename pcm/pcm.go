// Package pcm holds the audio wire contract shared by capture, transport and
// playback: little-endian 16-bit linear PCM, mono, 24 kHz.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"time"
)

const (
	SampleRate     = 24_000
	BytesPerSample = 2
	Channels       = 1
)

// ChunkBytes returns the byte length of a chunk spanning d at the wire rate.
func ChunkBytes(d time.Duration) int {
	frames := int(float64(SampleRate) * d.Seconds())
	return frames * BytesPerSample * Channels
}

// Duration returns the play time of n bytes of wire-format audio.
func Duration(n int) time.Duration {
	frames := n / (BytesPerSample * Channels)
	return time.Duration(float64(frames) / SampleRate * float64(time.Second))
}

// FloatToPCM16 converts [-1,1] samples to little-endian PCM16, clamping
// out-of-range values instead of wrapping. The scale matches PCM16ToFloat so
// a round trip stays within half an LSB.
func FloatToPCM16(samples []float64) []byte {
	b := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Round(clamp(s) * 32768)
		if v > 32767 {
			v = 32767
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(v)))
	}
	return b
}

// PCM16ToFloat converts little-endian PCM16 to [-1,1] samples. A trailing odd
// byte is ignored.
func PCM16ToFloat(b []byte) []float64 {
	samples := make([]float64, len(b)/BytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(b[i*2:]))
		samples[i] = float64(v) / 32768.0
	}
	return samples
}

func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func clamp(f float64) float64 {
	switch {
	case f > 1:
		return 1
	case f < -1:
		return -1
	default:
		return f
	}
}
