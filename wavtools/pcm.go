// Package wavtools provides the audio side of a voice console: a Recorder
// that turns a capture source into fixed-size 24 kHz PCM16 frames, a
// StreamPlayer that queues PCM16 per track and reports where playback was
// interrupted, and spectrum analysis for visualization.
package wavtools

import (
	"fmt"
	"io"
	"math"

	"github.com/faiface/beep"

	"github.com/enesunal-m/rtconsole"
)

// PCM16ToBytes and BytesToPCM16 convert between samples and little-endian bytes.
var (
	PCM16ToBytes = rtconsole.PCM16ToBytes
	BytesToPCM16 = rtconsole.BytesToPCM16
)

// resampleQuality is passed to beep.Resample.
const resampleQuality = 3

// FloatToPCM16 converts samples in [-1, 1] to PCM16, clipping out-of-range values.
func FloatToPCM16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7fff)
		}
	}
	return out
}

// PCM16ToFloat converts PCM16 samples to [-1, 1].
func PCM16ToFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 0x8000
	}
	return out
}

// pcmStreamer plays a sample slice as a mono beep.Streamer.
type pcmStreamer struct {
	data []int16
	pos  int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos >= len(s.data) {
			return i, i > 0
		}
		v := float64(s.data[s.pos]) / 0x8000
		samples[i][0] = v
		samples[i][1] = v
		s.pos++
	}
	return len(samples), true
}

func (s *pcmStreamer) Err() error { return nil }

// Resample converts mono PCM16 from one sample rate to another.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("wavtools: invalid sample rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return append([]int16(nil), samples...), nil
	}

	r := beep.Resample(resampleQuality, beep.SampleRate(fromRate), beep.SampleRate(toRate), &pcmStreamer{data: samples})
	out := make([]float64, 0, len(samples)*toRate/fromRate+1)
	buf := make([][2]float64, 1024)
	for {
		n, ok := r.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, (buf[i][0]+buf[i][1])/2)
		}
		if !ok {
			break
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return FloatToPCM16(out), nil
}

// FixedChunkReader returns reads of exactly chunkSize bytes, except for the
// final chunk before EOF.
type FixedChunkReader struct {
	r         io.Reader
	buf       []byte
	chunkSize int
	eof       bool
}

// NewFixedChunkReader wraps r. chunkSize must be positive.
func NewFixedChunkReader(r io.Reader, chunkSize int) *FixedChunkReader {
	return &FixedChunkReader{
		r:         r,
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize*2),
	}
}

// ChunkBytes returns the byte size of ms milliseconds of PCM16 mono audio,
// rounded down to a whole sample.
func ChunkBytes(sampleRate, ms int) int {
	n := rtconsole.PCM16BytesFor(ms, sampleRate)
	return n - n%2
}

func (f *FixedChunkReader) Read(p []byte) (int, error) {
	if len(p) < f.chunkSize {
		return 0, fmt.Errorf("wavtools: read buffer must be at least %d bytes", f.chunkSize)
	}

	tmp := make([]byte, f.chunkSize)
	for len(f.buf) < f.chunkSize && !f.eof {
		n, err := f.r.Read(tmp)
		f.buf = append(f.buf, tmp[:n]...)
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

	n := min(f.chunkSize, len(f.buf))
	copy(p, f.buf[:n])
	f.buf = f.buf[n:]
	return n, nil
}
