package wavtools

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/smallnest/ringbuffer"
)

// Source is an open capture stream of little-endian PCM16 mono audio.
type Source interface {
	io.ReadCloser
	SampleRate() int
}

// Opener opens the capture source when a Recorder begins.
type Opener func(ctx context.Context) (Source, error)

// readerSource adapts an io.Reader, optionally pacing reads to real time.
type readerSource struct {
	r      io.Reader
	rate   int
	paced  bool
	start  time.Time
	read   int64
	closer io.Closer
}

// NewReaderSource returns a Source over raw PCM16 read from r. With paced set,
// reads are slowed down to the playback rate, which makes a file behave like a
// microphone. r is closed on Close if it is an io.Closer.
func NewReaderSource(r io.Reader, sampleRate int, paced bool) Source {
	s := &readerSource{r: r, rate: sampleRate, paced: paced}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *readerSource) Read(p []byte) (int, error) {
	if s.paced {
		if s.start.IsZero() {
			s.start = time.Now()
		}
		due := s.start.Add(time.Duration(s.read/2) * time.Second / time.Duration(s.rate))
		if d := time.Until(due); d > 0 {
			time.Sleep(d)
		}
	}
	n, err := s.r.Read(p)
	s.read += int64(n)
	return n, err
}

func (s *readerSource) SampleRate() int { return s.rate }

func (s *readerSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// streamerSource renders a beep stream as mono PCM16 bytes.
type streamerSource struct {
	rate      int
	precision int
	paced     *readerSource

	mu     sync.Mutex // guards the decoder against Close during a read
	s      beep.StreamSeekCloser
	buf    [][2]float64
	closed bool
}

// NewWAVSource decodes a WAV stream into a Source at the file's own sample
// rate. Multi-channel audio is mixed down to mono.
func NewWAVSource(r io.Reader, paced bool) (Source, error) {
	s, format, err := wav.Decode(r)
	if err != nil {
		return nil, err
	}
	src := &streamerSource{s: s, rate: int(format.SampleRate), precision: format.Precision}
	if paced {
		src.paced = &readerSource{r: streamerReader{src}, rate: src.rate, paced: true}
	}
	return src, nil
}

func (s *streamerSource) Read(p []byte) (int, error) {
	if s.paced != nil {
		return s.paced.Read(p)
	}
	return s.read(p)
}

func (s *streamerSource) read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	want := len(p) / 2
	if want == 0 {
		return 0, nil
	}
	if cap(s.buf) < want {
		s.buf = make([][2]float64, want)
	}
	buf := s.buf[:want]
	n, ok := s.s.Stream(buf)
	if n == 0 && !ok {
		if err := s.s.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		pcm[i] = wavToPCM16((buf[i][0]+buf[i][1])/2, s.precision)
	}
	return copy(p, PCM16ToBytes(pcm)), nil
}

func (s *streamerSource) SampleRate() int { return s.rate }

func (s *streamerSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.s.Close()
}

// wavToPCM16 undoes the beep wav decoder's scaling, which divides 16 and 24
// bit samples by the full unsigned range and so yields [-0.5, 0.5].
func wavToPCM16(v float64, precision int) int16 {
	var x float64
	switch precision {
	case 2:
		x = math.Round(v * (1<<16 - 1))
	case 3:
		x = math.Round(v * (1<<24 - 1) / (1 << 8))
	default:
		return FloatToPCM16([]float64{v})[0]
	}
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, x)))
}

type streamerReader struct{ s *streamerSource }

func (r streamerReader) Read(p []byte) (int, error) { return r.s.read(p) }

// pipeSource is the push-style source behind Recorder.Write.
type pipeSource struct {
	rb   *ringbuffer.RingBuffer
	rate int
	once sync.Once
}

func newPipeSource(sampleRate int, capacity int) *pipeSource {
	return &pipeSource{
		rb:   ringbuffer.New(capacity).SetBlocking(true),
		rate: sampleRate,
	}
}

func (p *pipeSource) Read(b []byte) (int, error)  { return p.rb.Read(b) }
func (p *pipeSource) Write(b []byte) (int, error) { return p.rb.Write(b) }
func (p *pipeSource) SampleRate() int             { return p.rate }

func (p *pipeSource) Close() error {
	p.once.Do(p.rb.CloseWriter)
	return nil
}
