package wavtools

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/enesunal-m/rtconsole"
)

var (
	// ErrNotBegun is returned by Record, Pause and Write before Begin.
	ErrNotBegun = errors.New("wavtools: recorder not begun")

	// ErrAlreadyBegun is returned by Begin on a recorder that holds a source.
	ErrAlreadyBegun = errors.New("wavtools: recorder already begun, call End first")

	// ErrAlreadyRecording is returned by Record while recording.
	ErrAlreadyRecording = errors.New("wavtools: already recording")

	// ErrEnded is returned by Write after the source was closed.
	ErrEnded = errors.New("wavtools: recorder ended")
)

// RecorderStatus reports what a Recorder is doing.
type RecorderStatus string

const (
	StatusEnded     RecorderStatus = "ended"
	StatusPaused    RecorderStatus = "paused"
	StatusRecording RecorderStatus = "recording"
)

// Recorder turns a capture Source into fixed-size frames of 24 kHz PCM16.
// Frames are analysed while the recorder is begun and handed to the Record
// callback only while recording.
type Recorder struct {
	opener     Opener
	inputRate  int
	chunk      time.Duration
	bufferSize time.Duration
	logger     *rtconsole.Logger

	// deliverMu is held across onFrame calls so Pause and End can wait
	// out a frame in flight. Taken before mu.
	deliverMu sync.Mutex
	mu        sync.Mutex
	src       Source
	pipe      *pipeSource
	onFrame   func([]int16)
	recording bool
	done      chan struct{}

	window sampleWindow
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithOpener sets the capture source. Without it the recorder is fed
// through Write.
func WithOpener(o Opener) RecorderOption {
	return func(r *Recorder) { r.opener = o }
}

// WithInputRate sets the sample rate of audio passed to Write.
func WithInputRate(rate int) RecorderOption {
	return func(r *Recorder) { r.inputRate = rate }
}

// WithChunkDuration sets the frame length. The default is 100ms.
func WithChunkDuration(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.chunk = d }
}

// WithBufferDuration sets how much audio Write may queue before blocking.
func WithBufferDuration(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.bufferSize = d }
}

// WithRecorderLogger sets the logger for source errors.
func WithRecorderLogger(l *rtconsole.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a recorder. It holds no resources until Begin.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		inputRate:  rtconsole.DefaultFrequency,
		chunk:      rtconsole.DefaultChunkMS * time.Millisecond,
		bufferSize: 2 * time.Second,
		logger:     rtconsole.DefaultLogger,
	}
	for _, o := range opts {
		o(r)
	}
	r.window.rate = rtconsole.DefaultFrequency
	return r
}

// Begin opens the capture source and starts reading from it.
func (r *Recorder) Begin(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.src != nil {
		return ErrAlreadyBegun
	}

	var src Source
	if r.opener != nil {
		s, err := r.opener(ctx)
		if err != nil {
			return err
		}
		src = s
	} else {
		r.pipe = newPipeSource(r.inputRate, ChunkBytes(r.inputRate, int(r.bufferSize/time.Millisecond)))
		src = r.pipe
	}

	r.src = src
	r.done = make(chan struct{})
	r.window.reset()
	go r.pump(src, r.done)
	return nil
}

// Write feeds PCM16 mono bytes at the input rate to a recorder begun
// without an Opener. It blocks while the buffer is full.
func (r *Recorder) Write(pcm []byte) (int, error) {
	r.mu.Lock()
	pipe := r.pipe
	begun := r.src != nil
	r.mu.Unlock()
	if !begun || pipe == nil {
		return 0, ErrNotBegun
	}
	n, err := pipe.Write(pcm)
	if err != nil {
		return n, ErrEnded
	}
	return n, nil
}

// Record starts delivering frames to onFrame. onFrame runs on the recorder's
// goroutine and must not block for long.
func (r *Recorder) Record(_ context.Context, onFrame func(samples []int16)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.src == nil {
		return ErrNotBegun
	}
	if r.recording {
		return ErrAlreadyRecording
	}
	r.onFrame = onFrame
	r.recording = true
	return nil
}

// Pause stops delivering frames. The source stays open and no frame reaches
// the Record callback after Pause returns.
func (r *Recorder) Pause(_ context.Context) error {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.src == nil {
		return ErrNotBegun
	}
	r.recording = false
	r.onFrame = nil
	return nil
}

// End closes the source and waits for the reader to stop. It is a no-op on
// a recorder that was never begun.
func (r *Recorder) End(ctx context.Context) error {
	r.deliverMu.Lock()
	r.mu.Lock()
	src, done := r.src, r.done
	r.src, r.pipe, r.done = nil, nil, nil
	r.recording = false
	r.onFrame = nil
	r.mu.Unlock()
	r.deliverMu.Unlock()
	if src == nil {
		return nil
	}

	err := src.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Status reports whether the recorder is ended, paused or recording.
func (r *Recorder) Status() RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.src == nil:
		return StatusEnded
	case r.recording:
		return StatusRecording
	default:
		return StatusPaused
	}
}

// Frequencies analyses the most recent input.
func (r *Recorder) Frequencies(kind AnalysisKind) Spectrum {
	return r.window.spectrum(kind)
}

func (r *Recorder) pump(src Source, done chan struct{}) {
	defer close(done)

	rate := src.SampleRate()
	chunkBytes := ChunkBytes(rate, int(r.chunk/time.Millisecond))
	if chunkBytes <= 0 {
		chunkBytes = 2
	}
	reader := NewFixedChunkReader(src, chunkBytes)
	buf := make([]byte, chunkBytes)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			r.deliver(BytesToPCM16(buf[:n]), rate)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && r.current(src) {
				r.logger.Warn("capture_read_failed", map[string]any{"err": err})
			}
			return
		}
	}
}

func (r *Recorder) deliver(samples []int16, rate int) {
	if rate != rtconsole.DefaultFrequency {
		out, err := Resample(samples, rate, rtconsole.DefaultFrequency)
		if err != nil {
			r.logger.Warn("resample_failed", map[string]any{"err": err, "rate": rate})
			return
		}
		samples = out
	}
	r.window.push(samples)

	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.mu.Lock()
	fn := r.onFrame
	r.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (r *Recorder) current(src Source) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src == src
}
