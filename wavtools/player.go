package wavtools

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"

	"github.com/enesunal-m/rtconsole"
)

type trackChunk struct {
	trackID string
	samples []int16
}

// StreamPlayer queues 24 kHz PCM16 per track and plays it either through a
// beep speaker (it is a beep.Streamer) or through a paced io.Writer pump.
// Interrupt drops queued audio and reports how far the current track got.
type StreamPlayer struct {
	out      io.Writer
	interval time.Duration
	logger   *rtconsole.Logger

	mu          sync.Mutex
	queue       []trackChunk
	played      map[string]int // samples played per track
	interrupted map[string]bool
	connected   bool
	stop        chan struct{}
	pumpDone    chan struct{}

	window sampleWindow
}

// PlayerOption configures a StreamPlayer.
type PlayerOption func(*StreamPlayer)

// WithOutput makes Connect start a pump that writes PCM16 bytes to w in real
// time, for example to the stdin of an external player.
func WithOutput(w io.Writer) PlayerOption {
	return func(p *StreamPlayer) { p.out = w }
}

// WithPumpInterval sets how much audio the output pump writes per tick.
func WithPumpInterval(d time.Duration) PlayerOption {
	return func(p *StreamPlayer) { p.interval = d }
}

// WithPlayerLogger sets the logger for output errors.
func WithPlayerLogger(l *rtconsole.Logger) PlayerOption {
	return func(p *StreamPlayer) { p.logger = l }
}

// NewStreamPlayer creates a player.
func NewStreamPlayer(opts ...PlayerOption) *StreamPlayer {
	p := &StreamPlayer{
		interval:    20 * time.Millisecond,
		logger:      rtconsole.DefaultLogger,
		played:      make(map[string]int),
		interrupted: make(map[string]bool),
	}
	for _, o := range opts {
		o(p)
	}
	p.window.rate = rtconsole.DefaultFrequency
	return p
}

var _ beep.Streamer = (*StreamPlayer)(nil)

// Connect prepares the player and starts the output pump if one is configured.
// Connecting again keeps the running pump.
func (p *StreamPlayer) Connect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	p.played = make(map[string]int)
	p.interrupted = make(map[string]bool)
	if p.out != nil && p.stop == nil {
		p.stop = make(chan struct{})
		p.pumpDone = make(chan struct{})
		go p.pump(p.stop, p.pumpDone)
	}
	return nil
}

// Close stops the output pump and drops queued audio.
func (p *StreamPlayer) Close() error {
	p.mu.Lock()
	stop, done := p.stop, p.pumpDone
	p.stop, p.pumpDone = nil, nil
	p.queue = nil
	p.connected = false
	p.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// Add16BitPCM queues samples for trackID. Audio for an interrupted track, or
// added before Connect, is dropped.
func (p *StreamPlayer) Add16BitPCM(samples []int16, trackID string) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || p.interrupted[trackID] {
		return
	}
	p.queue = append(p.queue, trackChunk{trackID: trackID, samples: append([]int16(nil), samples...)})
}

// TrackSampleOffset reports the track at the head of the queue and how many
// of its samples have played, or nil when nothing is queued.
func (p *StreamPlayer) TrackSampleOffset() *rtconsole.TrackOffset {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offsetLocked()
}

func (p *StreamPlayer) offsetLocked() *rtconsole.TrackOffset {
	if len(p.queue) == 0 {
		return nil
	}
	id := p.queue[0].trackID
	n := p.played[id]
	return &rtconsole.TrackOffset{
		TrackID:     id,
		Offset:      n,
		CurrentTime: float64(n) / rtconsole.DefaultFrequency,
	}
}

// Interrupt stops playback. Queued audio is dropped and every queued track is
// marked interrupted so late chunks for it are ignored. It returns the offset
// of the track that was playing, or nil when nothing was.
func (p *StreamPlayer) Interrupt(_ context.Context) (*rtconsole.TrackOffset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	off := p.offsetLocked()
	for _, c := range p.queue {
		p.interrupted[c.trackID] = true
	}
	p.queue = nil
	return off, nil
}

// Playing reports whether audio is queued.
func (p *StreamPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0
}

// Frequencies analyses the most recently played audio.
func (p *StreamPlayer) Frequencies(kind AnalysisKind) Spectrum {
	return p.window.spectrum(kind)
}

// read takes up to n queued samples.
func (p *StreamPlayer) read(n int) []int16 {
	p.mu.Lock()
	var out []int16
	for len(out) < n && len(p.queue) > 0 {
		head := &p.queue[0]
		take := min(n-len(out), len(head.samples))
		out = append(out, head.samples[:take]...)
		p.played[head.trackID] += take
		head.samples = head.samples[take:]
		if len(head.samples) == 0 {
			p.queue = p.queue[1:]
		}
	}
	p.mu.Unlock()

	if len(out) > 0 {
		p.window.push(out)
	}
	return out
}

// Stream implements beep.Streamer. It pads with silence when the queue is
// empty so a speaker keeps running between responses.
func (p *StreamPlayer) Stream(samples [][2]float64) (int, bool) {
	got := p.read(len(samples))
	for i := range samples {
		v := 0.0
		if i < len(got) {
			v = float64(got[i]) / 0x8000
		}
		samples[i][0] = v
		samples[i][1] = v
	}
	return len(samples), true
}

// Err implements beep.Streamer.
func (p *StreamPlayer) Err() error { return nil }

func (p *StreamPlayer) pump(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	perTick := int(p.interval * rtconsole.DefaultFrequency / time.Second)

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			samples := p.read(perTick)
			if len(samples) == 0 {
				continue
			}
			if _, err := p.out.Write(PCM16ToBytes(samples)); err != nil {
				p.logger.Warn("playback_write_failed", map[string]any{"err": err})
			}
		}
	}
}
