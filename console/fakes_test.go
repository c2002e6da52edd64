package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/enesunal-m/rtconsole"
	"github.com/enesunal-m/rtconsole/wavtools"
)

// callLog records collaborator calls across fakes in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.all() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeRemote struct {
	log *callLog

	mu         sync.Mutex
	handlers   map[string]map[int]rtconsole.Handler
	nextID     int
	items      []rtconsole.Item
	connected  bool
	sessions   []rtconsole.Session
	appended   int
	connectErr error
	greetErr   error
	updateErr  error
	// block, when set, holds Connect until it is closed or ctx is done.
	block   chan struct{}
	entered chan struct{}
}

func newFakeRemote(log *callLog) *fakeRemote {
	return &fakeRemote{log: log, handlers: make(map[string]map[int]rtconsole.Handler)}
}

func (r *fakeRemote) Connect(ctx context.Context) error {
	r.log.add("remote.Connect")
	if r.entered != nil {
		close(r.entered)
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.connectErr != nil {
		return r.connectErr
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	r.event(rtconsole.SourceClient, "session.update", nil)
	return nil
}

func (r *fakeRemote) Disconnect(context.Context) error {
	r.log.add("remote.Disconnect")
	r.mu.Lock()
	r.connected = false
	r.items = nil
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) SendUserMessageContent(_ context.Context, content []rtconsole.ContentPart) error {
	r.log.add("remote.SendUserMessageContent")
	if r.greetErr != nil {
		return r.greetErr
	}
	var text string
	for _, p := range content {
		text += p.Text
	}
	r.mu.Lock()
	it := rtconsole.Item{
		ID:        fmt.Sprintf("item_%d", len(r.items)+1),
		Type:      "message",
		Role:      "user",
		Status:    rtconsole.StatusCompleted,
		Content:   content,
		Formatted: rtconsole.Formatted{Text: text},
	}
	r.items = append(r.items, it)
	r.mu.Unlock()

	r.event(rtconsole.SourceClient, "conversation.item.create", map[string]any{"item": map[string]any{"id": it.ID}})
	r.emit(rtconsole.Notification{Name: rtconsole.EventItemAppended, Item: &it})
	r.event(rtconsole.SourceClient, "response.create", nil)
	return nil
}

func (r *fakeRemote) AppendInputAudio(_ context.Context, samples []int16) error {
	r.mu.Lock()
	r.appended += len(samples)
	r.mu.Unlock()
	r.event(rtconsole.SourceClient, "input_audio_buffer.append", map[string]any{"audio": rtconsole.EncodePCM16Base64(samples)})
	return nil
}

func (r *fakeRemote) CreateResponse(context.Context) error {
	r.log.add("remote.CreateResponse")
	return nil
}

func (r *fakeRemote) CancelResponse(_ context.Context, itemID string, sampleCount int) error {
	r.log.add("remote.CancelResponse(%s,%d)", itemID, sampleCount)
	return nil
}

func (r *fakeRemote) UpdateSession(_ context.Context, s rtconsole.Session) error {
	td := ""
	if s.TurnDetection != nil {
		td = s.TurnDetection.Type
	}
	r.log.add("remote.UpdateSession(%s)", td)
	if r.updateErr != nil {
		return r.updateErr
	}
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) DeleteItem(_ context.Context, itemID string) error {
	r.log.add("remote.DeleteItem(%s)", itemID)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, it := range r.items {
		if it.ID == itemID {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return rtconsole.ErrItemNotFound
}

func (r *fakeRemote) On(name string, fn rtconsole.Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[name] == nil {
		r.handlers[name] = make(map[int]rtconsole.Handler)
	}
	id := r.nextID
	r.nextID++
	r.handlers[name][id] = fn
	return func() {
		r.mu.Lock()
		delete(r.handlers[name], id)
		r.mu.Unlock()
	}
}

func (r *fakeRemote) Items() []rtconsole.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rtconsole.Item, len(r.items))
	for i, it := range r.items {
		out[i] = it.Clone()
	}
	return out
}

func (r *fakeRemote) handlerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}

func (r *fakeRemote) addItem(it rtconsole.Item) {
	r.mu.Lock()
	r.items = append(r.items, it)
	r.mu.Unlock()
}

func (r *fakeRemote) emit(n rtconsole.Notification) {
	r.mu.Lock()
	var fns []rtconsole.Handler
	for _, fn := range r.handlers[n.Name] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (r *fakeRemote) event(source rtconsole.Source, typ string, fields map[string]any) {
	payload := map[string]any{"type": typ}
	for k, v := range fields {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	ev := rtconsole.RealtimeEvent{Time: time.Now(), Source: source, Type: typ, Raw: raw}
	r.emit(rtconsole.Notification{Name: rtconsole.EventRealtime, Event: &ev})
}

type fakeCapture struct {
	log *callLog

	mu        sync.Mutex
	begun     bool
	recording bool
	onFrame   func([]int16)
	beginErr  error
	recordErr error
	// endGate, when set, holds End until it is closed.
	endGate chan struct{}
}

func (c *fakeCapture) Begin(context.Context) error {
	c.log.add("capture.Begin")
	if c.beginErr != nil {
		return c.beginErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.begun {
		return wavtools.ErrAlreadyBegun
	}
	c.begun = true
	return nil
}

func (c *fakeCapture) Record(_ context.Context, onFrame func([]int16)) error {
	c.log.add("capture.Record")
	if c.recordErr != nil {
		return c.recordErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.begun {
		return wavtools.ErrNotBegun
	}
	if c.recording {
		return wavtools.ErrAlreadyRecording
	}
	c.recording = true
	c.onFrame = onFrame
	return nil
}

func (c *fakeCapture) Pause(context.Context) error {
	c.log.add("capture.Pause")
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.begun {
		return wavtools.ErrNotBegun
	}
	c.recording = false
	c.onFrame = nil
	return nil
}

func (c *fakeCapture) End(context.Context) error {
	c.log.add("capture.End")
	if c.endGate != nil {
		<-c.endGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begun = false
	c.recording = false
	c.onFrame = nil
	return nil
}

func (c *fakeCapture) Frequencies(wavtools.AnalysisKind) wavtools.Spectrum {
	return wavtools.Spectrum{Values: []float64{0.5}, Labels: []string{"in"}}
}

func (c *fakeCapture) isBegun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begun
}

func (c *fakeCapture) isRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// frame simulates the microphone producing audio.
func (c *fakeCapture) frame(samples []int16) {
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

type fakePlayback struct {
	log *callLog

	mu         sync.Mutex
	connected  bool
	playing    *rtconsole.TrackOffset
	tracks     []string
	connectErr error
}

func (p *fakePlayback) Connect(context.Context) error {
	p.log.add("playback.Connect")
	if p.connectErr != nil {
		return p.connectErr
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) Add16BitPCM(samples []int16, trackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, trackID)
	p.playing = &rtconsole.TrackOffset{TrackID: trackID, Offset: len(samples)}
}

func (p *fakePlayback) Interrupt(context.Context) (*rtconsole.TrackOffset, error) {
	p.log.add("playback.Interrupt")
	p.mu.Lock()
	defer p.mu.Unlock()
	off := p.playing
	p.playing = nil
	return off, nil
}

func (p *fakePlayback) Frequencies(wavtools.AnalysisKind) wavtools.Spectrum {
	return wavtools.Spectrum{Values: []float64{0.25}, Labels: []string{"out"}}
}

func (p *fakePlayback) setPlaying(off *rtconsole.TrackOffset) {
	p.mu.Lock()
	p.playing = off
	p.mu.Unlock()
}

func (p *fakePlayback) trackIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tracks...)
}

type harness struct {
	log      *callLog
	remote   *fakeRemote
	capture  *fakeCapture
	playback *fakePlayback
	ctrl     *Controller
}

var errBoom = errors.New("boom")

func newHarness(opts Options) *harness {
	log := &callLog{}
	h := &harness{
		log:      log,
		remote:   newFakeRemote(log),
		capture:  &fakeCapture{log: log},
		playback: &fakePlayback{log: log},
	}
	if opts.Logger == nil {
		opts.Logger = rtconsole.NewLogger(rtconsole.LogLevelOff)
	}
	h.ctrl = New(h.remote, h.capture, h.playback, opts)
	return h
}
