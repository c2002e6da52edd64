// Package console implements a voice session controller: it connects a
// realtime conversation client, a capture device and a playback sink, runs
// push-to-talk or server VAD turn taking with barge-in, and folds protocol
// events into an event log and a transcript.
package console

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enesunal-m/rtconsole"
	"github.com/enesunal-m/rtconsole/wavtools"
)

var (
	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("console: not connected")

	// ErrTransitionInFlight is returned when a lifecycle transition is already running.
	ErrTransitionInFlight = errors.New("console: lifecycle transition in flight")
)

// DefaultGreeting is sent as the first user message of every session.
const DefaultGreeting = "Hello!"

// Options configures a Controller.
type Options struct {
	// TurnMode is the initial turn taking mode, restored by Reset.
	TurnMode TurnMode

	// Greeting is sent as a user text message once connected. Empty disables it.
	Greeting string

	// ConnectTimeout bounds Connect. Zero means no timeout beyond the caller's context.
	ConnectTimeout time.Duration

	// Instructions, if set, are applied to the session before connecting.
	Instructions string

	// Logger receives lifecycle and misuse logs. Defaults to rtconsole.DefaultLogger.
	Logger *rtconsole.Logger
}

// DefaultOptions returns push-to-talk with the default greeting.
func DefaultOptions() Options {
	return Options{
		TurnMode: PushToTalk,
		Greeting: DefaultGreeting,
	}
}

// Snapshot is a consistent copy of the controller's derived state.
type Snapshot struct {
	State      State
	Mode       TurnMode
	SessionID  string
	Events     []EventRecord
	Items      []rtconsole.Item
	Transcript []TranscriptLine
	// LastError is the most recent lifecycle, audio or remote error. It is
	// kept across Disconnect and cleared by Reset.
	LastError error
}

// Controller orchestrates one voice session at a time. It is safe for
// concurrent use; lifecycle transitions are serialized.
type Controller struct {
	remote   RemoteClient
	capture  CaptureDevice
	playback PlaybackSink
	opts     Options
	log      *rtconsole.ContextLogger

	mu        sync.Mutex
	state     State
	mode      TurnMode
	sessionID string
	events    []EventRecord
	items     []rtconsole.Item // kept after an unexpected drop
	files     map[string][]byte
	lastErr   error

	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	unsubscribe   []func()

	connectCancel  context.CancelFunc
	connectDone    chan struct{}
	aborted        bool
	disconnectDone chan struct{}
	dropDone       chan struct{} // teardown of a dropped connection
}

// New creates a controller over the given collaborators.
func New(remote RemoteClient, capture CaptureDevice, playback PlaybackSink, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = rtconsole.DefaultLogger
	}
	return &Controller{
		remote:   remote,
		capture:  capture,
		playback: playback,
		opts:     opts,
		log:      logger.WithContext(map[string]any{"component": "console"}),
		mode:     opts.TurnMode,
	}
}

// Connect opens the capture device, the playback sink and the remote
// connection in that order, then sends the greeting. In server VAD mode
// recording starts right away. On failure everything opened is torn down,
// the controller is Idle again and the error is kept as LastError.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.lockAfterDrop(ctx); err != nil {
		return err
	}
	if c.connectDone != nil || c.state == Disconnecting {
		c.mu.Unlock()
		return ErrTransitionInFlight
	}
	if c.state != Idle {
		c.mu.Unlock()
		c.log.Warn("already_connected", map[string]any{"state": c.state.String()})
		return nil
	}

	var cancel context.CancelFunc
	if c.opts.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	done := make(chan struct{})
	c.state = Connecting
	c.events = nil
	c.items = nil
	c.connectCancel = cancel
	c.connectDone = done
	c.aborted = false
	mode := c.mode
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.connectCancel = nil
		c.connectDone = nil
		c.mu.Unlock()
		close(done)
	}()

	err := c.connect(ctx, mode)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	aborted := c.aborted
	c.state = Idle
	c.mu.Unlock()
	if aborted {
		c.log.Info("connect_aborted", map[string]any{"err": err})
		return err
	}
	c.fail("connect_failed", err)
	return err
}

func (c *Controller) connect(ctx context.Context, mode TurnMode) (err error) {
	if err := c.capture.Begin(ctx); err != nil {
		return err
	}
	opened := []func(context.Context) error{c.capture.End}
	defer func() {
		if err != nil {
			c.mu.Lock()
			c.sessionCtx, c.sessionCancel, c.unsubscribe = nil, nil, nil
			c.sessionID = ""
			c.files = nil
			c.mu.Unlock()
			c.teardown(opened)
		}
	}()

	if err := c.playback.Connect(ctx); err != nil {
		return err
	}
	opened = append(opened, c.stopPlayback)

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	unsubs := c.subscribe()
	opened = append(opened, func(context.Context) error {
		sessionCancel()
		for _, u := range unsubs {
			u()
		}
		return nil
	})

	if err := c.remote.UpdateSession(ctx, sessionFor(mode, c.opts.Instructions)); err != nil {
		return err
	}
	if err := c.remote.Connect(ctx); err != nil {
		return err
	}
	opened = append(opened, c.remote.Disconnect)

	if c.opts.Greeting != "" {
		greeting := []rtconsole.ContentPart{rtconsole.InputTextPart(c.opts.Greeting)}
		if err := c.remote.SendUserMessageContent(ctx, greeting); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.sessionCtx = sessionCtx
	c.sessionCancel = sessionCancel
	c.unsubscribe = unsubs
	c.sessionID = uuid.NewString()
	c.items = nil
	c.files = make(map[string][]byte)
	c.mu.Unlock()

	next := Connected
	if mode == ServerVAD {
		if err := c.capture.Record(ctx, c.sendFrame); err != nil {
			return err
		}
		next = Recording
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	c.state = next
	c.log.Info("connected", map[string]any{"session_id": c.sessionID, "mode": mode.String()})
	return nil
}

// teardown releases resources in reverse opening order with a fresh context,
// since the connect context may already be done.
func (c *Controller) teardown(opened []func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(opened) - 1; i >= 0; i-- {
		if err := opened[i](ctx); err != nil {
			c.log.Warn("teardown_failed", map[string]any{"err": err})
		}
	}
}

func (c *Controller) stopPlayback(ctx context.Context) error {
	_, err := c.playback.Interrupt(ctx)
	return err
}

// Disconnect releases the microphone, stops playback and closes the remote
// connection, whatever state the controller is in. A Connect in flight is
// cancelled and waited for. The event log and transcript are cleared.
func (c *Controller) Disconnect(ctx context.Context) error {
	if err := c.lockAfterDrop(ctx); err != nil {
		return err
	}
	if done := c.connectDone; done != nil {
		c.aborted = true
		c.connectCancel()
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	if done := c.disconnectDone; done != nil {
		c.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	c.disconnectDone = done
	c.state = Disconnecting
	sessionCancel, unsubs := c.sessionCancel, c.unsubscribe
	c.sessionCtx, c.sessionCancel, c.unsubscribe = nil, nil, nil
	c.mu.Unlock()

	if sessionCancel != nil {
		sessionCancel()
	}
	for _, u := range unsubs {
		u()
	}

	var errs []error
	if err := c.capture.End(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.stopPlayback(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.remote.Disconnect(ctx); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)

	c.mu.Lock()
	c.state = Idle
	c.sessionID = ""
	c.events = nil
	c.items = nil
	c.files = nil
	c.disconnectDone = nil
	c.mu.Unlock()
	close(done)

	if err != nil {
		c.fail("disconnect_failed", err)
		return err
	}
	c.log.Info("disconnected", nil)
	return nil
}

// Reset disconnects, clears LastError and restores the configured turn mode.
func (c *Controller) Reset(ctx context.Context) error {
	err := c.Disconnect(ctx)
	c.mu.Lock()
	c.lastErr = nil
	c.mode = c.opts.TurnMode
	c.mu.Unlock()
	return err
}

// StartRecording begins a push-to-talk turn. Playback in progress is
// interrupted first and the response is cancelled at the sample where the
// user cut in. Calling it while recording, or in server VAD mode, logs a
// warning and does nothing.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != PushToTalk {
		c.mu.Unlock()
		c.log.Warn("start_recording_in_vad_mode", nil)
		return nil
	}
	switch c.state {
	case Recording:
		c.mu.Unlock()
		c.log.Warn("already_recording", nil)
		return nil
	case Connected:
	default:
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.state = Recording
	c.mu.Unlock()

	c.bargeIn(ctx)

	if err := c.capture.Record(ctx, c.sendFrame); err != nil {
		c.mu.Lock()
		if c.state == Recording {
			c.state = Connected
		}
		c.mu.Unlock()
		c.fail("record_failed", err)
		return err
	}
	return nil
}

// StopRecording ends a push-to-talk turn and asks for a response. Calling it
// while not recording, or in server VAD mode, logs a warning and does nothing.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != PushToTalk {
		c.mu.Unlock()
		c.log.Warn("stop_recording_in_vad_mode", nil)
		return nil
	}
	if c.state != Recording {
		c.mu.Unlock()
		c.log.Warn("not_recording", map[string]any{"state": c.state.String()})
		return nil
	}
	c.state = Connected
	c.mu.Unlock()

	if err := c.capture.Pause(ctx); err != nil {
		c.fail("pause_failed", err)
		return err
	}
	if err := c.remote.CreateResponse(ctx); err != nil {
		c.fail("create_response_failed", err)
		return err
	}
	return nil
}

// SetTurnMode switches between push-to-talk and server VAD. On a live
// session the remote turn detection is updated and capture is paused or
// started to match. On failure the previous mode stays in effect.
func (c *Controller) SetTurnMode(ctx context.Context, mode TurnMode) error {
	c.mu.Lock()
	if c.connectDone != nil || c.state == Disconnecting {
		c.mu.Unlock()
		return ErrTransitionInFlight
	}
	if mode == c.mode {
		c.mu.Unlock()
		return nil
	}
	prev, state := c.mode, c.state
	if !state.Live() {
		c.mode = mode
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.remote.UpdateSession(ctx, sessionFor(mode, "")); err != nil {
		c.fail("update_session_failed", err)
		return err
	}

	var err error
	switch {
	case mode == PushToTalk && state == Recording:
		if err = c.capture.Pause(ctx); err != nil {
			c.fail("pause_failed", err)
		}
	case mode == ServerVAD && state != Recording:
		if err = c.capture.Record(ctx, c.sendFrame); err != nil {
			c.fail("record_failed", err)
		}
	}
	if err != nil {
		// The remote already switched; put it back so it agrees with c.mode.
		if rerr := c.remote.UpdateSession(ctx, sessionFor(prev, "")); rerr != nil {
			c.log.Warn("turn_mode_rollback_failed", map[string]any{"err": rerr})
		}
		return err
	}

	c.mu.Lock()
	c.mode = mode
	switch {
	case mode == PushToTalk && c.state == Recording:
		c.state = Connected
	case mode == ServerVAD && c.state == Connected:
		c.state = Recording
	}
	c.mu.Unlock()
	c.log.Info("turn_mode_changed", map[string]any{"mode": mode.String()})
	return nil
}

// SendText sends a typed user message and asks for a response.
func (c *Controller) SendText(ctx context.Context, text string) error {
	if !c.State().Live() {
		return ErrNotConnected
	}
	if err := c.remote.SendUserMessageContent(ctx, []rtconsole.ContentPart{rtconsole.InputTextPart(text)}); err != nil {
		c.fail("send_text_failed", err)
		return err
	}
	return nil
}

// DeleteItem removes a conversation item.
func (c *Controller) DeleteItem(ctx context.Context, id string) error {
	if !c.State().Live() {
		return ErrNotConnected
	}
	if err := c.remote.DeleteItem(ctx, id); err != nil {
		c.fail("delete_item_failed", err)
		return err
	}
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the derived state for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:     c.state,
		Mode:      c.mode,
		SessionID: c.sessionID,
		Events:    append([]EventRecord(nil), c.events...),
		LastError: c.lastErr,
	}
	items := c.items
	live := c.state.Live()
	files := c.files
	c.mu.Unlock()

	if live {
		items = c.remote.Items()
	} else {
		items = append([]rtconsole.Item(nil), items...)
	}
	for i := range items {
		if f, ok := files[items[i].ID]; ok && items[i].Formatted.File == nil {
			items[i].Formatted.File = f
		}
	}
	s.Items = items
	s.Transcript = BuildTranscript(items)
	return s
}

// InputFrequencies returns the capture spectrum for visualization.
func (c *Controller) InputFrequencies(kind wavtools.AnalysisKind) wavtools.Spectrum {
	return c.capture.Frequencies(kind)
}

// OutputFrequencies returns the playback spectrum for visualization.
func (c *Controller) OutputFrequencies(kind wavtools.AnalysisKind) wavtools.Spectrum {
	return c.playback.Frequencies(kind)
}

func (c *Controller) setState(from, to State) {
	c.mu.Lock()
	if c.state == from {
		c.state = to
	}
	c.mu.Unlock()
}

func (c *Controller) fail(event string, err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.log.Error(event, map[string]any{"err": err})
}

func (c *Controller) session() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionCtx == nil {
		return nil
	}
	return c.sessionCtx
}

func (c *Controller) sendFrame(samples []int16) {
	ctx := c.session()
	if ctx == nil {
		return
	}
	if err := c.remote.AppendInputAudio(ctx, samples); err != nil && ctx.Err() == nil {
		c.log.Warn("append_audio_failed", map[string]any{"err": err, "samples": len(samples)})
	}
}

// bargeIn stops playback and cancels the response at the interrupted sample.
func (c *Controller) bargeIn(ctx context.Context) {
	offset, err := c.playback.Interrupt(ctx)
	if err != nil {
		c.log.Warn("interrupt_failed", map[string]any{"err": err})
		return
	}
	if offset == nil {
		return
	}
	if err := c.remote.CancelResponse(ctx, offset.TrackID, offset.Offset); err != nil {
		c.fail("cancel_response_failed", err)
		return
	}
	c.log.Debug("response_cancelled", map[string]any{"item_id": offset.TrackID, "offset": offset.Offset})
}

func sessionFor(mode TurnMode, instructions string) rtconsole.Session {
	s := rtconsole.Session{TurnDetection: &rtconsole.TurnDetection{Type: rtconsole.TurnDetectionNone}}
	if mode == ServerVAD {
		s.TurnDetection = &rtconsole.TurnDetection{Type: rtconsole.TurnDetectionServerVAD}
	}
	if instructions != "" {
		s.Instructions = rtconsole.Ptr(instructions)
	}
	return s
}

func (c *Controller) subscribe() []func() {
	return []func(){
		c.remote.On(rtconsole.EventRealtime, c.onRealtimeEvent),
		c.remote.On(rtconsole.EventConversationUpdated, c.onConversationUpdated),
		c.remote.On(rtconsole.EventItemCompleted, c.onItemCompleted),
		c.remote.On(rtconsole.EventInterrupted, c.onInterrupted),
		c.remote.On(rtconsole.EventServerError, c.onError),
		c.remote.On(rtconsole.EventClose, c.onClose),
	}
}

func (c *Controller) onRealtimeEvent(n rtconsole.Notification) {
	if n.Event == nil {
		return
	}
	c.mu.Lock()
	c.events = Reduce(c.events, *n.Event)
	c.mu.Unlock()
}

func (c *Controller) onConversationUpdated(n rtconsole.Notification) {
	if n.Item == nil || n.Delta == nil || len(n.Delta.Audio) == 0 {
		return
	}
	c.playback.Add16BitPCM(n.Delta.Audio, n.Item.ID)
}

func (c *Controller) onItemCompleted(n rtconsole.Notification) {
	if n.Item == nil || !n.Item.HasAudio() {
		return
	}
	wav := rtconsole.WAVFromSamples(n.Item.Formatted.Audio)
	c.mu.Lock()
	if c.files != nil {
		c.files[n.Item.ID] = wav
	}
	c.mu.Unlock()
}

// onInterrupted handles a server-detected barge-in.
func (c *Controller) onInterrupted(rtconsole.Notification) {
	ctx := c.session()
	if ctx == nil {
		return
	}
	c.bargeIn(ctx)
}

func (c *Controller) onError(n rtconsole.Notification) {
	if n.Err == nil {
		return
	}
	c.fail("remote_error", n.Err)
}

// onClose handles a connection the server dropped. Capture and playback are
// released; the transcript and event log stay visible until the next
// Connect or Disconnect.
func (c *Controller) onClose(n rtconsole.Notification) {
	c.mu.Lock()
	if !c.state.Live() {
		c.mu.Unlock()
		return
	}
	c.state = Disconnecting
	c.items = c.remote.Items()
	sessionCancel, unsubs := c.sessionCancel, c.unsubscribe
	c.sessionCtx, c.sessionCancel, c.unsubscribe = nil, nil, nil
	done := make(chan struct{})
	c.dropDone = done
	c.mu.Unlock()

	err := n.Err
	if err == nil {
		err = rtconsole.ErrClosed
	}
	c.fail("connection_lost", err)

	go func() {
		sessionCancel()
		for _, u := range unsubs {
			u()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.capture.End(ctx); err != nil {
			c.log.Warn("teardown_failed", map[string]any{"err": err})
		}
		if err := c.stopPlayback(ctx); err != nil {
			c.log.Warn("teardown_failed", map[string]any{"err": err})
		}
		c.mu.Lock()
		if c.state == Disconnecting {
			c.state = Idle
		}
		c.dropDone = nil
		c.mu.Unlock()
		close(done)
	}()
}

// lockAfterDrop waits until no dropped-connection teardown is running and
// returns with c.mu held.
func (c *Controller) lockAfterDrop(ctx context.Context) error {
	c.mu.Lock()
	for c.dropDone != nil {
		done := c.dropDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	return nil
}
