package rtconsole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"nhooyr.io/websocket"
)

// Notification names delivered to handlers registered with On.
const (
	EventRealtime            = "realtime.event"
	EventConversationUpdated = "conversation.updated"
	EventItemAppended        = "conversation.item.appended"
	EventItemCompleted       = "conversation.item.completed"
	EventInterrupted         = "conversation.interrupted"
	EventServerError         = "error"
	EventClose               = "close"
)

const (
	sendTimeout    = 15 * time.Second
	pingInterval   = 20 * time.Second
	readerExitWait = 5 * time.Second
)

// Notification is the payload handed to handlers registered with On.
// Only the fields relevant to Name are set.
type Notification struct {
	Name  string
	Event *RealtimeEvent // realtime.event
	Item  *Item          // conversation.*
	Delta *ItemDelta     // conversation.updated
	Err   error          // error, close
}

// Handler receives client notifications. Handlers run on the read loop
// goroutine (or the caller's goroutine for client-sent events) and should not block.
type Handler func(Notification)

type handlerEntry struct {
	id uint64
	fn Handler
}

// link is one live websocket connection. A client creates a fresh link on
// every Connect so a reconnect never observes the previous connection's state.
type link struct {
	conn   *websocket.Conn
	url    string
	cancel context.CancelFunc
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		l.cancel()
		close(l.closed)
	})
}

// Client is a realtime conversation client. It owns the websocket connection,
// the local Conversation mirror, the session configuration and registered tools.
// It is safe for concurrent use.
type Client struct {
	cfg Config

	mu         sync.Mutex
	link       *link
	session    Session
	tools      map[string]registeredTool
	inputAudio []int16

	writeMu sync.Mutex

	conv *Conversation

	handlerMu sync.RWMutex
	handlers  map[string][]handlerEntry
	nextID    uint64
}

// New creates a disconnected client. The configuration is validated on Connect.
func New(cfg Config) *Client {
	return &Client{
		cfg:      cfg,
		session:  DefaultSession().Merge(cfg.Session),
		tools:    make(map[string]registeredTool),
		conv:     NewConversation(),
		handlers: make(map[string][]handlerEntry),
	}
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := New(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect validates the configuration, opens the websocket and sends the
// current session configuration. It fails with ErrAlreadyConnected when a
// connection is already open.
func (c *Client) Connect(ctx context.Context) error {
	if ctx == nil {
		return NewConnectionError("", "dial", errors.New("context cannot be nil"))
	}
	if err := ValidateConfig(c.cfg); err != nil {
		return err
	}

	c.mu.Lock()
	if c.link != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	u, err := c.cfg.realtimeURL()
	if err != nil {
		return err
	}

	dialCtx := ctx
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, u, &websocket.DialOptions{HTTPHeader: c.cfg.handshakeHeaders()})
	if err != nil {
		return NewConnectionError(u, "dial", err)
	}
	// audio deltas easily exceed the default 32KiB read limit
	ws.SetReadLimit(16 << 20)

	readCtx, cancel := context.WithCancel(context.Background())
	l := &link{
		conn:   ws,
		url:    u,
		cancel: cancel,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.link != nil {
		c.mu.Unlock()
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "duplicate")
		return ErrAlreadyConnected
	}
	c.link = l
	c.mu.Unlock()

	c.log("ws_connected", map[string]any{"url": u})

	go c.readLoop(readCtx, l)
	go c.pingLoop(l)

	if err := c.sendSession(ctx); err != nil {
		_ = c.Disconnect(context.Background())
		return err
	}
	return nil
}

// IsConnected reports whether a websocket connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Disconnect closes the connection, waits for the read loop to exit and
// clears the local conversation. It is a no-op on a disconnected client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.inputAudio = nil
	c.mu.Unlock()

	c.conv.Clear()
	if l == nil {
		return nil
	}

	l.close()
	c.writeMu.Lock()
	_ = l.conn.Close(websocket.StatusNormalClosure, "closing")
	c.writeMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	wait, cancel := context.WithTimeout(ctx, readerExitWait)
	defer cancel()
	select {
	case <-l.done:
	case <-wait.Done():
		c.logWarn("reader_exit_timeout", map[string]any{"url": l.url})
	}
	c.log("ws_disconnected", map[string]any{"url": l.url})
	return nil
}

// Close is Disconnect with a background context. It is safe to call multiple times.
func (c *Client) Close() error {
	return c.Disconnect(context.Background())
}

// On registers fn for the named notification and returns a function that removes it.
func (c *Client) On(name string, fn Handler) (unsubscribe func()) {
	c.handlerMu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[name] = append(c.handlers[name], handlerEntry{id: id, fn: fn})
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		hs := c.handlers[name]
		for i, h := range hs {
			if h.id == id {
				c.handlers[name] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

// emit calls handlers outside the lock so they may register or unregister handlers.
func (c *Client) emit(n Notification) {
	c.handlerMu.RLock()
	hs := append([]handlerEntry(nil), c.handlers[n.Name]...)
	c.handlerMu.RUnlock()
	for _, h := range hs {
		h.fn(n)
	}
}

// Conversation returns the client's conversation mirror.
func (c *Client) Conversation() *Conversation { return c.conv }

// Items returns a snapshot of the conversation items.
func (c *Client) Items() []Item { return c.conv.Items() }

// readLoop reads server events until the link is closed or the connection fails.
func (c *Client) readLoop(ctx context.Context, l *link) {
	var readErr error
	defer func() {
		close(l.done)
		c.mu.Lock()
		unexpected := c.link == l
		if unexpected {
			c.link = nil
		}
		c.mu.Unlock()
		l.close()
		if unexpected {
			c.logError("ws_closed", map[string]any{"url": l.url, "err": readErr})
			c.emit(Notification{Name: EventClose, Err: readErr})
		}
	}()

	for {
		typ, data, err := l.conn.Read(ctx)
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logError("bad_event_json", map[string]any{"err": err, "raw_data": string(data)})
			continue
		}

		ev := RealtimeEvent{Time: time.Now(), Source: SourceServer, Type: env.Type, Raw: data}
		c.emit(Notification{Name: EventRealtime, Event: &ev})
		c.handleServerEvent(ev)
	}
}

func (c *Client) pingLoop(l *link) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := l.conn.Ping(ctx); err != nil {
				c.logWarn("ping_failed", map[string]any{"err": err})
			}
			cancel()
		}
	}
}

func (c *Client) handleServerEvent(ev RealtimeEvent) {
	switch ev.Type {
	case "error":
		var e ErrorEvent
		if err := json.Unmarshal(ev.Raw, &e); err != nil {
			c.logError("bad_error_event", map[string]any{"err": err})
			return
		}
		apiErr := e.Error
		c.logError("server_error", map[string]any{"type": apiErr.Type, "code": apiErr.Code, "message": apiErr.Message})
		c.emit(Notification{Name: EventServerError, Err: &apiErr})
		return

	case "session.created":
		var e SessionCreated
		if err := json.Unmarshal(ev.Raw, &e); err == nil {
			c.log("session_created", map[string]any{"session_id": e.Session.ID, "model": e.Session.Model})
		}
		return

	case "input_audio_buffer.speech_started":
		c.process(ev, nil)
		c.emit(Notification{Name: EventInterrupted})
		return

	case "input_audio_buffer.speech_stopped":
		c.mu.Lock()
		buf := append([]int16(nil), c.inputAudio...)
		c.mu.Unlock()
		c.process(ev, buf)
		return

	case "response.created", "response.output_item.added":
		c.process(ev, nil)
		return

	case "conversation.item.created":
		it, _ := c.processWithDispatch(ev)
		if it == nil {
			return
		}
		c.emit(Notification{Name: EventItemAppended, Item: it})
		if it.Status == StatusCompleted {
			c.emit(Notification{Name: EventItemCompleted, Item: it})
		}
		return

	case "response.output_item.done":
		it, _ := c.processWithDispatch(ev)
		if it == nil {
			return
		}
		if it.Status == StatusCompleted {
			c.emit(Notification{Name: EventItemCompleted, Item: it})
		}
		if it.Formatted.Tool != nil {
			go c.callTool(*it.Formatted.Tool)
		}
		return

	case "conversation.item.truncated",
		"conversation.item.deleted",
		"conversation.item.input_audio_transcription.completed",
		"response.content_part.added",
		"response.audio_transcript.delta",
		"response.audio.delta",
		"response.text.delta",
		"response.function_call_arguments.delta":
		c.processWithDispatch(ev)
		return
	}

	c.logDebug("unhandled_event", map[string]any{"type": ev.Type})
}

func (c *Client) process(ev RealtimeEvent, inputAudio []int16) (*Item, *ItemDelta) {
	it, delta, err := c.conv.ProcessEvent(ev, inputAudio)
	if err != nil {
		c.logError("bad_event", map[string]any{"type": ev.Type, "err": err})
		c.emit(Notification{Name: EventServerError, Err: err})
		return nil, nil
	}
	return it, delta
}

func (c *Client) processWithDispatch(ev RealtimeEvent) (*Item, *ItemDelta) {
	it, delta := c.process(ev, nil)
	if it != nil {
		c.emit(Notification{Name: EventConversationUpdated, Item: it, Delta: delta})
	}
	return it, delta
}

// send writes one client event. The event id is generated here and the event
// is announced as a realtime.event notification before it goes out.
func (c *Client) send(ctx context.Context, eventType string, fields map[string]any) error {
	if ctx == nil {
		return NewSendError(eventType, "", errors.New("context cannot be nil"))
	}

	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return NewSendError(eventType, "", ErrClosed)
	}

	id, err := nanoid.New()
	if err != nil {
		return NewSendError(eventType, "", fmt.Errorf("event id: %w", err))
	}
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = eventType
	payload["event_id"] = id

	b, err := json.Marshal(payload)
	if err != nil {
		return NewSendError(eventType, id, fmt.Errorf("marshal payload: %w", err))
	}

	ev := RealtimeEvent{Time: time.Now(), Source: SourceClient, Type: eventType, Raw: b}
	c.emit(Notification{Name: EventRealtime, Event: &ev})

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	c.writeMu.Lock()
	err = l.conn.Write(ctx, websocket.MessageText, b)
	c.writeMu.Unlock()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewSendError(eventType, id, ErrSendTimeout)
		}
		return NewSendError(eventType, id, err)
	}
	return nil
}

// SendEvent sends an arbitrary client event. fields must not contain "type".
func (c *Client) SendEvent(ctx context.Context, eventType string, fields map[string]any) error {
	if eventType == "" {
		return NewSendError(eventType, "", errors.New("event type is required"))
	}
	return c.send(ctx, eventType, fields)
}

// SendRaw sends a client event given as raw JSON; the type is taken from the payload.
func (c *Client) SendRaw(ctx context.Context, raw []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return NewSendError("unknown", "", fmt.Errorf("decode payload: %w", err))
	}
	t, _ := fields["type"].(string)
	delete(fields, "type")
	delete(fields, "event_id")
	return c.SendEvent(ctx, t, fields)
}

// SendUserMessageContent creates a user message item from content and asks for a response.
func (c *Client) SendUserMessageContent(ctx context.Context, content []ContentPart) error {
	if len(content) > 0 {
		item := ConversationItem{Type: "message", Role: "user", Content: content}
		if err := c.CreateConversationItem(ctx, item); err != nil {
			return err
		}
	}
	return c.CreateResponse(ctx)
}

func (c *Client) log(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Info(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger(event, fields)
	}
}

func (c *Client) logDebug(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Debug(event, fields)
	}
}

func (c *Client) logWarn(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Warn(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger("WARN: "+event, fields)
	}
}

func (c *Client) logError(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Error(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger("ERROR: "+event, fields)
	}
}
