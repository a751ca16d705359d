// Package websocket provides a transport.Dialer that streams captured PCM to a
// voice-chat backend over a persistent WebSocket.
//
// Audio chunks travel as binary frames and control messages as JSON text
// frames. The backend answers with JSON text frames ({"type":"ai_text",
// "chunk":...}, {"type":"audio_start"}, ...) and with binary frames of
// synthesized speech, all of which are surfaced as transport.Event values.
//
// The bearer token is sent in the Authorization header and, when
// [WithTokenQuery] is set, also as a ?token= query parameter for backends
// whose handshake interceptor only inspects the URL.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/pcmwire/pkg/transport"
)

const (
	// DefaultURL is the backend's audio endpoint on a local development server.
	DefaultURL = "ws://localhost:8080/ws-audio"

	defaultWriteTimeout = 5 * time.Second
	defaultQueueSize    = 256
	defaultEventBuffer  = 64
	defaultReadLimit    = 1 << 20
)

// Option is a functional option for configuring the Dialer.
type Option func(*Dialer)

// WithToken sets the bearer token presented on the handshake.
func WithToken(token string) Option {
	return func(d *Dialer) {
		d.token = token
	}
}

// WithTokenQuery also passes the token as a ?token= query parameter.
func WithTokenQuery(enabled bool) Option {
	return func(d *Dialer) {
		d.tokenQuery = enabled
	}
}

// WithWriteTimeout bounds each frame write. Zero keeps the default of 5s.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		if timeout > 0 {
			d.writeTimeout = timeout
		}
	}
}

// WithQueueSize sets how many outbound frames may wait for the write loop.
func WithQueueSize(n int) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithHTTPClient overrides the HTTP client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) {
		d.httpClient = c
	}
}

// Dialer implements transport.Dialer over coder/websocket.
type Dialer struct {
	url          *url.URL
	token        string
	tokenQuery   bool
	writeTimeout time.Duration
	queueSize    int
	httpClient   *http.Client
}

var _ transport.Dialer = (*Dialer)(nil)

// New creates a Dialer for rawURL. An empty rawURL selects [DefaultURL]. The
// scheme must be ws, wss, http or https.
func New(rawURL string, opts ...Option) (*Dialer, error) {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("websocket: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("websocket: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("websocket: url %q has no host", rawURL)
	}

	d := &Dialer{
		url:          u,
		writeTimeout: defaultWriteTimeout,
		queueSize:    defaultQueueSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// URL returns the endpoint the dialer connects to, without the token.
func (d *Dialer) URL() string { return d.url.String() }

// Dial opens a session. If cfg.CharacterID is set, the persona selection is
// queued as the first frame.
func (d *Dialer) Dial(ctx context.Context, cfg transport.SessionConfig) (transport.Session, error) {
	u := *d.url
	if d.tokenQuery && d.token != "" {
		q := u.Query()
		q.Set("token", d.token)
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	if d.token != "" {
		headers.Set("Authorization", "Bearer "+d.token)
	}
	if cfg.SessionID != "" {
		headers.Set("X-Session-Id", cfg.SessionID)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %q: %w", d.url.String(), err)
	}
	conn.SetReadLimit(defaultReadLimit)

	// The session outlives the dial context but keeps its values.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:         conn,
		id:           cfg.SessionID,
		writeTimeout: d.writeTimeout,
		out:          make(chan frame, d.queueSize),
		events:       make(chan transport.Event, defaultEventBuffer),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
		ctx:          sessCtx,
		cancel:       cancel,
	}

	s.wg.Add(1)
	go s.readLoop()
	go s.writeLoop()

	if cfg.CharacterID != "" {
		if err := s.SendControl(transport.SelectCharacter(cfg.CharacterID)); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("websocket: select character: %w", err)
		}
	}
	return s, nil
}

// ---- session ----

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// backendMessage is the JSON shape of every text frame the backend sends.
type backendMessage struct {
	Type    string `json:"type"`
	Chunk   string `json:"chunk,omitempty"`
	Message string `json:"message,omitempty"`
}

// session is a live connection. It implements transport.Session.
type session struct {
	conn         *websocket.Conn
	id           string
	writeTimeout time.Duration

	out    chan frame
	events chan transport.Event

	ctx    context.Context
	cancel context.CancelFunc

	done       chan struct{}
	doneOnce   sync.Once
	writerDone chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *session) SendAudio(chunk []byte) error {
	return s.enqueue(frame{typ: websocket.MessageBinary, data: chunk})
}

func (s *session) SendControl(c transport.Control) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("websocket: encode control: %w", err)
	}
	return s.enqueue(frame{typ: websocket.MessageText, data: data})
}

func (s *session) Events() <-chan transport.Event { return s.events }

// Close flushes queued frames, performs the close handshake and waits for the
// read loop to exit.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.shutdown()
		<-s.writerDone
		if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
			slog.Debug("websocket: close handshake", "session_id", s.id, "err", err)
		}
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *session) enqueue(f frame) error {
	select {
	case <-s.done:
		return s.closedErr()
	default:
	}
	select {
	case s.out <- f:
		return nil
	case <-s.done:
		return s.closedErr()
	}
}

func (s *session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("%w: %v", transport.ErrClosed, s.err)
	}
	return transport.ErrClosed
}

func (s *session) shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}

// fail records the first connection error and stops the session.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.shutdown()
}

func (s *session) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}

func (s *session) write(f frame) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, f.typ, f.data)
}

// writeLoop is the only goroutine writing to the connection.
func (s *session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case f := <-s.out:
			if err := s.write(f); err != nil {
				s.fail(fmt.Errorf("write: %w", err))
				return
			}
		case <-s.done:
			if s.failed() {
				return
			}
			// Orderly close: flush what is already queued.
			for {
				select {
				case f := <-s.out:
					if err := s.write(f); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// readLoop decodes backend frames into events until the connection ends.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.events)

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				s.fail(errors.New("connection closed"))
			} else {
				s.fail(fmt.Errorf("read: %w", err))
			}
			return
		}

		ev, ok := decodeEvent(typ, data)
		if !ok {
			slog.Debug("websocket: ignoring backend frame", "session_id", s.id, "bytes", len(data))
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			// Nobody will read after shutdown; keep draining the socket so the
			// close handshake can complete.
		}
	}
}

// decodeEvent maps one backend frame to an event. Returns false for frames
// that carry nothing the client understands.
func decodeEvent(typ websocket.MessageType, data []byte) (transport.Event, bool) {
	if typ == websocket.MessageBinary {
		if len(data) == 0 {
			return transport.Event{}, false
		}
		return transport.Event{Type: transport.EventAudio, Audio: data}, true
	}

	var msg backendMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return transport.Event{}, false
	}
	switch t := transport.EventType(msg.Type); t {
	case transport.EventText:
		return transport.Event{Type: t, Text: msg.Chunk}, true
	case transport.EventError, transport.EventAudioError:
		return transport.Event{Type: t, Text: msg.Message}, true
	case transport.EventAudioStart, transport.EventAudioEnd:
		return transport.Event{Type: t}, true
	default:
		return transport.Event{}, false
	}
}
