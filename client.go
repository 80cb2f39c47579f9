// Package voicert is the realtime voice-conversation transport of the
// memovoice application: one websocket to the speech service (usually through
// the relay in package relay), a session reducer turning the interleaved
// event stream into an ordered transcript, and the capture/playback audio
// pipelines around it.
package voicert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/memovoice/voicert-go/events"
	"github.com/memovoice/voicert-go/internal/websocket"
	"github.com/memovoice/voicert-go/pcm"
)

// Client owns everything belonging to one conversation: the single physical
// connection, the session reducer, and the audio pipelines. Nothing here is
// shared across conversations; build one Client per dialogue and throw it
// away with the connection.
type Client struct {
	config    *clientConfig
	processor *Processor
	capture   *Capture
	playback  *Playback
	logger    *slog.Logger

	onEvent func(eventType string, data []byte)
	onError func(e *events.ErrorEvent)

	created chan struct{}

	// ws is written once by Open and read from the frame-handler goroutine;
	// wsReady gates frame handling until that write is visible.
	mu        sync.RWMutex
	ws        *websocket.Client
	wsReady   chan struct{}
	readyOnce sync.Once
}

func New(opts ...ClientOption) *Client {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	c := &Client{
		config:  config,
		logger:  config.logger,
		created: make(chan struct{}, 1),
		wsReady: make(chan struct{}),
	}
	c.processor = NewProcessor(ProcessorConfig{
		Session:  config.sessionUpdate(),
		Greeting: config.greeting,
		Logger:   config.logger,
	})
	c.playback = NewPlayback(60*time.Second, config.logger)
	c.capture = NewCapture(config.latency(), c.Send, config.logger)
	return c
}

// OnEvent observes every inbound frame after the reducer has folded it in.
func (c *Client) OnEvent(h func(eventType string, data []byte)) {
	c.onEvent = h
}

func (c *Client) OnError(h func(e *events.ErrorEvent)) {
	c.onError = h
}

// Session exposes the transcript aggregate built by the reducer.
func (c *Client) Session() *Session {
	return c.processor.Session()
}

// Audio returns the device side of the playback buffer; wire-rate PCM16.
func (c *Client) Audio() io.Reader {
	return c.playback.Reader()
}

func (c *Client) socket() *websocket.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ws
}

func (c *Client) ReadyState() websocket.ReadyState {
	ws := c.socket()
	if ws == nil {
		return websocket.StateClosed
	}
	return ws.ReadyState()
}

func (c *Client) LastMessage() []byte {
	ws := c.socket()
	if ws == nil {
		return nil
	}
	return ws.LastMessage()
}

// Send marshals one command envelope onto the socket. The write is queued;
// it never blocks on the network.
func (c *Client) Send(evt any) error {
	ws := c.socket()
	if ws == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	ws.WriteText(data)
	return nil
}

// StartTurn opens the microphone turn: src must produce wire-rate PCM16
// (use CaptureWriter for device-rate float sources).
func (c *Client) StartTurn(src io.Reader) error {
	return c.capture.Start(src)
}

// StopTurn commits the input buffer and releases the capture loop. The
// session itself keeps running; a fresh session starts with the next
// connection.
func (c *Client) StopTurn() error {
	return c.capture.Stop()
}

// PushSamples hands one hardware-callback block of float samples to the
// capture pipeline.
func (c *Client) PushSamples(samples []float64) {
	c.capture.Push(samples)
}

// CaptureWriter adapts a device-rate PCM16 writer to the wire rate for use
// as a StartTurn source via an io.Pipe.
func (c *Client) CaptureWriter(sink io.Writer, deviceRate int) io.Writer {
	if deviceRate == pcm.SampleRate {
		return sink
	}
	return &ResampleWriter{
		Sink:      sink,
		FromRate:  deviceRate,
		ToRate:    pcm.SampleRate,
		Resampler: LinearResampler{},
	}
}

// Interrupt stops playback locally, immediately. Safe to call at any time,
// any number of times.
func (c *Client) Interrupt() {
	c.playback.Interrupt()
}

// Cancel interrupts playback and asks the server to stop generating.
func (c *Client) Cancel() error {
	c.playback.Interrupt()
	return c.Send(events.NewResponseCancel())
}

// ClearInput discards the uncommitted input audio buffer server-side.
func (c *Client) ClearInput() error {
	return c.Send(events.NewInputAudioClear())
}

// Open dials the relay (or the upstream directly) and blocks until the
// server's session.created has been processed and the setup commands are on
// the wire.
func (c *Client) Open(ctx context.Context) error {
	if err := c.config.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	wsURL, headers, err := c.dialTarget()
	if err != nil {
		return err
	}

	ws, err := websocket.Connect(ctx, websocket.ClientConfig{
		Logger:            c.logger,
		URL:               wsURL,
		Headers:           headers,
		HeartbeatInterval: c.config.heartbeat,
		OnText:            c.handleFrame,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.wsReady) })

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for session: %w", ctx.Err())
	case <-ws.Done():
		return fmt.Errorf("connection closed before session was created")
	case <-c.created:
	}

	return nil
}

// Close tears the conversation down: capture stops, playback drains nothing
// further, and the socket closes.
func (c *Client) Close(ctx context.Context) error {
	_ = c.capture.Stop()
	c.playback.Close()
	ws := c.socket()
	if ws == nil {
		return nil
	}
	return ws.Close(ctx)
}

func (c *Client) dialTarget() (string, http.Header, error) {
	if c.config.upstreamURL != "" {
		headers := http.Header{}
		headers.Add("Authorization", fmt.Sprintf("Bearer %s", c.config.apiKey))
		return fmt.Sprintf("%s?model=%s", c.config.upstreamURL, url.QueryEscape(c.config.model)), headers, nil
	}

	u, err := url.Parse(c.config.relayURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.config.model)
	q.Set("apiKey", c.config.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil, nil
}

// handleFrame runs on the connection's event loop: fold the frame into the
// session, then run the effects in a fixed order so barge-in beats any audio
// enqueued by the same step. Frames that arrive while Open is still
// publishing the socket wait here, so the pipelined setup commands always
// have a socket to go out on.
func (c *Client) handleFrame(data []byte) error {
	<-c.wsReady

	eff := c.processor.Apply(data)

	if eff.Interrupt {
		c.playback.Interrupt()
	}
	if eff.Audio != nil {
		c.playback.Enqueue(eff.Audio.ItemID, eff.Audio.PCM)
	}
	for _, cmd := range eff.Commands {
		if err := c.Send(cmd); err != nil {
			c.logger.Error("sending pipelined command failed", slog.Any("err", err))
		}
	}

	head, err := events.Parse[events.BaseEvent](data)
	if err != nil {
		return nil
	}

	switch events.EventType(head.Type) {
	case events.TypeSessionCreated:
		select {
		case c.created <- struct{}{}:
		default:
		}
	case events.TypeError:
		if c.onError != nil {
			if evt, err := events.Parse[events.ErrorEvent](data); err == nil {
				c.onError(evt)
			}
		}
	}

	if c.onEvent != nil {
		c.onEvent(head.Type, data)
	}

	return nil
}
