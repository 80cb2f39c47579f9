// Package websocket owns the single physical realtime connection for one
// conversation. Consumers observe it through Subscribe or OnText; they never
// open a second socket for the same conversation.
package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ReadyState mirrors the lifecycle of the physical connection.
type ReadyState int32

const (
	StateClosed ReadyState = iota
	StateConnecting
	StateOpen
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

const defaultHeartbeatInterval = 15 * time.Second

type HandlerFunc func(data []byte) error

func Json[T any](j func(x T) error) HandlerFunc {
	return func(data []byte) error {
		var t T
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}

		return j(t)
	}
}

type ClientConfig struct {
	URL         string
	DialTimeout time.Duration
	Headers     http.Header
	OnText      func(data []byte) error
	OnBinary    func(data []byte) error
	Logger      *slog.Logger

	// HeartbeatInterval is how often a ping keeps intermediaries from idling
	// out the socket. Zero means the 15 s default; negative disables it.
	HeartbeatInterval time.Duration
}

type Client struct {
	out      chan wsutil.Message
	done     chan struct{}
	doneOnce sync.Once
	logger   *slog.Logger

	mu      sync.RWMutex
	state   ReadyState
	lastMsg []byte
	lastErr error
	subs    []chan []byte
}

func (c *Client) setDone() {
	c.doneOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
	})
}

func (c *Client) setState(s ReadyState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ReadyState reports the current connection lifecycle state.
func (c *Client) ReadyState() ReadyState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastMessage returns the most recent inbound text frame, or nil.
func (c *Client) LastMessage() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMsg
}

// LastError returns the terminal read-loop error, if any.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Subscribe registers a fan-out channel receiving every inbound text frame.
// Slow subscribers drop frames rather than stall the read loop.
func (c *Client) Subscribe() <-chan []byte {
	ch := make(chan []byte, 256)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

func (c *Client) publish(data []byte) {
	c.mu.Lock()
	c.lastMsg = data
	subs := c.subs
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- data:
		default:
		}
	}
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) WriteText(data []byte) {
	c.Write(ws.OpText, data)
}

func (c *Client) WriteBinary(data []byte) {
	c.Write(ws.OpBinary, data)
}

func (c *Client) Ping(data []byte) {
	c.Write(ws.OpPing, data)
}

func (c *Client) SendClose(code ws.StatusCode, reason string) {
	c.Write(ws.OpClose, ws.NewCloseFrameBody(code, reason))
}

func (c *Client) Close(ctx context.Context) error {
	c.SendClose(ws.StatusNormalClosure, "closing")
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close failed: %w", ctx.Err())
	}
}

func (c *Client) Write(opcode ws.OpCode, data []byte) {
	select {
	case c.out <- wsutil.Message{OpCode: opcode, Payload: data}:
	case <-c.done:
	}
}

func Connect(ctx context.Context, config ClientConfig) (*Client, error) {

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("url", config.URL),
	)

	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	heartbeat := config.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = defaultHeartbeatInterval
	}

	client := &Client{
		out:   make(chan wsutil.Message, 1000),
		done:  make(chan struct{}),
		state: StateConnecting,
	}
	client.logger = logger

	// 1) Handshake timeout only:
	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	// 2) Dial + WebSocket handshake
	d := ws.Dialer{
		Timeout: config.DialTimeout,
		Header:  ws.HandshakeHeaderHTTP(config.Headers),
	}
	conn, buf, hs, err := d.Dial(hsCtx, config.URL)
	if err != nil {
		client.setState(StateClosed)
		return nil, err
	}
	logger.Debug("handshake complete", slog.Any("handshake", hs))

	// The server may coalesce its first frames with the handshake response;
	// those bytes sit in the dialer's buffered reader and must go through the
	// same read path or they are lost. Copy them out, then recycle the reader.
	src := io.ReadWriter(conn)
	if buf != nil {
		if n := buf.Buffered(); n > 0 {
			head, _ := buf.Peek(n)
			pre := append([]byte(nil), head...)
			src = struct {
				io.Reader
				io.Writer
			}{io.MultiReader(bytes.NewReader(pre), conn), conn}
		}
		ws.PutReader(buf)
	}

	client.setState(StateOpen)
	logger.Info("connected to websocket")

	input := make(chan wsutil.Message, 1000)

	onTextFunc := config.OnText
	if onTextFunc == nil {
		onTextFunc = func(data []byte) error {
			return nil
		}
	}
	onBinaryFunc := config.OnBinary
	if onBinaryFunc == nil {
		onBinaryFunc = func(data []byte) error {
			return nil
		}
	}

	// websocket -> input channel
	go func() {
		defer client.setDone()
		for {
			messages, err := wsutil.ReadServerMessage(src, nil)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}

				client.mu.Lock()
				client.lastErr = err
				client.mu.Unlock()

				logger.Error("ws read failed", slog.Any("err", err))
				return
			}
			for _, msg := range messages {
				input <- msg
			}
		}
	}()

	// output channel -> websocket
	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.done:
				return
			case msg := <-client.out:
				err := wsutil.WriteClientMessage(conn, msg.OpCode, msg.Payload)
				if err != nil {
					logger.Error("message write error", slog.Any("err", err))
					client.setDone()
					return
				}
			}
		}
	}()

	// heartbeat keeps intermediary proxies from idling out the socket.
	// Heartbeat frames are control frames and never reach OnText.
	if heartbeat > 0 {
		go func() {
			t := time.NewTicker(heartbeat)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-client.done:
					return
				case <-t.C:
					client.Ping([]byte("ping"))
				}
			}
		}()
	}

	// input channel processing
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.done:
				return
			case msg := <-input:

				// handle control
				if ws.OpCode.IsControl(msg.OpCode) {
					logger.Debug("rcv: control", slog.Any("opcode", msg.OpCode), slog.Any("payload", msg.Payload))

					if err := wsutil.HandleServerControlMessage(conn, msg); err != nil {
						logger.Error("handling of control messages failed", slog.Any("err", err))
					}

					switch msg.OpCode {
					case ws.OpClose:
						logger.Debug("rcv: close. closing client", slog.String("reason", string(msg.Payload)))
						client.setDone()
					}

					continue
				}

				switch msg.OpCode {
				case ws.OpText:
					logger.Debug("rcv: text", slog.String("text", string(msg.Payload)))
					client.publish(msg.Payload)
					if err := onTextFunc(msg.Payload); err != nil {
						logger.Error("text message handler failed", slog.Any("err", err))
					}

				case ws.OpBinary:
					logger.Debug("rcv: binary", slog.Int("len", len(msg.Payload)))
					if err := onBinaryFunc(msg.Payload); err != nil {
						logger.Error("binary message handler failed", slog.Any("err", err))
					}
				}
			}
		}
	}()

	client.Ping([]byte("ping"))

	return client, nil
}
