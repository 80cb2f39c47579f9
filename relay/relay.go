// Package relay bridges one browser websocket to one upstream speech-service
// websocket per conversation. Each accepted connection gets its own pair of
// pump goroutines and no state is shared across pairs.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultPort        = 8088
	DefaultUpstreamURL = "wss://api.stepfun.com/v1/realtime"
	DefaultModel       = "step-1o-audio"

	controlWriteTimeout = 5 * time.Second
)

type Config struct {
	Addr         string
	Path         string
	UpstreamURL  string
	DefaultModel string
	Logger       *slog.Logger

	// Dialer overrides the upstream dialer; nil means the gorilla default.
	Dialer *websocket.Dialer
}

// ConfigFromEnv builds a Config from WS_PROXY_PORT and WS_UPSTREAM_URL,
// falling back to the defaults above.
func ConfigFromEnv() Config {
	cfg := Config{}
	port := os.Getenv("WS_PROXY_PORT")
	if port == "" {
		port = fmt.Sprintf("%d", DefaultPort)
	}
	cfg.Addr = ":" + port
	if u := os.Getenv("WS_UPSTREAM_URL"); u != "" {
		cfg.UpstreamURL = u
	}
	return cfg
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler exposes the upgrade endpoint, mainly for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleConn)
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		if err := s.server.Shutdown(context.Background()); err != nil {
			s.logger.Error("relay shutdown failed", slog.Any("err", err))
		}
	}()

	s.logger.Info("relay listening", slog.String("addr", s.cfg.Addr), slog.String("upstream", s.cfg.UpstreamURL))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("relay server: %w", err)
	}
	return nil
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		model = s.cfg.DefaultModel
	}
	apiKey := r.URL.Query().Get("apiKey")

	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", slog.Any("err", err))
		return
	}

	// Credential check happens before any upstream dial.
	if apiKey == "" {
		closeWith(client, websocket.ClosePolicyViolation, "missing apiKey")
		client.Close()
		return
	}

	pairID := uuid.NewString()
	logger := s.logger.With(slog.String("pair", pairID), slog.String("model", model))
	logger.Info("conversation accepted")

	p := &pair{logger: logger, client: client}
	p.run(s.dialer(), s.cfg.UpstreamURL, model, apiKey)
}

func (s *Server) dialer() *websocket.Dialer {
	if s.cfg.Dialer != nil {
		return s.cfg.Dialer
	}
	return websocket.DefaultDialer
}

// pair is one client/upstream connection pair. All of its state dies with
// the two sockets.
type pair struct {
	logger   *slog.Logger
	client   *websocket.Conn
	outbound outbound

	closeOnce sync.Once
}

func (p *pair) run(dialer *websocket.Dialer, upstreamURL, model, apiKey string) {
	// Heartbeats from the client are mirrored upstream once that leg is
	// open; before that the relay answers them itself so the client leg
	// stays alive through the handshake.
	p.client.SetPingHandler(func(appData string) error {
		if up := p.outbound.conn(); up != nil {
			return controlTo(up, websocket.PingMessage, appData)
		}
		return controlTo(p.client, websocket.PongMessage, appData)
	})
	p.client.SetPongHandler(func(appData string) error {
		if up := p.outbound.conn(); up != nil {
			return controlTo(up, websocket.PongMessage, appData)
		}
		return nil
	})

	// Client frames start flowing (and buffering) while the upstream
	// handshake is still in progress.
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		p.pumpClient()
	}()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	target := fmt.Sprintf("%s?model=%s", upstreamURL, url.QueryEscape(model))

	upstream, _, err := dialer.Dial(target, header)
	if err != nil {
		p.logger.Error("upstream dial failed", slog.Any("err", err))
		p.closeClient(websocket.CloseInternalServerErr, "Upstream error")
		<-clientDone
		return
	}

	p.mirrorControl(upstream)

	// Flush everything buffered during the handshake, in arrival order.
	if err := p.outbound.open(upstream); err != nil {
		p.logger.Error("flush to upstream failed", slog.Any("err", err))
		p.closeClient(websocket.CloseInternalServerErr, "Upstream error")
		upstream.Close()
		<-clientDone
		return
	}

	p.pumpUpstream(upstream)
	<-clientDone
	upstream.Close()
	p.client.Close()
}

// pumpClient reads the client leg and forwards (or buffers) toward upstream.
func (p *pair) pumpClient() {
	for {
		mt, data, err := p.client.ReadMessage()
		if err != nil {
			if code, reason, ok := closeDetail(err); ok {
				p.logger.Info("client closed", slog.Int("code", code))
				p.outbound.closeWith(code, reason)
			} else {
				p.logger.Debug("client read failed", slog.Any("err", err))
				p.outbound.closeWith(websocket.CloseGoingAway, "client gone")
			}
			return
		}
		if err := p.outbound.forward(mt, data); err != nil {
			p.logger.Error("forward to upstream failed", slog.Any("err", err))
			p.closeClient(websocket.CloseInternalServerErr, "Upstream error")
			return
		}
	}
}

// pumpUpstream forwards upstream frames straight to the client; the client
// leg is already open, no buffering needed in this direction.
func (p *pair) pumpUpstream(upstream *websocket.Conn) {
	for {
		mt, data, err := upstream.ReadMessage()
		if err != nil {
			if code, reason, ok := closeDetail(err); ok {
				p.logger.Info("upstream closed", slog.Int("code", code))
				p.closeClient(code, reason)
			} else {
				p.logger.Error("upstream error", slog.Any("err", err))
				p.closeClient(websocket.CloseInternalServerErr, "Upstream error")
			}
			return
		}
		if err := p.client.WriteMessage(mt, data); err != nil {
			p.logger.Debug("write to client failed", slog.Any("err", err))
			return
		}
	}
}

// mirrorControl wires the upstream's ping/pong back to the client so a
// heartbeat on one leg keeps the other alive. Control frames are never
// forwarded as application frames.
func (p *pair) mirrorControl(upstream *websocket.Conn) {
	upstream.SetPingHandler(func(appData string) error {
		return controlTo(p.client, websocket.PingMessage, appData)
	})
	upstream.SetPongHandler(func(appData string) error {
		return controlTo(p.client, websocket.PongMessage, appData)
	})
}

func (p *pair) closeClient(code int, reason string) {
	p.closeOnce.Do(func() {
		closeWith(p.client, code, reason)
		p.client.Close()
	})
}

// outbound is the client→upstream path. Until the upstream socket opens,
// frames queue in an in-memory FIFO bounded only by process memory; open
// flushes them in arrival order, each exactly once.
type outbound struct {
	mu      sync.Mutex
	dst     *websocket.Conn
	pending []frame
}

type frame struct {
	messageType int
	data        []byte
}

func (o *outbound) forward(messageType int, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dst == nil {
		buf := make([]byte, len(data))
		copy(buf, data)
		o.pending = append(o.pending, frame{messageType: messageType, data: buf})
		return nil
	}
	return o.dst.WriteMessage(messageType, data)
}

func (o *outbound) open(dst *websocket.Conn) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range o.pending {
		if err := dst.WriteMessage(f.messageType, f.data); err != nil {
			return err
		}
	}
	o.pending = nil
	o.dst = dst
	return nil
}

func (o *outbound) conn() *websocket.Conn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dst
}

func (o *outbound) closeWith(code int, reason string) {
	o.mu.Lock()
	dst := o.dst
	o.mu.Unlock()
	if dst != nil {
		closeWith(dst, code, reason)
		dst.Close()
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteTimeout)); err != nil {
		slog.Debug("close write failed", slog.Any("err", err))
	}
}

func controlTo(conn *websocket.Conn, messageType int, appData string) error {
	return conn.WriteControl(messageType, []byte(appData), time.Now().Add(controlWriteTimeout))
}

func closeDetail(err error) (code int, reason string, ok bool) {
	if ce, isClose := err.(*websocket.CloseError); isClose {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}
