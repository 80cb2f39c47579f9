package voicert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// speechServer is an in-process upstream: it greets with session.created the
// instant the socket opens and records every command envelope it receives.
type speechServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	types []string
}

func newSpeechServer(t *testing.T) *speechServer {
	t.Helper()
	s := &speechServer{}
	upgrader := gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// first frame on the wire before the client reads anything
		created := `{"type":"session.created","event_id":"e1","session":{"id":"sess_1"}}`
		if err := conn.WriteMessage(gws.TextMessage, []byte(created)); err != nil {
			return
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var head struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &head) == nil {
				s.mu.Lock()
				s.types = append(s.types, head.Type)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *speechServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *speechServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.types...)
}

// session.created arriving before Open has published the socket must still
// get all three setup commands onto the wire, in order.
func TestOpenHandlesImmediateSessionCreated(t *testing.T) {
	srv := newSpeechServer(t)

	c := New(
		WithKey("test-key"),
		WithUpstreamURL(srv.url()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Open(ctx))
	defer c.Close(ctx)

	require.Eventually(t, func() bool {
		return len(srv.received()) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	got := srv.received()
	require.Equal(t,
		[]string{"session.update", "conversation.item.create", "response.create"},
		got[:3],
	)
	require.Equal(t, "sess_1", c.Session().ID)
}

func TestSendBeforeOpenFails(t *testing.T) {
	c := New(WithKey("test-key"))
	require.Error(t, c.Send(map[string]string{"type": "response.create"}))
}
