package rtm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leliel/slackmirror/web"
)

func TestBackoffGrowth(t *testing.T) {
	var d time.Duration
	backoff(&d)
	assert.Equal(t, BackoffMinInterval, d)

	backoff(&d)
	assert.Equal(t, 1500*time.Millisecond, d)

	for i := 0; i < 20; i++ {
		backoff(&d)
	}
	assert.Equal(t, BackoffMaxInterval, d)
}

type recordingSink struct {
	mu           sync.Mutex
	events       []string
	connected    int
	disconnected int
	got          chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) HandleRTMEvent(teamID, eventType string, raw []byte) {
	s.mu.Lock()
	s.events = append(s.events, eventType)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func (s *recordingSink) RTMConnected(string) {
	s.mu.Lock()
	s.connected++
	s.mu.Unlock()
}

func (s *recordingSink) RTMDisconnected(string) {
	s.mu.Lock()
	s.disconnected++
	s.mu.Unlock()
}

type fixedSource struct {
	url string
}

func (f *fixedSource) RTMConnect(context.Context) (*web.RTMSession, error) {
	return &web.RTMSession{URL: f.url}, nil
}

var upgrader = websocket.Upgrader{}

func TestConnServesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","text":"hi"}`)))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"user_typing"}`)))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := newRecordingSink()
	c := NewConn("T1", &fixedSource{url: "ws" + strings.TrimPrefix(srv.URL, "http")}, sink)
	c.Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-sink.got:
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	c.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"message", "user_typing"}, sink.events)
	assert.Equal(t, 1, sink.connected)
	assert.Equal(t, 1, sink.disconnected)
}

func TestConnStopSuppressesReconnect(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"message"}`)))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := newRecordingSink()
	c := NewConn("T1", &fixedSource{url: "ws" + strings.TrimPrefix(srv.URL, "http")}, sink)
	c.Start(context.Background())

	select {
	case <-sink.got:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for first event")
	}
	c.Stop()

	// A second Stop is a no-op.
	c.Stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials)
}
