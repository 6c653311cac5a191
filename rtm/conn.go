// Package rtm maintains the streaming connection to one workspace: dial,
// decode, forward, reconnect.
package rtm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"

	"github.com/leliel/slackmirror/web"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read. Events carry full message
	// payloads, attachments included.
	readLimit = 1 << 20

	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier).Truncate(time.Millisecond)
		if *d > BackoffMaxInterval {
			*d = BackoffMaxInterval
		}
	}
}

// Sink consumes decoded streaming events. Implemented by the root client.
type Sink interface {
	// HandleRTMEvent receives one raw event envelope plus its decoded type.
	// raw is only valid for the duration of the call.
	HandleRTMEvent(teamID, eventType string, raw []byte)

	RTMConnected(teamID string)
	RTMDisconnected(teamID string)
}

// SessionSource hands out fresh single-use streaming URLs. Satisfied by
// *web.Client.
type SessionSource interface {
	RTMConnect(ctx context.Context) (*web.RTMSession, error)
}

// envelope is the minimal decode of every streaming frame.
type envelope struct {
	Type string `json:"type"`
}

// Conn is the streaming connection of one team. Start spawns the reconnect
// loop; Stop tears it down and suppresses further reconnection.
type Conn struct {
	sync.Mutex

	id     string
	teamID string
	src    SessionSource
	sink   Sink

	conn    *websocket.Conn
	closing bool
	done    chan struct{}
}

func NewConn(teamID string, src SessionSource, sink Sink) *Conn {
	return &Conn{
		id:     uuid.New(),
		teamID: teamID,
		src:    src,
		sink:   sink,
		done:   make(chan struct{}),
	}
}

// Start launches the connection loop in its own goroutine.
func (c *Conn) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop closes the connection and stops reconnecting. Blocks until the loop
// exits.
func (c *Conn) Stop() {
	c.Lock()
	if c.closing {
		c.Unlock()
		return
	}
	c.closing = true
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		c.conn.Close()
	}
	c.Unlock()
	<-c.done
}

func (c *Conn) stopped() bool {
	c.Lock()
	defer c.Unlock()
	return c.closing
}

// run dials, serves, and redials with multiplicative backoff until Stop or
// context cancellation. Every attempt fetches a fresh URL: they are
// single-use.
func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	var delay time.Duration
	for !c.stopped() {
		session, err := c.src.RTMConnect(ctx)
		if err != nil {
			glog.Errorf("rtm %s: connect %s: %v", c.id, c.teamID, err)
			backoff(&delay)
			if !c.sleep(ctx, delay) {
				return
			}
			continue
		}

		dialer := websocket.Dialer{HandshakeTimeout: writeWait}
		ws, _, err := dialer.DialContext(ctx, session.URL, nil)
		if err != nil {
			glog.Errorf("rtm %s: dial %s: %v", c.id, c.teamID, err)
			backoff(&delay)
			if !c.sleep(ctx, delay) {
				return
			}
			continue
		}

		c.Lock()
		if c.closing {
			c.Unlock()
			ws.Close()
			return
		}
		c.conn = ws
		c.Unlock()

		delay = 0
		glog.Infof("rtm %s: team %s connected", c.id, c.teamID)
		c.sink.RTMConnected(c.teamID)
		c.serve(ws)
		c.sink.RTMDisconnected(c.teamID)

		if c.stopped() {
			return
		}
		backoff(&delay)
		if !c.sleep(ctx, delay) {
			return
		}
	}
}

func (c *Conn) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return !c.stopped()
	case <-ctx.Done():
		return false
	}
}

// serve runs the read loop with a companion ping ticker. Returns when the
// connection dies or the remote says goodbye.
func (c *Conn) serve(ws *websocket.Conn) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					glog.V(5).Infof("rtm %s: ping error: %v", c.id, err)
					ws.Close()
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	ws.SetReadLimit(readLimit)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if !c.stopped() {
				glog.Errorf("rtm %s: read error: %v", c.id, err)
			}
			ws.Close()
			return
		}
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			glog.Errorf("rtm %s: bad frame: %v", c.id, err)
			continue
		}
		switch env.Type {
		case "", "hello", "pong":
			// Protocol chatter.
		case "goodbye":
			glog.Infof("rtm %s: team %s got goodbye, reconnecting", c.id, c.teamID)
			ws.Close()
			return
		default:
			c.sink.HandleRTMEvent(c.teamID, env.Type, msg)
		}
	}
}
