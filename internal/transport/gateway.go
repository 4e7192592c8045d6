package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyanife/douyu-barrage-crawler/internal/stt"
)

// ErrNotConnected is returned by Send and Receive before Open succeeds.
var ErrNotConnected = errors.New("transport: not connected")

// Gateway is a websocket Transport to the barrage gateway. The gateway
// serves a small range of proxy ports; each Open picks one at random so
// a fleet of rooms spreads across them.
type Gateway struct {
	addr func() string

	mu      sync.Mutex // guards conn pointer and writes
	conn    *websocket.Conn
	readBuf [][]byte // oversized chunks awaiting the final fragment
}

// NewGateway creates a Gateway dialing wss://host:port/ with the port
// drawn from [portMin, portMax] on every attempt.
func NewGateway(host string, portMin, portMax int) *Gateway {
	return &Gateway{
		addr: func() string {
			port := portMin
			if portMax > portMin {
				port = portMin + rand.Intn(portMax-portMin+1)
			}
			return fmt.Sprintf("wss://%s:%d/", host, port)
		},
	}
}

// NewGatewayURL creates a Gateway dialing a fixed URL.
func NewGatewayURL(url string) *Gateway {
	return &Gateway{addr: func() string { return url }}
}

// Open dials the gateway. No websocket-level pings are sent; the STT
// heartbeat is the keepalive the gateway expects.
func (g *Gateway) Open(ctx context.Context) error {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, g.addr(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}
	g.mu.Lock()
	g.conn = conn
	g.readBuf = nil
	g.mu.Unlock()
	return nil
}

// Close closes the connection. Idempotent; unblocks a pending Receive.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

// Send writes one binary frame.
func (g *Gateway) Send(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return ErrNotConnected
	}
	return g.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Receive reads physical frames until a complete logical frame is
// available. A frame at or above the gateway's maximum frame size is a
// partial chunk and is buffered; the first undersized frame terminates
// the message, and buffered chunks are concatenated in the order they
// arrived. Returns (nil, nil) when the peer closed cleanly.
func (g *Gateway) Receive() ([]byte, error) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, nil
			}
			return nil, err
		}
		if len(frame) >= stt.MaxFrameSize {
			g.readBuf = append(g.readBuf, frame)
			continue
		}
		if len(g.readBuf) == 0 {
			return frame, nil
		}
		var msg []byte
		for _, chunk := range g.readBuf {
			msg = append(msg, chunk...)
		}
		msg = append(msg, frame...)
		g.readBuf = nil
		return msg, nil
	}
}
