package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyanife/douyu-barrage-crawler/internal/stt"
)

var upgrader = websocket.Upgrader{}

// wsServer starts an httptest server that upgrades the connection and
// hands it to fn.
func wsServer(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReceiveSingleFrame(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte("hello"))
	})

	g := NewGatewayURL(url)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer g.Close()

	frame, err := g.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(frame) != "hello" {
		t.Errorf("Receive() = %q, want %q", frame, "hello")
	}
}

func TestReceiveReassemblesFragmentsInOrder(t *testing.T) {
	// Three full-size chunks plus an undersized tail must come back as
	// one logical frame in arrival order.
	chunkA := bytes.Repeat([]byte{'a'}, stt.MaxFrameSize)
	chunkB := bytes.Repeat([]byte{'b'}, stt.MaxFrameSize)
	chunkC := bytes.Repeat([]byte{'c'}, stt.MaxFrameSize)
	tail := []byte("tail")

	url := wsServer(t, func(conn *websocket.Conn) {
		for _, chunk := range [][]byte{chunkA, chunkB, chunkC, tail} {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	})

	g := NewGatewayURL(url)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer g.Close()

	frame, err := g.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}

	var want []byte
	want = append(want, chunkA...)
	want = append(want, chunkB...)
	want = append(want, chunkC...)
	want = append(want, tail...)
	if !bytes.Equal(frame, want) {
		t.Errorf("reassembled frame has wrong order or content (len=%d, want %d)", len(frame), len(want))
	}
}

func TestReceiveCleanClose(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		// give the close frame time to flush before the deferred Close
		time.Sleep(50 * time.Millisecond)
	})

	g := NewGatewayURL(url)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer g.Close()

	frame, err := g.Receive()
	if frame != nil || err != nil {
		t.Errorf("Receive() = (%v, %v), want (nil, nil)", frame, err)
	}
}

func TestSend(t *testing.T) {
	received := make(chan []byte, 1)
	url := wsServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
	})

	g := NewGatewayURL(url)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer g.Close()

	if err := g.Send(stt.Pack("type@=mrkl/")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case data := <-received:
		bodies := stt.Unpack(data)
		if len(bodies) != 1 || bodies[0] != "type@=mrkl/" {
			t.Errorf("server received %#v", bodies)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		// hold the connection open without sending
		time.Sleep(2 * time.Second)
	})

	g := NewGatewayURL(url)
	if err := g.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := g.Receive()
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-errc:
		if err == nil {
			t.Error("Receive() after Close should report an error")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive() still blocked after Close")
	}
}

func TestSendBeforeOpen(t *testing.T) {
	g := NewGatewayURL("ws://unused/")
	if err := g.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	// Close before Open is a no-op.
	if err := g.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
