// Package transport provides the framed connection to the barrage
// gateway. It hides the websocket details and the gateway's oversized
// frame fragmentation behind a narrow interface the session layer owns.
package transport

import "context"

// Transport is a bidirectional framed connection. Receive returns one
// reassembled logical frame per call, or (nil, nil) when the peer closed
// the connection cleanly. Close is idempotent and safe to call
// concurrently with a blocked Receive, which it unblocks.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Send(data []byte) error
	Receive() ([]byte, error)
}
