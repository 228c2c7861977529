package transport

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"treemap/protocol"
)

// WebSocket carries one frame per WebSocket text message. This is the channel
// browsers use; frames are always JSON.
type WebSocket struct {
	*hub
	ws  *websocket.Conn
	wmu sync.Mutex
}

// NewWebSocket wraps an established connection.
func NewWebSocket(ws *websocket.Conn) *WebSocket {
	ws.MaxPayloadBytes = int(protocol.MaxBodyLen)
	t := &WebSocket{ws: ws}
	t.hub = newHub(t.readLoop)
	return t
}

// DialWebSocket connects to a treemap server, e.g. "ws://localhost:4055/rpc?v=1.0.0".
func DialWebSocket(ctx context.Context, url, origin string) (*WebSocket, error) {
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(ws), nil
}

func (t *WebSocket) Send(frame []byte) {
	if t.isClosed() {
		return
	}
	t.wmu.Lock()
	err := websocket.Message.Send(t.ws, string(frame))
	t.wmu.Unlock()
	if err != nil {
		t.fail(err)
	}
}

func (t *WebSocket) Close() error {
	if t.shutdown(nil) {
		return t.ws.Close()
	}
	return nil
}

// Request returns the HTTP request that opened a server-side connection.
func (t *WebSocket) Request() *http.Request {
	return t.ws.Request()
}

func (t *WebSocket) readLoop() {
	for {
		var data []byte
		if err := websocket.Message.Receive(t.ws, &data); err != nil {
			t.fail(err)
			return
		}
		t.deliver(data)
	}
}

func (t *WebSocket) fail(err error) {
	if t.shutdown(err) {
		t.ws.Close()
	}
}
