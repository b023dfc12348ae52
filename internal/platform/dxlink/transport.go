package dxlink

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout = 15 * time.Second
	writeWait   = 10 * time.Second
)

// Transport is the framed byte stream the client drives the dxLink protocol
// over. The production implementation wraps a websocket connection; tests
// substitute an in-memory pair.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type wsTransport struct {
	conn *websocket.Conn
}

// Dial opens a websocket transport to the dxLink endpoint.
func Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dxlink: dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return t.conn.Close()
}
