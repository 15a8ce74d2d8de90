// Package ws implements the native side of WebSocket passthrough (spec
// §4.8): the native process owns the upgraded socket and pumps frames to
// and from it, while the script runtime only ever sees a connection_id
// and exchanges ws_message/ws_send/ws_close envelopes over the IPC
// multiplexer. The script side never touches the socket directly.
package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zapjs/zap/proto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// Sender is the subset of ipc.Conn a Table needs to notify the script
// runtime of inbound frames and connection lifecycle events.
type Sender interface {
	Send(v any) error
}

// conn is one upgraded connection the native process owns.
type conn struct {
	id     string
	ws     *websocket.Conn
	sendCh chan wireMessage

	closeOnce sync.Once
	done      chan struct{}
}

type wireMessage struct {
	data   []byte
	binary bool
}

// Table tracks every live WebSocket connection by connection_id.
type Table struct {
	mu    sync.Mutex
	conns map[string]*conn
	out   Sender
}

// NewTable returns an empty connection table that notifies out of
// inbound frames and lifecycle events.
func NewTable(out Sender) *Table {
	return &Table{conns: make(map[string]*conn), out: out}
}

// Accept takes ownership of an already-upgraded *websocket.Conn, assigns
// it a connection_id, announces it to the script runtime via ws_connect,
// and starts its read/write pumps.
func (t *Table) Accept(ws *websocket.Conn, path string, headers map[string][]string) string {
	id := uuid.NewString()
	c := &conn{id: id, ws: ws, sendCh: make(chan wireMessage, sendBuffer), done: make(chan struct{})}

	t.mu.Lock()
	t.conns[id] = c
	t.mu.Unlock()

	_ = t.out.Send(&proto.WSConnect{
		Type: proto.TypeWSConnect, ConnectionID: id, Path: path, Headers: headers,
	})

	go t.writePump(c)
	go t.readPump(c)
	return id
}

// Send forwards a ws_send envelope from the script runtime onto the
// connection's outbound queue. A full queue drops the connection rather
// than blocking the IPC reader goroutine indefinitely.
func (t *Table) Send(e *proto.WSSend) {
	c := t.get(e.ConnectionID)
	if c == nil {
		return
	}
	select {
	case c.sendCh <- wireMessage{data: e.Data, binary: e.Binary}:
	default:
		t.closeConn(c, websocket.CloseMessageTooBig, "send queue full")
	}
}

// Close closes a connection on behalf of the script runtime.
func (t *Table) Close(e *proto.WSClose) {
	c := t.get(e.ConnectionID)
	if c == nil {
		return
	}
	t.closeConn(c, e.Code, e.Reason)
}

func (t *Table) get(id string) *conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[id]
}

func (t *Table) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

func (t *Table) closeConn(c *conn, code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		close(c.done)
		_ = c.ws.Close()
	})
}

func (t *Table) readPump(c *conn) {
	defer func() {
		t.remove(c.id)
		_ = t.out.Send(&proto.WSClose{Type: proto.TypeWSClose, ConnectionID: c.id, Code: websocket.CloseNormalClosure})
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = t.out.Send(&proto.WSMessage{
			Type: proto.TypeWSMessage, ConnectionID: c.id, Data: data, Binary: msgType == websocket.BinaryMessage,
		})
	}
}

func (t *Table) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind := websocket.TextMessage
			if msg.binary {
				kind = websocket.BinaryMessage
			}
			if err := c.ws.WriteMessage(kind, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
