package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zapjs/zap/proto"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []any
}

func newFakeSender() *fakeSender { return &fakeSender{} }

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) last() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

var upgrader = websocket.Upgrader{}

func TestTable_Accept_RelaysInboundMessages(t *testing.T) {
	sender := newFakeSender()
	tbl := NewTable(sender)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		tbl.Accept(c, r.URL.Path, nil)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := sender.last().(*proto.WSMessage); ok && string(msg.Data) == "hello" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("did not observe relayed ws_message")
}
