package chat

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type countingMetrics struct {
	connected, disconnected, messages atomic.Int64
}

func (m *countingMetrics) ChatConnected()    { m.connected.Add(1) }
func (m *countingMetrics) ChatDisconnected() { m.disconnected.Add(1) }
func (m *countingMetrics) ChatMessage()      { m.messages.Add(1) }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readText(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func TestBroadcastReachesEveryoneIncludingSender(t *testing.T) {
	m := &countingMetrics{}
	hub := NewHub(DefaultConfig(), nil, m)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 2 })

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{ "user": "a", "text": "hi" }`)); err != nil {
		t.Fatal(err)
	}
	want := `{"user":"a","text":"hi"}`
	if got := readText(t, a); got != want {
		t.Fatalf("sender got %s", got)
	}
	if got := readText(t, b); got != want {
		t.Fatalf("peer got %s", got)
	}
	if m.connected.Load() != 2 || m.messages.Load() != 1 {
		t.Fatalf("metrics connected=%d messages=%d", m.connected.Load(), m.messages.Load())
	}
}

func TestInvalidJSONIsDroppedAndConnectionStaysOpen(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 1 })

	a.WriteMessage(websocket.TextMessage, []byte(`not json`))
	a.WriteMessage(websocket.TextMessage, []byte(`{"ok":true}`))
	if got := readText(t, a); got != `{"ok":true}` {
		t.Fatalf("got %s", got)
	}
	if hub.Len() != 1 {
		t.Fatalf("len = %d", hub.Len())
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	m := &countingMetrics{}
	hub := NewHub(DefaultConfig(), nil, m)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 1 })
	a.Close()
	waitFor(t, func() bool { return hub.Len() == 0 })
	if m.disconnected.Load() != 1 {
		t.Fatalf("disconnected = %d", m.disconnected.Load())
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	hub := NewHub(Config{SendBuffer: 1}, nil, nil)
	c := &client{send: make(chan []byte, 1)}
	hub.add(c)

	hub.Broadcast([]byte(`1`))
	hub.Broadcast([]byte(`2`))
	if hub.Len() != 0 {
		t.Fatalf("slow client still registered")
	}
	if msg, ok := <-c.send; !ok || string(msg) != "1" {
		t.Fatalf("first message = %q, %v", msg, ok)
	}
	if _, ok := <-c.send; ok {
		t.Fatal("send channel not closed")
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		`{"a": 1}`: `{"a":1}`,
		` [1, 2] `: `[1,2]`,
		`"x"`:      `"x"`,
		`{"a":`:    "",
		``:         "",
	}
	for in, want := range cases {
		got, ok := normalize([]byte(in))
		if ok != (want != "") || string(got) != want {
			t.Errorf("normalize(%q) = %q, %v", in, got, ok)
		}
	}
}
