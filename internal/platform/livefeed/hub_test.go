package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ertriage/triage/internal/platform/auth"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, sendBuffer)}
}

func readEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("invalid event: %v", err)
		}
		return ev
	default:
		t.Fatal("expected an event")
		return Event{}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", TopicAlerts, "bogus", TopicAlerts)
	hub.Register(c)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicAlerts) != 1 {
		t.Errorf("expected 1 alerts subscriber, got %d", hub.TopicCount(TopicAlerts))
	}
	if len(c.Topics) != 1 {
		t.Errorf("expected unknown and duplicate topics to be dropped, got %v", c.Topics)
	}

	hub.Unregister(c)
	if hub.ClientCount() != 0 || hub.TopicCount(TopicAlerts) != 0 {
		t.Error("expected client to be removed everywhere")
	}
	if _, open := <-c.Send; open {
		t.Error("expected Send channel to be closed")
	}
	hub.Unregister(c)
}

func TestHub_PublishToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.now = func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }
	alerts := newClient("a", TopicAlerts)
	board := newClient("b", TopicQueue)
	hub.Register(alerts)
	hub.Register(board)

	payload := map[string]any{"priority": 1}
	if err := hub.Publish(context.Background(), TopicAlerts, "alert.critical", "rec-1", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := readEvent(t, alerts)
	if ev.Type != "alert.critical" || ev.Topic != TopicAlerts || ev.ID != "rec-1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if string(ev.Data) != `{"priority":1}` {
		t.Errorf("unexpected data %s", ev.Data)
	}
	if !ev.At.Equal(hub.now()) {
		t.Errorf("expected event time %v, got %v", hub.now(), ev.At)
	}
	if len(board.Send) != 0 {
		t.Error("queue subscriber should not receive alerts")
	}
}

func TestHub_PublishUnknownTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	if err := hub.Publish(context.Background(), "billing", "x", "", nil); err == nil {
		t.Error("expected error for unknown topic")
	}
}

func TestHub_FullBufferDropsEvent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Topics: []string{TopicQueue}, Send: make(chan []byte, 1)}
	hub.Register(c)

	hub.Broadcast(Event{Type: "visit.changed", Topic: TopicQueue})
	hub.Broadcast(Event{Type: "visit.changed", Topic: TopicQueue})

	if len(c.Send) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(c.Send))
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c")
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{TopicAlerts, TopicQueue}})
	if hub.TopicCount(TopicAlerts) != 1 || hub.TopicCount(TopicQueue) != 1 {
		t.Fatalf("expected both topics subscribed, got %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{TopicAlerts}})
	if hub.TopicCount(TopicAlerts) != 0 || hub.TopicCount(TopicQueue) != 1 {
		t.Errorf("expected only queue to remain, got %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "shout", Topics: []string{TopicAlerts}})
	if hub.TopicCount(TopicAlerts) != 0 {
		t.Error("unknown action should be ignored")
	}
}

func TestHub_ProcessMessage_SingleTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c")
	hub.Register(c)

	var msg ClientMessage
	if err := json.Unmarshal([]byte(`{"action":"subscribe","topic":"queue"}`), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	hub.ProcessMessage(c, msg)
	if hub.TopicCount(TopicQueue) != 1 {
		t.Fatalf("expected queue subscribed, got %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topic: TopicAlerts, Topics: []string{TopicQueue}})
	if hub.TopicCount(TopicAlerts) != 1 || hub.TopicCount(TopicQueue) != 1 {
		t.Errorf("expected one subscriber per topic, got %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topic: TopicQueue})
	if hub.TopicCount(TopicQueue) != 0 {
		t.Errorf("expected queue unsubscribed, got %v", c.Topics)
	}
}

func TestHub_ConcurrentRegisterPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient("c", TopicQueue)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), TopicQueue, "visit.changed", "", struct{}{})
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(NewHub(zerolog.Nop()), nil).RegisterRoutes(e.Group("/api/v1"))

	for _, r := range e.Routes() {
		if r.Path == "/api/v1/live" && r.Method == http.MethodGet {
			return
		}
	}
	t.Fatal("expected GET /api/v1/live")
}

func TestHandler_UnknownTopic(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/live?topics=alerts,billing", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := NewHandler(NewHub(zerolog.Nop()), nil).Connect(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/live", nil), rec)

	if err := NewHandler(NewHub(zerolog.Nop()), nil).Connect(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 from upgrader, got %d", rec.Code)
	}
}

func liveServer(t *testing.T, hub *Hub, origins []string) string {
	t.Helper()
	e := echo.New()
	e.Use(auth.DevAuthMiddleware())
	NewHandler(hub, origins).RegisterRoutes(e.Group("/api/v1"))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/live"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	url := liveServer(t, hub, []string{"http://localhost:3000"})

	conn, resp, err := websocket.DefaultDialer.Dial(url+"?topics=queue", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	waitFor(t, func() bool { return hub.TopicCount(TopicQueue) == 1 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","topic":"alerts"}`)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, func() bool { return hub.TopicCount(TopicAlerts) == 1 })

	if err := hub.Publish(context.Background(), TopicAlerts, "alert.critical", "rec-9", map[string]int{"priority": 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != "alert.critical" || ev.ID != "rec-9" {
		t.Errorf("unexpected event %+v", ev)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestHandler_OriginCheck(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	url := liveServer(t, hub, []string{"http://localhost:3000"})

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}
