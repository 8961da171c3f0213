package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "client-1",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("slots") != 1 {
		t.Fatalf("expected 1 client on slots, got %d", hub.TopicCount("slots"))
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "client-2",
		Topics: []string{"appointments"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("appointments") != 0 {
		t.Fatalf("expected 0 clients on appointments, got %d", hub.TopicCount("appointments"))
	}
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub()

	subscriber := &Client{
		ID:     "sub-1",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	nonSubscriber := &Client{
		ID:     "non-sub-1",
		Topics: []string{"appointments"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(subscriber)
	hub.Register(nonSubscriber)

	event := Event{
		Table:     "slots",
		Operation: "INSERT",
		Timestamp: time.Now(),
	}

	hub.Broadcast("slots", event)

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Operation != "INSERT" {
			t.Fatalf("expected operation INSERT, got %s", received.Operation)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-nonSubscriber.Send:
		t.Fatal("non-subscriber should not have received event")
	default:
		// expected
	}
}

func TestHub_BroadcastAll(t *testing.T) {
	hub := NewHub()

	c1 := &Client{
		ID:     "all-1",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c2 := &Client{
		ID:     "all-2",
		Topics: []string{"appointments"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(c1)
	hub.Register(c2)

	event := Event{
		Table:     "availability_types",
		Operation: "DELETE",
		Timestamp: time.Now(),
	}

	hub.BroadcastAll(event)

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if received.Table != "availability_types" {
				t.Fatalf("expected availability_types, got %s", received.Table)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive broadcast", c.ID)
		}
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0, got %d", hub.ClientCount())
	}

	clients := make([]*Client, 5)
	for i := range clients {
		clients[i] = &Client{
			ID:     "count-" + string(rune('a'+i)),
			Topics: []string{"slots"},
			Send:   make(chan []byte, 256),
			hub:    hub,
		}
		hub.Register(clients[i])
	}

	if hub.ClientCount() != 5 {
		t.Fatalf("expected 5, got %d", hub.ClientCount())
	}

	hub.Unregister(clients[0])
	hub.Unregister(clients[1])

	if hub.ClientCount() != 3 {
		t.Fatalf("expected 3, got %d", hub.ClientCount())
	}
}

func TestHub_TopicCount(t *testing.T) {
	hub := NewHub()

	c1 := &Client{
		ID:     "tc-1",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c2 := &Client{
		ID:     "tc-2",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c3 := &Client{
		ID:     "tc-3",
		Topics: []string{"appointments"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	if hub.TopicCount("slots") != 2 {
		t.Fatalf("expected 2 on slots, got %d", hub.TopicCount("slots"))
	}
	if hub.TopicCount("appointments") != 1 {
		t.Fatalf("expected 1 on appointments, got %d", hub.TopicCount("appointments"))
	}
	if hub.TopicCount("nonexistent") != 0 {
		t.Fatalf("expected 0 on nonexistent, got %d", hub.TopicCount("nonexistent"))
	}
}

func TestHub_MultipleTopics(t *testing.T) {
	hub := NewHub()

	client := &Client{
		ID:     "multi-1",
		Topics: []string{"slots", "appointments"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	event := Event{
		Table:     "slots",
		Operation: "UPDATE",
		Timestamp: time.Now(),
	}
	hub.Broadcast("slots", event)

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.Table != "slots" {
			t.Fatalf("expected table slots, got %s", received.Table)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive event on slots")
	}

	// Verify client is registered on both topics
	if hub.TopicCount("slots") != 1 {
		t.Fatalf("expected 1 on slots, got %d", hub.TopicCount("slots"))
	}
	if hub.TopicCount("appointments") != 1 {
		t.Fatalf("expected 1 on appointments, got %d", hub.TopicCount("appointments"))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "close-1",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)
	hub.Unregister(client)

	// Reading from a closed channel returns zero value immediately
	_, ok := <-client.Send
	if ok {
		t.Fatal("expected Send channel to be closed after unregister")
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := NewHub()

	event := Event{
		Table:     "availability_types",
		Operation: "DELETE",
		Timestamp: time.Now(),
	}

	// Should not panic
	hub.Broadcast("availability_types", event)
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		clients[i] = &Client{
			ID:     "concurrent-" + string(rune(i)),
			Topics: []string{"slots"},
			Send:   make(chan []byte, 256),
			hub:    hub,
		}
	}

	// Register all concurrently
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Register(clients[idx])
		}(i)
	}

	// Unregister all concurrently
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Unregister(clients[idx])
		}(i)
	}

	wg.Wait()

	// Final count should be consistent (all registered then unregistered, or some mix)
	count := hub.ClientCount()
	if count < 0 {
		t.Fatalf("client count should not be negative, got %d", count)
	}
}

// ---------------------------------------------------------------------------
// Event tests
// ---------------------------------------------------------------------------

func TestEvent_JSONSerialization(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	event := Event{
		Table:     "appointments",
		Operation: "INSERT",
		Timestamp: ts,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	if decoded.Table != event.Table {
		t.Fatalf("Table mismatch: %s vs %s", decoded.Table, event.Table)
	}
	if decoded.Operation != event.Operation {
		t.Fatalf("Operation mismatch: %s vs %s", decoded.Operation, event.Operation)
	}
	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Fatalf("Timestamp mismatch: %v vs %v", decoded.Timestamp, event.Timestamp)
	}
}

func TestEvent_WithRecord(t *testing.T) {
	payload := json.RawMessage(`{"date":"2026-03-10","time":"14:00","client_name":"Maria"}`)
	event := Event{
		Table:     "appointments",
		Operation: "UPDATE",
		Timestamp: time.Now(),
		Record:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event with record: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal event with record: %v", err)
	}

	if decoded.Record == nil {
		t.Fatal("expected Record to be non-nil")
	}

	var payloadMap map[string]interface{}
	if err := json.Unmarshal(decoded.Record, &payloadMap); err != nil {
		t.Fatalf("failed to unmarshal Record payload: %v", err)
	}
	if payloadMap["client_name"] != "Maria" {
		t.Fatalf("expected client_name Maria, got %v", payloadMap["client_name"])
	}
}

// ---------------------------------------------------------------------------
// Publisher tests
// ---------------------------------------------------------------------------

func TestHub_PublishEvent(t *testing.T) {
	hub := NewHub()

	client := &Client{
		ID:     "pub-1",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	var publisher EventPublisher = hub

	event := Event{
		Table:     "slots",
		Operation: "INSERT",
		Timestamp: time.Now(),
	}

	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.Table != "slots" {
			t.Fatalf("expected table slots, got %s", received.Table)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestHub_PublishBroadcastsToSubscribers(t *testing.T) {
	hub := NewHub()

	c1 := &Client{
		ID:     "multi-pub-1",
		Topics: []string{"appointments"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c2 := &Client{
		ID:     "multi-pub-2",
		Topics: []string{"appointments"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c3 := &Client{
		ID:     "multi-pub-3",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	event := Event{
		Table:     "appointments",
		Operation: "UPDATE",
		Timestamp: time.Now(),
	}

	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Both subscribers should get the event
	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("client %s: failed to unmarshal: %v", c.ID, err)
			}
			if received.Operation != "UPDATE" {
				t.Fatalf("client %s: expected operation UPDATE, got %s", c.ID, received.Operation)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive event", c.ID)
		}
	}

	// Non-subscriber should not receive it
	select {
	case <-c3.Send:
		t.Fatal("c3 should not have received event for appointments")
	default:
		// expected
	}
}

func TestHub_PublishChange(t *testing.T) {
	hub := NewHub()

	client := &Client{
		ID:     "change-1",
		Topics: []string{"slots"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	record := map[string]string{"date": "2026-04-01", "time": "09:00"}
	hub.PublishChange("slots", "INSERT", record)

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.Table != "slots" || received.Operation != "INSERT" {
			t.Fatalf("unexpected event %s/%s", received.Table, received.Operation)
		}
		if received.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
		var decoded map[string]string
		if err := json.Unmarshal(received.Record, &decoded); err != nil {
			t.Fatalf("failed to unmarshal record: %v", err)
		}
		if decoded["time"] != "09:00" {
			t.Fatalf("expected time 09:00, got %s", decoded["time"])
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive change event")
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestWebSocketHandler_RegisterRoutes(t *testing.T) {
	hub := NewHub()
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	g := e.Group("")
	handler.RegisterRoutes(g)

	routes := e.Routes()
	found := false
	for _, r := range routes {
		if r.Path == "/ws" && r.Method == http.MethodGet {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected GET /ws route to be registered")
	}
}

func TestWebSocketHandler_SubscribeMessage(t *testing.T) {
	msg := ClientMessage{
		Action: "subscribe",
		Topics: []string{"slots", "appointments"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded ClientMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Action != "subscribe" {
		t.Fatalf("expected action subscribe, got %s", decoded.Action)
	}
	if len(decoded.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(decoded.Topics))
	}
	if decoded.Topics[0] != "slots" {
		t.Fatalf("expected slots, got %s", decoded.Topics[0])
	}
	if decoded.Topics[1] != "appointments" {
		t.Fatalf("expected appointments, got %s", decoded.Topics[1])
	}
}

func TestWebSocketHandler_UnsubscribeMessage(t *testing.T) {
	msg := ClientMessage{
		Action: "unsubscribe",
		Topics: []string{"slots"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded ClientMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Action != "unsubscribe" {
		t.Fatalf("expected action unsubscribe, got %s", decoded.Action)
	}
	if len(decoded.Topics) != 1 {
		t.Fatalf("expected 1 topic, got %d", len(decoded.Topics))
	}
}

func TestWebSocketHandler_InvalidMessage(t *testing.T) {
	invalidJSON := `{not valid json`

	var msg ClientMessage
	err := json.Unmarshal([]byte(invalidJSON), &msg)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := NewHub()
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)

	// gorilla/websocket upgrader will reject non-WS requests
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHub_SubscribeAddsTopics(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "dynamic-sub-1",
		Topics: []string{},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.Subscribe(client, []string{"slots", "appointments"})

	if hub.TopicCount("slots") != 1 {
		t.Fatalf("expected 1 on slots, got %d", hub.TopicCount("slots"))
	}
	if hub.TopicCount("appointments") != 1 {
		t.Fatalf("expected 1 on appointments, got %d", hub.TopicCount("appointments"))
	}
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics on client, got %d", len(client.Topics))
	}
}

func TestHub_UnsubscribeRemovesTopics(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "dynamic-unsub-1",
		Topics: []string{"slots", "appointments", "availability_types"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.Unsubscribe(client, []string{"slots", "availability_types"})

	if hub.TopicCount("slots") != 0 {
		t.Fatalf("expected 0 on slots, got %d", hub.TopicCount("slots"))
	}
	if hub.TopicCount("appointments") != 1 {
		t.Fatalf("expected 1 on appointments, got %d", hub.TopicCount("appointments"))
	}
	if hub.TopicCount("availability_types") != 0 {
		t.Fatalf("expected 0 on availability_types, got %d", hub.TopicCount("availability_types"))
	}
	if len(client.Topics) != 1 {
		t.Fatalf("expected 1 topic remaining, got %d", len(client.Topics))
	}
}

func TestClientMessage_ProcessSubscribe(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "process-1",
		Topics: []string{},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	raw := `{"action":"subscribe","topics":["slots","appointments"]}`
	var msg ClientMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	hub.ProcessMessage(client, msg)

	if hub.TopicCount("slots") != 1 {
		t.Fatalf("expected 1 subscriber on slots, got %d", hub.TopicCount("slots"))
	}
}

func TestClientMessage_ProcessUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "process-2",
		Topics: []string{"slots", "appointments"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	raw := `{"action":"unsubscribe","topics":["slots"]}`
	var msg ClientMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	hub.ProcessMessage(client, msg)

	if hub.TopicCount("slots") != 0 {
		t.Fatalf("expected 0 on slots, got %d", hub.TopicCount("slots"))
	}
	if hub.TopicCount("appointments") != 1 {
		t.Fatalf("expected 1 on appointments, got %d", hub.TopicCount("appointments"))
	}
}

func TestWebSocketHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub()
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	g := e.Group("")
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	// Convert http URL to ws URL
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	dialer := gorillawebsocket.Dialer{}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	// Client should have been registered in the hub
	// Give the goroutine a moment to register
	time.Sleep(50 * time.Millisecond)
	if hub.ClientCount() < 1 {
		t.Fatal("expected at least 1 client registered after connect")
	}

	// Send a subscribe message
	subMsg := ClientMessage{
		Action: "subscribe",
		Topics: []string{"slots"},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	// Give the server time to process the subscribe
	time.Sleep(50 * time.Millisecond)

	if hub.TopicCount("slots") != 1 {
		t.Fatalf("expected 1 subscriber on slots, got %d", hub.TopicCount("slots"))
	}

	// Now broadcast an event and verify we receive it
	event := Event{
		Table:     "slots",
		Operation: "INSERT",
		Timestamp: time.Now(),
	}
	hub.Broadcast("slots", event)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Table != "slots" {
		t.Fatalf("expected slots, got %s", received.Table)
	}
	if received.Operation != "INSERT" {
		t.Fatalf("expected INSERT, got %s", received.Operation)
	}
}
