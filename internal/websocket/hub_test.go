package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradeops/internal/models"
)

// ============================================================
// Unit Tests
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := NewOriginChecker([]string{"http://localhost:3000", " https://example.com "})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},                       // empty origin allowed
		{"http://localhost:3000", true},  // allowed
		{"https://example.com", true},    // allowed (trimmed)
		{"http://evil.com", false},       // not allowed
		{"http://localhost:8080", false}, // not in list
	}

	for _, tt := range tests {
		got := checker.Check(tt.origin)
		if got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}, {"", "  "}} {
		checker := NewOriginChecker(origins)
		if !checker.Check("https://evil.com") {
			t.Errorf("origins %q должны разрешать всё", origins)
		}
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	hub := NewHub(nil)
	// Run не запущен - очередь заполнится

	for i := 0; i < broadcastBufferSize+10; i++ {
		if err := hub.Broadcast("t1", map[string]int{"i": i}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if hub.DroppedMessages() != 10 {
		t.Errorf("expected 10 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(nil)

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	hub.Stop()
	hub.Stop() // повторный вызов безопасен

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}
}

func TestHub_TenantRouting(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	c1 := &Client{hub: hub, tenantID: "t1", send: make(chan []byte, clientSendBufferSize)}
	c2 := &Client{hub: hub, tenantID: "t2", send: make(chan []byte, clientSendBufferSize)}
	hub.register <- c1
	hub.register <- c2

	event := &models.InterventionEvent{
		ID:                 "evt-1",
		TenantID:           "t1",
		OrderID:            "o1",
		ExchangeID:         "bybit",
		Status:             models.OrderStatusOpen,
		ResolutionAttempts: 3,
		OccurredAt:         time.Now(),
	}
	if err := hub.NotifyManualIntervention(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-c1.send:
		var decoded InterventionMessage
		if err := json.Unmarshal(msg, &decoded); err != nil {
			t.Fatalf("invalid message: %v", err)
		}
		if decoded.Type != MessageTypeIntervention || decoded.Data.OrderID != "o1" {
			t.Errorf("unexpected message: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("клиент тенанта t1 не получил событие")
	}

	select {
	case msg := <-c2.send:
		t.Errorf("клиент другого тенанта получил событие: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowClientRemoved(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	slow := &Client{hub: hub, tenantID: "t1", send: make(chan []byte)} // без буфера и без читателя
	hub.register <- slow

	hub.BroadcastRaw("t1", []byte(`{}`))

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("медленный клиент не удалён")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-slow.send; ok {
		t.Error("канал медленного клиента должен быть закрыт")
	}
}

func TestHub_Handler(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	handler := hub.Handler(NewOriginChecker(nil), func(r *http.Request) string {
		return r.Header.Get("X-Tenant-ID")
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	// без тенанта - отказ
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("ожидался отказ без тенанта")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-Tenant-ID": []string{"t1"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("клиент не зарегистрирован")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastRaw("t1", []byte(`{"type":"manualIntervention"}`))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"type":"manualIntervention"}` {
		t.Errorf("unexpected message: %s", msg)
	}
}

// ============================================================
// Benchmarks
// ============================================================

// BenchmarkHub_Broadcast тестирует скорость broadcast
func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	event := &models.InterventionEvent{ID: "evt", TenantID: "t1", OrderID: "o1"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = hub.NotifyManualIntervention(context.Background(), event)
	}
}

// BenchmarkOriginChecker_Check тестирует скорость проверки origin
func BenchmarkOriginChecker_Check(b *testing.B) {
	checker := NewOriginChecker([]string{"http://localhost:3000"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		checker.Check("http://localhost:3000")
	}
}

// ============================================================
// Parallel Stress Test
// ============================================================

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.Broadcast("t1", map[string]int{"goroutine": id, "op": j})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}
