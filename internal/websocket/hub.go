package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"tradeops/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize - ёмкость очереди broadcast; при переполнении сообщения отбрасываются
const broadcastBufferSize = 256

// envelope - сериализованное сообщение с адресатом-тенантом
type envelope struct {
	tenantID string
	data     []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Сообщения адресуются тенанту: клиент получает только события
// своего тенанта. Hub реализует service.InterventionNotifier.
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Подключить как нотификатор: stuckOrderService.AddNotifier(hub)
// 4. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	// Счётчик отброшенных сообщений (переполнение очереди)
	dropped atomic.Uint64

	logger *zap.Logger

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger.Named("ws_hub"),
	}
}

// Run запускает главный цикл Hub до вызова Stop
//
// Копируем список клиентов под RLock, отправляем без блокировки,
// медленных клиентов удаляем под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected",
				zap.String("tenant_id", client.tenantID),
				zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.Int("total", total))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg envelope) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.tenantID == msg.tenantID {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- msg.data:
		default:
			// клиент не успевает читать
			toRemove = append(toRemove, client)
		}
	}

	if len(toRemove) > 0 {
		h.mu.Lock()
		for _, client := range toRemove {
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		}
		total := len(h.clients)
		h.mu.Unlock()
		h.logger.Warn("removed slow clients",
			zap.Int("removed", len(toRemove)),
			zap.Int("total", total))
	}
}

// Stop останавливает Run и закрывает каналы всех клиентов. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь для клиентов тенанта.
// Не блокирует: при полной очереди сообщение отбрасывается.
func (h *Hub) Broadcast(tenantID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.BroadcastRaw(tenantID, data)
	return nil
}

// BroadcastRaw ставит в очередь уже сериализованные данные
func (h *Hub) BroadcastRaw(tenantID string, data []byte) {
	select {
	case h.broadcast <- envelope{tenantID: tenantID, data: data}:
	default:
		h.dropped.Add(1)
	}
}

// NotifyManualIntervention отправляет эскалацию подключенным операторам тенанта
func (h *Hub) NotifyManualIntervention(ctx context.Context, event *models.InterventionEvent) error {
	if event == nil {
		return nil
	}
	return h.Broadcast(event.TenantID, NewInterventionMessage(event))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() uint64 {
	return h.dropped.Load()
}
