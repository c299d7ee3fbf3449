package websocket

import (
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize размер очереди рассылки
const broadcastBufferSize = 256

// Hub управляет всеми активными WebSocket соединениями
//
// Центральный менеджер для рассылки состояния дашборду:
// - stopsUpdate: список защитных конфигураций (state, last_error, HWM)
// - riskUpdate: лимиты, флаг остановки, дневной PnL
// - notification: новые события движка
//
// Broadcast не блокирует вызывающего: монитор и сервисы не должны ждать
// медленных клиентов. При переполнении очереди сообщение отбрасывается.
// Последние stopsUpdate и riskUpdate отправляются новому клиенту сразу
// после подключения.
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex

	// последние снимки для новых клиентов
	snapMu    sync.RWMutex
	lastStops []byte
	lastRisk  []byte

	dropped atomic.Uint64
	logger  *utils.Logger
}

// NewHub создает новый Hub
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger.WithComponent("ws_hub"),
	}
}

// Run запускает главный цикл Hub до вызова Stop
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
			h.sendSnapshot(client)
			h.logger.Debug("client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
			// копируем список клиентов под коротким RLock
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
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
				h.logger.Warn("removed slow clients", utils.Int("removed", len(toRemove)), utils.Int("clients", total))
			}
		}
	}
}

// Stop завершает Run и закрывает все клиентские каналы
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastStops рассылает список конфигураций
func (h *Hub) BroadcastStops(stops []models.StopConfig) {
	data, err := json.Marshal(NewStopsUpdateMessage(stops))
	if err != nil {
		h.logger.Error("failed to marshal stops update", utils.Err(err))
		return
	}
	h.snapMu.Lock()
	h.lastStops = data
	h.snapMu.Unlock()
	h.BroadcastRaw(data)
}

// BroadcastRisk рассылает состояние риск-менеджера
func (h *Hub) BroadcastRisk(status *models.RiskStatus) {
	data, err := json.Marshal(NewRiskUpdateMessage(status))
	if err != nil {
		h.logger.Error("failed to marshal risk update", utils.Err(err))
		return
	}
	h.snapMu.Lock()
	h.lastRisk = data
	h.snapMu.Unlock()
	h.BroadcastRaw(data)
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// registerClient добавляет клиента, false если hub уже остановлен
func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stop:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages сколько сообщений отброшено из-за переполненной очереди
func (h *Hub) DroppedMessages() uint64 {
	return h.dropped.Load()
}

func (h *Hub) sendSnapshot(client *Client) {
	h.snapMu.RLock()
	stops, risk := h.lastStops, h.lastRisk
	h.snapMu.RUnlock()

	for _, data := range [][]byte{stops, risk} {
		if data == nil {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}
