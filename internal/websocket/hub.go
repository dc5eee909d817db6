package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mautops/moneylens/internal/metrics"
	"github.com/mautops/moneylens/internal/model"
	"github.com/sirupsen/logrus"
)

// broadcastBuffer 待广播消息缓冲，写满后丢弃新消息
const broadcastBuffer = 256

// FeedEntry 推送给订阅者的账目，只包含公开字段
type FeedEntry struct {
	ID              uint      `json:"id"`
	FromDept        string    `json:"fromDept"`
	ToDept          string    `json:"toDept"`
	Purpose         string    `json:"purpose"`
	Amount          string    `json:"amount"`
	Status          string    `json:"status"`
	Anomaly         bool      `json:"anomaly"`
	AnchorState     string    `json:"anchor_state"`
	TransactionHash *string   `json:"transaction_hash"`
	ChainIndex      *uint64   `json:"chain_index"`
	CreatedAt       time.Time `json:"created_at"`
}

// Event 推送事件
type Event struct {
	Type  string    `json:"type"`
	Entry FeedEntry `json:"entry"`
}

// NewFeedEntry 从账目模型构造推送内容
func NewFeedEntry(entry *model.LedgerEntryModel) FeedEntry {
	return FeedEntry{
		ID:              entry.TransactionID,
		FromDept:        entry.FromDept,
		ToDept:          entry.ToDept,
		Purpose:         entry.Purpose,
		Amount:          entry.Amount.String(),
		Status:          entry.Status,
		Anomaly:         entry.Anomaly,
		AnchorState:     entry.AnchorState,
		TransactionHash: entry.TransactionHash,
		ChainIndex:      entry.ChainIndex,
		CreatedAt:       entry.CreatedAt,
	}
}

// Hub 管理所有 WebSocket 连接
type Hub struct {
	// 已注册的客户端
	clients map[*Client]bool

	// 广播消息到所有客户端
	Broadcast chan []byte

	// 注册新客户端
	Register chan *Client

	// 注销客户端
	Unregister chan *Client

	logger *logrus.Logger
	stop   chan struct{}
	once   sync.Once

	// 保护 clients map
	mu sync.RWMutex
}

// NewHub 创建新的 Hub
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		Broadcast:  make(chan []byte, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Run 运行 Hub，直到 Stop 被调用
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.SetWebsocketClients(n)

		case client := <-h.Unregister:
			h.mu.Lock()
			h.remove(client)
			n := len(h.clients)
			h.mu.Unlock()
			metrics.SetWebsocketClients(n)

		case message := <-h.Broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// 慢客户端直接断开
					h.remove(client)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.SetWebsocketClients(n)

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			metrics.SetWebsocketClients(0)
			return
		}
	}
}

// Stop 停止 Hub 并关闭所有客户端
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// remove 调用方需持有写锁
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

// PublishEntryEvent 广播账目事件，不阻塞调用方
func (h *Hub) PublishEntryEvent(eventType string, entry *model.LedgerEntryModel) {
	if entry == nil {
		return
	}
	payload, err := json.Marshal(Event{Type: eventType, Entry: NewFeedEntry(entry)})
	if err != nil {
		h.logger.WithError(err).Error("failed to encode websocket event")
		return
	}

	select {
	case h.Broadcast <- payload:
	default:
		h.logger.WithFields(logrus.Fields{
			"type":     eventType,
			"entry_id": entry.TransactionID,
		}).Warn("websocket broadcast buffer full, event dropped")
	}
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == clientID {
			return true
		}
	}
	return false
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
