package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// 订阅端只发送控制帧
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

// Client 账本推送订阅者
type Client struct {
	ID         string
	RemoteAddr string
	Hub        *Hub
	Conn       *websocket.Conn

	// Send 待推送事件，由 Hub 关闭
	Send chan []byte
}

// NewClient 创建订阅者
func NewClient(id string, remoteAddr string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:         id,
		RemoteAddr: remoteAddr,
		Hub:        hub,
		Conn:       conn,
		Send:       make(chan []byte, sendBuffer),
	}
}

// ReadPump 丢弃客户端消息，只处理 pong 与断开
func (c *Client) ReadPump() {
	defer c.leave()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := c.Conn.ReadMessage()
		if err == nil {
			continue
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			c.Hub.logger.WithError(err).WithFields(logrus.Fields{
				"client_id":   c.ID,
				"remote_addr": c.RemoteAddr,
			}).Debug("websocket read error")
		}
		return
	}
}

// WritePump 每个事件单独一帧写出，并定期发送 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Conn.Close()

	for {
		var err error
		select {
		case message, open := <-c.Send:
			if !open {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			err = c.write(websocket.TextMessage, message)
		case <-ticker.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

// leave 通知 Hub 注销并关闭连接；Hub 已停止时直接关闭
func (c *Client) leave() {
	select {
	case c.Hub.Unregister <- c:
	case <-c.Hub.stop:
	}
	c.Conn.Close()
}
