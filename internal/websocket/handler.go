package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
)

// newUpgrader 按允许的来源构造 Upgrader，列表为空或包含 * 时不限制
func newUpgrader(allowedOrigins []string) *gorillaWS.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}

	return &gorillaWS.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		},
	}
}

// Handler 公开的账本事件订阅端点，只读，不需要认证
func Handler(hub *Hub, allowedOrigins []string) gin.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade 已写回错误响应
			hub.logger.WithError(err).Debug("websocket upgrade failed")
			return
		}

		client := NewClient(uuid.New().String(), c.ClientIP(), hub, conn)
		select {
		case hub.Register <- client:
		case <-hub.stop:
			conn.Close()
			return
		}

		go client.ReadPump()
		go client.WritePump()
	}
}
