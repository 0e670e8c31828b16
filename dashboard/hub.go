package dashboard

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// hub websocket客户端集合
// 说明：所有写操作都在run所在的goroutine中进行，单个连接不会被并发写
type hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte

	latest []byte // 最近一次广播的消息，新客户端连接后立即收到
}

func newHub() *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]struct{}),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 16),
	}
}

func (h *hub) send(conn *websocket.Conn, msg []byte) bool {
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Warnf("failed to send summary to websocket client %s: %v", conn.RemoteAddr(), err)
		delete(h.clients, conn)
		conn.Close()
		return false
	}
	return true
}

// run 处理注册、注销与广播，ctx结束时关闭所有连接
func (h *hub) run(ctx context.Context) {
	defer func() {
		for conn := range h.clients {
			conn.Close()
		}
		h.clients = nil
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			h.clients[conn] = struct{}{}
			log.Debugf("websocket client %s connected, total %d", conn.RemoteAddr(), len(h.clients))
			if h.latest != nil {
				h.send(conn, h.latest)
			}
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			h.latest = msg
			for conn := range h.clients {
				h.send(conn, msg)
			}
		}
	}
}

// handle 升级为websocket连接，读循环只用于感知客户端断开
func (h *hub) handle(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	select {
	case h.register <- conn:
	case <-ctx.Done():
		conn.Close()
		return
	}
	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-ctx.Done():
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warnf("websocket error: %v", err)
				}
				return
			}
		}
	}()
}
