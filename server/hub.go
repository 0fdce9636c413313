package server

import (
	"net/http"
	"sync"

	"soniq/core/pipeline"
	"soniq/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventHub fans job lifecycle updates out to connected websocket clients.
// It implements pipeline.Notifier; a slow client loses updates instead of
// blocking the pipeline.
type EventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan pipeline.JobUpdate
}

// NewEventHub 创建运维事件推送中心。
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*websocket.Conn]chan pipeline.JobUpdate)}
}

// Notify broadcasts a job update. Never blocks.
func (h *EventHub) Notify(update pipeline.JobUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- update:
		default:
			// 客户端消费不过来就丢弃，监控流允许有损
		}
	}
}

// ServeWS upgrades the connection and streams job updates until the client
// disconnects.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	ch := make(chan pipeline.JobUpdate, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// 读协程只用于感知断连
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case update := <-ch:
			if err := conn.WriteJSON(update); err != nil {
				logger.Debug("websocket write failed, dropping client", logger.ErrorField(err))
				return
			}
		}
	}
}
