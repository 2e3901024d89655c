package handler

import (
	"net/http"
	"time"

	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/pkg/apperrors"
	"github.com/GoPolymarket/logbridge/internal/pkg/logger"
	"github.com/GoPolymarket/logbridge/internal/sink"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	PingPeriod   = 15 * time.Second // keep-alive interval
	writeTimeout = 5 * time.Second
	tailBuffer   = 256
)

// TailHandler streams resolved records to websocket clients as they arrive.
type TailHandler struct {
	hub      *sink.Hub
	upgrader websocket.Upgrader
}

func NewTailHandler(hub *sink.Hub) *TailHandler {
	return &TailHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the tail is an operator tool behind the admin key
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Stream handles GET /v1/tail?level=.
func (h *TailHandler) Stream(c *gin.Context) {
	minLevel := model.LevelTrace
	if raw := c.Query("level"); raw != "" {
		l, err := model.ParseLevel(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		minLevel = l
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	records, cancel := h.hub.Subscribe(tailBuffer)
	defer cancel()

	// Zombie check: no pong within PingPeriod plus slack closes the stream.
	readTimeout := PingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			if rec.Level < minLevel {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
