// Package handler содержит HTTP-слой сервиса: точки подключения WebSocket
// для трёх классов соединений и REST-эндпоинты флагов состояния баров.
package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/dispatch"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/ws"
)

// Handler обслуживает HTTP-маршруты сервиса.
type Handler struct {
	deps     dispatch.Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler создаёт новый экземпляр Handler.
func NewHandler(deps dispatch.Deps, logger *zap.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Источник проверяется на внешнем периметре.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// dispatcher обрабатывает сообщения одного соединения.
type dispatcher interface {
	Handle(ctx context.Context, raw []byte)
	Closed(ctx context.Context)
}

// CustomerSocket принимает клиентское WebSocket-соединение.
func (h *Handler) CustomerSocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, func(conn *ws.Conn) dispatcher {
		return dispatch.NewCustomer(h.deps, conn)
	})
}

// BartenderSocket принимает соединение персонала.
func (h *Handler) BartenderSocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, func(conn *ws.Conn) dispatcher {
		return dispatch.NewBartender(h.deps, conn)
	})
}

// TerminalSocket принимает терминальное соединение.
func (h *Handler) TerminalSocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, func(conn *ws.Conn) dispatcher {
		return dispatch.NewTerminal(h.deps, conn)
	})
}

// serveSocket выполняет upgrade и запускает цикл чтения. Сообщения одного
// соединения обрабатываются последовательно, разные соединения — каждое в
// своей горутине обработчика.
func (h *Handler) serveSocket(w http.ResponseWriter, r *http.Request, build func(*ws.Conn) dispatcher) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := ws.NewConn(sock, h.logger)
	h.deps.Registry.Add(conn)

	d := build(conn)

	defer func() {
		d.Closed(context.Background())
		conn.Close()
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("websocket closed",
				zap.String("connID", conn.ID()),
				zap.Error(err),
			)
			return
		}

		// Соединение может пережить запрос, поэтому действия не привязаны
		// к контексту запроса.
		d.Handle(context.Background(), raw)
	}
}
