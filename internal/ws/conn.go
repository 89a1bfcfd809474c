// Package ws содержит обёртку над WebSocket-соединением с неблокирующей
// очередью отправки.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
)

const (
	sendBufferSize = 32
	writeTimeout   = 5 * time.Second
)

var (
	// ErrConnClosed возвращается при отправке в уже закрытое соединение.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull возвращается, когда получатель не успевает вычитывать
	// сообщения. Отправка не блокируется: медленное соединение не должно
	// задерживать рассылку остальным.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn оборачивает WebSocket-соединение. Отправка идёт через буферизованную
// очередь, которую вычитывает отдельная горутина с ограничением времени записи.
type Conn struct {
	id     string
	sock   *websocket.Conn
	logger *zap.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewConn создаёт обёртку над принятым WebSocket-соединением и запускает
// горутину записи. Идентификатор соединения генерируется транспортным слоем.
func NewConn(sock *websocket.Conn, logger *zap.Logger) *Conn {
	c := &Conn{
		id:     uuid.NewString(),
		sock:   sock,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}

	go c.writePump()

	return c
}

// ID возвращает идентификатор соединения.
func (c *Conn) ID() string {
	return c.id
}

// Send ставит сообщение в очередь отправки, не блокируя вызывающего.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendEnvelope сериализует и отправляет исходящее сообщение.
func (c *Conn) SendEnvelope(env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Send(data)
}

// ReadMessage блокируется до следующего входящего сообщения.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.sock.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close закрывает соединение. Повторные вызовы безопасны.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.sock.Close()
	})
	return err
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed",
					zap.String("connID", c.id),
					zap.Error(err),
				)
				_ = c.Close()
				return
			}
		}
	}
}
