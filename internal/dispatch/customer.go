package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/registry"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/store"
)

// Customer обрабатывает действия клиентского сокета. Сообщения одного
// соединения обрабатываются последовательно, поэтому поля идентичности
// не требуют синхронизации.
type Customer struct {
	d    Deps
	conn registry.Conn

	barID  int64
	userID int64
	bound  bool
}

// NewCustomer создаёт обработчик клиентского соединения.
func NewCustomer(d Deps, conn registry.Conn) *Customer {
	return &Customer{d: d, conn: conn}
}

type customerInitRequest struct {
	BarID  int64 `json:"barId"`
	UserID int64 `json:"userId"`
}

type createOrderRequest struct {
	BarID         int64         `json:"barId"`
	UserID        int64         `json:"userId"`
	Tip           float64       `json:"tip"`
	Drinks        []model.Drink `json:"drinks"`
	InAppPayments bool          `json:"inAppPayments"`
}

// Handle обрабатывает одно входящее сообщение клиентского сокета.
func (c *Customer) Handle(ctx context.Context, raw []byte) {
	action, err := decodeAction(raw)
	if err != nil {
		c.d.replyDecodeError(c.conn, err)
		return
	}

	switch action {
	case ActionInitialize:
		c.initialize(ctx, raw)
	case ActionCreate:
		c.create(ctx, raw)
	case ActionDelete:
		c.delete(ctx)
	case ActionArrive:
		c.arrive(ctx)
	case ActionRefresh:
		c.refresh(ctx)
	default:
		c.d.replyUnknownAction(c.conn, action)
	}
}

// Closed вызывается при разрыве соединения.
func (c *Customer) Closed(ctx context.Context) {
	c.d.Registry.Remove(c.conn.ID())
	if c.bound {
		if err := c.d.Registry.Deactivate(ctx, c.sessionKey(), c.conn.ID()); err != nil {
			c.d.Logger.Debug("deactivate customer session failed",
				zap.String("businessKey", c.sessionKey()),
				zap.Error(err),
			)
		}
	}
}

func (c *Customer) initialize(ctx context.Context, raw []byte) {
	var req customerInitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.d.replyDecodeError(c.conn, err)
		return
	}

	if req.BarID <= 0 || req.UserID <= 0 {
		c.d.replyError(c.conn, "barId and userId must be positive")
		return
	}

	if err := c.bind(ctx, req.BarID, req.UserID); err != nil {
		c.d.reportError(c.conn, ActionInitialize, err)
		return
	}

	c.refresh(ctx)
}

func (c *Customer) bind(ctx context.Context, barID, userID int64) error {
	if err := c.d.Registry.Bind(ctx, model.CustomerSessionKey(barID, userID), c.conn); err != nil {
		return err
	}

	c.barID = barID
	c.userID = userID
	c.bound = true
	return nil
}

func (c *Customer) create(ctx context.Context, raw []byte) {
	var req createOrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.d.replyDecodeError(c.conn, err)
		return
	}

	if req.BarID <= 0 || req.UserID <= 0 {
		c.d.replyError(c.conn, "barId and userId must be positive")
		return
	}
	if c.bound && (req.BarID != c.barID || req.UserID != c.userID) {
		c.d.replyError(c.conn, "order identity does not match session")
		return
	}
	if len(req.Drinks) == 0 {
		c.d.replyError(c.conn, "order must contain at least one drink")
		return
	}

	open, err := c.d.Store.Flag(ctx, req.BarID, store.FlagOpen)
	if err != nil {
		c.d.reportError(c.conn, ActionCreate, err)
		return
	}
	if !open {
		c.d.replyError(c.conn, "bar is closed")
		return
	}

	key := model.CustomerOrderKey(req.BarID, req.UserID)

	existing, err := c.d.Store.GetOrder(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.d.reportError(c.conn, ActionCreate, err)
		return
	}
	if existing != nil && !existing.Status.IsTerminal() {
		c.d.replyError(c.conn, "an order is already in progress")
		return
	}

	order := &model.Order{
		BarID:         req.BarID,
		UserID:        req.UserID,
		Drinks:        req.Drinks,
		Gratuity:      int64(math.Round(req.Tip * 100)),
		InAppPayments: req.InAppPayments,
		Status:        model.OrderStatusUnready,
		Timestamp:     time.Now().UTC(),
	}

	if err := c.d.Store.SaveOrder(ctx, key, order); err != nil {
		c.d.reportError(c.conn, ActionCreate, err)
		return
	}

	// Привязка нужна клиенту, чтобы получать обновления по этому заказу.
	if !c.bound {
		if err := c.bind(ctx, req.BarID, req.UserID); err != nil {
			c.d.reportError(c.conn, ActionCreate, err)
			return
		}
	}

	c.d.reply(c.conn, model.Envelope{
		MessageType: model.MessageCreate,
		Data:        order,
		Message:     "order created",
	})

	c.d.Fanout.Broadcast(ctx, model.StaffScopePattern(req.BarID), "", model.Envelope{
		MessageType: model.MessageCreate,
		Data:        order,
		Message:     "new order",
	})
}

func (c *Customer) delete(ctx context.Context) {
	if !c.bound {
		c.d.replyError(c.conn, "session not initialized")
		return
	}

	key := model.CustomerOrderKey(c.barID, c.userID)

	order, err := c.d.Machine.CancelUnclaimed(ctx, key)
	if err != nil {
		c.d.reportError(c.conn, ActionDelete, err)
		return
	}

	// Отмена — финализация: заказ уходит в архив, ключ удаляется только
	// после подтверждения. Отказ архива не откатывает отмену.
	_ = c.d.finalizeArchive(ctx, key, order)

	c.d.reply(c.conn, model.Envelope{
		MessageType: model.MessageDelete,
		Data:        order,
		Message:     "order canceled",
	})

	c.d.Fanout.Broadcast(ctx, model.StaffScopePattern(c.barID), "", model.Envelope{
		MessageType: model.MessageDelete,
		Data:        order,
		Message:     "order canceled by customer",
	})
}

func (c *Customer) arrive(ctx context.Context) {
	if !c.bound {
		c.d.replyError(c.conn, "session not initialized")
		return
	}

	key := model.CustomerOrderKey(c.barID, c.userID)

	order, err := c.d.Machine.Arrive(ctx, key)
	if err != nil {
		c.d.reportError(c.conn, ActionArrive, err)
		return
	}

	c.d.reply(c.conn, model.Envelope{
		MessageType: model.MessageUpdate,
		Data:        order,
		Message:     "arrival recorded",
	})

	c.d.Fanout.Broadcast(ctx, model.StaffScopePattern(c.barID), "", model.Envelope{
		MessageType: model.MessageUpdate,
		Data:        order,
		Message:     "customer arrived",
	})
}

func (c *Customer) refresh(ctx context.Context) {
	if !c.bound {
		c.d.replyError(c.conn, "session not initialized")
		return
	}

	var orders []model.Order

	order, err := c.d.Store.GetOrder(ctx, model.CustomerOrderKey(c.barID, c.userID))
	switch {
	case err == nil:
		orders = append(orders, *order)
	case errors.Is(err, store.ErrNotFound):
	default:
		c.d.reportError(c.conn, ActionRefresh, err)
		return
	}

	c.d.sendOrders(c.conn, orders)
}

func (c *Customer) sessionKey() string {
	return model.CustomerSessionKey(c.barID, c.userID)
}
