package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/registry"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/store"
)

// Terminal обрабатывает действия терминального сокета: выдача, доставка и
// отмена заказов сотрудником.
type Terminal struct {
	d    Deps
	conn registry.Conn

	merchantID int64
	employeeID int64
	bound      bool
}

// NewTerminal создаёт обработчик терминального соединения.
func NewTerminal(d Deps, conn registry.Conn) *Terminal {
	return &Terminal{d: d, conn: conn}
}

type terminalInitRequest struct {
	MerchantID int64 `json:"merchantId"`
	EmployeeID int64 `json:"employeeId"`
}

type terminalOrderRequest struct {
	MerchantID int64 `json:"merchantId"`
	EmployeeID int64 `json:"employeeId"`
	CustomerID int64 `json:"customerId"`
}

// Handle обрабатывает одно входящее сообщение терминального сокета.
func (t *Terminal) Handle(ctx context.Context, raw []byte) {
	action, err := decodeAction(raw)
	if err != nil {
		t.d.replyDecodeError(t.conn, err)
		return
	}

	switch action {
	case ActionInitialize:
		t.initialize(ctx, raw)
	case ActionReady:
		t.ready(ctx, raw)
	case ActionDeliver:
		t.deliver(ctx, raw)
	case ActionCancel:
		t.cancel(ctx, raw)
	case ActionRefresh:
		t.refresh(ctx)
	default:
		t.d.replyUnknownAction(t.conn, action)
	}
}

// Closed вызывается при разрыве соединения.
func (t *Terminal) Closed(ctx context.Context) {
	t.d.Registry.Remove(t.conn.ID())
	if t.bound {
		if err := t.d.Registry.Deactivate(ctx, model.TerminalSessionKey(t.employeeID), t.conn.ID()); err != nil {
			t.d.Logger.Debug("deactivate terminal session failed",
				zap.Int64("employeeID", t.employeeID),
				zap.Error(err),
			)
		}
	}
}

func (t *Terminal) initialize(ctx context.Context, raw []byte) {
	var req terminalInitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.d.replyDecodeError(t.conn, err)
		return
	}

	if req.MerchantID <= 0 || req.EmployeeID <= 0 {
		t.d.replyError(t.conn, "merchantId and employeeId must be positive")
		return
	}

	if err := t.d.Registry.Bind(ctx, model.TerminalSessionKey(req.EmployeeID), t.conn); err != nil {
		t.d.reportError(t.conn, ActionInitialize, err)
		return
	}

	t.merchantID = req.MerchantID
	t.employeeID = req.EmployeeID
	t.bound = true

	t.refresh(ctx)
}

func (t *Terminal) ready(ctx context.Context, raw []byte) {
	req, key, ok := t.resolveRequest(ctx, raw, ActionReady)
	if !ok {
		return
	}

	order, err := t.d.Machine.Ready(ctx, key, req.EmployeeID)
	if err != nil {
		t.d.reportError(t.conn, ActionReady, err)
		return
	}

	t.d.reply(t.conn, model.Envelope{
		MessageType: model.MessageUpdate,
		Data:        order,
		Message:     "order marked ready",
	})

	t.d.Fanout.Direct(ctx, model.CustomerSessionKey(req.MerchantID, req.CustomerID), model.Envelope{
		MessageType: model.MessageUpdate,
		Data:        order,
		Message:     "your order is ready",
	})
}

func (t *Terminal) deliver(ctx context.Context, raw []byte) {
	req, key, ok := t.resolveRequest(ctx, raw, ActionDeliver)
	if !ok {
		return
	}

	order, err := t.d.Machine.Deliver(ctx, key, req.EmployeeID)
	if err != nil {
		t.d.reportError(t.conn, ActionDeliver, err)
		return
	}

	t.d.Fanout.Direct(ctx, model.CustomerSessionKey(req.MerchantID, req.CustomerID), model.Envelope{
		MessageType: model.MessageUpdate,
		Data:        order,
		Message:     "order delivered",
	})

	if err := t.d.finalizeArchive(ctx, key, order); err != nil {
		t.d.replyError(t.conn, "order delivered but not archived, retry deliver")
		return
	}

	t.d.reply(t.conn, model.Envelope{
		MessageType: model.MessageUpdate,
		Data:        order,
		Message:     "order delivered",
	})
}

func (t *Terminal) cancel(ctx context.Context, raw []byte) {
	req, key, ok := t.resolveRequest(ctx, raw, ActionCancel)
	if !ok {
		return
	}

	order, err := t.d.Machine.Cancel(ctx, key, req.EmployeeID)
	if err != nil {
		t.d.reportError(t.conn, ActionCancel, err)
		return
	}

	t.d.Fanout.Direct(ctx, model.CustomerSessionKey(req.MerchantID, req.CustomerID), model.Envelope{
		MessageType: model.MessageDelete,
		Data:        order,
		Message:     "order canceled",
	})

	if err := t.d.finalizeArchive(ctx, key, order); err != nil {
		t.d.replyError(t.conn, "order canceled but not archived, retry cancel")
		return
	}

	t.d.reply(t.conn, model.Envelope{
		MessageType: model.MessageDelete,
		Data:        order,
		Message:     "order canceled",
	})
}

func (t *Terminal) refresh(ctx context.Context) {
	if !t.bound {
		t.d.replyError(t.conn, "session not initialized")
		return
	}

	orders, err := t.d.Store.ScanOrders(ctx, model.BarOrdersPattern(t.merchantID))
	if err != nil {
		t.d.reportError(t.conn, ActionRefresh, err)
		return
	}

	t.d.sendOrders(t.conn, orders)
}

// resolveRequest декодирует терминальный запрос и находит ключ заказа:
// сначала в форме "продавец.сотрудник.клиент", затем в клиентской форме
// "продавец.клиент" — обе формы сосуществуют в хранилище.
func (t *Terminal) resolveRequest(ctx context.Context, raw []byte, action Action) (terminalOrderRequest, string, bool) {
	var req terminalOrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.d.replyDecodeError(t.conn, err)
		return req, "", false
	}

	if req.MerchantID <= 0 || req.EmployeeID <= 0 || req.CustomerID <= 0 {
		t.d.replyError(t.conn, "merchantId, employeeId and customerId must be positive")
		return req, "", false
	}

	key := model.StaffOrderKey(req.MerchantID, req.EmployeeID, req.CustomerID)
	_, err := t.d.Store.GetOrder(ctx, key)
	if err == nil {
		return req, key, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.d.reportError(t.conn, action, err)
		return req, "", false
	}

	key = model.CustomerOrderKey(req.MerchantID, req.CustomerID)
	if _, err := t.d.Store.GetOrder(ctx, key); err != nil {
		t.d.reportError(t.conn, action, err)
		return req, "", false
	}

	return req, key, true
}
