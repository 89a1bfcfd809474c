package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/registry"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/validation"
)

// Bartender обрабатывает действия сокета персонала: бармены разбирают общую
// очередь заказов бара.
type Bartender struct {
	d    Deps
	conn registry.Conn

	barID       int64
	bartenderID string
	bound       bool
}

// NewBartender создаёт обработчик барменского соединения.
func NewBartender(d Deps, conn registry.Conn) *Bartender {
	return &Bartender{d: d, conn: conn}
}

type bartenderInitRequest struct {
	BarID       int64  `json:"barID"`
	BartenderID string `json:"bartenderID"`
}

type claimRequest struct {
	BarID       int64  `json:"barID"`
	OrderID     int64  `json:"orderID"`
	BartenderID string `json:"bartenderID"`
}

// Handle обрабатывает одно входящее сообщение барменского сокета.
func (b *Bartender) Handle(ctx context.Context, raw []byte) {
	action, err := decodeAction(raw)
	if err != nil {
		b.d.replyDecodeError(b.conn, err)
		return
	}

	switch action {
	case ActionInitialize:
		b.initialize(ctx, raw)
	case ActionClaim:
		b.claim(ctx, raw)
	case ActionRefresh:
		b.refresh(ctx)
	default:
		b.d.replyUnknownAction(b.conn, action)
	}
}

// Closed вызывается при разрыве соединения.
func (b *Bartender) Closed(ctx context.Context) {
	b.d.Registry.Remove(b.conn.ID())
	if b.bound {
		if err := b.d.Registry.Deactivate(ctx, b.sessionKey(), b.conn.ID()); err != nil {
			b.d.Logger.Debug("deactivate bartender session failed",
				zap.String("businessKey", b.sessionKey()),
				zap.Error(err),
			)
		}
	}
}

func (b *Bartender) initialize(ctx context.Context, raw []byte) {
	var req bartenderInitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		b.d.replyDecodeError(b.conn, err)
		return
	}

	if req.BarID <= 0 {
		b.d.replyError(b.conn, "barID must be positive")
		return
	}
	if !validation.IsValidStaffID(req.BartenderID) {
		b.d.replyError(b.conn, "invalid bartender id: letters only")
		return
	}

	if err := b.d.Registry.Bind(ctx, model.BartenderSessionKey(req.BarID, req.BartenderID), b.conn); err != nil {
		b.d.reportError(b.conn, ActionInitialize, err)
		return
	}

	b.barID = req.BarID
	b.bartenderID = req.BartenderID
	b.bound = true

	b.refresh(ctx)
}

func (b *Bartender) claim(ctx context.Context, raw []byte) {
	var req claimRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		b.d.replyDecodeError(b.conn, err)
		return
	}

	if req.BarID <= 0 || req.OrderID <= 0 {
		b.d.replyError(b.conn, "barID and orderID must be positive")
		return
	}
	if !validation.IsValidStaffID(req.BartenderID) {
		b.d.replyError(b.conn, "invalid bartender id: letters only")
		return
	}

	key := model.CustomerOrderKey(req.BarID, req.OrderID)

	order, err := b.d.Machine.Claim(ctx, key, req.BartenderID)
	if err != nil {
		b.d.reportError(b.conn, ActionClaim, err)
		return
	}

	// Эхо инициатору, остальной пул без него, затем сам клиент.
	b.d.reply(b.conn, model.Envelope{
		MessageType: model.MessageUpdate,
		Data:        order,
		Message:     "order claimed",
	})

	b.d.Fanout.Broadcast(ctx, model.StaffScopePattern(req.BarID),
		model.BartenderSessionKey(req.BarID, req.BartenderID),
		model.Envelope{
			MessageType: model.MessageUpdate,
			Data:        order,
			Message:     "order claimed by " + req.BartenderID,
		})

	b.d.Fanout.Direct(ctx, model.CustomerSessionKey(req.BarID, req.OrderID), model.Envelope{
		MessageType: model.MessageUpdate,
		Data:        order,
		Message:     "order claimed by staff",
	})
}

func (b *Bartender) refresh(ctx context.Context) {
	if !b.bound {
		b.d.replyError(b.conn, "session not initialized")
		return
	}

	orders, err := b.d.Store.ScanOrders(ctx, model.BarOrdersPattern(b.barID))
	if err != nil {
		b.d.reportError(b.conn, ActionRefresh, err)
		return
	}

	b.d.sendOrders(b.conn, orders)
}

func (b *Bartender) sessionKey() string {
	return model.BartenderSessionKey(b.barID, b.bartenderID)
}
