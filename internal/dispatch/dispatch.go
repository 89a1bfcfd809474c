// Package dispatch содержит обработчики действий по классам соединений:
// клиентским, барменским и терминальным сокетам. Каждый обработчик
// декодирует входящее действие, проверяет предусловия и вызывает автомат
// состояний и рассылку. Все зависимости передаются явно.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/fanout"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/machine"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/registry"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/store"
)

// Action именует входящее действие. Каждый класс соединений принимает свой
// замкнутый набор действий; неизвестное действие порождает ответ об ошибке,
// но не закрывает соединение.
type Action string

const (
	ActionInitialize Action = "initialize"
	ActionRefresh    Action = "refresh"
	ActionCreate     Action = "create"
	ActionDelete     Action = "delete"
	ActionArrive     Action = "arrive"
	ActionReady      Action = "ready"
	ActionDeliver    Action = "deliver"
	ActionCancel     Action = "cancel"
	ActionClaim      Action = "claim"
)

// OrderStore описывает контракт доступа к заказам и флагам, используемый
// обработчиками.
type OrderStore interface {
	GetOrder(ctx context.Context, key string) (*model.Order, error)
	SaveOrder(ctx context.Context, key string, order *model.Order) error
	DeleteOrder(ctx context.Context, key string) error
	ScanOrders(ctx context.Context, pattern string) ([]model.Order, error)
	Flag(ctx context.Context, barID int64, name string) (bool, error)
	SetFlag(ctx context.Context, barID int64, name string, value bool) error
}

// Archiver описывает контракт внешнего сервиса хранения заказов.
type Archiver interface {
	PersistOrder(ctx context.Context, order *model.Order) error
}

// Deps содержит зависимости обработчиков действий.
type Deps struct {
	Store    OrderStore
	Machine  *machine.Machine
	Registry *registry.Registry
	Fanout   *fanout.Broadcaster
	Archive  Archiver
	Logger   *zap.Logger
}

type actionHead struct {
	Action Action `json:"action"`
}

func decodeAction(raw []byte) (Action, error) {
	var head actionHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", err
	}
	return head.Action, nil
}

func (d Deps) reply(conn registry.Conn, env model.Envelope) {
	if err := conn.SendEnvelope(env); err != nil {
		d.Logger.Debug("reply not delivered",
			zap.String("connID", conn.ID()),
			zap.Error(err),
		)
	}
}

func (d Deps) replyError(conn registry.Conn, msg string) {
	d.reply(conn, model.Envelope{
		MessageType: model.MessageError,
		Message:     msg,
	})
}

// replyDecodeError сообщает об ошибке разбора коротким ответом {error};
// действие отбрасывается, соединение остаётся открытым.
func (d Deps) replyDecodeError(conn registry.Conn, err error) {
	d.Logger.Debug("malformed payload",
		zap.String("connID", conn.ID()),
		zap.Error(err),
	)

	data, merr := json.Marshal(model.ErrorResponse{Error: "malformed payload"})
	if merr != nil {
		return
	}
	_ = conn.Send(data)
}

func (d Deps) replyUnknownAction(conn registry.Conn, action Action) {
	d.replyError(conn, fmt.Sprintf("unknown action %q", string(action)))
}

// reportError переводит ошибку бизнес-правила в понятное человеку сообщение.
// Неожиданные внутренние ошибки логируются и показываются обобщённо.
func (d Deps) reportError(conn registry.Conn, action Action, err error) {
	var (
		illegal *machine.IllegalTransitionError
		claimed *machine.AlreadyClaimedError
	)

	var msg string
	switch {
	case errors.Is(err, machine.ErrNotCancelable):
		msg = "order can no longer be canceled"
	case errors.As(err, &claimed):
		msg = claimed.Error()
	case errors.As(err, &illegal):
		msg = illegal.Error()
	case errors.Is(err, store.ErrNotFound):
		msg = "order not found"
	case errors.Is(err, store.ErrConflict):
		msg = "conflict, please try again"
	default:
		d.Logger.Error("action failed",
			zap.String("action", string(action)),
			zap.String("connID", conn.ID()),
			zap.Error(err),
		)
		msg = "internal error"
	}

	d.replyError(conn, msg)
}

// sendOrders отвечает пакетом заказов в форме {orders:[...]}.
func (d Deps) sendOrders(conn registry.Conn, orders []model.Order) {
	if orders == nil {
		orders = []model.Order{}
	}

	data, err := json.Marshal(model.OrdersResponse{Orders: orders})
	if err != nil {
		d.Logger.Error("encode orders batch", zap.Error(err))
		return
	}

	if err := conn.Send(data); err != nil {
		d.Logger.Debug("orders batch not delivered",
			zap.String("connID", conn.ID()),
			zap.Error(err),
		)
	}
}

// finalizeArchive передаёт финализированный заказ во внешний архив. Ключ
// удаляется из хранилища только после положительного подтверждения; при
// отказе архива заказ остаётся в новом статусе, и финализацию можно
// повторить позже.
func (d Deps) finalizeArchive(ctx context.Context, key string, order *model.Order) error {
	if err := d.Archive.PersistOrder(ctx, order); err != nil {
		d.Logger.Error("archive order failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}

	if err := d.Store.DeleteOrder(ctx, key); err != nil {
		d.Logger.Error("delete archived order failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}

	return nil
}
