// Package machine реализует конечный автомат состояний заказа поверх
// оптимистичных транзакций хранилища.
package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
)

// ErrNotCancelable возвращается при попытке клиента отменить заказ,
// который уже взят в работу сотрудником.
var ErrNotCancelable = errors.New("order can no longer be canceled")

// IllegalTransitionError описывает недопустимый переход статусов. Причина
// формулируется для показа человеку на исходном соединении.
type IllegalTransitionError struct {
	From   model.OrderStatus
	To     model.OrderStatus
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

// AlreadyClaimedError возвращается при попытке взять в работу уже занятый заказ.
type AlreadyClaimedError struct {
	Claimer string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("already claimed by %s", e.Claimer)
}

// Store описывает контракт доступа к заказам, используемый автоматом.
type Store interface {
	GetOrder(ctx context.Context, key string) (*model.Order, error)
	UpdateOrder(ctx context.Context, key string, fn func(*model.Order) error) (*model.Order, error)
}

// Machine выполняет переходы статусов заказа. Конкурентные переходы над одним
// заказом разрешаются хранилищем: выигрывает ровно один, остальные получают
// store.ErrConflict и не повторяются автоматически.
type Machine struct {
	store Store
}

// New создаёт автомат состояний над указанным хранилищем.
func New(store Store) *Machine {
	return &Machine{store: store}
}

// Transition переводит заказ в целевой статус, если текущий статус входит в
// допустимые исходные. Недопустимый переход завершается IllegalTransitionError
// с конкретной причиной, отсутствие заказа — store.ErrNotFound.
func (m *Machine) Transition(ctx context.Context, key string, allowed []model.OrderStatus, target model.OrderStatus, mutate func(*model.Order)) (*model.Order, error) {
	return m.store.UpdateOrder(ctx, key, func(o *model.Order) error {
		if !statusAllowed(o.Status, allowed) {
			return &IllegalTransitionError{
				From:   o.Status,
				To:     target,
				Reason: transitionReason(o.Status, target),
			}
		}

		o.Status = target
		if mutate != nil {
			mutate(o)
		}
		return nil
	})
}

// Ready отмечает заказ готовым к выдаче и закрепляет на нём сотрудника,
// выполнившего действие.
func (m *Machine) Ready(ctx context.Context, key string, employeeID int64) (*model.Order, error) {
	return m.Transition(ctx, key, []model.OrderStatus{model.OrderStatusUnready}, model.OrderStatusReady, stampEmployee(employeeID))
}

// Arrive отмечает, что клиент прибыл за готовым заказом.
func (m *Machine) Arrive(ctx context.Context, key string) (*model.Order, error) {
	return m.Transition(ctx, key, []model.OrderStatus{model.OrderStatusReady}, model.OrderStatusArrived, nil)
}

// Deliver переводит заказ в конечный статус delivered. Повторный вызов для
// заказа, уже доставленного, но ещё не заархивированного, безопасен и
// возвращает заказ без изменений, чтобы передачу в архив можно было повторить.
func (m *Machine) Deliver(ctx context.Context, key string, employeeID int64) (*model.Order, error) {
	return m.finalize(ctx, key,
		[]model.OrderStatus{model.OrderStatusReady, model.OrderStatusArrived},
		model.OrderStatusDelivered,
		employeeID,
	)
}

// Cancel переводит заказ в конечный статус canceled из любого неконечного
// статуса. Повторный вызов для незаархивированного заказа безопасен.
func (m *Machine) Cancel(ctx context.Context, key string, employeeID int64) (*model.Order, error) {
	return m.finalize(ctx, key,
		[]model.OrderStatus{model.OrderStatusUnready, model.OrderStatusReady, model.OrderStatusArrived},
		model.OrderStatusCanceled,
		employeeID,
	)
}

func (m *Machine) finalize(ctx context.Context, key string, allowed []model.OrderStatus, target model.OrderStatus, employeeID int64) (*model.Order, error) {
	order, err := m.Transition(ctx, key, allowed, target, stampEmployee(employeeID))

	var illegal *IllegalTransitionError
	if errors.As(err, &illegal) && illegal.From == target {
		// Заказ уже в целевом статусе, но остался в хранилище: предыдущая
		// финализация не дождалась подтверждения архива.
		return m.store.GetOrder(ctx, key)
	}

	return order, err
}

// Claim закрепляет заказ за сотрудником. Допускается только для незанятого
// заказа в неконечном статусе; из двух конкурентных вызовов побеждает один.
func (m *Machine) Claim(ctx context.Context, key, claimer string) (*model.Order, error) {
	return m.store.UpdateOrder(ctx, key, func(o *model.Order) error {
		if o.Status.IsTerminal() {
			return &IllegalTransitionError{
				From:   o.Status,
				To:     o.Status,
				Reason: "order already " + string(o.Status),
			}
		}
		if o.Claimer != "" {
			return &AlreadyClaimedError{Claimer: o.Claimer}
		}

		o.Claimer = claimer
		return nil
	})
}

// CancelUnclaimed отменяет заказ по инициативе клиента. Заказ с непустым
// Claimer отменить уже нельзя. Повторный вызов для отменённого, но ещё не
// заархивированного заказа безопасен и возвращает заказ без изменений.
func (m *Machine) CancelUnclaimed(ctx context.Context, key string) (*model.Order, error) {
	order, err := m.store.UpdateOrder(ctx, key, func(o *model.Order) error {
		if o.Status.IsTerminal() {
			return &IllegalTransitionError{
				From:   o.Status,
				To:     model.OrderStatusCanceled,
				Reason: "order already " + string(o.Status),
			}
		}
		if o.Claimer != "" {
			return ErrNotCancelable
		}

		o.Status = model.OrderStatusCanceled
		return nil
	})

	var illegal *IllegalTransitionError
	if errors.As(err, &illegal) && illegal.From == model.OrderStatusCanceled {
		existing, gerr := m.store.GetOrder(ctx, key)
		if gerr != nil {
			return nil, gerr
		}
		// Предыдущая отмена не дождалась подтверждения архива.
		if existing.Claimer == "" {
			return existing, nil
		}
	}

	return order, err
}

func stampEmployee(employeeID int64) func(*model.Order) {
	if employeeID <= 0 {
		return nil
	}
	return func(o *model.Order) {
		o.EmployeeID = employeeID
	}
}

func statusAllowed(status model.OrderStatus, allowed []model.OrderStatus) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

func transitionReason(from, to model.OrderStatus) string {
	switch {
	case from == to:
		return fmt.Sprintf("order already marked %s", from)
	case from == model.OrderStatusDelivered:
		return "order already delivered"
	case from == model.OrderStatusCanceled:
		return "order already canceled"
	default:
		return fmt.Sprintf("order is %s and cannot be marked %s", from, to)
	}
}
