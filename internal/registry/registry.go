// Package registry реализует реестр сессий: локальную таблицу живых
// соединений и привязки бизнес-идентичностей в общем хранилище.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/store"
)

// Conn описывает живое соединение, адресуемое по идентификатору.
// Send не должен блокироваться на медленном получателе.
type Conn interface {
	ID() string
	Send(data []byte) error
	SendEnvelope(env model.Envelope) error
	Close() error
}

// Store описывает контракт доступа к привязкам сессий.
type Store interface {
	GetSession(ctx context.Context, key string) (*model.Session, error)
	UpdateSession(ctx context.Context, key string, fn func(old *model.Session) (*model.Session, error)) error
	ScanSessions(ctx context.Context, pattern string) (map[string]model.Session, error)
}

// Registry сопоставляет бизнес-идентичности живым соединениям. Локальная
// таблица соединений безопасна для конкурентного доступа; привязки в
// хранилище согласуются оптимистичными транзакциями, поскольку одно
// хранилище могут разделять несколько экземпляров сервиса.
type Registry struct {
	store  Store
	logger *zap.Logger

	conns sync.Map // connID -> Conn
}

// New создаёт реестр сессий над указанным хранилищем.
func New(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
	}
}

// Add регистрирует живое соединение в локальной таблице.
func (r *Registry) Add(conn Conn) {
	r.conns.Store(conn.ID(), conn)
}

// Remove убирает соединение из локальной таблицы.
func (r *Registry) Remove(connID string) {
	r.conns.Delete(connID)
}

// Resolve возвращает живое соединение по идентификатору. Отсутствие означает,
// что соединение уже закрыто.
func (r *Registry) Resolve(connID string) (Conn, bool) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(Conn), true
}

// Bind привязывает бизнес-ключ к соединению. Если прежняя привязка указывает
// на другое ещё живое соединение, оно получает уведомление о вытеснении и
// принудительно закрывается, после чего привязка перезаписывается.
// Последовательность "проверить-затем-записать" защищена оптимистичной
// транзакцией хранилища; проигрыш гонки возвращается как store.ErrConflict.
func (r *Registry) Bind(ctx context.Context, businessKey string, conn Conn) error {
	err := r.store.UpdateSession(ctx, businessKey, func(old *model.Session) (*model.Session, error) {
		if old != nil && old.Active && old.SessionID != conn.ID() {
			r.supersede(businessKey, old.SessionID)
		}
		return &model.Session{SessionID: conn.ID(), Active: true}, nil
	})
	if err != nil {
		return fmt.Errorf("bind %s: %w", businessKey, err)
	}
	return nil
}

func (r *Registry) supersede(businessKey, connID string) {
	prev, ok := r.Resolve(connID)
	if !ok {
		return
	}

	if err := prev.SendEnvelope(model.Envelope{
		MessageType: model.MessageInfo,
		Message:     "session superseded by a new connection",
	}); err != nil {
		r.logger.Debug("supersession notice not delivered",
			zap.String("businessKey", businessKey),
			zap.String("connID", connID),
			zap.Error(err),
		)
	}

	_ = prev.Close()
	r.Remove(connID)

	r.logger.Info("session superseded",
		zap.String("businessKey", businessKey),
		zap.String("connID", connID),
	)
}

// Deactivate помечает привязку неактивной при отключении, если она всё ещё
// принадлежит указанному соединению. Чужая или отсутствующая привязка
// остаётся нетронутой.
func (r *Registry) Deactivate(ctx context.Context, businessKey, connID string) error {
	err := r.store.UpdateSession(ctx, businessKey, func(old *model.Session) (*model.Session, error) {
		if old == nil || old.SessionID != connID {
			return nil, nil
		}
		return &model.Session{SessionID: connID, Active: false}, nil
	})
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", businessKey, err)
	}
	return nil
}

// ScopeMembers возвращает бизнес-ключи всех привязок, подходящих под шаблон
// области видимости. Повреждённые записи пропускаются внутри скана.
func (r *Registry) ScopeMembers(ctx context.Context, scopePattern string) ([]string, error) {
	sessions, err := r.store.ScanSessions(ctx, scopePattern)
	if err != nil {
		return nil, fmt.Errorf("scan scope %s: %w", scopePattern, err)
	}

	keys := make([]string, 0, len(sessions))
	for key := range sessions {
		keys = append(keys, key)
	}

	return keys, nil
}

// LiveConn возвращает живое локальное соединение для бизнес-ключа.
func (r *Registry) LiveConn(ctx context.Context, businessKey string) (Conn, bool) {
	sess, err := r.store.GetSession(ctx, businessKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("session lookup failed",
				zap.String("businessKey", businessKey),
				zap.Error(err),
			)
		}
		return nil, false
	}
	if !sess.Active {
		return nil, false
	}

	return r.Resolve(sess.SessionID)
}
