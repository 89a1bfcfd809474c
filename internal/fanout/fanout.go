// Package fanout реализует широковещательную рассылку обновлений по области
// видимости: пулу барменов бара, группе терминалов или одному клиенту.
package fanout

import (
	"context"

	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
	"github.com/MegrimInc/RedisMicroService-sub000/internal/registry"
)

// Registry описывает контракт реестра сессий, используемый рассылкой.
type Registry interface {
	ScopeMembers(ctx context.Context, scopePattern string) ([]string, error)
	LiveConn(ctx context.Context, businessKey string) (registry.Conn, bool)
}

// Broadcaster рассылает сообщения живым соединениям области видимости.
// Доставка негарантированная и независимая по соединениям: закрытые или
// отсутствующие соединения молча пропускаются, очередей нет — следующий
// refresh на стороне клиента пересинхронизирует состояние.
type Broadcaster struct {
	registry Registry
	logger   *zap.Logger
}

// New создаёт рассыльщик над указанным реестром сессий.
func New(registry Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logger,
	}
}

// Broadcast отправляет сообщение всем участникам области видимости, кроме
// excludeKey. Порядок доставки между участниками не определён.
func (b *Broadcaster) Broadcast(ctx context.Context, scopePattern, excludeKey string, env model.Envelope) {
	members, err := b.registry.ScopeMembers(ctx, scopePattern)
	if err != nil {
		b.logger.Error("scope scan failed",
			zap.String("pattern", scopePattern),
			zap.Error(err),
		)
		return
	}

	for _, key := range members {
		if key == excludeKey {
			continue
		}
		b.Direct(ctx, key, env)
	}
}

// Direct отправляет сообщение одной бизнес-идентичности, если для неё есть
// живое соединение.
func (b *Broadcaster) Direct(ctx context.Context, businessKey string, env model.Envelope) {
	conn, ok := b.registry.LiveConn(ctx, businessKey)
	if !ok {
		return
	}

	if err := conn.SendEnvelope(env); err != nil {
		b.logger.Debug("fanout send failed",
			zap.String("businessKey", businessKey),
			zap.String("connID", conn.ID()),
			zap.Error(err),
		)
	}
}
