// Package store реализует доступ к общему хранилищу заказов в Redis.
//
// Хранилище разделено на три логические базы: сессии, заказы и флаги
// состояния баров. Записи согласуются между экземплярами сервиса только
// через оптимистичные транзакции Redis (WATCH/MULTI/EXEC), без локальных
// блокировок.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
)

var (
	// ErrNotFound возвращается, если запись отсутствует в хранилище.
	ErrNotFound = errors.New("record not found")
	// ErrConflict возвращается, если наблюдаемый ключ был изменён конкурентной
	// записью между чтением и фиксацией транзакции. Повтор не выполняется:
	// решение о повторе остаётся за вызывающей стороной.
	ErrConflict = errors.New("concurrent modification conflict")
)

// Имена флагов состояния бара.
const (
	FlagOpen      = "open"
	FlagHappyHour = "happyhour"
)

const scanBatchSize = 100

// Options содержит параметры подключения к Redis.
type Options struct {
	Addr       string
	Password   string
	SessionsDB int
	OrdersDB   int
	FlagsDB    int
}

// Store предоставляет доступ к общему хранилищу заказов, сессий и флагов.
type Store struct {
	sessions *redis.Client
	orders   *redis.Client
	flags    *redis.Client
}

// New создаёт хранилище и проверяет доступность всех трёх баз.
func New(opts Options) (*Store, error) {
	client := func(db int) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       db,
		})
	}

	s := &Store{
		sessions: client(opts.SessionsDB),
		orders:   client(opts.OrdersDB),
		flags:    client(opts.FlagsDB),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, c := range []*redis.Client{s.sessions, s.orders, s.flags} {
		if err := c.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	return s, nil
}

// Close закрывает соединения с Redis.
func (s *Store) Close() error {
	var errs []error
	for _, c := range []*redis.Client{s.sessions, s.orders, s.flags} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetOrder возвращает заказ по ключу.
func (s *Store) GetOrder(ctx context.Context, key string) (*model.Order, error) {
	raw, err := s.orders.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", key, err)
	}

	var o model.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", key, err)
	}

	return &o, nil
}

// SaveOrder записывает документ заказа по ключу без условий.
func (s *Store) SaveOrder(ctx context.Context, key string, order *model.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", key, err)
	}

	if err := s.orders.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("save order %s: %w", key, err)
	}

	return nil
}

// DeleteOrder удаляет заказ из хранилища.
func (s *Store) DeleteOrder(ctx context.Context, key string) error {
	if err := s.orders.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete order %s: %w", key, err)
	}
	return nil
}

// UpdateOrder выполняет цикл "наблюдение-чтение-изменение-фиксация" над одним
// заказом. Если наблюдаемый ключ изменился до фиксации, возвращается
// ErrConflict, а предыдущее зафиксированное значение остаётся нетронутым.
// Ошибка из fn прерывает транзакцию без записи и передаётся вызывающему.
func (s *Store) UpdateOrder(ctx context.Context, key string, fn func(*model.Order) error) (*model.Order, error) {
	var updated *model.Order

	err := s.orders.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get order %s: %w", key, err)
		}

		var o model.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return fmt.Errorf("decode order %s: %w", key, err)
		}

		if err := fn(&o); err != nil {
			return err
		}

		data, err := json.Marshal(&o)
		if err != nil {
			return fmt.Errorf("encode order %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}

		updated = &o
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ScanOrders возвращает все заказы, ключи которых подходят под шаблон.
// Записи, не являющиеся документами заказов (например, случайно попавшие
// в выборку записи сессий или повреждённые значения), пропускаются.
func (s *Store) ScanOrders(ctx context.Context, pattern string) ([]model.Order, error) {
	keys, err := scanKeys(ctx, s.orders, pattern)
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(keys))
	for _, key := range keys {
		raw, err := s.orders.Get(ctx, key).Result()
		if err != nil {
			// Ключ мог исчезнуть между сканом и чтением или иметь другой тип.
			continue
		}

		if looksLikeSession(raw) {
			continue
		}

		var o model.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			continue
		}

		orders = append(orders, o)
	}

	return orders, nil
}

// GetSession возвращает привязку сессии по бизнес-ключу.
func (s *Store) GetSession(ctx context.Context, key string) (*model.Session, error) {
	raw, err := s.sessions.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", key, err)
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}

	return &sess, nil
}

// UpdateSession выполняет оптимистичное обновление привязки сессии. В fn
// передаётся текущая привязка либо nil, если её нет или она повреждена.
// Возврат nil без ошибки оставляет привязку без изменений.
func (s *Store) UpdateSession(ctx context.Context, key string, fn func(old *model.Session) (*model.Session, error)) error {
	err := s.sessions.Watch(ctx, func(tx *redis.Tx) error {
		var old *model.Session

		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("get session %s: %w", key, err)
		default:
			var sess model.Session
			if err := json.Unmarshal([]byte(raw), &sess); err == nil {
				old = &sess
			}
		}

		next, err := fn(old)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// ScanSessions возвращает привязки сессий, ключи которых подходят под шаблон.
// Повреждённые записи и ключи других типов пропускаются, не прерывая скан.
func (s *Store) ScanSessions(ctx context.Context, pattern string) (map[string]model.Session, error) {
	keys, err := scanKeys(ctx, s.sessions, pattern)
	if err != nil {
		return nil, err
	}

	sessions := make(map[string]model.Session, len(keys))
	for _, key := range keys {
		raw, err := s.sessions.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var sess model.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			continue
		}
		if sess.SessionID == "" {
			continue
		}

		sessions[key] = sess
	}

	return sessions, nil
}

// Flag возвращает значение флага состояния бара. Отсутствующий флаг
// считается выключенным.
func (s *Store) Flag(ctx context.Context, barID int64, name string) (bool, error) {
	raw, err := s.flags.Get(ctx, flagKey(barID, name)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get flag %s for bar %d: %w", name, barID, err)
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse flag %s for bar %d: %w", name, barID, err)
	}

	return value, nil
}

// SetFlag устанавливает значение флага состояния бара.
func (s *Store) SetFlag(ctx context.Context, barID int64, name string, value bool) error {
	if err := s.flags.Set(ctx, flagKey(barID, name), strconv.FormatBool(value), 0).Err(); err != nil {
		return fmt.Errorf("set flag %s for bar %d: %w", name, barID, err)
	}
	return nil
}

func flagKey(barID int64, name string) string {
	return fmt.Sprintf("bar:%d:%s", barID, name)
}

// scanKeys обходит пространство ключей курсором до полного исчерпания.
func scanKeys(ctx context.Context, c *redis.Client, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)

	for {
		batch, next, err := c.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}

		keys = append(keys, batch...)

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// looksLikeSession определяет, является ли документ записью сессии.
func looksLikeSession(raw string) bool {
	var probe struct {
		SessionID *string `json:"sessionId"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return false
	}
	return probe.SessionID != nil
}
