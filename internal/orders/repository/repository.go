// Package repository implements the persistence collaborator for orders on
// top of GORM, with an optional redis read-through cache for single-order
// lookups.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finvex/ordergate/internal/orders/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LoadedOrder is the per-item result of a bulk load. Missing IDs are reported
// with Found=false rather than failing the batch.
type LoadedOrder struct {
	ID    uuid.UUID
	Order *model.Order
	Found bool
}

// StatusUpdate is one version-keyed status change in a batched update group.
type StatusUpdate struct {
	OrderID     uuid.UUID
	Version     int64
	Status      string
	ExternalRef string
}

// UpdateAck is the per-item outcome of a batched update. Applied=false means
// the version token no longer matched (stale write).
type UpdateAck struct {
	OrderID uuid.UUID
	Applied bool
}

// OffenderError identifies the update that caused the storage engine to abort
// a whole batched statement group, so the caller can retry without it.
type OffenderError struct {
	OrderID uuid.UUID
	cause   error
}

func (e *OffenderError) Error() string {
	return fmt.Sprintf("batched update aborted by order %s: %v", e.OrderID, e.cause)
}

func (e *OffenderError) Unwrap() error { return e.cause }

// OrderRepository persists orders via GORM.
type OrderRepository struct {
	db       *gorm.DB
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewOrderRepository creates a repository. cache may be nil; lookups then go
// straight to the database.
func NewOrderRepository(db *gorm.DB, cache *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// LoadOrdersWithRelations fetches all requested orders with their executions
// in a single eager query inside a read-only transaction. Results preserve
// the order of ids; missing ids yield Found=false entries.
func (r *OrderRepository) LoadOrdersWithRelations(ctx context.Context, ids []uuid.UUID) ([]LoadedOrder, error) {
	var rows []model.Order

	// sqlite's driver rejects read-only transactions, so the hint is only
	// passed on postgres.
	opts := &sql.TxOptions{ReadOnly: r.db.Dialector.Name() == "postgres"}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Preload("Executions").Where("id IN ?", ids).Find(&rows).Error
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	byID := make(map[uuid.UUID]*model.Order, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	loaded := make([]LoadedOrder, len(ids))
	for i, id := range ids {
		order, found := byID[id]
		loaded[i] = LoadedOrder{ID: id, Order: order, Found: found}
	}
	return loaded, nil
}

// BatchUpdateStatuses applies all updates inside a single write transaction,
// each keyed by the optimistic-lock version. A non-matching version fails
// only that item (Applied=false); sibling updates in the group still commit.
// If the engine aborts the transaction on a statement-level error, the
// offending update is identified via OffenderError so the caller can retry
// the group without it.
func (r *OrderRepository) BatchUpdateStatuses(ctx context.Context, updates []StatusUpdate) ([]UpdateAck, error) {
	acks := make([]UpdateAck, len(updates))

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, u := range updates {
			res := tx.Model(&model.Order{}).
				Where("id = ? AND version = ?", u.OrderID, u.Version).
				Updates(map[string]interface{}{
					"status":       u.Status,
					"external_ref": u.ExternalRef,
					"version":      u.Version + 1,
					"updated_at":   time.Now(),
				})
			if res.Error != nil {
				return &OffenderError{OrderID: u.OrderID, cause: res.Error}
			}
			acks[i] = UpdateAck{OrderID: u.OrderID, Applied: res.RowsAffected > 0}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.invalidate(ctx, updates)
	return acks, nil
}

// GetOrder fetches one order with executions, read-through cached.
func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, cacheKey(id)).Bytes(); err == nil {
			var cached model.Order
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	var order model.Order
	if err := r.db.WithContext(ctx).Preload("Executions").First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if r.cache != nil {
		if raw, err := json.Marshal(&order); err == nil {
			if err := r.cache.Set(ctx, cacheKey(order.ID), raw, r.cacheTTL).Err(); err != nil {
				r.logger.Debug("order cache set failed", zap.Error(err))
			}
		}
	}
	return &order, nil
}

// CreateOrders inserts new orders in one batched insert.
func (r *OrderRepository) CreateOrders(ctx context.Context, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(orders).Error; err != nil {
		return fmt.Errorf("failed to create orders: %w", err)
	}
	return nil
}

// invalidate drops cache entries touched by a batch update. Best effort.
func (r *OrderRepository) invalidate(ctx context.Context, updates []StatusUpdate) {
	if r.cache == nil {
		return
	}
	keys := make([]string, len(updates))
	for i, u := range updates {
		keys[i] = cacheKey(u.OrderID)
	}
	if err := r.cache.Del(ctx, keys...).Err(); err != nil {
		r.logger.Debug("order cache invalidation failed", zap.Error(err))
	}
}

func cacheKey(id uuid.UUID) string {
	return "ordergate:order:" + id.String()
}
