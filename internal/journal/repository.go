package journal

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

const MaxQueryLimit = 500

// Repository persists dispatch records
type Repository interface {
	BatchInsert(ctx context.Context, batch []*DispatchRecord) error
	Recent(ctx context.Context, routingKey string, limit int) ([]DispatchRecord, error)
	CountByOutcome(ctx context.Context) ([]OutcomeCount, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Migrate creates or updates the dispatch_records table
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&DispatchRecord{}); err != nil {
		return fmt.Errorf("failed to migrate dispatch_records: %w", err)
	}
	return nil
}

// BatchInsert inserts multiple records in a single transaction
func (r *gormRepository) BatchInsert(ctx context.Context, batch []*DispatchRecord) error {
	if len(batch) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(batch, 100).Error; err != nil {
			return fmt.Errorf("failed to insert dispatch records: %w", err)
		}
		return nil
	})
}

// Recent returns the newest records first, optionally for one routing key
func (r *gormRepository) Recent(ctx context.Context, routingKey string, limit int) ([]DispatchRecord, error) {
	limit = clampLimit(limit)
	var records []DispatchRecord
	q := r.db.WithContext(ctx).Order("dispatched_at DESC").Limit(limit)
	if routingKey != "" {
		q = q.Where("routing_key = ?", routingKey)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *gormRepository) CountByOutcome(ctx context.Context) ([]OutcomeCount, error) {
	var counts []OutcomeCount
	err := r.db.WithContext(ctx).
		Model(&DispatchRecord{}).
		Select("outcome, count(*) as count").
		Group("outcome").
		Order("outcome").
		Scan(&counts).Error
	return counts, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
