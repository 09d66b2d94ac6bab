package mysql

import (
	"context"
	"fmt"

	"streamscaler/pkg/store/mysql/model"
)

// ScalingRecordRepository handles the scaling audit log in MySQL
type ScalingRecordRepository struct {
	ds *Datastore
}

// NewScalingRecordRepository creates a new scaling record repository
func NewScalingRecordRepository(ds *Datastore) *ScalingRecordRepository {
	return &ScalingRecordRepository{ds: ds}
}

// Create appends one audit row
func (r *ScalingRecordRepository) Create(ctx context.Context, record *model.ScalingRecord) error {
	return r.ds.DB(ctx).Create(record).Error
}

// ListByStream retrieves audit rows for a stream, newest first
func (r *ScalingRecordRepository) ListByStream(ctx context.Context, stream string, limit int) ([]*model.ScalingRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []*model.ScalingRecord
	err := r.ds.DB(ctx).
		Where("stream_name = ?", stream).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scaling records by stream: %w", err)
	}
	return records, nil
}

// ListRecent retrieves the most recent audit rows across all streams
func (r *ScalingRecordRepository) ListRecent(ctx context.Context, limit int) ([]*model.ScalingRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []*model.ScalingRecord
	err := r.ds.DB(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent scaling records: %w", err)
	}
	return records, nil
}

// PurgeExpired removes audit rows older than the retention window and
// returns the number of rows deleted. The cutoff comes from the database
// clock so retention does not drift with the host
func (r *ScalingRecordRepository) PurgeExpired(ctx context.Context, retentionDays int) (int64, error) {
	var deleted int64
	err := r.ds.ExecTx(ctx, func(txCtx context.Context) error {
		cutoff := r.ds.GetDB().NowFunc().AddDate(0, 0, -retentionDays)
		result := r.ds.DB(txCtx).
			Where("timestamp < ?", cutoff).
			Delete(&model.ScalingRecord{})
		if result.Error != nil {
			return fmt.Errorf("failed to purge expired scaling records: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}
