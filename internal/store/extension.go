package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"seat-queue-backend/internal/model"
)

// GetExtensionConfig returns a student's auto-extension policy.
func (s *gormStore) GetExtensionConfig(ctx context.Context, studentID string) (*model.AutoExtensionConfig, error) {
	var cfg model.AutoExtensionConfig
	err := s.db.WithContext(ctx).Where("student_id = ?", studentID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch auto-extension config for %s: %w", studentID, err)
	}
	return &cfg, nil
}

// UpsertExtensionConfig creates or replaces the policy fields of a student's config.
// The daily counter and last extension time are left untouched on update.
func (s *gormStore) UpsertExtensionConfig(ctx context.Context, cfg *model.AutoExtensionConfig) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_enabled", "trigger_minutes_before", "max_auto_extensions", "time_restriction",
			"start_time", "end_time", "auto_return_on_empty_reservation", "updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		return fmt.Errorf("failed to upsert auto-extension config for %s: %w", cfg.StudentID, err)
	}

	stored, err := s.GetExtensionConfig(ctx, cfg.StudentID)
	if err != nil {
		return err
	}
	*cfg = *stored
	return nil
}

// ListEnabledExtensionConfigs returns every enabled policy.
func (s *gormStore) ListEnabledExtensionConfigs(ctx context.Context) ([]model.AutoExtensionConfig, error) {
	var cfgs []model.AutoExtensionConfig
	if err := s.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("student_id").
		Find(&cfgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled auto-extension configs: %w", err)
	}
	return cfgs, nil
}

// ResetExtensionCount zeroes the daily counter unless it was already reset for date.
func (s *gormStore) ResetExtensionCount(ctx context.Context, studentID, date string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.AutoExtensionConfig{}).
		Where("student_id = ? AND (last_reset_date IS NULL OR last_reset_date <> ?)", studentID, date).
		Updates(map[string]interface{}{
			"current_extension_count": 0,
			"last_reset_date":         date,
			"updated_at":              time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to reset extension count for %s: %w", studentID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordExtension increments the daily counter if it is still below the cap and moves the
// session's scheduled end. It reports false when the cap was already reached.
func (s *gormStore) RecordExtension(ctx context.Context, studentID string, now time.Time, sessionID int64, newEnd *time.Time) (bool, error) {
	now = now.UTC()
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.AutoExtensionConfig{}).
			Where("student_id = ? AND current_extension_count < max_auto_extensions", studentID).
			Updates(map[string]interface{}{
				"current_extension_count": gorm.Expr("current_extension_count + ?", 1),
				"last_extended_at":        now,
				"updated_at":              now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to record extension for %s: %w", studentID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if newEnd == nil {
			return nil
		}
		if err := tx.Model(&model.OccupancySession{}).
			Where("id = ?", sessionID).
			Update("scheduled_end", newEnd.UTC()).Error; err != nil {
			return fmt.Errorf("failed to move scheduled end of session %d: %w", sessionID, err)
		}
		return nil
	})
	return applied, err
}
