package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"seat-queue-backend/internal/model"
)

// UpsertSubscription creates or replaces a push subscription keyed by endpoint.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"student_id", "p256dh", "auth"}),
	}).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a push subscription.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", endpoint, err)
	}
	return nil
}

// ListSubscriptions returns a student's push subscriptions.
func (s *gormStore) ListSubscriptions(ctx context.Context, studentID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("student_id = ?", studentID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for %s: %w", studentID, err)
	}
	return subs, nil
}
