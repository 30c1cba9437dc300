package repository

import (
	"fmt"

	"gorm.io/gorm"

	"chatrelay/internal/model"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(event *model.AnalyticsEvent) error {
	if err := r.db.Create(event).Error; err != nil {
		return fmt.Errorf("create analytics event failed: %w", err)
	}
	return nil
}
