package service

import (
	"context"
	"errors"

	"submaster/internal/model"
	"submaster/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriberService creates and looks up subscribers. Subscribers are
// created on first contact and never deleted here.
type SubscriberService struct {
	db *gorm.DB
}

func NewSubscriberService(db *gorm.DB) *SubscriberService {
	return &SubscriberService{db: db}
}

// GetOrCreate returns the subscriber for a Telegram identity, creating it
// with a fresh client id on first contact.
func (s *SubscriberService) GetOrCreate(ctx context.Context, telegramId int64, inviteSource string) (*model.Subscriber, error) {
	var sub model.Subscriber
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramId).First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sub = model.Subscriber{
		TelegramId:   telegramId,
		ClientId:     uuid.New().String(),
		InviteSource: inviteSource,
	}
	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		// Lost a concurrent first-contact race; the existing row wins.
		var existing model.Subscriber
		if lookupErr := s.db.WithContext(ctx).Where("telegram_id = ?", telegramId).First(&existing).Error; lookupErr == nil {
			return &existing, nil
		}
		return nil, err
	}

	logger.Infof("subscriber %d created for telegram id %d", sub.Id, telegramId)
	return &sub, nil
}

// GetById returns the subscriber with the given id.
func (s *SubscriberService) GetById(ctx context.Context, id int64) (*model.Subscriber, error) {
	var sub model.Subscriber
	if err := s.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}
