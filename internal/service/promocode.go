package service

import (
	"context"
	"errors"

	"submaster/internal/model"
	"submaster/logger"
	"submaster/util/common"
	"submaster/util/random"

	"gorm.io/gorm"
)

// ErrPromocodeUsed means the code was already activated; the attempt has
// no side effects.
var ErrPromocodeUsed = errors.New("promocode already activated")

const promocodeLength = 8

// PromocodeService manages one-shot bonus codes.
type PromocodeService struct {
	db   *gorm.DB
	subs *SubscriptionService
}

func NewPromocodeService(db *gorm.DB, subs *SubscriptionService) *PromocodeService {
	return &PromocodeService{db: db, subs: subs}
}

// Create generates and stores a new code worth durationDays.
func (s *PromocodeService) Create(ctx context.Context, durationDays int) (*model.Promocode, error) {
	if durationDays <= 0 {
		return nil, common.NewError("promocode duration must be positive")
	}

	promo := &model.Promocode{
		Code:         random.Seq(promocodeLength),
		DurationDays: durationDays,
	}
	if err := s.db.WithContext(ctx).Create(promo).Error; err != nil {
		return nil, err
	}
	return promo, nil
}

// Activate consumes a code for the subscriber and grants its bonus days.
// Activation is exactly-once: the code is claimed with a conditional
// update, so a concurrent second attempt fails without side effects.
func (s *PromocodeService) Activate(ctx context.Context, code string, sub *model.Subscriber) (*model.Promocode, error) {
	var promo model.Promocode
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewError("promocode not found")
	}
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&model.Promocode{}).
		Where("id = ? AND is_activated = ?", promo.Id, false).
		Updates(map[string]any{
			"is_activated": true,
			"activated_by": sub.Id,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrPromocodeUsed
	}

	promo.IsActivated = true
	promo.ActivatedBy = &sub.Id

	if err := s.subs.GrantBonusDays(ctx, sub, promo.DurationDays, 0); err != nil {
		// The claim is already durable; the grant did not land.
		logger.Errorf("promocode %s claimed by subscriber %d but grant failed: %v", promo.Code, sub.Id, err)
		return nil, err
	}

	logger.Infof("promocode %s activated by subscriber %d (%d days)", promo.Code, sub.Id, promo.DurationDays)
	return &promo, nil
}

// Delete removes a code.
func (s *PromocodeService) Delete(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&model.Promocode{}, id).Error
}

// List returns all codes, newest first.
func (s *PromocodeService) List(ctx context.Context) ([]*model.Promocode, error) {
	var codes []*model.Promocode
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}
